// Package vad implements an energy-based voice activity detector that runs on
// mel-spectrogram frames and groups them into speech segments.
//
// The [Segmenter] is a two-state machine (idle, accumulating). A frame is
// active when enough of its mel bins exceed the energy threshold; the first
// active frame opens a candidate, short inactive dips are bridged, and once
// the inactive run grows past the debounce limit the candidate closes and is
// either emitted or discarded by the minimum-size gates.
//
// Segmenter is synchronous and owns all of its state; it is meant to be
// driven by exactly one goroutine.
package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/streamscribe/pkg/mel"
)

// DetectionSettings tunes the segmenter. All counts are in frames or bins.
type DetectionSettings struct {
	// EnergyThreshold is the bin energy a mel bin must exceed to count as an
	// intersection.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// MinIntersections is the number of intersections that make a frame
	// active.
	MinIntersections int `yaml:"min_intersections"`

	// IntersectionThreshold is the longest run of consecutive inactive frames
	// tolerated inside a candidate. One more inactive frame closes it.
	IntersectionThreshold int `yaml:"intersection_threshold"`

	// MinMel is the minimum total number of intersections summed over all
	// frames of a segment.
	MinMel int `yaml:"min_mel"`

	// MinFrames is the minimum number of frames in an emitted segment.
	MinFrames int `yaml:"min_frames"`

	// MaxFrames force-closes a candidate once it reaches this many frames.
	// Zero disables the cap.
	MaxFrames int `yaml:"max_frames"`
}

// DefaultDetectionSettings returns the stock tuning: threshold 1.0, five
// intersections per active frame, a ten-frame debounce, ten mel bins of total
// weight, one second minimum and thirty seconds maximum length.
func DefaultDetectionSettings() DetectionSettings {
	return DetectionSettings{
		EnergyThreshold:       1.0,
		MinIntersections:      5,
		IntersectionThreshold: 10,
		MinMel:                10,
		MinFrames:             100,
		MaxFrames:             3000,
	}
}

// Validate reports every out-of-range setting.
func (s DetectionSettings) Validate() error {
	var errs []error
	if s.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad: energy_threshold must be >= 0, got %g", s.EnergyThreshold))
	}
	if s.MinIntersections < 1 {
		errs = append(errs, fmt.Errorf("vad: min_intersections must be >= 1, got %d", s.MinIntersections))
	}
	if s.IntersectionThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad: intersection_threshold must be >= 0, got %d", s.IntersectionThreshold))
	}
	if s.MinMel < 0 {
		errs = append(errs, fmt.Errorf("vad: min_mel must be >= 0, got %d", s.MinMel))
	}
	if s.MinFrames < 1 {
		errs = append(errs, fmt.Errorf("vad: min_frames must be >= 1, got %d", s.MinFrames))
	}
	if s.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("vad: max_frames must be >= 0, got %d", s.MaxFrames))
	} else if s.MaxFrames > 0 && s.MaxFrames < s.MinFrames {
		errs = append(errs, fmt.Errorf("vad: max_frames %d is smaller than min_frames %d", s.MaxFrames, s.MinFrames))
	}
	return errors.Join(errs...)
}

// Segment is an accepted, contiguous run of mel frames.
type Segment struct {
	// Start and End are the first and last frame indices, inclusive.
	Start, End int

	// NMels is the width of every frame.
	NMels int

	// Frames holds the mel vectors in frame order.
	Frames [][]float32

	// Audio is the contiguous sample span the frames were computed from.
	Audio []float32

	// ActiveFrames counts frames that passed the per-frame activity gate.
	ActiveFrames int

	// Weight is the total number of intersections across Frames.
	Weight int
}

// Len returns the number of frames in the segment.
func (s Segment) Len() int { return len(s.Frames) }

// Matrix returns the mel matrix in n_mels × frames row-major order, the layout
// whisper-style decoders expect.
func (s Segment) Matrix() []float32 {
	out := make([]float32, s.NMels*len(s.Frames))
	for x, f := range s.Frames {
		for m, v := range f {
			out[m*len(s.Frames)+x] = v
		}
	}
	return out
}

// Duration returns the audio time covered by the segment's hops.
func (s Segment) Duration(cfg mel.Config) time.Duration {
	return cfg.FrameTime(s.Len())
}

// Verdict is the outcome of feeding one frame to the segmenter.
type Verdict int

const (
	// VerdictPending means no candidate closed on this frame.
	VerdictPending Verdict = iota

	// VerdictAccepted means a candidate closed and was emitted.
	VerdictAccepted

	// VerdictTooShort means a candidate closed with fewer than MinFrames frames.
	VerdictTooShort

	// VerdictTooWeak means a candidate closed with less than MinMel weight.
	VerdictTooWeak
)

// String returns the metric label for v.
func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "pending"
	case VerdictAccepted:
		return "accepted"
	case VerdictTooShort:
		return "too_short"
	case VerdictTooWeak:
		return "too_weak"
	default:
		return "unknown"
	}
}

// Closed reports whether v ends a candidate.
func (v Verdict) Closed() bool { return v != VerdictPending }
