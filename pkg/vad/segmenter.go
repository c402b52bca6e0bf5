package vad

import (
	"fmt"

	"github.com/MrWong99/streamscribe/pkg/mel"
)

// Segmenter turns a stream of mel frames into [Segment] values. It must be
// fed frames in index order by a single goroutine.
type Segmenter struct {
	settings DetectionSettings
	cfg      mel.Config

	accumulating bool
	frames       []mel.Frame
	weights      []int
	active       int
	inactiveRun  int
}

// NewSegmenter validates both configurations and returns an idle segmenter.
func NewSegmenter(settings DetectionSettings, cfg mel.Config) (*Segmenter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{settings: settings, cfg: cfg}, nil
}

// Settings returns the detection settings the segmenter was built with.
func (s *Segmenter) Settings() DetectionSettings { return s.settings }

// Accumulating reports whether a candidate is currently open.
func (s *Segmenter) Accumulating() bool { return s.accumulating }

// Intersections counts the bins whose energy exceeds threshold.
func Intersections(bins []float32, threshold float64) int {
	n := 0
	for _, v := range bins {
		if float64(v) > threshold {
			n++
		}
	}
	return n
}

// Push feeds one frame. When the frame closes a candidate the returned
// verdict says whether the candidate was accepted; the Segment is only
// meaningful for [VerdictAccepted].
//
// Push panics if the frame width does not match the mel configuration.
func (s *Segmenter) Push(f mel.Frame) (Segment, Verdict) {
	mel.CheckWidth(f, s.cfg.NMels)

	n := Intersections(f.Bins, s.settings.EnergyThreshold)
	isActive := n >= s.settings.MinIntersections

	if !s.accumulating {
		if !isActive {
			return Segment{}, VerdictPending
		}
		s.accumulating = true
	} else if last := s.frames[len(s.frames)-1].Index; f.Index != last+1 {
		panic(fmt.Sprintf("vad: frame %d follows frame %d", f.Index, last))
	}

	s.frames = append(s.frames, f)
	s.weights = append(s.weights, n)
	if isActive {
		s.active++
		s.inactiveRun = 0
	} else {
		s.inactiveRun++
	}

	switch {
	case s.inactiveRun > s.settings.IntersectionThreshold:
		return s.close()
	case s.settings.MaxFrames > 0 && len(s.frames) >= s.settings.MaxFrames:
		return s.close()
	}
	return Segment{}, VerdictPending
}

// Flush closes and evaluates the open candidate, if any. It is called once
// after the last frame.
func (s *Segmenter) Flush() (Segment, Verdict) {
	if !s.accumulating {
		return Segment{}, VerdictPending
	}
	return s.close()
}

// close drops the trailing inactive run, applies the size gates, and
// returns the segmenter to idle.
func (s *Segmenter) close() (Segment, Verdict) {
	keep := len(s.frames) - s.inactiveRun
	frames := s.frames[:keep]

	weight := 0
	for _, w := range s.weights[:keep] {
		weight += w
	}

	var (
		seg     Segment
		verdict Verdict
	)
	switch {
	case keep < s.settings.MinFrames:
		verdict = VerdictTooShort
	case weight < s.settings.MinMel:
		verdict = VerdictTooWeak
	default:
		verdict = VerdictAccepted
		seg = s.build(frames, weight)
	}

	s.accumulating = false
	s.frames = s.frames[:0]
	s.weights = s.weights[:0]
	s.active = 0
	s.inactiveRun = 0
	return seg, verdict
}

// build copies frames into a self-contained segment. The audio span is the
// first hop of every frame followed by the full window of the last one.
func (s *Segmenter) build(frames []mel.Frame, weight int) Segment {
	hop := s.cfg.HopSize
	last := frames[len(frames)-1]

	seg := Segment{
		Start:        frames[0].Index,
		End:          last.Index,
		NMels:        s.cfg.NMels,
		Frames:       make([][]float32, len(frames)),
		Audio:        make([]float32, 0, (len(frames)-1)*hop+len(last.Samples)),
		ActiveFrames: s.active,
		Weight:       weight,
	}
	for i, f := range frames {
		seg.Frames[i] = f.Bins
		if i < len(frames)-1 {
			seg.Audio = append(seg.Audio, f.Samples[:min(hop, len(f.Samples))]...)
		} else {
			seg.Audio = append(seg.Audio, f.Samples...)
		}
	}
	return seg
}
