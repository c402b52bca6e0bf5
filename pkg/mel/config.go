// Package mel converts a stream of mono audio samples into log-mel spectrogram
// frames.
//
// A [Transform] keeps a rolling sample buffer across calls and emits one
// [Frame] per HopSize new samples, each computed from the most recent FFTSize
// samples (a causal sliding window). Frame indices start at zero and increase
// by exactly one per frame for the lifetime of the Transform.
//
// The geometry defaults to whisper's front end (400-point FFT, 160-sample hop,
// 80 mel bins at 16 kHz) so that frame indices translate directly into 10 ms
// steps.
//
// Diagnostic images cover a whole segment's mel matrix, one PNG per emitted
// segment, named after the segment's starting frame index (see [ImageName]).
package mel

import (
	"errors"
	"fmt"
	"time"
)

// Config is the immutable geometry of the mel front end.
type Config struct {
	// FFTSize is the analysis window length in samples.
	FFTSize int `yaml:"fft_size"`

	// HopSize is the number of new samples between successive frames.
	// Must be positive and smaller than FFTSize.
	HopSize int `yaml:"hop_size"`

	// NMels is the number of mel bins per frame.
	NMels int `yaml:"n_mels"`

	// SamplingRate is the audio sample rate in Hz.
	SamplingRate float64 `yaml:"sampling_rate"`
}

// DefaultConfig returns the whisper-compatible geometry.
func DefaultConfig() Config {
	return Config{
		FFTSize:      400,
		HopSize:      160,
		NMels:        80,
		SamplingRate: 16000,
	}
}

// Validate reports every invariant violated by c.
func (c Config) Validate() error {
	var errs []error
	if c.FFTSize <= 1 {
		errs = append(errs, fmt.Errorf("mel: fft_size must be > 1, got %d", c.FFTSize))
	}
	if c.HopSize <= 0 {
		errs = append(errs, fmt.Errorf("mel: hop_size must be positive, got %d", c.HopSize))
	} else if c.HopSize >= c.FFTSize {
		errs = append(errs, fmt.Errorf("mel: hop_size %d must be smaller than fft_size %d", c.HopSize, c.FFTSize))
	}
	if c.NMels <= 0 {
		errs = append(errs, fmt.Errorf("mel: n_mels must be positive, got %d", c.NMels))
	}
	if c.SamplingRate <= 0 {
		errs = append(errs, fmt.Errorf("mel: sampling_rate must be positive, got %g", c.SamplingRate))
	}
	return errors.Join(errs...)
}

// DurationMs returns the audio time, in whole milliseconds, at which frame
// index starts: index × hop / rate seconds.
func DurationMs(hopSize int, samplingRate float64, index int) uint64 {
	if samplingRate <= 0 || index <= 0 {
		return 0
	}
	return uint64(float64(index) * float64(hopSize) * 1000 / samplingRate)
}

// FrameTime returns the audio time at which frame index starts.
func (c Config) FrameTime(index int) time.Duration {
	return time.Duration(DurationMs(c.HopSize, c.SamplingRate, index)) * time.Millisecond
}
