// Package describe provides a model-free stt.Provider that reports what a
// segment looks like instead of what was said. It is meant for tuning the
// detection settings on a machine without a whisper model.
package describe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// Compile-time assertions.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Session  = (*session)(nil)
)

// Provider creates describing sessions. The zero value is ready to use.
type Provider struct{}

// New returns a Provider.
func New() *Provider { return &Provider{} }

// StartSession returns a session for cfg. cfg.SampleRate must be positive.
func (p *Provider) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("describe: context already cancelled: %w", err)
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.New("describe: sample rate must be positive")
	}
	return &session{rate: cfg.SampleRate}, nil
}

type session struct {
	rate int
}

// Recognize returns a single fragment describing the segment's length and
// level, e.g. "speech 2.410s, 241 frames, peak -6.0 dBFS, rms -15.2 dBFS".
func (s *session) Recognize(ctx context.Context, req stt.Request) ([]stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Audio) == 0 {
		return nil, nil
	}

	var peak, sum float64
	for _, v := range req.Audio {
		a := math.Abs(float64(v))
		peak = max(peak, a)
		sum += a * a
	}
	rms := math.Sqrt(sum / float64(len(req.Audio)))
	d := time.Duration(len(req.Audio)) * time.Second / time.Duration(s.rate)

	return []stt.Transcript{{
		Text: fmt.Sprintf("speech %.3fs, %d frames, peak %.1f dBFS, rms %.1f dBFS",
			d.Seconds(), req.Frames, dbfs(peak), dbfs(rms)),
		Duration: d,
	}}, nil
}

func (s *session) Close() error { return nil }

// dbfs converts a linear amplitude to decibels relative to full scale,
// clamped at -120.
func dbfs(a float64) float64 {
	if a <= 1e-6 {
		return -120
	}
	return 20 * math.Log10(a)
}
