// Package whisper provides an stt.Provider backed by the whisper.cpp CGO
// bindings.
//
// The model is loaded once by [New] and shared by every session. whisper.cpp
// runs its own log-mel front end, so sessions decode Request.Audio; the
// request's mel matrix is only used to cross-check the segment shape.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// Usage:
//
//	p, err := whisper.New("models/ggml-base.en.bin", whisper.WithLanguage("en"))
//	sess, err := p.StartSession(ctx, stt.SessionConfig{SampleRate: 16000})
//	ts, err := sess.Recognize(ctx, req)
//	sess.Close()
//	p.Close()
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const (
	// SampleRate is the only audio rate whisper.cpp accepts.
	SampleRate = 16000

	defaultLanguage = "en"
)

// Compile-time assertions.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Session  = (*session)(nil)
)

// errSessionClosed is returned by Recognize after Close.
var errSessionClosed = errors.New("whisper: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default ISO-639-1 language code (e.g., "en", "de").
// "auto" enables language detection on multilingual models. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithThreads sets the number of CPU threads whisper.cpp uses per decode.
// Zero keeps the library default.
func WithThreads(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.threads = uint(n)
		}
	}
}

// Provider implements stt.Provider using whisper.cpp. The underlying model
// holds a single decoder state, so decodes are serialised across sessions.
type Provider struct {
	model    whisperlib.Model
	language string
	threads  uint

	// mu serialises decodes on the shared model state.
	mu sync.Mutex
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	slog.Debug("whisper: model loaded",
		"path", modelPath,
		"multilingual", model.IsMultilingual(),
		"language", p.language,
	)
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartSession opens a recognition session. cfg.SampleRate must be 0 or
// [SampleRate]; an empty cfg.Language falls back to the provider default.
func (p *Provider) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if cfg.SampleRate != 0 && cfg.SampleRate != SampleRate {
		return nil, fmt.Errorf("whisper: sample rate %d Hz is not supported, want %d", cfg.SampleRate, SampleRate)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	return &session{p: p, language: lang, nMels: cfg.NMels}, nil
}

// session is a whisper recognition session. It is confined to the goroutine
// that opened it.
type session struct {
	p        *Provider
	language string
	nMels    int
	closed   bool
}

// Recognize decodes req.Audio with a fresh whisper context and returns every
// non-empty segment the model produced.
func (s *session) Recognize(ctx context.Context, req stt.Request) ([]stt.Transcript, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("whisper: segment %d carries no audio", req.Index)
	}
	if s.nMels > 0 && req.NMels != s.nMels {
		return nil, fmt.Errorf("whisper: segment %d has %d mel bins, session expects %d", req.Index, req.NMels, s.nMels)
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	// The bindings keep a segment cursor per context, so every decode gets
	// its own.
	wctx, err := s.p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", s.language, "err", err)
	}
	if s.p.threads > 0 {
		wctx.SetThreads(s.p.threads)
	}

	start := time.Now()
	if err := wctx.Process(req.Audio, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process segment %d: %w", req.Index, err)
	}

	var out []stt.Transcript
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out = append(out, stt.Transcript{
			Text:     text,
			Offset:   seg.Start,
			Duration: seg.End - seg.Start,
		})
	}
	slog.Debug("whisper: segment decoded",
		"index", req.Index,
		"samples", len(req.Audio),
		"fragments", len(out),
		"elapsed", time.Since(start),
	)
	return out, nil
}

// Close marks the session closed. The shared model stays loaded.
func (s *session) Close() error {
	s.closed = true
	return nil
}
