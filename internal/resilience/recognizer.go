package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// Compile-time assertions.
var (
	_ stt.Provider = (*Recognizer)(nil)
	_ stt.Session  = (*session)(nil)
	_ io.Closer    = (*Recognizer)(nil)
)

// Recognizer is an [stt.Provider] that spreads each run over an ordered list
// of backends. Every backend has one [Breaker] shared by all sessions, so a
// primary that keeps failing is bypassed until its cooldown has passed.
type Recognizer struct {
	backends *Chain[stt.Provider]
	breaker  BreakerConfig
	metrics  *observe.Metrics
}

// RecognizerOption configures a [Recognizer].
type RecognizerOption func(*Recognizer)

// WithMetrics records failovers on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RecognizerOption {
	return func(r *Recognizer) { r.metrics = m }
}

// NewRecognizer wraps primary. Add fallbacks with [Recognizer.AddFallback].
func NewRecognizer(name string, primary stt.Provider, cfg BreakerConfig, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		backends: NewChain(name, primary, cfg),
		breaker:  cfg,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// AddFallback appends a backend tried after the ones already registered.
// Call it before the first StartSession.
func (r *Recognizer) AddFallback(name string, p stt.Provider) {
	r.backends.Add(name, p, r.breaker)
}

// StartSession opens a session on every backend that accepts cfg. Backends
// that fail to start are left out of the returned session; it is an error
// only when none start.
func (r *Recognizer) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	s := &session{metrics: r.metrics, chain: &Chain[stt.Session]{}}
	var errs []error
	for _, l := range r.backends.Links() {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return nil, err
		}
		var sess stt.Session
		err := l.Breaker.Do(func() error {
			var err error
			sess, err = l.Value.StartSession(ctx, cfg)
			return err
		})
		if err != nil {
			slog.Warn("resilience: recognizer unavailable", "name", l.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", l.Name, err))
			continue
		}
		s.chain.links = append(s.chain.links, Link[stt.Session]{Name: l.Name, Value: sess, Breaker: l.Breaker})
	}
	if len(s.chain.links) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
	}
	s.primary = r.backends.Links()[0].Name
	return s, nil
}

// Close closes every backend that holds resources.
func (r *Recognizer) Close() error {
	var errs []error
	for _, l := range r.backends.Links() {
		if c, ok := l.Value.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", l.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

type session struct {
	chain   *Chain[stt.Session]
	primary string
	metrics *observe.Metrics
}

// Recognize tries each live backend session in order.
func (s *session) Recognize(ctx context.Context, req stt.Request) ([]stt.Transcript, error) {
	out, name, err := Call(ctx, s.chain, func(sess stt.Session) ([]stt.Transcript, error) {
		return sess.Recognize(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if name != s.primary {
		s.metrics.RecordFailover(ctx, name)
		slog.Debug("resilience: segment served by fallback", "name", name, "index", req.Index)
	}
	return out, nil
}

func (s *session) Close() error {
	var errs []error
	for _, l := range s.chain.links {
		if err := l.Value.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name, err))
		}
	}
	return errors.Join(errs...)
}
