package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every link of a [Chain] failed or was open.
var ErrExhausted = errors.New("resilience: all backends failed")

// Link is one backend of a [Chain].
type Link[T any] struct {
	Name    string
	Value   T
	Breaker *Breaker
}

// Chain holds backends in preference order. The first link is the primary.
type Chain[T any] struct {
	links []Link[T]
}

// NewChain returns a chain whose only link is primary, guarded by a breaker
// built from cfg.
func NewChain[T any](name string, primary T, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{}
	c.Add(name, primary, cfg)
	return c
}

// Add appends a fallback tried after every link added before it. Not safe to
// call concurrently with [Call].
func (c *Chain[T]) Add(name string, v T, cfg BreakerConfig) {
	cfg.Name = name
	c.links = append(c.links, Link[T]{Name: name, Value: v, Breaker: NewBreaker(cfg)})
}

// Links returns the chain's links in order.
func (c *Chain[T]) Links() []Link[T] { return c.links }

// Call runs fn against each link in turn and returns the first success along
// with the name of the link that produced it. Links whose breaker is open are
// skipped. Once ctx is done no further link is tried.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.links {
		l := &c.links[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var res R
		err := l.Breaker.Do(func() error {
			var err error
			res, err = fn(l.Value)
			return err
		})
		if err == nil {
			return res, l.Name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", err
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("resilience: skipping backend", "name", l.Name, "state", StateOpen)
			continue
		}
		if i < len(c.links)-1 {
			slog.Warn("resilience: backend failed, trying next", "name", l.Name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
