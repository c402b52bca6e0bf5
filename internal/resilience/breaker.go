// Package resilience keeps transcription going when a recognizer misbehaves.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops calling a backend after a run of consecutive failures and probes it
// again once a cooldown has passed. [Chain] tries an ordered list of backends,
// each behind its own breaker, until one succeeds. [Recognizer] applies both
// to stt.Provider so a failing primary engine hands segments to a fallback.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. One failed
	// probe re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted below.
type BreakerConfig struct {
	// Name labels log lines, usually the backend name.
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker.
	// Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. Default: 1.
	Probes int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	return c
}

// Breaker guards calls to a single backend.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  int // half-open calls in flight or finished
	probeOK  int
}

// NewBreaker returns a closed breaker configured by cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Do calls fn unless the breaker is open, and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.probing, b.probeOK = 0, 0
		slog.Info("resilience: breaker probing", "name", b.cfg.Name)
	}
	if b.state == StateHalfOpen {
		if b.probing >= b.cfg.Probes {
			return false, ErrOpen
		}
		b.probing++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if probe || b.state == StateHalfOpen {
			b.trip("probe failed")
			return
		}
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.trip("too many failures")
		}
		return
	}

	if !probe {
		b.failures = 0
		return
	}
	b.probeOK++
	if b.probeOK >= b.cfg.Probes {
		b.state = StateClosed
		b.failures, b.probing, b.probeOK = 0, 0, 0
		slog.Info("resilience: breaker closed", "name", b.cfg.Name)
	}
}

// trip opens the breaker. Caller holds b.mu.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	slog.Warn("resilience: breaker opened",
		"name", b.cfg.Name,
		"reason", reason,
		"consecutive_failures", b.failures,
		"cooldown", b.cfg.Cooldown,
	)
}

// State reports the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probing, b.probeOK = 0, 0, 0
}
