// Package health provides the liveness and readiness endpoints of the
// diagnostics server.
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when every registered
//     [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker. Readiness
// of long-running components (the recognizer, the pipeline) is usually
// reported through a [Flag] that the component flips itself.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the component is
// ready and an error describing why not otherwise.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "recognizer").
	Name string

	// Check probes the component. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Flag is a readiness bit owned by one component. The zero value is not
// ready. Safe for concurrent use.
type Flag struct {
	name   string
	ready  atomic.Bool
	reason atomic.Pointer[string]
}

// NewFlag returns a not-ready flag reported under name.
func NewFlag(name string) *Flag {
	f := &Flag{name: name}
	f.SetNotReady("starting")
	return f
}

// SetReady marks the component ready.
func (f *Flag) SetReady() {
	f.ready.Store(true)
}

// SetNotReady marks the component not ready, with a short reason reported by
// /readyz.
func (f *Flag) SetNotReady(reason string) {
	f.reason.Store(&reason)
	f.ready.Store(false)
}

// Ready reports the current state.
func (f *Flag) Ready() bool { return f.ready.Load() }

// Checker adapts f to a [Checker].
func (f *Flag) Checker() Checker {
	return Checker{Name: f.name, Check: func(context.Context) error {
		if f.ready.Load() {
			return nil
		}
		reason := "not ready"
		if p := f.reason.Load(); p != nil {
			reason = *p
		}
		return errors.New(reason)
	}}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each bounded by [checkTimeout],
// and returns 200 only when all of them pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
