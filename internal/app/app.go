// Package app wires the streaming segmenter, the recognizer, and the
// diagnostics server into a running application.
//
// The App struct owns the full lifecycle: New creates the diagnostics server
// and readiness flags, Run streams one audio source through the pipeline and
// the transcript consumer, and Shutdown tears everything down in order.
//
// For testing, inject an output writer and a metrics instance via functional
// options (WithOutput, WithMetrics). The recognizer is always passed in; main
// builds it from the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/health"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/transcript"
	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/pipeline"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// ErrAlreadyRunning is returned by Run when called a second time.
var ErrAlreadyRunning = errors.New("app: already running")

// App owns all subsystem lifetimes for one transcription run.
type App struct {
	cfg        *config.Config
	recognizer stt.Provider
	metrics    *observe.Metrics
	out        io.Writer
	runID      string
	gatherer   prometheus.Gatherer

	recognizerReady *health.Flag
	pipelineReady   *health.Flag

	server   *http.Server
	listener net.Listener

	mu      sync.Mutex
	running bool
	abort   context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithOutput sets the transcript writer. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRunID sets the identifier attached to every log line of the run.
// Default: a random UUID.
func WithRunID(id string) Option {
	return func(a *App) { a.runID = id }
}

// WithGatherer sets the registry served on /metrics. Default:
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. When cfg.Server.ListenAddr is set the diagnostics
// server starts listening immediately so probes can watch startup; /readyz
// reports not ready until Run has opened a recognition session.
func New(ctx context.Context, cfg *config.Config, recognizer stt.Provider, opts ...Option) (*App, error) {
	if recognizer == nil {
		return nil, errors.New("app: recognizer is required")
	}
	a := &App{
		cfg:             cfg,
		recognizer:      recognizer,
		out:             os.Stdout,
		gatherer:        prometheus.DefaultGatherer,
		recognizerReady: health.NewFlag("recognizer"),
		pipelineReady:   health.NewFlag("pipeline"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.runID == "" {
		a.runID = uuid.NewString()
	}

	if c, ok := recognizer.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	// ── Diagnostics server ───────────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" {
		if err := a.startDiagnostics(ctx, addr); err != nil {
			return nil, fmt.Errorf("app: start diagnostics: %w", err)
		}
	}
	return a, nil
}

// RunID returns the run identifier.
func (a *App) RunID() string { return a.runID }

// DiagnosticsAddr returns the bound diagnostics address, or "" when the
// server is disabled.
func (a *App) DiagnosticsAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Handler returns the diagnostics mux: /healthz, /readyz, and /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.recognizerReady.Checker(), a.pipelineReady.Checker()).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) startDiagnostics(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("app: diagnostics server failed", "err", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(ctx)
	})
	slog.Info("app: diagnostics listening", "addr", ln.Addr().String())
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run streams src through the pipeline and writes transcript lines until the
// source is exhausted and every segment has been recognized.
//
// Cancelling ctx stops reading input and drains: samples already queued are
// still segmented and recognized. Call [App.Abort] to stop without draining.
// A read error aborts like [App.Abort] and is returned: segments still
// open when it happens are dropped.
func (a *App) Run(ctx context.Context, src audio.Source) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	a.abort = abort
	a.mu.Unlock()
	defer abort()

	log := slog.With("run_id", a.runID)

	p, err := pipeline.New(a.cfg.PipelineConfig(),
		pipeline.WithObserver(a.metrics.PipelineObserver(a.cfg.Mel)))
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	session, err := a.recognizer.StartSession(runCtx, stt.SessionConfig{
		SampleRate: int(a.cfg.Mel.SamplingRate),
		NMels:      a.cfg.Mel.NMels,
		Language:   a.cfg.Recognizer.Language,
	})
	if err != nil {
		a.recognizerReady.SetNotReady("session failed")
		return fmt.Errorf("app: start recognition session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("app: close recognition session", "err", err)
		}
	}()
	a.recognizerReady.SetReady()

	w := p.Start(runCtx)
	a.pipelineReady.SetReady()
	log.Info("app: streaming",
		"fft_size", a.cfg.Mel.FFTSize,
		"hop_size", a.cfg.Mel.HopSize,
		"n_mels", a.cfg.Mel.NMels,
		"sampling_rate", a.cfg.Mel.SamplingRate,
	)

	consumer := transcript.NewConsumer(a.cfg.Mel,
		transcript.WithOutput(a.out),
		transcript.WithMetrics(a.metrics),
		transcript.WithImageDir(a.cfg.Debug.MelOut),
	)
	w.Go(func(ctx context.Context) error {
		return consumer.Run(ctx, p.Segments(), session)
	})

	// The feeder sits outside the worker group: a blocked read on a pipe
	// cannot be interrupted, and must not hold up the drain.
	fed := make(chan error, 1)
	go func() {
		err := a.feed(p, src, log)
		fed <- err
		if err != nil {
			abort()
			return
		}
		p.CloseIngress()
	}()

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.Info("app: stop requested, draining")
			a.pipelineReady.SetNotReady("draining")
			p.CloseIngress()
		case <-stopped:
		}
	}()

	runErr := w.Wait()
	close(stopped)
	a.pipelineReady.SetNotReady("stopped")

	var feedErr error
	select {
	case feedErr = <-fed:
	default:
	}
	if feedErr != nil {
		// The cancellation it caused is not worth reporting.
		if errors.Is(runErr, context.Canceled) {
			return feedErr
		}
		return errors.Join(runErr, feedErr)
	}
	if runErr != nil {
		return runErr
	}
	log.Info("app: input finished")
	return nil
}

// feed pulls chunks from src into the pipeline until the end of input, a
// read error, or the pipeline stops accepting samples.
func (a *App) feed(p *pipeline.Pipeline, src audio.Source, log *slog.Logger) error {
	for {
		samples, err := src.Next()
		if len(samples) > 0 {
			if sendErr := p.Send(samples); sendErr != nil {
				// Halted or closed: the run is already ending.
				log.Debug("app: input no longer accepted", "err", sendErr)
				return nil
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			log.Error("app: read input", "err", err)
			return fmt.Errorf("app: read input: %w", err)
		}
	}
}

// Abort stops a running Run without draining. Safe to call at any time.
func (a *App) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abort != nil {
		a.abort()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown aborts any active run and tears down all subsystems in init order.
// It respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))
		a.Abort()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
