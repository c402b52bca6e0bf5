// Package pipeline wires the mel transform and the VAD segmenter into a
// concurrent, channel-connected stream processor.
//
// Samples enter through [Pipeline.Send] and flow through two stages, each
// running on its own goroutine and owning its own state:
//
//	Send → ingress → transform stage → frames → segment stage → Segments()
//
// Every handoff is an ordered, bounded channel, so segments come out in the
// same order as the samples that produced them, and a slow consumer pushes
// back on Send. [Pipeline.CloseIngress] starts an orderly drain: buffered
// samples are transformed, the segmenter flushes its open candidate, and the
// Segments channel is closed. Cancelling the context passed to
// [Pipeline.Start] aborts without draining.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamscribe/pkg/mel"
	"github.com/MrWong99/streamscribe/pkg/vad"
)

var (
	// ErrIngressClosed is returned by Send after CloseIngress.
	ErrIngressClosed = errors.New("pipeline: ingress closed")

	// ErrHalted is returned by Send once the stages have been aborted.
	ErrHalted = errors.New("pipeline: halted")
)

// Buffers sets the capacity of the inter-stage channels.
type Buffers struct {
	// Ingress is the number of sample chunks Send may queue ahead of the
	// transform stage.
	Ingress int `yaml:"ingress"`

	// Frames is the number of mel frames queued between the two stages.
	Frames int `yaml:"frames"`

	// Segments is the number of finished segments queued for the consumer.
	Segments int `yaml:"segments"`
}

// DefaultBuffers returns the stock channel capacities.
func DefaultBuffers() Buffers {
	return Buffers{Ingress: 64, Frames: 256, Segments: 4}
}

// Config is the complete, immutable pipeline configuration.
type Config struct {
	Mel       mel.Config
	Detection vad.DetectionSettings
	Buffers   Buffers
}

// DefaultConfig returns whisper geometry, stock detection settings, and the
// default buffers.
func DefaultConfig() Config {
	return Config{
		Mel:       mel.DefaultConfig(),
		Detection: vad.DefaultDetectionSettings(),
		Buffers:   DefaultBuffers(),
	}
}

// Validate reports every invalid field of c.
func (c Config) Validate() error {
	var errs []error
	if err := c.Mel.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Detection.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Buffers.Ingress < 0 || c.Buffers.Frames < 0 || c.Buffers.Segments < 0 {
		errs = append(errs, fmt.Errorf("pipeline: buffer sizes must be >= 0, got %+v", c.Buffers))
	}
	return errors.Join(errs...)
}

// Observer receives stage events. Methods are called from the stage
// goroutines and must not block.
type Observer interface {
	// SamplesIngested is called once per chunk taken off the ingress channel.
	SamplesIngested(n int)

	// FrameEmitted is called for every mel frame handed to the segmenter.
	FrameEmitted(index int)

	// SegmentClosed is called whenever a candidate closes. seg is only
	// populated for [vad.VerdictAccepted].
	SegmentClosed(v vad.Verdict, seg vad.Segment)
}

type nopObserver struct{}

func (nopObserver) SamplesIngested(int)                    {}
func (nopObserver) FrameEmitted(int)                       {}
func (nopObserver) SegmentClosed(vad.Verdict, vad.Segment) {}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithObserver registers o for stage events.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.obs = o
		}
	}
}

// Pipeline is a two-stage streaming segmenter. Send and CloseIngress are safe
// for concurrent use; everything else belongs to the goroutine that owns the
// pipeline.
type Pipeline struct {
	cfg Config
	obs Observer

	transform *mel.Transform
	segmenter *vad.Segmenter

	ingress  chan []float32
	frames   chan mel.Frame
	segments chan vad.Segment

	// mu guards closed and the close of ingress. Send holds it for reading
	// while it may block on a full ingress channel.
	mu     sync.RWMutex
	closed bool

	halted   chan struct{}
	haltOnce sync.Once
	started  atomic.Bool
}

// New validates cfg and builds an idle pipeline. Call [Pipeline.Start] to
// run it.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tr, err := mel.NewTransform(cfg.Mel)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	seg, err := vad.NewSegmenter(cfg.Detection, cfg.Mel)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg:       cfg,
		obs:       nopObserver{},
		transform: tr,
		segmenter: seg,
		ingress:   make(chan []float32, cfg.Buffers.Ingress),
		frames:    make(chan mel.Frame, cfg.Buffers.Frames),
		segments:  make(chan vad.Segment, cfg.Buffers.Segments),
		halted:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// Send queues a copy of samples for processing. It blocks only while the
// ingress buffer is full. Empty input is accepted and ignored.
func (p *Pipeline) Send(samples []float32) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrIngressClosed
	}
	if len(samples) == 0 {
		return nil
	}
	select {
	case <-p.halted:
		return ErrHalted
	default:
	}
	select {
	case p.ingress <- slices.Clone(samples):
		return nil
	case <-p.halted:
		return ErrHalted
	}
}

// CloseIngress marks the end of input. Samples already queued are still
// processed and the open candidate is flushed. Safe to call more than once.
func (p *Pipeline) CloseIngress() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.ingress)
}

// Segments returns the egress channel. It is closed after the last segment,
// or after an abort.
func (p *Pipeline) Segments() <-chan vad.Segment { return p.segments }

// Start launches the transform and segment stages and returns the worker
// group they run in. Callers add their own tasks (the consumer) with
// [Workers.Go] and must call [Workers.Wait] before exiting. Start panics if
// called twice.
func (p *Pipeline) Start(ctx context.Context) *Workers {
	if !p.started.CompareAndSwap(false, true) {
		panic("pipeline: Start called twice")
	}
	g, gctx := errgroup.WithContext(ctx)
	w := &Workers{g: g, ctx: gctx}
	w.Go(p.runTransform)
	w.Go(p.runSegmenter)
	return w
}

func (p *Pipeline) halt() {
	p.haltOnce.Do(func() { close(p.halted) })
}

// runTransform owns the mel transform. It exits when ingress is closed and
// empty, or when ctx is cancelled.
func (p *Pipeline) runTransform(ctx context.Context) error {
	defer close(p.frames)

	var sendErr error
	emit := func(f mel.Frame) {
		if sendErr != nil {
			return
		}
		select {
		case p.frames <- f:
			p.obs.FrameEmitted(f.Index)
		case <-ctx.Done():
			sendErr = ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.halt()
			return ctx.Err()
		case samples, ok := <-p.ingress:
			if !ok {
				slog.Debug("pipeline: ingress drained",
					"frames", p.transform.Emitted(),
					"leftover_samples", p.transform.Buffered(),
				)
				return nil
			}
			p.obs.SamplesIngested(len(samples))
			p.transform.Push(samples, emit)
			if sendErr != nil {
				p.halt()
				return sendErr
			}
		}
	}
}

// runSegmenter owns the VAD state. It flushes the open candidate once the
// frame channel closes, unless the run was aborted.
func (p *Pipeline) runSegmenter(ctx context.Context) error {
	defer close(p.segments)

	for f := range p.frames {
		seg, v := p.segmenter.Push(f)
		if err := p.emit(ctx, seg, v); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	seg, v := p.segmenter.Flush()
	return p.emit(ctx, seg, v)
}

func (p *Pipeline) emit(ctx context.Context, seg vad.Segment, v vad.Verdict) error {
	if !v.Closed() {
		return nil
	}
	p.obs.SegmentClosed(v, seg)
	if v != vad.VerdictAccepted {
		slog.Debug("pipeline: candidate discarded", "verdict", v.String())
		return nil
	}
	slog.Debug("pipeline: segment accepted",
		"start", seg.Start,
		"end", seg.End,
		"weight", seg.Weight,
	)
	select {
	case p.segments <- seg:
		return nil
	case <-ctx.Done():
		p.halt()
		return ctx.Err()
	}
}

// Workers is the join handle for the pipeline stages and any tasks added
// alongside them. The first task to fail cancels the shared context.
type Workers struct {
	g   *errgroup.Group
	ctx context.Context
}

// Go runs fn in the group with the group's context.
func (w *Workers) Go(fn func(ctx context.Context) error) {
	w.g.Go(func() error { return fn(w.ctx) })
}

// Context returns the group context, which is cancelled when any task fails.
func (w *Workers) Context() context.Context { return w.ctx }

// Wait blocks until every task has returned and reports the first error.
func (w *Workers) Wait() error { return w.g.Wait() }
