package pipeline_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/streamscribe/pkg/pipeline"
	"github.com/MrWong99/streamscribe/pkg/vad"
)

const rate = 16000

// testConfig uses stock geometry with a threshold suited to the synthetic
// multi-tone signal below.
func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Detection.EnergyThreshold = 0.5
	cfg.Buffers = pipeline.Buffers{Ingress: 2, Frames: 4, Segments: 1}
	return cfg
}

// voiced returns n samples of a chord spread across the speech band, loud
// enough to light up well over min_intersections mel bins.
func voiced(n int) []float32 {
	freqs := []float64{250, 500, 750, 1000, 1500, 2000, 3000, 4000}
	out := make([]float32, n)
	for i := range out {
		var v float64
		for _, f := range freqs {
			v += 0.1 * math.Sin(2*math.Pi*f*float64(i)/rate)
		}
		out[i] = float32(v)
	}
	return out
}

func silence(n int) []float32 { return make([]float32, n) }

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// chunks splits samples into pieces of the given repeating sizes.
func chunks(samples []float32, sizes ...int) [][]float32 {
	var out [][]float32
	for i := 0; len(samples) > 0; i++ {
		n := min(sizes[i%len(sizes)], len(samples))
		out = append(out, samples[:n])
		samples = samples[n:]
	}
	return out
}

// runAll feeds every chunk, closes ingress, and returns the segments in
// arrival order.
func runAll(t *testing.T, cfg pipeline.Config, opts []pipeline.Option, in ...[]float32) []vad.Segment {
	t.Helper()
	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := p.Start(context.Background())

	var segs []vad.Segment
	w.Go(func(ctx context.Context) error {
		for s := range p.Segments() {
			segs = append(segs, s)
		}
		return nil
	})

	for _, c := range in {
		if err := p.Send(c); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	p.CloseIngress()
	if err := w.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return segs
}

func TestPipeline_SilenceEmitsNothing(t *testing.T) {
	t.Parallel()
	segs := runAll(t, testConfig(), nil, chunks(silence(3*rate), 32)...)
	if len(segs) != 0 {
		t.Fatalf("got %d segments from silence, want 0", len(segs))
	}
}

func TestPipeline_ShortBurstDiscarded(t *testing.T) {
	t.Parallel()
	in := concat(silence(rate/2), voiced(rate*3/10), silence(rate))
	segs := runAll(t, testConfig(), nil, chunks(in, 32)...)
	if len(segs) != 0 {
		t.Fatalf("got %d segments from a 300ms burst, want 0", len(segs))
	}
}

func TestPipeline_SustainedSignalOneSegment(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	// 50 hops of silence, two seconds of signal, one second of silence.
	in := concat(silence(50*cfg.Mel.HopSize), voiced(2*rate), silence(rate))
	segs := runAll(t, cfg, nil, chunks(in, 32, 1, 500, 7, 4096)...)

	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]
	if seg.Start < 48 || seg.Start > 50 {
		t.Errorf("segment starts at frame %d, want the first voiced frame (48..50)", seg.Start)
	}
	if seg.Len() < cfg.Detection.MinFrames {
		t.Errorf("segment has %d frames, want >= %d", seg.Len(), cfg.Detection.MinFrames)
	}
	if seg.End-seg.Start+1 != seg.Len() {
		t.Errorf("segment [%d, %d] is not contiguous with %d frames", seg.Start, seg.End, seg.Len())
	}
	if want := (seg.Len()-1)*cfg.Mel.HopSize + cfg.Mel.FFTSize; len(seg.Audio) != want {
		t.Errorf("audio span = %d samples, want %d", len(seg.Audio), want)
	}
	for _, f := range seg.Frames {
		if len(f) != cfg.Mel.NMels {
			t.Fatalf("frame width %d, want %d", len(f), cfg.Mel.NMels)
		}
	}
}

func TestPipeline_ChunkingDoesNotChangeSegments(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	in := concat(silence(rate/3), voiced(3*rate/2), silence(rate/2), voiced(3*rate/2), silence(rate/3))

	whole := runAll(t, cfg, nil, in)
	pieces := runAll(t, cfg, nil, chunks(in, 1, 3, 160, 999)...)

	if len(whole) != 2 || len(pieces) != 2 {
		t.Fatalf("segments: whole=%d pieces=%d, want 2 each", len(whole), len(pieces))
	}
	for i := range whole {
		if whole[i].Start != pieces[i].Start || whole[i].End != pieces[i].End {
			t.Errorf("segment %d: whole=[%d, %d] pieces=[%d, %d]",
				i, whole[i].Start, whole[i].End, pieces[i].Start, pieces[i].End)
		}
	}
	if whole[0].End >= whole[1].Start {
		t.Errorf("segments out of order: [%d, %d] then [%d, %d]",
			whole[0].Start, whole[0].End, whole[1].Start, whole[1].End)
	}
}

func TestPipeline_EmptyInputDrainsImmediately(t *testing.T) {
	t.Parallel()
	p, err := pipeline.New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := p.Start(context.Background())
	p.CloseIngress()

	select {
	case _, ok := <-p.Segments():
		if ok {
			t.Fatal("received a segment from empty input")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("segments channel not closed after CloseIngress")
	}
	if err := w.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestPipeline_SendAfterClose(t *testing.T) {
	t.Parallel()
	p, err := pipeline.New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := p.Start(context.Background())

	if err := p.Send(nil); err != nil {
		t.Errorf("Send(nil) = %v, want nil", err)
	}
	p.CloseIngress()
	p.CloseIngress()

	if err := p.Send([]float32{1}); !errors.Is(err, pipeline.ErrIngressClosed) {
		t.Errorf("Send after close = %v, want ErrIngressClosed", err)
	}
	if err := w.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestPipeline_CancelAborts(t *testing.T) {
	t.Parallel()
	p, err := pipeline.New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := p.Start(ctx)

	if err := p.Send(voiced(rate)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cancel()

	if err := w.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if err := p.Send(voiced(10)); !errors.Is(err, pipeline.ErrHalted) {
		t.Errorf("Send after abort = %v, want ErrHalted", err)
	}
	for range p.Segments() {
	}
}

func TestPipeline_FailingTaskHaltsSend(t *testing.T) {
	t.Parallel()
	p, err := pipeline.New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := p.Start(context.Background())
	boom := errors.New("consumer failed")
	w.Go(func(context.Context) error { return boom })

	if err := w.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want %v", err, boom)
	}
	if err := p.Send(voiced(10)); !errors.Is(err, pipeline.ErrHalted) {
		t.Errorf("Send after failure = %v, want ErrHalted", err)
	}
}

func TestPipeline_StartTwicePanics(t *testing.T) {
	t.Parallel()
	p, err := pipeline.New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := p.Start(ctx)
	defer func() {
		cancel()
		_ = w.Wait()
	}()

	defer func() {
		if recover() == nil {
			t.Error("second Start did not panic")
		}
	}()
	p.Start(ctx)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Mel.HopSize = 0
	cfg.Detection.MinFrames = 0
	cfg.Buffers.Frames = -1
	if _, err := pipeline.New(cfg); err == nil {
		t.Fatal("New accepted an invalid config")
	}
}

type recorder struct {
	mu       sync.Mutex
	samples  int
	indices  []int
	verdicts map[vad.Verdict]int
}

func (r *recorder) SamplesIngested(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples += n
}

func (r *recorder) FrameEmitted(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices = append(r.indices, index)
}

func (r *recorder) SegmentClosed(v vad.Verdict, _ vad.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verdicts == nil {
		r.verdicts = make(map[vad.Verdict]int)
	}
	r.verdicts[v]++
}

func TestPipeline_ObserverSeesEveryFrame(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	in := concat(silence(rate/2), voiced(rate*3/10), silence(rate/2), voiced(2*rate), silence(rate/2))
	rec := &recorder{}

	segs := runAll(t, cfg, []pipeline.Option{pipeline.WithObserver(rec)}, chunks(in, 256)...)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.samples != len(in) {
		t.Errorf("ingested %d samples, want %d", rec.samples, len(in))
	}
	wantFrames := (len(in)-cfg.Mel.FFTSize)/cfg.Mel.HopSize + 1
	if len(rec.indices) != wantFrames {
		t.Fatalf("observed %d frames, want %d", len(rec.indices), wantFrames)
	}
	for i, idx := range rec.indices {
		if idx != i {
			t.Fatalf("frame %d carried index %d", i, idx)
		}
	}
	if rec.verdicts[vad.VerdictTooShort] != 1 || rec.verdicts[vad.VerdictAccepted] != 1 {
		t.Errorf("verdicts = %v, want one too_short and one accepted", rec.verdicts)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if last := rec.indices[len(rec.indices)-1]; segs[0].End > last {
		t.Errorf("segment ends at %d beyond the last emitted frame %d", segs[0].End, last)
	}
}
