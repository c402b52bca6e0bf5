package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/streamscribe/pkg/mel"
	"github.com/MrWong99/streamscribe/pkg/vad"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumByAttr returns the value of the int64 sum data point whose attribute key
// equals value, and whether it was found.
func sumByAttr(t *testing.T, met *metricdata.Metrics, key, value string) (int64, bool) {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value, true
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"streamscribe.vad.segment.duration", m.SegmentDuration},
		{"streamscribe.recognition.duration", m.RecognitionDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordSegment(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, vad.VerdictAccepted, 2*time.Second)
	m.RecordSegment(ctx, vad.VerdictAccepted, 3*time.Second)
	m.RecordSegment(ctx, vad.VerdictTooShort, 0)

	rm := collect(t, reader)
	met := findMetric(rm, "streamscribe.vad.segments")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got, ok := sumByAttr(t, met, "verdict", "accepted"); !ok || got != 2 {
		t.Errorf("accepted = %d (found %v), want 2", got, ok)
	}
	if got, ok := sumByAttr(t, met, "verdict", "too_short"); !ok || got != 1 {
		t.Errorf("too_short = %d (found %v), want 1", got, ok)
	}

	hist, ok := findMetric(rm, "streamscribe.vad.segment.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("segment duration histogram missing")
	}
	if dp := hist.DataPoints[0]; dp.Count != 2 || dp.Sum != 5 {
		t.Errorf("duration count=%d sum=%v, want 2 and 5", dp.Count, dp.Sum)
	}
}

func TestRecognitionErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognitionError(ctx, "error")
	m.RecordRecognitionError(ctx, "empty")
	m.RecordRecognitionError(ctx, "empty")

	met := findMetric(collect(t, reader), "streamscribe.recognition.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got, _ := sumByAttr(t, met, "reason", "empty"); got != 2 {
		t.Errorf("empty = %d, want 2", got)
	}
	if got, _ := sumByAttr(t, met, "reason", "error"); got != 1 {
		t.Errorf("error = %d, want 1", got)
	}
}

func TestPipelineObserver(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := m.PipelineObserver(mel.DefaultConfig())

	obs.SamplesIngested(160)
	obs.SamplesIngested(240)
	for i := range 3 {
		obs.FrameEmitted(i)
	}
	obs.SegmentClosed(vad.VerdictAccepted, vad.Segment{Frames: make([][]float32, 150)})
	obs.SegmentClosed(vad.VerdictTooWeak, vad.Segment{})

	rm := collect(t, reader)
	counters := []struct {
		name       string
		key, value string
		want       int64
	}{
		{name: "streamscribe.audio.samples", want: 400},
		{name: "streamscribe.mel.frames", want: 3},
		{name: "streamscribe.vad.segments", key: "verdict", value: "too_weak", want: 1},
	}
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			if got, ok := sumByAttr(t, met, tc.key, tc.value); !ok || got != tc.want {
				t.Errorf("value = %d (found %v), want %d", got, ok, tc.want)
			}
		})
	}

	hist := findMetric(rm, "streamscribe.vad.segment.duration").Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Sum; got != 1.5 {
		t.Errorf("segment duration sum = %v, want 1.5", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecognitions.Add(ctx, 1)
	m.ActiveRecognitions.Add(ctx, -1)
	m.ActiveRecognitions.Add(ctx, 1)
	m.TranscriptLines.Add(ctx, 4)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"streamscribe.recognition.active": 1,
		"streamscribe.transcript.lines":   4,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		if got, _ := sumByAttr(t, met, "", ""); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("route", "GET /healthz"),
			attribute.String("status", "200"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "streamscribe.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

func TestRecordFailover(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFailover(ctx, "describe")
	m.RecordFailover(ctx, "describe")

	met := findMetric(collect(t, reader), "streamscribe.recognition.failovers")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got, _ := sumByAttr(t, met, "backend", "describe"); got != 2 {
		t.Errorf("describe = %d, want 2", got)
	}
}
