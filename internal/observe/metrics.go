// Package observe provides application-wide observability primitives for
// streamscribe: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/streamscribe/pkg/mel"
	"github.com/MrWong99/streamscribe/pkg/pipeline"
	"github.com/MrWong99/streamscribe/pkg/vad"
)

// meterName is the instrumentation scope name used for all streamscribe metrics.
const meterName = "github.com/MrWong99/streamscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline counters ---

	// IngestedSamples counts samples accepted by the transform stage.
	IngestedSamples metric.Int64Counter

	// MelFrames counts mel frames handed to the segmenter.
	MelFrames metric.Int64Counter

	// Segments counts closed VAD candidates. Use with attribute:
	//   attribute.String("verdict", ...)
	Segments metric.Int64Counter

	// --- Histograms ---

	// SegmentDuration tracks the audio length of accepted segments.
	SegmentDuration metric.Float64Histogram

	// RecognitionDuration tracks how long one recognition call takes.
	RecognitionDuration metric.Float64Histogram

	// --- Consumer ---

	// RecognitionErrors counts segments that produced no transcript line. Use
	// with attribute:
	//   attribute.String("reason", ...): "error" or "empty"
	RecognitionErrors metric.Int64Counter

	// TranscriptLines counts lines written to the transcript output.
	TranscriptLines metric.Int64Counter

	// ActiveRecognitions tracks recognitions currently running (0 or 1).
	ActiveRecognitions metric.Int64UpDownCounter

	// Failovers counts recognitions served by a backend other than the
	// primary. Use with attribute:
	//   attribute.String("backend", ...)
	Failovers metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks diagnostics request latency. Use with
	// attributes:
	//   attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// recognition latency.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// speechBuckets defines histogram bucket boundaries (in seconds) for segment
// lengths, up to the 30 s whisper window.
var speechBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 12, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.IngestedSamples, err = m.Int64Counter("streamscribe.audio.samples",
		metric.WithDescription("Total audio samples ingested by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.MelFrames, err = m.Int64Counter("streamscribe.mel.frames",
		metric.WithDescription("Total mel-spectrogram frames computed."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("streamscribe.vad.segments",
		metric.WithDescription("Total closed speech candidates by verdict."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("streamscribe.vad.segment.duration",
		metric.WithDescription("Audio length of accepted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("streamscribe.recognition.duration",
		metric.WithDescription("Latency of one speech recognition call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Consumer.
	if met.RecognitionErrors, err = m.Int64Counter("streamscribe.recognition.errors",
		metric.WithDescription("Total segments without a transcript by reason."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptLines, err = m.Int64Counter("streamscribe.transcript.lines",
		metric.WithDescription("Total transcript lines written."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecognitions, err = m.Int64UpDownCounter("streamscribe.recognition.active",
		metric.WithDescription("Number of recognition calls in flight."),
	); err != nil {
		return nil, err
	}
	if met.Failovers, err = m.Int64Counter("streamscribe.recognition.failovers",
		metric.WithDescription("Total recognitions served by a fallback backend."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamscribe.http.request.duration",
		metric.WithDescription("Diagnostics request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment records a closed candidate and, for accepted segments, its
// duration.
func (m *Metrics) RecordSegment(ctx context.Context, v vad.Verdict, d time.Duration) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", v.String())))
	if v == vad.VerdictAccepted {
		m.SegmentDuration.Record(ctx, d.Seconds())
	}
}

// RecordRecognition records one recognition call's latency.
func (m *Metrics) RecordRecognition(ctx context.Context, d time.Duration) {
	m.RecognitionDuration.Record(ctx, d.Seconds())
}

// RecordRecognitionError records a segment that produced no transcript line.
func (m *Metrics) RecordRecognitionError(ctx context.Context, reason string) {
	m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFailover records a recognition served by the fallback backend.
func (m *Metrics) RecordFailover(ctx context.Context, backend string) {
	m.Failovers.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// PipelineObserver returns a [pipeline.Observer] that feeds m. cfg converts
// segment lengths to seconds.
func (m *Metrics) PipelineObserver(cfg mel.Config) pipeline.Observer {
	return &pipelineObserver{m: m, cfg: cfg}
}

type pipelineObserver struct {
	m   *Metrics
	cfg mel.Config
}

var _ pipeline.Observer = (*pipelineObserver)(nil)

func (o *pipelineObserver) SamplesIngested(n int) {
	o.m.IngestedSamples.Add(context.Background(), int64(n))
}

func (o *pipelineObserver) FrameEmitted(int) {
	o.m.MelFrames.Add(context.Background(), 1)
}

func (o *pipelineObserver) SegmentClosed(v vad.Verdict, seg vad.Segment) {
	o.m.RecordSegment(context.Background(), v, seg.Duration(o.cfg))
}
