package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/streamscribe/pkg/mel"
	"github.com/MrWong99/streamscribe/pkg/vad"
)

const tracerName = "github.com/MrWong99/streamscribe"

// Tracer returns the streamscribe tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SegmentSpanName names the span around one segment's recognition.
const SegmentSpanName = "transcript.recognize"

// StartSegmentSpan starts the recognition span for seg, tagged with its frame
// range, detector weight, and audio length.
func StartSegmentSpan(ctx context.Context, seg vad.Segment, cfg mel.Config) (context.Context, trace.Span) {
	return StartSpan(ctx, SegmentSpanName, trace.WithAttributes(
		attribute.Int("segment.start", seg.Start),
		attribute.Int("segment.end", seg.End),
		attribute.Int("segment.frames", seg.Len()),
		attribute.Int("segment.weight", seg.Weight),
		attribute.Int64("segment.audio_ms", seg.Duration(cfg).Milliseconds()),
	))
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger, with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
