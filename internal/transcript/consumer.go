// Package transcript drives recognition for finished speech segments and
// writes one transcript line per segment.
//
// The [Consumer] reads segments in order from the pipeline, hands each one to
// an [stt.Session] synchronously, and prints
//
//	<frame_index> [<mm:ss.mmm>] <text>
//
// to its output. A segment that fails to produce text is logged and counted;
// processing continues with the next segment.
package transcript

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/pkg/mel"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
	"github.com/MrWong99/streamscribe/pkg/vad"
)

// FormatTimestamp renders ms as minutes:seconds.milliseconds with zero
// padding. Minutes are not wrapped into hours.
func FormatTimestamp(ms uint64) string {
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, ms/1000%60, ms%1000)
}

// Option configures a [Consumer].
type Option func(*Consumer)

// WithOutput sets the writer transcript lines go to. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Consumer) {
		if w != nil {
			c.out = w
		}
	}
}

// WithImageDir enables the per-segment mel image export into dir. Export
// failures are logged and otherwise ignored.
func WithImageDir(dir string) Option {
	return func(c *Consumer) {
		c.imageDir = dir
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Consumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLineHook registers fn to be called after each printed line. Used to
// track progress without parsing the output.
func WithLineHook(fn func(Line)) Option {
	return func(c *Consumer) {
		c.onLine = fn
	}
}

// Line is one emitted transcript line.
type Line struct {
	Index     int
	Timestamp string
	Text      string
}

// String formats l the way it is written to the output.
func (l Line) String() string {
	return fmt.Sprintf("%d [%s] %s", l.Index, l.Timestamp, l.Text)
}

// Consumer turns segments into transcript lines. A Consumer processes one
// segment at a time; Run must not be called concurrently.
type Consumer struct {
	cfg      mel.Config
	out      io.Writer
	imageDir string
	metrics  *observe.Metrics
	onLine   func(Line)
}

// NewConsumer returns a consumer for segments produced with mel geometry cfg.
func NewConsumer(cfg mel.Config, opts ...Option) *Consumer {
	c := &Consumer{
		cfg: cfg,
		out: os.Stdout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run consumes segments until the channel is closed or ctx is cancelled.
// Recognition failures are not returned; only ctx cancellation and output
// write errors end the run early.
func (c *Consumer) Run(ctx context.Context, segments <-chan vad.Segment, session stt.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-segments:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, seg, session); err != nil {
				return err
			}
		}
	}
}

// handle recognizes one segment. The returned error is non-nil only when the
// line could not be written or ctx ended.
func (c *Consumer) handle(ctx context.Context, seg vad.Segment, session stt.Session) error {
	ctx, span := observe.StartSegmentSpan(ctx, seg, c.cfg)
	defer span.End()
	log := observe.Logger(ctx)

	if c.imageDir != "" {
		if path, err := mel.SaveImage(c.imageDir, seg.Start, seg.Frames, seg.NMels); err != nil {
			log.Warn("transcript: mel image export failed", "segment", seg.Start, "err", err)
		} else {
			log.Debug("transcript: mel image written", "path", path)
		}
	}

	req := stt.Request{
		Index:  seg.Start,
		Mel:    seg.Matrix(),
		NMels:  seg.NMels,
		Frames: seg.Len(),
		Audio:  seg.Audio,
	}

	c.metrics.ActiveRecognitions.Add(ctx, 1)
	start := time.Now()
	ts, err := session.Recognize(ctx, req)
	c.metrics.RecordRecognition(ctx, time.Since(start))
	c.metrics.ActiveRecognitions.Add(ctx, -1)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognition failed")
		c.metrics.RecordRecognitionError(ctx, "error")
		log.Error("Error retrieving text for segment.", "segment", seg.Start, "err", err)
		return nil
	}
	text := stt.FirstText(ts)
	if text == "" {
		c.metrics.RecordRecognitionError(ctx, "empty")
		log.Debug("transcript: segment produced no text", "segment", seg.Start)
		return nil
	}

	line := Line{
		Index:     seg.Start,
		Timestamp: FormatTimestamp(mel.DurationMs(c.cfg.HopSize, c.cfg.SamplingRate, seg.Start)),
		Text:      text,
	}
	if _, err := fmt.Fprintln(c.out, line.String()); err != nil {
		return fmt.Errorf("transcript: write line: %w", err)
	}
	c.metrics.TranscriptLines.Add(ctx, 1)
	if c.onLine != nil {
		c.onLine(line)
	}
	slog.Debug("transcript: line written", "segment", seg.Start, "fragments", len(ts))
	return nil
}
