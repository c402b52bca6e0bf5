package stt

import "time"

// Request is one speech segment ready for recognition.
type Request struct {
	// Index is the first mel frame index of the segment.
	Index int

	// Mel is the segment's log-mel matrix in NMels × Frames row-major order.
	Mel []float32

	// NMels and Frames give the shape of Mel.
	NMels, Frames int

	// Audio holds the mono samples the mel matrix was computed from, at the
	// session's sample rate. Engines that run their own front end decode
	// from Audio instead of Mel.
	Audio []float32
}

// Transcript is one text fragment produced for a [Request].
type Transcript struct {
	// Text is the recognized text with surrounding whitespace removed.
	Text string

	// Offset is the start of the fragment relative to the start of the
	// segment. Zero when the engine does not report timing.
	Offset time.Duration

	// Duration is the length of the fragment. Zero when unknown.
	Duration time.Duration
}

// FirstText returns the first non-empty fragment text, or "" when there is
// none.
func FirstText(ts []Transcript) string {
	for _, t := range ts {
		if t.Text != "" {
			return t.Text
		}
	}
	return ""
}
