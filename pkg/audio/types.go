// Package audio turns raw interleaved PCM byte streams into single-channel
// float32 sample sequences for the mel pipeline.
//
// Two layers are provided: the [Framer] family of functions that decode an
// in-memory byte buffer, and [Source] implementations that pull chunks from an
// [io.Reader] and feed them through the framer.
package audio

import "fmt"

// SampleFormat identifies the on-the-wire encoding of one PCM sample.
type SampleFormat string

const (
	// FormatF32LE is 32-bit IEEE-754 little-endian float, nominal range [-1, 1].
	FormatF32LE SampleFormat = "f32le"

	// FormatS16LE is 16-bit signed little-endian integer PCM.
	FormatS16LE SampleFormat = "s16le"

	// FormatWAV is a RIFF/WAVE container. Only valid for file sources.
	FormatWAV SampleFormat = "wav"
)

// IsValid reports whether f is a recognised sample format.
func (f SampleFormat) IsValid() bool {
	switch f {
	case FormatF32LE, FormatS16LE, FormatWAV:
		return true
	}
	return false
}

// Width returns the number of bytes per sample for raw formats, or 0 for
// container formats whose sample width is read from the header.
func (f SampleFormat) Width() int {
	switch f {
	case FormatF32LE:
		return 4
	case FormatS16LE:
		return 2
	}
	return 0
}

// Source produces successive runs of mono float32 samples. Next returns
// [io.EOF] once the underlying stream is exhausted; any other error is an I/O
// failure and ends the stream as well.
//
// A Source is owned by a single goroutine.
type Source interface {
	Next() ([]float32, error)
}

// formatString returns a human-readable description of a stream layout,
// e.g. "16000Hz mono f32le".
func formatString(rate, channels int, format SampleFormat) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s %s", rate, ch, format)
}
