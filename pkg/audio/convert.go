package audio

import (
	"encoding/binary"
	"math"
)

// Deinterleave decodes interleaved PCM bytes into one float32 sequence per
// channel. Only whole multi-channel frames are decoded; any trailing bytes that
// do not form a complete frame are silently dropped, so a short final read
// yields fewer samples rather than an error.
//
// Integer formats are normalised to [-1.0, 1.0). Container formats (WAV) are
// not accepted here and produce an empty result.
func Deinterleave(data []byte, channels int, format SampleFormat) [][]float32 {
	if channels < 1 {
		channels = 1
	}
	out := make([][]float32, channels)

	width := format.Width()
	if width == 0 {
		return out
	}
	frames := len(data) / (width * channels)
	for ch := range channels {
		out[ch] = make([]float32, frames)
	}

	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * width
			out[ch][i] = decodeSample(data[off:off+width], format)
		}
	}
	return out
}

// DeinterleaveF32 is [Deinterleave] for 32-bit float input.
func DeinterleaveF32(data []byte, channels int) [][]float32 {
	return Deinterleave(data, channels, FormatF32LE)
}

func decodeSample(b []byte, format SampleFormat) float32 {
	switch format {
	case FormatS16LE:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
}

// EncodeF32 encodes mono float32 samples as little-endian f32 bytes. It is the
// inverse of [DeinterleaveF32] for a single channel.
func EncodeF32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Framer slices decoded channel-0 samples into fixed-size audio frames.
// The zero value decodes mono f32le and returns the whole buffer as one frame.
type Framer struct {
	// Channels is the interleaved channel count of the input. Zero means 1.
	Channels int

	// Format is the raw sample encoding. Empty means [FormatF32LE].
	Format SampleFormat

	// FrameSize is the number of samples per emitted frame. Zero or negative
	// means "one frame per call".
	FrameSize int
}

// Frames decodes data and returns channel 0 split into frames of FrameSize
// samples. The last frame may be shorter. The returned frames share one
// backing array and must not be retained after the next call mutates it.
func (f Framer) Frames(data []byte) [][]float32 {
	format := f.Format
	if format == "" {
		format = FormatF32LE
	}
	samples := Deinterleave(data, f.Channels, format)[0]
	if len(samples) == 0 {
		return nil
	}
	size := f.FrameSize
	if size <= 0 || size >= len(samples) {
		return [][]float32{samples}
	}

	out := make([][]float32, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := min(start+size, len(samples))
		out = append(out, samples[start:end:end])
	}
	return out
}
