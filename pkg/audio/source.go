package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultChunkBytes is the raw read size used when none is configured. It
// holds 32 f32 samples (2 ms at 16 kHz).
const DefaultChunkBytes = 128

// RawSource reads headerless interleaved PCM from an [io.Reader] in fixed-size
// chunks. Short reads are accumulated until a full chunk is available, so the
// pipeline sees identical samples regardless of how the reader fragments the
// stream. Only the final chunk may be partial; it is decoded using whole
// samples and its leftover bytes are discarded.
type RawSource struct {
	r      io.Reader
	framer Framer
	buf    []byte
	done   bool
}

// NewRawSource returns a RawSource decoding format with the given channel
// count. chunkBytes <= 0 selects [DefaultChunkBytes]; the chunk size is
// rounded down to a whole number of multi-channel frames.
func NewRawSource(r io.Reader, format SampleFormat, channels, chunkBytes int) (*RawSource, error) {
	width := format.Width()
	if width == 0 {
		return nil, fmt.Errorf("audio: raw source does not support format %q", format)
	}
	if channels < 1 {
		channels = 1
	}
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	frameBytes := width * channels
	chunkBytes -= chunkBytes % frameBytes
	if chunkBytes == 0 {
		chunkBytes = frameBytes
	}
	return &RawSource{
		r:      r,
		framer: Framer{Channels: channels, Format: format},
		buf:    make([]byte, chunkBytes),
	}, nil
}

// Next returns the next chunk of channel-0 samples. A zero-length final chunk
// (fewer bytes than one sample) is reported as [io.EOF] directly.
func (s *RawSource) Next() ([]float32, error) {
	for !s.done {
		n, err := io.ReadFull(s.r, s.buf)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			s.done = true
		default:
			s.done = true
			return nil, fmt.Errorf("audio: read input: %w", err)
		}
		frames := s.framer.Frames(s.buf[:n])
		if len(frames) == 0 {
			continue
		}
		return frames[0], nil
	}
	return nil, io.EOF
}

// WAVSource streams a RIFF/WAVE file chunk by chunk, normalising integer PCM
// to [-1, 1] and keeping channel 0. 8-bit files are unsigned and centred on
// 128; wider depths are signed.
type WAVSource struct {
	dec      *wav.Decoder
	buf      *goaudio.IntBuffer
	channels int
	offset   int
	scale    float32
}

// NewWAVSource validates the WAVE header of r and prepares a chunked decoder.
// chunkFrames is the number of multi-channel frames decoded per Next call.
// When wantRate is positive the file's sample rate must match it.
func NewWAVSource(r io.ReadSeeker, wantRate, chunkFrames int) (*WAVSource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("audio: input is not a valid WAVE file")
	}
	format := dec.Format()
	if format == nil || format.NumChannels < 1 {
		return nil, errors.New("audio: WAVE file has no channel information")
	}
	if wantRate > 0 && format.SampleRate != wantRate {
		return nil, fmt.Errorf("audio: WAVE sample rate %d Hz does not match configured %d Hz", format.SampleRate, wantRate)
	}
	if dec.BitDepth == 0 || dec.BitDepth > 32 {
		return nil, fmt.Errorf("audio: unsupported WAVE bit depth %d", dec.BitDepth)
	}
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkBytes / 4
	}

	slog.Debug("wav source opened",
		"format", formatString(format.SampleRate, format.NumChannels, FormatWAV),
		"bit_depth", dec.BitDepth,
	)

	offset := 0
	if dec.BitDepth == 8 {
		offset = 128
	}

	return &WAVSource{
		dec: dec,
		buf: &goaudio.IntBuffer{
			Format:         format,
			Data:           make([]int, chunkFrames*format.NumChannels),
			SourceBitDepth: int(dec.BitDepth),
		},
		channels: format.NumChannels,
		offset:   offset,
		scale:    float32(int64(1) << (dec.BitDepth - 1)),
	}, nil
}

// Next decodes the next chunk of channel-0 samples.
func (s *WAVSource) Next() ([]float32, error) {
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("audio: decode WAVE: %w", err)
	}
	frames := n / s.channels
	if frames == 0 {
		return nil, io.EOF
	}
	out := make([]float32, frames)
	for i := range frames {
		out[i] = float32(s.buf.Data[i*s.channels]-s.offset) / s.scale
	}
	return out, nil
}

// Compile-time assertions that both sources satisfy Source.
var (
	_ Source = (*RawSource)(nil)
	_ Source = (*WAVSource)(nil)
)
