package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/streamscribe/pkg/audio"
)

// drainSource reads s until io.EOF and returns all samples.
func drainSource(t *testing.T, s audio.Source) []float32 {
	t.Helper()
	var all []float32
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return all
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		all = append(all, chunk...)
	}
}

func TestRawSource_ReassemblesShortReads(t *testing.T) {
	t.Parallel()
	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = float32(i) / 100
	}
	r := iotest.OneByteReader(bytes.NewReader(audio.EncodeF32(samples)))

	src, err := audio.NewRawSource(r, audio.FormatF32LE, 1, 128)
	if err != nil {
		t.Fatalf("NewRawSource: %v", err)
	}
	equalSamples(t, drainSource(t, src), samples)
}

func TestRawSource_FinalPartialSampleDiscarded(t *testing.T) {
	t.Parallel()
	data := append(f32Bytes(0.25, 0.5, 0.75), 0xAA, 0xBB)
	src, err := audio.NewRawSource(bytes.NewReader(data), audio.FormatF32LE, 1, 8)
	if err != nil {
		t.Fatalf("NewRawSource: %v", err)
	}
	equalSamples(t, drainSource(t, src), []float32{0.25, 0.5, 0.75})
}

func TestRawSource_EmptyInput(t *testing.T) {
	t.Parallel()
	src, err := audio.NewRawSource(bytes.NewReader(nil), audio.FormatF32LE, 1, 0)
	if err != nil {
		t.Fatalf("NewRawSource: %v", err)
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	// Stays exhausted.
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on second call, got %v", err)
	}
}

func TestRawSource_ReadErrorIsReturned(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	src, err := audio.NewRawSource(iotest.ErrReader(boom), audio.FormatF32LE, 1, 0)
	if err != nil {
		t.Fatalf("NewRawSource: %v", err)
	}
	if _, err := src.Next(); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestRawSource_StereoKeepsChannelZero(t *testing.T) {
	t.Parallel()
	src, err := audio.NewRawSource(bytes.NewReader(s16Bytes(16384, 0, -16384, 0)), audio.FormatS16LE, 2, 0)
	if err != nil {
		t.Fatalf("NewRawSource: %v", err)
	}
	equalSamples(t, drainSource(t, src), []float32{0.5, -0.5})
}

func TestNewRawSource_RejectsContainerFormat(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewRawSource(bytes.NewReader(nil), audio.FormatWAV, 1, 0); err == nil {
		t.Fatal("expected error for wav format, got nil")
	}
}

// writeWAV writes a 16-bit mono WAVE file with the given samples.
func writeWAV(t *testing.T, rate int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestWAVSource_DecodesAndNormalises(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, 16000, []int{16384, -16384, 0, 8192, 32767})
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	src, err := audio.NewWAVSource(f, 16000, 2)
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}
	got := drainSource(t, src)
	want := []float32{0.5, -0.5, 0, 0.25, 32767.0 / 32768.0}
	equalSamples(t, got, want)
}

// wav8 builds an 8-bit mono PCM WAVE file in memory.
func wav8(rate int, data []byte) []byte {
	var b bytes.Buffer
	le := func(v any) { _ = binary.Write(&b, binary.LittleEndian, v) }
	b.WriteString("RIFF")
	le(uint32(36 + len(data)))
	b.WriteString("WAVEfmt ")
	le(uint32(16))
	le(uint16(1)) // PCM
	le(uint16(1)) // channels
	le(uint32(rate))
	le(uint32(rate)) // byte rate
	le(uint16(1))    // block align
	le(uint16(8))
	b.WriteString("data")
	le(uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func TestWAVSource_EightBitIsUnsigned(t *testing.T) {
	t.Parallel()
	r := bytes.NewReader(wav8(16000, []byte{128, 192, 64, 0, 255}))
	src, err := audio.NewWAVSource(r, 16000, 2)
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}
	equalSamples(t, drainSource(t, src), []float32{0, 0.5, -0.5, -1, 127.0 / 128.0})
}

func TestWAVSource_RejectsRateMismatch(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, 8000, []int{1, 2, 3})
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := audio.NewWAVSource(f, 16000, 0); err == nil {
		t.Fatal("expected sample-rate mismatch error, got nil")
	}
}

func TestWAVSource_RejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewWAVSource(bytes.NewReader([]byte("definitely not a wave file")), 0, 0); err == nil {
		t.Fatal("expected error for invalid WAVE data, got nil")
	}
}
