package mel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Frame is one mel-spectrogram column.
type Frame struct {
	// Index is the zero-based position of this frame in the stream. Frame i
	// starts at audio time i × HopSize / SamplingRate.
	Index int

	// Bins holds exactly NMels non-negative log-mel energies.
	Bins []float32

	// Samples is a copy of the FFTSize-sample analysis window the frame was
	// computed from.
	Samples []float32
}

// Floor applied to mel power before the logarithm; digital silence maps to
// this value and therefore to a bin energy of exactly zero.
const powerFloor = 1e-10

// Transform is a streaming mel-spectrogram front end. It is not safe for
// concurrent use; a single pipeline stage owns it.
type Transform struct {
	cfg    Config
	fb     *Filterbank
	fft    *fourier.FFT
	window []float64

	buf  []float32
	next int

	// scratch, reused across frames
	seq   []float64
	coeff []complex128
	power []float64
	mel   []float64
}

// NewTransform validates cfg and allocates the FFT plan, window, and
// filterbank.
func NewTransform(cfg Config) (*Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nBins := cfg.FFTSize/2 + 1
	return &Transform{
		cfg:    cfg,
		fb:     NewFilterbank(cfg),
		fft:    fourier.NewFFT(cfg.FFTSize),
		window: hann(cfg.FFTSize),
		buf:    make([]float32, 0, 2*cfg.FFTSize),
		seq:    make([]float64, cfg.FFTSize),
		coeff:  make([]complex128, nBins),
		power:  make([]float64, nBins),
		mel:    make([]float64, cfg.NMels),
	}, nil
}

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range n {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Config returns the geometry the transform was built with.
func (t *Transform) Config() Config { return t.cfg }

// Emitted returns the number of frames emitted so far, which is also the
// index the next frame will carry.
func (t *Transform) Emitted() int { return t.next }

// Buffered returns the number of samples held in the rolling buffer.
func (t *Transform) Buffered() int { return len(t.buf) }

// Push appends samples to the rolling buffer and calls emit once for every
// complete analysis window, in order. It returns the number of frames
// emitted. Frames passed to emit own their slices.
func (t *Transform) Push(samples []float32, emit func(Frame)) int {
	t.buf = append(t.buf, samples...)

	n := 0
	off := 0
	for len(t.buf)-off >= t.cfg.FFTSize {
		emit(t.compute(t.buf[off : off+t.cfg.FFTSize]))
		off += t.cfg.HopSize
		n++
	}
	if off > 0 {
		t.buf = append(t.buf[:0], t.buf[off:]...)
	}
	return n
}

// compute turns one analysis window into a frame and advances the index.
func (t *Transform) compute(win []float32) Frame {
	for i, s := range win {
		t.seq[i] = float64(s) * t.window[i]
	}
	t.fft.Coefficients(t.coeff, t.seq)
	for k, c := range t.coeff {
		re, im := real(c), imag(c)
		t.power[k] = re*re + im*im
	}
	t.fb.Apply(t.mel, t.power)

	bins := make([]float32, t.cfg.NMels)
	for m, e := range t.mel {
		v := (math.Log10(math.Max(e, powerFloor)) + 4) / 4
		if v > 0 {
			bins[m] = float32(v)
		}
	}

	f := Frame{
		Index:   t.next,
		Bins:    bins,
		Samples: append([]float32(nil), win...),
	}
	t.next++
	return f
}

// CheckWidth panics if f does not carry exactly nMels bins. A mismatch means
// frames from differently configured transforms were mixed, which is a
// programming error rather than a recoverable condition.
func CheckWidth(f Frame, nMels int) {
	if len(f.Bins) != nMels {
		panic(fmt.Sprintf("mel: frame %d has %d bins, want %d", f.Index, len(f.Bins), nMels))
	}
}
