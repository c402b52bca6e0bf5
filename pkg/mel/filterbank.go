package mel

import "math"

// Slaney mel scale constants: linear below 1 kHz, logarithmic above.
const (
	melMinLogHz  = 1000.0
	melLinearHz  = 200.0 / 3
	melLogStep   = 0.06875177742094912 // ln(6.4) / 27
	melMinLogMel = melMinLogHz / melLinearHz
)

func hzToMel(hz float64) float64 {
	if hz < melMinLogHz {
		return hz / melLinearHz
	}
	return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
}

func melToHz(m float64) float64 {
	if m < melMinLogMel {
		return m * melLinearHz
	}
	return melMinLogHz * math.Exp(melLogStep*(m-melMinLogMel))
}

// Filterbank is a dense NMels × (FFTSize/2+1) matrix of triangular mel
// filters with Slaney area normalisation.
type Filterbank struct {
	nMels int
	nBins int
	w     []float64
}

// NewFilterbank builds the filterbank for cfg, spanning 0 Hz to Nyquist.
// cfg must be valid.
func NewFilterbank(cfg Config) *Filterbank {
	nBins := cfg.FFTSize/2 + 1
	fb := &Filterbank{
		nMels: cfg.NMels,
		nBins: nBins,
		w:     make([]float64, cfg.NMels*nBins),
	}

	nyquist := cfg.SamplingRate / 2
	binHz := make([]float64, nBins)
	for k := range nBins {
		binHz[k] = float64(k) * cfg.SamplingRate / float64(cfg.FFTSize)
	}

	lo, hi := hzToMel(0), hzToMel(nyquist)
	edges := make([]float64, cfg.NMels+2)
	for i := range edges {
		edges[i] = melToHz(lo + (hi-lo)*float64(i)/float64(cfg.NMels+1))
	}

	for m := range cfg.NMels {
		left, centre, right := edges[m], edges[m+1], edges[m+2]
		norm := 2 / (right - left)
		row := fb.w[m*nBins : (m+1)*nBins]
		for k, f := range binHz {
			up := (f - left) / (centre - left)
			down := (right - f) / (right - centre)
			if v := math.Min(up, down); v > 0 {
				row[k] = v * norm
			}
		}
	}
	return fb
}

// NMels returns the number of filters.
func (fb *Filterbank) NMels() int { return fb.nMels }

// NBins returns the number of FFT bins each filter spans.
func (fb *Filterbank) NBins() int { return fb.nBins }

// Weight returns the weight of FFT bin k in filter m.
func (fb *Filterbank) Weight(m, k int) float64 { return fb.w[m*fb.nBins+k] }

// Apply projects a power spectrum of NBins values onto the mel filters and
// writes NMels energies into dst.
func (fb *Filterbank) Apply(dst, power []float64) {
	for m := range fb.nMels {
		row := fb.w[m*fb.nBins : (m+1)*fb.nBins]
		var sum float64
		for k, p := range power {
			sum += row[k] * p
		}
		dst[m] = sum
	}
}
