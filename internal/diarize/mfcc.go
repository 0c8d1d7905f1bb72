package diarize

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// MFCCConfig controls cepstral feature extraction. The defaults follow the
// common speech toolkit settings: 2048-point frames, 512 hop, 128 mel bands.
type MFCCConfig struct {
	SampleRate int
	NFFT       int
	Hop        int
	NMels      int
	NCoeffs    int
	// TopDB clips the log spectrogram this far below its peak.
	TopDB float64
}

// DefaultMFCCConfig returns the default extraction settings for sampleRate.
func DefaultMFCCConfig(sampleRate int) MFCCConfig {
	return MFCCConfig{
		SampleRate: sampleRate,
		NFFT:       2048,
		Hop:        512,
		NMels:      128,
		NCoeffs:    13,
		TopDB:      80,
	}
}

// MFCC computes window-averaged mel-frequency cepstral coefficients.
// An MFCC is not safe for concurrent use.
type MFCC struct {
	cfg     MFCCConfig
	fft     *fourier.FFT
	window  []float64
	filters [][]float64
	dct     [][]float64

	frame  []float64
	coeffs []complex128
}

// NewMFCC precomputes the window, mel filterbank and DCT basis.
func NewMFCC(cfg MFCCConfig) *MFCC {
	nBins := cfg.NFFT/2 + 1
	return &MFCC{
		cfg:     cfg,
		fft:     fourier.NewFFT(cfg.NFFT),
		window:  hann(cfg.NFFT),
		filters: melFilterbank(cfg.SampleRate, cfg.NFFT, cfg.NMels),
		dct:     dctBasis(cfg.NCoeffs, cfg.NMels),
		frame:   make([]float64, cfg.NFFT),
		coeffs:  make([]complex128, nBins),
	}
}

// Mean returns the NCoeffs cepstral coefficients averaged over all frames of x.
func (m *MFCC) Mean(x []float64) []float64 {
	mel := m.melPowerDB(x)
	out := make([]float64, m.cfg.NCoeffs)
	if len(mel) == 0 {
		return out
	}

	c := make([]float64, m.cfg.NCoeffs)
	for _, frame := range mel {
		for k, basis := range m.dct {
			c[k] = floats.Dot(basis, frame)
		}
		floats.Add(out, c)
	}
	floats.Scale(1/float64(len(mel)), out)
	return out
}

// melPowerDB returns the log-power mel spectrogram, one row per frame.
func (m *MFCC) melPowerDB(x []float64) [][]float64 {
	n := m.cfg.NFFT
	pad := n / 2
	padded := make([]float64, len(x)+2*pad)
	copy(padded[pad:], x)
	if len(padded) < n {
		return nil
	}

	frames := 1 + (len(padded)-n)/m.cfg.Hop
	power := make([]float64, n/2+1)
	out := make([][]float64, frames)
	peak := math.Inf(-1)

	for f := 0; f < frames; f++ {
		start := f * m.cfg.Hop
		floats.MulTo(m.frame, padded[start:start+n], m.window)
		m.coeffs = m.fft.Coefficients(m.coeffs, m.frame)
		for i, c := range m.coeffs {
			power[i] = real(c)*real(c) + imag(c)*imag(c)
		}

		row := make([]float64, len(m.filters))
		for b, filter := range m.filters {
			row[b] = powerToDB(floats.Dot(filter, power))
		}
		if mx := floats.Max(row); mx > peak {
			peak = mx
		}
		out[f] = row
	}

	if m.cfg.TopDB > 0 {
		floor := peak - m.cfg.TopDB
		for _, row := range out {
			for i, v := range row {
				if v < floor {
					row[i] = floor
				}
			}
		}
	}
	return out
}

const amin = 1e-10

func powerToDB(p float64) float64 {
	return 10 * math.Log10(math.Max(amin, p))
}

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Slaney-style mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
)

var (
	melMinLog  = melMinLogHz / melFSp
	melLogStep = math.Log(6.4) / 27
)

func hzToMel(hz float64) float64 {
	if hz < melMinLogHz {
		return hz / melFSp
	}
	return melMinLog + math.Log(hz/melMinLogHz)/melLogStep
}

func melToHz(mel float64) float64 {
	if mel < melMinLog {
		return mel * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(mel-melMinLog))
}

// melFilterbank builds nMels area-normalized triangular filters over the
// nfft/2+1 FFT bins spanning 0 Hz to Nyquist.
func melFilterbank(sampleRate, nfft, nMels int) [][]float64 {
	nBins := nfft/2 + 1
	binHz := make([]float64, nBins)
	for i := range binHz {
		binHz[i] = float64(i) * float64(sampleRate) / float64(nfft)
	}

	maxMel := hzToMel(float64(sampleRate) / 2)
	edges := make([]float64, nMels+2)
	for i := range edges {
		edges[i] = melToHz(maxMel * float64(i) / float64(nMels+1))
	}

	filters := make([][]float64, nMels)
	for m := range filters {
		lo, center, hi := edges[m], edges[m+1], edges[m+2]
		norm := 2 / (hi - lo)
		w := make([]float64, nBins)
		for i, f := range binHz {
			up := (f - lo) / (center - lo)
			down := (hi - f) / (hi - center)
			w[i] = math.Max(0, math.Min(up, down)) * norm
		}
		filters[m] = w
	}
	return filters
}

// dctBasis returns the first nCoeffs rows of the orthonormal DCT-II matrix of size n.
func dctBasis(nCoeffs, n int) [][]float64 {
	basis := make([][]float64, nCoeffs)
	for k := range basis {
		scale := math.Sqrt(2 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1 / float64(n))
		}
		row := make([]float64, n)
		for i := range row {
			row[i] = scale * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/float64(2*n))
		}
		basis[k] = row
	}
	return basis
}
