package sitor

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTFilt is an overlap-save FFT convolution filter for complex samples.
// With a transform length of 512 it carries a kernel of up to 257 taps and
// emits one block of 256 filtered samples for every 256 samples pushed in.
// Callers must not assume one output per input.
type FFTFilt struct {
	flen  int // transform length
	flen2 int // block length, half the transform

	fft    *fourier.CmplxFFT
	filter []complex128 // kernel spectrum, 1/flen folded in

	data    []complex128 // [previous block | incoming block]
	inptr   int
	freq    []complex128
	timebuf []complex128
}

// NewFFTFilt creates a filter of transform length flen with a root raised
// cosine low-pass kernel matched to the normalized cutoff fc (cycles per
// sample, typically baud/sampleRate).
func NewFFTFilt(fc float64, flen int) *FFTFilt {
	f := &FFTFilt{
		flen:    flen,
		flen2:   flen / 2,
		fft:     fourier.NewCmplxFFT(flen),
		data:    make([]complex128, flen),
		freq:    make([]complex128, flen),
		timebuf: make([]complex128, flen),
	}
	f.rttyFilter(fc)
	return f
}

// rttyFilter builds the matched low-pass used for RTTY-style FSK: a kernel
// whose amplitude response is the square root of a raised cosine, flat to
// fc and rolling off to zero at 2*fc. The frequency-sampled response is
// brought to the time domain, centred, Blackman windowed to flen/2+1 taps
// and normalized for unity gain at DC.
func (f *FFTFilt) rttyFilter(fc float64) {
	n := f.flen

	// Square root raised cosine target response, symmetric in frequency.
	resp := make([]complex128, n)
	for k := 0; k < n; k++ {
		fr := float64(k) / float64(n)
		if fr > 0.5 {
			fr = 1.0 - fr
		}
		var h float64
		switch {
		case fr < fc:
			h = 1.0
		case fr < 2*fc:
			h = math.Sqrt(0.5 * (1.0 + math.Cos(math.Pi*(fr-fc)/fc)))
		}
		resp[k] = complex(h, 0)
	}

	impulse := f.fft.Sequence(nil, resp)

	// Rotate the circular impulse response so the peak sits mid-kernel,
	// then taper with a Blackman window.
	ncoef := f.flen2 + 1
	center := ncoef / 2
	taps := make([]float64, ncoef)
	for i := 0; i < ncoef; i++ {
		src := ((i - center) + n) % n
		w := 0.42659 - 0.49656*math.Cos(2*math.Pi*float64(i)/float64(ncoef-1)) +
			0.076849*math.Cos(4*math.Pi*float64(i)/float64(ncoef-1))
		taps[i] = real(impulse[src]) / float64(n) * w
	}

	var g float64
	for _, t := range taps {
		g += t
	}
	for i := range taps {
		taps[i] /= g
	}

	// Kernel spectrum with the inverse-transform scaling folded in, so a
	// Coefficients/Sequence round trip through Run comes out unscaled.
	kernel := make([]complex128, n)
	for i, t := range taps {
		kernel[i] = complex(t/float64(n), 0)
	}
	f.filter = f.fft.Coefficients(nil, kernel)
}

// Run pushes one sample into the filter. It returns nil until a full block
// has accumulated, then the block of filtered samples. The returned slice is
// reused by the next block.
func (f *FFTFilt) Run(in complex128) []complex128 {
	f.data[f.flen2+f.inptr] = in
	f.inptr++
	if f.inptr < f.flen2 {
		return nil
	}
	f.inptr = 0

	f.fft.Coefficients(f.freq, f.data)
	for i := range f.freq {
		f.freq[i] *= f.filter[i]
	}
	f.fft.Sequence(f.timebuf, f.freq)

	// Save the incoming block as the next overlap, return the valid half.
	copy(f.data[:f.flen2], f.data[f.flen2:])
	return f.timebuf[f.flen2:]
}
