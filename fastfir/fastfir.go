// Package fastfir is a block convolution channel filter. Convolution is done
// by overlap-save over a fixed size FFT so edge changes only redesign the
// frequency response and never reallocate.
package fastfir

import (
	"math"
	"math/cmplx"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/pkg/errors"
	"github.com/racerxdl/segdsp/dsp"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	FFTSize = 2048
	MaxTaps = FFTSize/2 + 1
)

type FastFIR struct {
	fft   *fourier.CmplxFFT
	h     []complex128 // frequency response, already scaled by 1/FFTSize
	hist  []complex128 // last ntaps-1 inputs
	buf   []complex128
	bins  []complex128
	ntaps int

	lowCut, highCut, offset, rate float64
}

func New() *FastFIR {
	return &FastFIR{
		fft:  fourier.NewCmplxFFT(FFTSize),
		h:    make([]complex128, FFTSize),
		hist: make([]complex128, MaxTaps),
		buf:  make([]complex128, FFTSize),
		bins: make([]complex128, FFTSize),
	}
}

func (f *FastFIR) Taps() int { return f.ntaps }

// Edges returns the band actually in use after clamping to Nyquist.
func (f *FastFIR) Edges() (low, high float64) { return f.lowCut, f.highCut }

// SetupParameters designs a complex band-pass with edges lowCut..highCut Hz,
// both shifted by offset, and clears the filter history.
func (f *FastFIR) SetupParameters(lowCut, highCut, offset, sampleRate float64) error {
	if sampleRate <= 0 {
		return errors.Wrapf(config.ErrConfiguration, "sample rate %f", sampleRate)
	}
	if lowCut >= highCut {
		return errors.Wrapf(config.ErrConfiguration, "low cut %.0f not below high cut %.0f", lowCut, highCut)
	}
	nyq := sampleRate / 2
	lo := math.Max(lowCut+offset, -nyq)
	hi := math.Min(highCut+offset, nyq)
	if lo >= hi {
		return errors.Wrapf(config.ErrConfiguration, "band %.0f..%.0f outside +/-%.0f", lowCut+offset, highCut+offset, nyq)
	}

	width := hi - lo
	center := (hi + lo) / 2
	cut := width / 2
	tw := 0.08 * width

	var proto []float32
	for {
		c := cut
		if c+tw/2 > nyq {
			c = nyq - tw/2
		}
		if c <= 0 {
			c = tw / 2
		}
		proto = dsp.MakeLowPass(1, sampleRate, c, tw)
		if len(proto) <= MaxTaps {
			break
		}
		tw *= 2
	}

	// shift the low-pass prototype up to the band centre and take its transform
	for i := range f.buf {
		f.buf[i] = 0
	}
	w := 2 * math.Pi * center / sampleRate
	for i, t := range proto {
		f.buf[i] = complex(float64(t), 0) * cmplx.Rect(1, w*float64(i))
	}
	f.fft.Coefficients(f.h, f.buf)
	for i := range f.h {
		f.h[i] /= FFTSize
	}

	f.ntaps = len(proto)
	f.lowCut, f.highCut, f.offset, f.rate = lo, hi, offset, sampleRate
	f.Reset()

	log.Debugf("[fastfir] Band %.0f..%.0f Hz at %.0f Hz, %d taps", lo, hi, sampleRate, f.ntaps)
	return nil
}

func (f *FastFIR) Reset() {
	for i := range f.hist {
		f.hist[i] = 0
	}
}

// convolve filters buf[ntaps-1 : ntaps-1+k] in place and rolls the history.
func (f *FastFIR) convolve(k int) {
	m := f.ntaps - 1
	for i := m + k; i < FFTSize; i++ {
		f.buf[i] = 0
	}
	f.fft.Coefficients(f.bins, f.buf)
	// history must be saved before buf is overwritten by the inverse
	copy(f.hist[:m], f.buf[k:k+m])
	for i := range f.bins {
		f.bins[i] *= f.h[i]
	}
	f.fft.Sequence(f.buf, f.bins)
}

// ProcessData filters a complex block. out may alias in. The returned count
// always equals min(len(in), len(out)).
func (f *FastFIR) ProcessData(in, out []complex64) int {
	n := min(len(in), len(out))
	if f.ntaps == 0 {
		return copy(out[:n], in[:n])
	}
	m := f.ntaps - 1
	chunk := FFTSize - m
	for pos := 0; pos < n; pos += chunk {
		k := min(chunk, n-pos)
		copy(f.buf[:m], f.hist[:m])
		for i := 0; i < k; i++ {
			f.buf[m+i] = complex128(in[pos+i])
		}
		f.convolve(k)
		for i := 0; i < k; i++ {
			out[pos+i] = complex64(f.buf[m+i])
		}
	}
	return n
}

// ProcessReal filters a real block and keeps the real part of the result.
func (f *FastFIR) ProcessReal(in, out []float32) int {
	n := min(len(in), len(out))
	if f.ntaps == 0 {
		return copy(out[:n], in[:n])
	}
	m := f.ntaps - 1
	chunk := FFTSize - m
	for pos := 0; pos < n; pos += chunk {
		k := min(chunk, n-pos)
		copy(f.buf[:m], f.hist[:m])
		for i := 0; i < k; i++ {
			f.buf[m+i] = complex(float64(in[pos+i]), 0)
		}
		f.convolve(k)
		for i := 0; i < k; i++ {
			out[pos+i] = float32(real(f.buf[m+i]))
		}
	}
	return n
}
