package demod

import (
	"math"

	"github.com/racerxdl/segdsp/dsp"
)

// AM is an envelope detector.
type AM struct {
	rate float64
	dc   *dsp.IIRFilter
}

func NewAM(sampleRate float64) *AM {
	return &AM{rate: sampleRate, dc: newDCBlocker()}
}

func (a *AM) OutputRate() float64 { return a.rate }

func (a *AM) ProcessMono(in []complex64, out []float32) int {
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		s := in[i]
		mag := float32(math.Sqrt(float64(real(s)*real(s) + imag(s)*imag(s))))
		out[i] = a.dc.Filter(mag)
	}
	return n
}

func (a *AM) ProcessStereo(in []complex64, out []complex64) int {
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		s := in[i]
		v := a.dc.Filter(float32(math.Sqrt(float64(real(s)*real(s) + imag(s)*imag(s)))))
		out[i] = complex(v, v)
	}
	return n
}
