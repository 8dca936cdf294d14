package demod

import (
	"math"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/ring"
	"github.com/racerxdl/segdsp/dsp"
)

// newDCBlocker is y = x - x' + 0.999 y'.
func newDCBlocker() *dsp.IIRFilter {
	return dsp.MakeIIRFilter([]float32{1, -1}, []float32{1, -0.999})
}

// singlePole is a first order low-pass with time constant tau seconds,
// starting from initial.
func singlePole(tau, sampleRate float64, initial float32) *dsp.SinglePoleIIRFilter {
	f := dsp.MakeSinglePoleIIRFilter(1)
	f.Filter(initial)
	f.SetTaps(float32(1 - math.Exp(-1/(tau*sampleRate))))
	return f
}

// decimator is a decimating real FIR. Samples short of a whole decimation
// period wait in carry, so block sizes need not divide d.
type decimator struct {
	fir   *dsp.FloatFirFilter
	d     int
	carry *ring.Buffer[float32]
	work  []float32
}

func newDecimator(d int, taps []float32, maxIn int) *decimator {
	return &decimator{
		fir:   dsp.MakeDecimationFloatFirFilter(d, taps),
		d:     d,
		carry: ring.New[float32](maxIn + d),
		work:  make([]float32, maxIn+d),
	}
}

// process needs room for len(in)/d+1 samples in out.
func (f *decimator) process(in []float32, out []float32) int {
	if err := f.carry.Write(in); err != nil {
		log.Warnf("[demod] %v", err)
		f.carry.Reset()
		return 0
	}
	n := (f.carry.Len() / f.d) * f.d
	if n == 0 {
		return 0
	}
	x := f.work[:n]
	f.carry.Read(x)
	return f.fir.FilterDecimateBuffer(x, out, f.d)
}

func clampf(v, lim float32) float32 {
	if v > lim {
		return lim
	}
	if v < -lim {
		return -lim
	}
	return v
}

func wrapPi(p float64) float64 {
	for p >= math.Pi {
		p -= 2 * math.Pi
	}
	for p < -math.Pi {
		p += 2 * math.Pi
	}
	return p
}
