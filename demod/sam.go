package demod

import (
	"math"
	"sync/atomic"

	"github.com/racerxdl/segdsp/dsp"
)

const (
	samLoopBandwidth = 100.0 // Hz
	samDamping       = 0.707
	samLockRange     = 1000.0 // Hz
	samLockTau       = 0.02   // s
	samLockOn        = 0.1    // rad
	samLockOff       = 0.3    // rad
)

// SAM tracks the carrier with a second order PLL and detects the in-phase
// component, which makes it immune to selective fading of one sideband.
type SAM struct {
	rate    float64
	phase   float64
	freq    float64 // rad/sample
	alpha   float64
	beta    float64
	maxFreq float64
	lastErr float64

	errAvg *dsp.SinglePoleIIRFilter
	locked atomic.Bool
	dcI    *dsp.IIRFilter
	dcQ    *dsp.IIRFilter
}

func NewSAM(sampleRate float64) *SAM {
	wn := 2 * math.Pi * samLoopBandwidth / sampleRate
	s := &SAM{
		rate:    sampleRate,
		alpha:   2 * samDamping * wn,
		beta:    wn * wn,
		maxFreq: 2 * math.Pi * samLockRange / sampleRate,
		errAvg:  singlePole(samLockTau, sampleRate, math.Pi/2),
		dcI:     newDCBlocker(),
		dcQ:     newDCBlocker(),
	}
	return s
}

func (s *SAM) OutputRate() float64 { return s.rate }

func (s *SAM) Locked() bool { return s.locked.Load() }

// Frequency is the carrier offset the loop is tracking, in Hz.
func (s *SAM) Frequency() float64 { return s.freq * s.rate / (2 * math.Pi) }

func (s *SAM) track(x complex64) complex64 {
	sin, cos := math.Sincos(-s.phase)
	y := complex128(x) * complex(cos, sin)
	var err float64
	if y != 0 {
		err = math.Atan2(imag(y), real(y))
	}
	s.lastErr = err

	s.freq += s.beta * err
	if s.freq > s.maxFreq {
		s.freq = s.maxFreq
	} else if s.freq < -s.maxFreq {
		s.freq = -s.maxFreq
	}
	s.phase = wrapPi(s.phase + s.freq + s.alpha*err)

	avg := s.errAvg.Filter(float32(math.Abs(err)))
	if s.locked.Load() {
		if avg > samLockOff {
			s.locked.Store(false)
		}
	} else if avg < samLockOn {
		s.locked.Store(true)
	}
	return complex64(y)
}

func (s *SAM) ProcessMono(in []complex64, out []float32) int {
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		out[i] = s.dcI.Filter(real(s.track(in[i])))
	}
	return n
}

// ProcessStereo puts the in-phase detector on the left channel and the
// quadrature one on the right.
func (s *SAM) ProcessStereo(in []complex64, out []complex64) int {
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		y := s.track(in[i])
		out[i] = complex(s.dcI.Filter(real(y)), s.dcQ.Filter(imag(y)))
	}
	return n
}
