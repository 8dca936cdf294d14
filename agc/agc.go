// Package agc levels demodulated audio toward a fixed target.
//
// The envelope is tracked in dB on the peak of a short look-ahead window, so
// gain drops before a transient reaches the output. Decay is the time the
// envelope needs to settle after the level falls, which is five time
// constants of the exponential.
package agc

import (
	"math"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
)

const (
	Target    = 0.5
	Ceiling   = 1.0
	LookAhead = 0.004 // s
	Attack    = 0.002 // s
	Hang      = 0.25  // s

	floorDB = -200.0
)

type Params struct {
	On         bool
	HangOn     bool
	Threshold  float64 // dB
	Slope      float64 // dB
	ManualGain float64 // dB
	Decay      float64 // ms
}

func ParamsFrom(c config.ModeConfig) Params {
	return Params{
		On:         c.AgcOn,
		HangOn:     c.AgcHangOn,
		Threshold:  float64(c.AgcThresh),
		Slope:      float64(c.AgcSlope),
		ManualGain: float64(c.AgcManualGain),
		Decay:      float64(c.AgcDecay),
	}
}

type AGC struct {
	p        Params
	rate     float64
	manual   float32
	targetDB float64

	kAttack float64
	kDecay  float64
	hangLen int
	hang    int
	envDB   float64

	delayL []float32
	delayR []float32
	pos    int
	peaks  *windowMax
	n      int
}

func New(sampleRate float64, p Params) *AGC {
	a := &AGC{
		p:        p,
		rate:     sampleRate,
		manual:   float32(math.Pow(10, p.ManualGain/20)),
		targetDB: 20 * math.Log10(Target),
		envDB:    floorDB,
	}
	decay := math.Max(p.Decay, 1) / 1000
	a.kAttack = 1 - math.Exp(-1/(Attack/5*sampleRate))
	a.kDecay = 1 - math.Exp(-1/(decay/5*sampleRate))
	if p.HangOn {
		a.hangLen = int(Hang * sampleRate)
	}
	l := max(1, int(LookAhead*sampleRate))
	a.delayL = make([]float32, l)
	a.delayR = make([]float32, l)
	a.peaks = newWindowMax(l)

	log.Debugf("[agc] %##v at %.0f Hz, %d sample look-ahead", p, sampleRate, l)
	return a
}

func (a *AGC) Params() Params { return a.p }

// gain follows the envelope of the look-ahead window peak and returns the
// linear gain for the sample leaving the delay line.
func (a *AGC) gain(level float32) float32 {
	a.n++
	peak := a.peaks.push(a.n, level)
	peakDB := floorDB
	if peak > 0 {
		peakDB = math.Max(20*math.Log10(float64(peak)), floorDB)
	}

	switch {
	case peakDB > a.envDB:
		a.envDB += a.kAttack * (peakDB - a.envDB)
		a.hang = a.hangLen
	case a.hang > 0:
		a.hang--
	default:
		a.envDB += a.kDecay * (peakDB - a.envDB)
	}

	thr := a.p.Threshold
	var gainDB float64
	if a.envDB < thr {
		gainDB = a.targetDB - a.p.Slope - thr
	} else {
		frac := 1.0
		if thr < 0 {
			frac = math.Min(1, (a.envDB-thr)/-thr)
		}
		outDB := a.targetDB - a.p.Slope*(1-frac)
		gainDB = outDB - a.envDB
	}
	return float32(math.Pow(10, gainDB/20))
}

func clip(v float32) float32 {
	if v > Ceiling {
		return Ceiling
	}
	if v < -Ceiling {
		return -Ceiling
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// ProcessData levels a mono block in place.
func (a *AGC) ProcessData(buf []float32) {
	if !a.p.On {
		for i, v := range buf {
			buf[i] = clip(v * a.manual)
		}
		return
	}
	for i, v := range buf {
		g := a.gain(abs32(v))
		out := a.delayL[a.pos]
		a.delayL[a.pos] = v
		a.pos = (a.pos + 1) % len(a.delayL)
		buf[i] = clip(out * g)
	}
}

// ProcessStereo levels both channels in place with one shared gain.
func (a *AGC) ProcessStereo(buf []complex64) {
	if !a.p.On {
		for i, v := range buf {
			buf[i] = complex(clip(real(v)*a.manual), clip(imag(v)*a.manual))
		}
		return
	}
	for i, v := range buf {
		l, r := real(v), imag(v)
		g := a.gain(max(abs32(l), abs32(r)))
		ol, or := a.delayL[a.pos], a.delayR[a.pos]
		a.delayL[a.pos], a.delayR[a.pos] = l, r
		a.pos = (a.pos + 1) % len(a.delayL)
		buf[i] = complex(clip(ol*g), clip(or*g))
	}
}

// windowMax is a sliding maximum over the last size samples.
type windowMax struct {
	size  int
	idx   []int
	val   []float32
	head  int
	count int
}

func newWindowMax(size int) *windowMax {
	return &windowMax{size: size, idx: make([]int, size+1), val: make([]float32, size+1)}
}

func (w *windowMax) at(i int) int { return (w.head + i) % len(w.idx) }

func (w *windowMax) push(n int, v float32) float32 {
	for w.count > 0 && w.val[w.at(w.count-1)] <= v {
		w.count--
	}
	j := w.at(w.count)
	w.idx[j], w.val[j] = n, v
	w.count++
	for w.idx[w.head] <= n-w.size {
		w.head = (w.head + 1) % len(w.idx)
		w.count--
	}
	return w.val[w.head]
}
