package demod

import (
	"math"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/fastfir"
	"github.com/racerxdl/segdsp/dsp"
)

const (
	fmAudioCut        = 3000.0 // Hz
	squelchHysteresis = 2.0    // dB, split around the threshold
	squelchPowerFloor = 1e-20
)

// FM is the narrowband FM discriminator with a power squelch.
type FM struct {
	rate        float64
	disc        *dsp.QuadDemod
	audio       *fastfir.FastFIR
	threshold   float64
	calibration float64
	squelched   atomic.Bool
	work        []float32
}

func NewFM(sampleRate float64, conf config.ModeConfig, calibration float64) *FM {
	dev := float64(conf.HiCut)
	if dev <= 0 {
		dev = 5000
	}
	f := &FM{
		rate:        sampleRate,
		disc:        dsp.MakeQuadDemod(float32(sampleRate / (2 * math.Pi * dev))),
		audio:       fastfir.New(),
		threshold:   float64(conf.SquelchValue),
		calibration: calibration,
	}
	cut := math.Min(fmAudioCut, 0.45*sampleRate)
	if err := f.audio.SetupParameters(-cut, cut, 0, sampleRate); err != nil {
		log.Warnf("[demod] FM audio filter: %v", err)
	}
	f.squelched.Store(true)
	return f
}

func (f *FM) OutputRate() float64 { return f.rate }

func (f *FM) Squelched() bool { return f.squelched.Load() }

func (f *FM) updateSquelch(in []complex64) {
	if len(in) == 0 {
		return
	}
	var p float64
	for _, s := range in {
		p += float64(real(s)*real(s) + imag(s)*imag(s))
	}
	p /= float64(len(in))
	level := 10*math.Log10(p+squelchPowerFloor) + f.calibration

	if f.squelched.Load() {
		if level > f.threshold+squelchHysteresis/2 {
			f.squelched.Store(false)
		}
	} else if level < f.threshold-squelchHysteresis/2 {
		f.squelched.Store(true)
	}
}

func (f *FM) ProcessMono(in []complex64, out []float32) int {
	n := min(len(in), len(out))
	f.updateSquelch(in[:n])
	f.disc.WorkBuffer(in[:n], out[:n])
	f.audio.ProcessReal(out[:n], out[:n])
	if f.squelched.Load() {
		for i := 0; i < n; i++ {
			out[i] = 0
		}
	}
	return n
}

func (f *FM) ProcessStereo(in []complex64, out []complex64) int {
	n := min(len(in), len(out))
	if cap(f.work) < n {
		f.work = make([]float32, n)
	}
	w := f.work[:n]
	f.ProcessMono(in[:n], w)
	for i, v := range w {
		out[i] = complex(v, v)
	}
	return n
}
