package demod

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/pkg/errors"
	"github.com/racerxdl/segdsp/dsp"
)

const (
	wfmDeviation   = 75000.0
	wfmAudioRate   = 48000.0
	wfmAudioCut    = 15000.0
	wfmPilot       = 19000.0
	wfmPilotRange  = 50.0 // Hz either side of the pilot
	wfmPilotLoopBw = 10.0 // Hz
	wfmPilotMixTau = 5e-4 // s, pilot I/Q low-pass
	wfmLockTau     = 0.05 // s
	wfmLockOn      = 0.02 // pilot in-phase level
	wfmLockOff     = 0.01
	wfmMinRdsRate  = 125000.0
)

// WFM demodulates broadcast FM. The 19 kHz pilot is tracked by a PLL whose
// phase also regenerates the 38 kHz stereo and 57 kHz data subcarriers.
type WFM struct {
	rate    float64
	outRate float64
	decim   int

	disc *dsp.QuadDemod
	mpx  []float32
	sum  []float32
	diff []float32
	sub  []complex64

	pilotPhase  float64
	pilotFreq   float64
	pilotCenter float64
	pilotMax    float64
	alpha       float64
	beta        float64
	pilotI      *dsp.SinglePoleIIRFilter
	pilotQ      *dsp.SinglePoleIIRFilter
	lockLevel   *dsp.SinglePoleIIRFilter

	sumDec  *decimator
	diffDec *decimator
	deL     *dsp.FMDeemph
	deR     *dsp.FMDeemph
	left    []float32
	right   []float32

	rds *rdsDecoder

	mtx         sync.Mutex
	locked      bool
	lockChanged bool
}

func NewWFM(sampleRate float64, usFm bool, digital config.DigitalConf) (*WFM, error) {
	if sampleRate < 2*wfmAudioCut {
		return nil, errors.Wrapf(config.ErrConfiguration, "wideband FM needs more than %.0f Hz, got %.0f", 2*wfmAudioCut, sampleRate)
	}
	decim := max(1, int(sampleRate/wfmAudioRate))
	outRate := sampleRate / float64(decim)

	cut := math.Min(wfmAudioCut, 0.4*outRate)
	taps := dsp.MakeLowPass(1, sampleRate, cut, math.Min(4000, outRate/2-cut))

	tau := 50e-6
	if usFm {
		tau = 75e-6
	}

	wn := 2 * math.Pi * wfmPilotLoopBw / sampleRate
	w := &WFM{
		rate:        sampleRate,
		outRate:     outRate,
		decim:       decim,
		disc:        dsp.MakeQuadDemod(float32(sampleRate / (2 * math.Pi * wfmDeviation))),
		mpx:         make([]float32, config.MaxMagBufSize),
		sum:         make([]float32, config.MaxMagBufSize),
		diff:        make([]float32, config.MaxMagBufSize),
		pilotCenter: 2 * math.Pi * wfmPilot / sampleRate,
		pilotMax:    2 * math.Pi * wfmPilotRange / sampleRate,
		alpha:       2 * 0.707 * wn,
		beta:        wn * wn,
		pilotI:      singlePole(wfmPilotMixTau, sampleRate, 0),
		pilotQ:      singlePole(wfmPilotMixTau, sampleRate, 0),
		lockLevel:   singlePole(wfmLockTau, sampleRate, 0),
		sumDec:      newDecimator(decim, taps, config.MaxMagBufSize),
		diffDec:     newDecimator(decim, taps, config.MaxMagBufSize),
		deL:         dsp.MakeFMDeemph(float32(tau), float32(outRate)),
		deR:         dsp.MakeFMDeemph(float32(tau), float32(outRate)),
		left:        make([]float32, config.MaxMagBufSize),
		right:       make([]float32, config.MaxMagBufSize),
	}
	w.pilotFreq = w.pilotCenter

	if sampleRate >= wfmMinRdsRate {
		w.sub = make([]complex64, config.MaxMagBufSize)
		w.rds = newRdsDecoder(sampleRate, digital)
	} else {
		log.Debugf("[demod] %.0f Hz is too slow for the data subcarrier, RDS disabled", sampleRate)
	}
	log.Debugf("[demod] WFM %.0f Hz -> %.0f Hz audio, de-emphasis %.0f us", sampleRate, outRate, tau*1e6)
	return w, nil
}

func (w *WFM) OutputRate() float64 { return w.outRate }

func (w *WFM) Locked() bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.locked
}

func (w *WFM) StereoLock() (locked, changed bool) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	changed = w.lockChanged
	w.lockChanged = false
	return w.locked, changed
}

func (w *WFM) NextGroup() (RdsGroup, bool) {
	if w.rds == nil {
		return RdsGroup{}, false
	}
	return w.rds.next()
}

// pilot runs the PLL over one MPX chunk, filling the stereo difference
// product and the data subcarrier at 0 Hz.
func (w *WFM) pilot(mpx []float32, diff []float32, sub []complex64) {
	for i, m := range mpx {
		x := float64(m)
		s, c := math.Sincos(w.pilotPhase)
		inPhase := float64(w.pilotI.Filter(float32(x * c)))
		quad := float64(w.pilotQ.Filter(float32(-x * s)))
		err := math.Atan2(quad, inPhase)

		w.pilotFreq += w.beta * err
		if w.pilotFreq > w.pilotCenter+w.pilotMax {
			w.pilotFreq = w.pilotCenter + w.pilotMax
		} else if w.pilotFreq < w.pilotCenter-w.pilotMax {
			w.pilotFreq = w.pilotCenter - w.pilotMax
		}

		// The loop holds cos(phase) on the sine pilot, so the stereo
		// subcarrier sin(2wt) is -sin(2*phase).
		c2 := c*c - s*s
		s2 := 2 * s * c
		c3 := c2*c - s2*s
		s3 := s2*c + c2*s
		diff[i] = float32(-2 * x * s2)
		if sub != nil {
			sub[i] = complex(float32(x*c3), float32(-x*s3))
		}

		w.pilotPhase = wrapPi(w.pilotPhase + w.pilotFreq + w.alpha*err)
		w.lockLevel.Filter(float32(inPhase))
	}

	level := w.lockLevel.GetPreviousOutput()
	w.mtx.Lock()
	if w.locked && level < wfmLockOff {
		w.locked = false
		w.lockChanged = true
	} else if !w.locked && level > wfmLockOn {
		w.locked = true
		w.lockChanged = true
	}
	w.mtx.Unlock()
}

// chunk demodulates at most MaxMagBufSize samples and returns the audio
// sample count written to sum and diff.
func (w *WFM) chunk(in []complex64) int {
	n := len(in)
	mpx := w.mpx[:n]
	w.disc.WorkBuffer(in, mpx)

	diff := w.diff[:n]
	var sub []complex64
	if w.rds != nil {
		sub = w.sub[:n]
	}
	w.pilot(mpx, diff, sub)
	if w.rds != nil {
		w.rds.process(sub)
	}

	ns := w.sumDec.process(mpx, w.sum)
	w.diffDec.process(diff, w.diff)
	return ns
}

func (w *WFM) ProcessMono(in []complex64, out []float32) int {
	written := 0
	for pos := 0; pos < len(in); pos += config.MaxMagBufSize {
		end := min(pos+config.MaxMagBufSize, len(in))
		n := w.chunk(in[pos:end])
		n = w.deL.WorkBuffer(w.sum[:n], w.left[:n])
		written += copy(out[written:], w.left[:n])
	}
	return written
}

func (w *WFM) ProcessStereo(in []complex64, out []complex64) int {
	written := 0
	for pos := 0; pos < len(in); pos += config.MaxMagBufSize {
		end := min(pos+config.MaxMagBufSize, len(in))
		n := w.chunk(in[pos:end])
		l, r := w.left[:n], w.right[:n]
		copy(l, w.sum[:n])
		copy(r, w.sum[:n])
		if w.Locked() {
			for i := range l {
				l[i] += w.diff[i]
				r[i] -= w.diff[i]
			}
		}
		w.deL.WorkBuffer(l, l)
		w.deR.WorkBuffer(r, r)
		for i := 0; i < n && written < len(out); i++ {
			out[written] = complex(l[i], r[i])
			written++
		}
	}
	return written
}

// Close releases the data decoder's native clock recovery.
func (w *WFM) Close() error {
	if w.rds != nil {
		w.rds.close()
	}
	return nil
}
