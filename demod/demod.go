// Package demod holds one demodulator per receive mode. A receiver owns
// exactly one at a time and swaps it on mode change.
package demod

import (
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/pkg/errors"
)

// Demodulator turns channel-filtered baseband into audio. Both methods return
// the number of samples written, which is len(in) unless OutputRate differs
// from the input rate.
type Demodulator interface {
	ProcessMono(in []complex64, out []float32) int
	ProcessStereo(in []complex64, out []complex64) int
	OutputRate() float64
}

type LockReporter interface {
	Locked() bool
}

// StereoReporter reports the pilot lock and whether it changed since the
// previous call.
type StereoReporter interface {
	StereoLock() (locked, changed bool)
}

type GroupSource interface {
	NextGroup() (RdsGroup, bool)
}

type SymbolSource interface {
	ReadSymbols(p []byte) int
}

type Squelcher interface {
	Squelched() bool
}

// RdsGroup is one error-free four block data group. BlockA == 0 marks a
// loss of signal.
type RdsGroup struct {
	BlockA uint16
	BlockB uint16
	BlockC uint16
	BlockD uint16
}

// Options carry the settings that are not part of a mode's filter config.
type Options struct {
	USFm        bool
	PskMode     int
	FskBaud     float64
	FskShift    float64
	Calibration float64
	Digital     config.DigitalConf
}

func DefaultOptions() Options {
	r := config.DefaultReceiver()
	return Options{
		USFm:     r.USFm,
		PskMode:  r.PskMode,
		FskBaud:  r.FskBaud,
		FskShift: r.FskShift,
		Digital:  config.DefaultDigital(),
	}
}

// PskBaud maps a PSK mode index to its symbol rate.
var PskBaud = []float64{31.25, 62.5, 125}

// New builds the demodulator for mode running at sampleRate.
func New(mode config.Mode, sampleRate float64, conf config.ModeConfig, opts Options) (Demodulator, error) {
	if !mode.Valid() {
		return nil, errors.Wrapf(config.ErrConfiguration, "mode index %d", int(mode))
	}
	if sampleRate <= 0 {
		return nil, errors.Wrapf(config.ErrConfiguration, "sample rate %f", sampleRate)
	}
	log.Debugf("[demod] Building %s demodulator at %.0f Hz", mode, sampleRate)

	switch mode {
	case config.AM:
		return NewAM(sampleRate), nil
	case config.SAM:
		return NewSAM(sampleRate), nil
	case config.FM:
		return NewFM(sampleRate, conf, opts.Calibration), nil
	case config.WFM:
		return NewWFM(sampleRate, opts.USFm, opts.Digital)
	case config.USB, config.LSB, config.CWU, config.CWL:
		return NewSSB(sampleRate), nil
	case config.PSK:
		if opts.PskMode < 0 || opts.PskMode >= len(PskBaud) {
			return nil, errors.Wrapf(config.ErrConfiguration, "psk mode %d", opts.PskMode)
		}
		return NewPSK(sampleRate, PskBaud[opts.PskMode], opts.Digital)
	case config.FSK:
		return NewFSK(sampleRate, opts.FskBaud, opts.FskShift)
	}
	return nil, errors.Wrapf(config.ErrConfiguration, "mode %s", mode)
}
