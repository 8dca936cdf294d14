// Package smeter measures the received signal level ahead of the AGC.
package smeter

import (
	"math"
	"sync"

	"github.com/racerxdl/segdsp/tools"
)

const (
	PeakRelease = 0.1 // s
	AverageTau  = 0.5 // s

	minPower = 1e-20
)

// Meter keeps a fast peak and a slow average of signal power. Reads are safe
// from any goroutine.
type Meter struct {
	mtx         sync.RWMutex
	calibration float64
	peak        float64
	ave         float64
}

func New() *Meter {
	return &Meter{}
}

// SetSMeterCalibration sets the dB constant added to every reading.
func (m *Meter) SetSMeterCalibration(db float64) {
	m.mtx.Lock()
	m.calibration = db
	m.mtx.Unlock()
}

func (m *Meter) Reset() {
	m.mtx.Lock()
	m.peak, m.ave = 0, 0
	m.mtx.Unlock()
}

func (m *Meter) ProcessData(in []complex64, sampleRate float64) {
	if len(in) == 0 || sampleRate <= 0 {
		return
	}
	kPeak := 1 - math.Exp(-1/(PeakRelease*sampleRate))
	kAve := 1 - math.Exp(-1/(AverageTau*sampleRate))

	// held across the block so a concurrent Reset is not overwritten
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, s := range in {
		p := float64(tools.ComplexAbsSquared(s))
		if p > m.peak {
			m.peak = p
		} else {
			m.peak += kPeak * (p - m.peak)
		}
		m.ave += kAve * (p - m.ave)
	}
}

func (m *Meter) db(p float64) float64 {
	return 10*math.Log10(p+minPower) + m.calibration
}

// GetPeak returns the peak level in calibrated dB.
func (m *Meter) GetPeak() float64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.db(m.peak)
}

// GetAve returns the average level in calibrated dB.
func (m *Meter) GetAve() float64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.db(m.ave)
}
