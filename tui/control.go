package tui

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/demod"
)

// Tuner is the part of the receiver the keyboard drives.
type Tuner interface {
	Mode() config.Mode
	DemodFreq() int64
	SetDemod(mode config.Mode, conf config.ModeConfig) error
	SetDemodFreq(freq int64) error
	SetUSFmVersion(us bool)
	SetPskMode(index int) error
}

// Controller owns the operator's per-mode settings and hands the receiver a
// copy on every change.
type Controller struct {
	mtx     sync.Mutex
	rx      Tuner
	modes   [config.NumModes]config.ModeConfig
	usFm    bool
	pskMode int
}

func NewController(rx Tuner, modes [config.NumModes]config.ModeConfig, usFm bool, pskMode int) *Controller {
	return &Controller{rx: rx, modes: modes, usFm: usFm, pskMode: pskMode}
}

// Settings returns the stored settings for mode.
func (c *Controller) Settings(mode config.Mode) config.ModeConfig {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.modes[mode]
}

// StepMode moves to the next (dir > 0) or previous mode.
func (c *Controller) StepMode(dir int) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n := int(config.NumModes)
	next := config.Mode(((int(c.rx.Mode())+dir)%n + n) % n)
	if err := c.rx.SetDemod(next, c.modes[next]); err != nil {
		return err
	}
	log.Infof("Mode %s", c.modes[next].Label)
	return nil
}

// Tune moves the offset by dir steps of the mode's click resolution.
func (c *Controller) Tune(dir int) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	step := int64(c.modes[c.rx.Mode()].FreqClickResolution)
	return c.rx.SetDemodFreq(c.rx.DemodFreq() + int64(dir)*step)
}

// Widen moves both filter edges outward (dir > 0) or inward by one filter
// click. Edges stay inside the mode's limits.
func (c *Controller) Widen(dir int) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	mode := c.rx.Mode()
	conf := c.modes[mode]
	step := dir * conf.FilterClickResolution
	switch {
	case conf.Symmetric:
		conf.HiCut += step
		conf.LowCut = -conf.HiCut
	case mode == config.LSB:
		conf.LowCut -= step
	default:
		conf.HiCut += step
	}
	conf = conf.Clamp()
	if err := c.rx.SetDemod(mode, conf); err != nil {
		return err
	}
	c.modes[mode] = conf
	return nil
}

func (c *Controller) ToggleUSFm() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.usFm = !c.usFm
	c.rx.SetUSFmVersion(c.usFm)
}

func (c *Controller) NextPskMode() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	next := (c.pskMode + 1) % len(demod.PskBaud)
	if err := c.rx.SetPskMode(next); err != nil {
		return err
	}
	c.pskMode = next
	log.Infof("PSK %.2f Bd", demod.PskBaud[next])
	return nil
}

// meterPercent maps a dB reading onto a gauge between floor and ceiling.
func meterPercent(db, floor, ceiling float64) float64 {
	if ceiling <= floor {
		return 0
	}
	p := (db - floor) / (ceiling - floor) * 100
	return max(0, min(100, p))
}
