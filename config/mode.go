package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Mode int

// Mode values keep the indices used by stored settings.
const (
	AM Mode = iota
	SAM
	FM
	USB
	LSB
	CWU
	CWL
	WFM
	FSK
	PSK
	NumModes
)

var modeNames = [NumModes]string{"am", "sam", "fm", "usb", "lsb", "cwu", "cwl", "wfm", "fsk", "psk"}

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

func (m Mode) Valid() bool {
	return m >= 0 && m < NumModes
}

// IsCW reports whether the mode listens to a carrier shifted by the mode offset.
func (m Mode) IsCW() bool {
	return m == CWU || m == CWL
}

// IsDigital reports whether the mode produces a symbol stream.
func (m Mode) IsDigital() bool {
	return m == FSK || m == PSK
}

func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}
	return 0, errors.Wrapf(ErrConfiguration, "unknown mode %q", s)
}

// ModeConfig holds the filter and AGC settings for one demodulation mode.
// Limits, click resolutions, label and bandwidth are fixed per mode and are
// not read from configuration files.
type ModeConfig struct {
	HiCut                  int    `koanf:"hi_cut"`
	HiCutMin               int    `koanf:"-"`
	HiCutMax               int    `koanf:"-"`
	LowCut                 int    `koanf:"low_cut"`
	LowCutMin              int    `koanf:"-"`
	LowCutMax              int    `koanf:"-"`
	DefFreqClickResolution int    `koanf:"-"`
	FreqClickResolution    int    `koanf:"freq_click_resolution"`
	FilterClickResolution  int    `koanf:"-"`
	Offset                 int    `koanf:"offset"`
	SquelchValue           int    `koanf:"squelch"`
	AgcSlope               int    `koanf:"agc_slope"`
	AgcThresh              int    `koanf:"agc_threshold"`
	AgcManualGain          int    `koanf:"agc_manual_gain"`
	AgcDecay               int    `koanf:"agc_decay"`
	AgcOn                  bool   `koanf:"agc_on"`
	AgcHangOn              bool   `koanf:"agc_hang_on"`
	Symmetric              bool   `koanf:"-"`
	Label                  string `koanf:"-"`
	MaxBandwidth           int    `koanf:"-"`
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Clamp returns a copy with both filter edges forced into the mode's limits.
// Symmetric modes keep |LowCut| == |HiCut|, using the wider of the two edges.
func (c ModeConfig) Clamp() ModeConfig {
	if c.Symmetric {
		w := max(absInt(c.LowCut), absInt(c.HiCut))
		w = clampInt(w, c.HiCutMin, c.HiCutMax)
		w = clampInt(w, -c.LowCutMax, -c.LowCutMin)
		c.HiCut = w
		c.LowCut = -w
		return c
	}
	c.LowCut = clampInt(c.LowCut, c.LowCutMin, c.LowCutMax)
	c.HiCut = clampInt(c.HiCut, c.HiCutMin, c.HiCutMax)
	return c
}

// Validate checks the edges after clamping.
func (c ModeConfig) Validate() error {
	if c.MaxBandwidth <= 0 {
		return errors.Wrapf(ErrConfiguration, "%s: no output bandwidth", c.Label)
	}
	cc := c.Clamp()
	if cc.Symmetric {
		if cc.HiCut <= 0 {
			return errors.Wrapf(ErrConfiguration, "%s: symmetric filter width %d", c.Label, cc.HiCut)
		}
		return nil
	}
	if cc.LowCut >= cc.HiCut {
		return errors.Wrapf(ErrConfiguration, "%s: low cut %d not below high cut %d", c.Label, cc.LowCut, cc.HiCut)
	}
	return nil
}

// DefaultModes returns the per-mode limits together with the default
// operator settings.
func DefaultModes() [NumModes]ModeConfig {
	var m [NumModes]ModeConfig

	m[AM] = ModeConfig{Label: "AM", HiCutMin: 500, HiCutMax: 10000, LowCutMax: -500, LowCutMin: -10000,
		Symmetric: true, DefFreqClickResolution: 1000, FilterClickResolution: 100, MaxBandwidth: 10000}
	m[SAM] = ModeConfig{Label: "SAM", HiCutMin: 100, HiCutMax: 10000, LowCutMax: -100, LowCutMin: -10000,
		DefFreqClickResolution: 1000, FilterClickResolution: 100, MaxBandwidth: 10000}
	m[FM] = ModeConfig{Label: "FM", HiCutMin: 5000, HiCutMax: 15000, LowCutMax: -5000, LowCutMin: -15000,
		Symmetric: true, DefFreqClickResolution: 5000, FilterClickResolution: 5000, MaxBandwidth: 15000}
	m[WFM] = ModeConfig{Label: "WFM", HiCutMin: 100000, HiCutMax: 100000, LowCutMax: -100000, LowCutMin: -100000,
		Symmetric: true, DefFreqClickResolution: 100000, FilterClickResolution: 10000, MaxBandwidth: 100000}
	m[USB] = ModeConfig{Label: "USB", HiCutMin: 500, HiCutMax: 20000, LowCutMax: 200, LowCutMin: 0,
		DefFreqClickResolution: 100, FilterClickResolution: 100, MaxBandwidth: 20000}
	m[LSB] = ModeConfig{Label: "LSB", HiCutMin: -200, HiCutMax: 0, LowCutMax: -500, LowCutMin: -20000,
		DefFreqClickResolution: 100, FilterClickResolution: 100, MaxBandwidth: 20000}
	m[CWU] = ModeConfig{Label: "CWU", HiCutMin: 50, HiCutMax: 1000, LowCutMax: -50, LowCutMin: -1000,
		DefFreqClickResolution: 10, FilterClickResolution: 50, MaxBandwidth: 2000}
	m[CWL] = ModeConfig{Label: "CWL", HiCutMin: 50, HiCutMax: 1000, LowCutMax: -50, LowCutMin: -1000,
		DefFreqClickResolution: 10, FilterClickResolution: 50, MaxBandwidth: 2000}
	m[PSK] = ModeConfig{Label: "PSK", HiCutMin: 50, HiCutMax: 50, LowCutMax: -50, LowCutMin: -50,
		Symmetric: true, DefFreqClickResolution: 1, FilterClickResolution: 5, MaxBandwidth: 1000}
	m[FSK] = ModeConfig{Label: "Raw DSC", HiCutMin: 20, HiCutMax: 200, LowCutMax: -20, LowCutMin: -200,
		Symmetric: true, DefFreqClickResolution: 10, FilterClickResolution: 10, MaxBandwidth: 1000}

	for i := range m {
		c := &m[i]
		c.HiCut = 5000
		c.LowCut = -5000
		c.FreqClickResolution = c.DefFreqClickResolution
		c.SquelchValue = -160
		c.AgcThresh = -100
		c.AgcManualGain = 30
		c.AgcDecay = 200
		c.AgcOn = true
		switch Mode(i) {
		case USB:
			c.LowCut = 200
			c.HiCut = 3000
		case LSB:
			c.LowCut = -3000
			c.HiCut = -200
		case CWU, CWL:
			c.LowCut = -250
			c.HiCut = 250
			c.Offset = 700
		case FM, WFM, FSK, PSK:
			c.AgcOn = false
			c.AgcManualGain = 0
		}
		*c = c.Clamp()
	}
	return m
}
