package config

import (
	"github.com/charmbracelet/log"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Load reads every section from an already populated koanf instance.
// Values absent from the source keep their defaults.
func Load(k *koanf.Koanf) (Conf, error) {
	conf := Conf{
		Tui:      DefaultTui(),
		Receiver: DefaultReceiver(),
		Digital:  DefaultDigital(),
		Modes:    DefaultModes(),
	}

	sections := []struct {
		path string
		dst  any
	}{
		{"radio", &conf.Radio},
		{"tui", &conf.Tui},
		{"receiver", &conf.Receiver},
		{"digital", &conf.Digital},
	}
	for _, s := range sections {
		if !k.Exists(s.path) {
			continue
		}
		if err := k.Unmarshal(s.path, s.dst); err != nil {
			return conf, errors.Wrapf(err, "could not read %s section", s.path)
		}
	}

	modes, err := LoadModes(k)
	if err != nil {
		return conf, err
	}
	conf.Modes = modes

	if conf.Receiver.MaxBlock <= 0 || conf.Receiver.MaxBlock > MaxInBufSize {
		return conf, errors.Wrapf(ErrConfiguration, "receiver.max_block %d outside 1..%d", conf.Receiver.MaxBlock, MaxInBufSize)
	}
	if _, err := ParseMode(conf.Receiver.Mode); err != nil {
		return conf, err
	}
	return conf, nil
}

// LoadModes merges modes.<name> sections over DefaultModes. The fixed
// per-mode limits are restored after merging and the edges clamped.
func LoadModes(k *koanf.Koanf) ([NumModes]ModeConfig, error) {
	modes := DefaultModes()
	for i := range modes {
		path := "modes." + Mode(i).String()
		if !k.Exists(path) {
			continue
		}
		fixed := modes[i]
		if err := k.Unmarshal(path, &modes[i]); err != nil {
			return modes, errors.Wrapf(err, "could not read %s", path)
		}
		m := &modes[i]
		m.HiCutMin, m.HiCutMax = fixed.HiCutMin, fixed.HiCutMax
		m.LowCutMin, m.LowCutMax = fixed.LowCutMin, fixed.LowCutMax
		m.DefFreqClickResolution = fixed.DefFreqClickResolution
		m.FilterClickResolution = fixed.FilterClickResolution
		m.Symmetric = fixed.Symmetric
		m.Label = fixed.Label
		m.MaxBandwidth = fixed.MaxBandwidth
		*m = m.Clamp()
		log.Debugf("Found mode override for %s: %##v", Mode(i), *m)
	}
	return modes, nil
}
