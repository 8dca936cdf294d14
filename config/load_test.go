package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadHCL(t *testing.T, body string) *koanf.Koanf {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	k := koanf.New(".")
	require.NoError(t, k.Load(file.Provider(path), hcl.Parser(true)))
	return k
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	conf, err := Load(koanf.New("."))
	require.NoError(t, err)

	assert.Equal(t, DefaultModes(), conf.Modes)
	assert.Equal(t, DefaultReceiver(), conf.Receiver)
	assert.Equal(t, DefaultDigital(), conf.Digital)
}

func TestLoadOverrides(t *testing.T) {
	k := loadHCL(t, `
receiver {
  smeter_calibration = -12.5
  mode = "usb"
  psk_mode = 2
}

modes {
  usb {
    hi_cut = 2700
    agc_decay = 500
  }
  am {
    hi_cut = 90000
  }
}
`)
	conf, err := Load(k)
	require.NoError(t, err)

	assert.Equal(t, -12.5, conf.Receiver.SMeterCalibration)
	assert.Equal(t, "usb", conf.Receiver.Mode)
	assert.Equal(t, 2, conf.Receiver.PskMode)
	assert.Equal(t, MaxInBufSize, conf.Receiver.MaxBlock)

	usb := conf.Modes[USB]
	assert.Equal(t, 2700, usb.HiCut)
	assert.Equal(t, 500, usb.AgcDecay)
	assert.Equal(t, 200, usb.LowCut)
	assert.Equal(t, "USB", usb.Label)

	// fixed limits survive an override and clamp the result
	assert.Equal(t, 10000, conf.Modes[AM].HiCut)
	assert.Equal(t, -10000, conf.Modes[AM].LowCut)
}

func TestLoadRejectsBadValues(t *testing.T) {
	k := loadHCL(t, `
receiver {
  mode = "dsb"
}
`)
	_, err := Load(k)
	assert.True(t, errors.Is(err, ErrConfiguration))

	k = loadHCL(t, `
receiver {
  max_block = 1000000
}
`)
	_, err = Load(k)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
