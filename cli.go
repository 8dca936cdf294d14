package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "RXDSP_"

var cli struct {
	Verbose bool   `help:"Prints debug output by default"`
	Profile bool   `help:"Output a pprof profile"`
	Config  string `help:"Config file to read instead of the default locations" type:"path"`
	Probe   struct {
	} `cmd:"" help:"List the available radios and SoapySDR configuration"`
	Modes struct {
	} `cmd:"" help:"Print the per-mode filter and AGC settings"`
	Tune struct {
		Mode   string `help:"Mode to start in, overrides receiver.mode"`
		Offset *int64 `help:"Offset from the tuned frequency in Hz, overrides receiver.offset"`
	} `cmd:"" help:"Starts the TUI and connects to the SDR"`
}

var configFile = koanf.New(".")

func getConfigPath() string {
	paths := []string{"/etc/rxdsp/config.hcl", "~/.config/rxdsp/config.hcl", "./config.hcl"}
	if cli.Config != "" {
		paths = []string{cli.Config}
	}
	for _, path := range paths {
		if strings.HasPrefix(path, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, path[2:])
			}
		}
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			log.Infof("Found config file: %s", path)
			return path
		}
	}
	log.Info("Config file not found!")
	return ""
}

// envKey maps RXDSP_RECEIVER_MAX_BLOCK to receiver.max_block.
func envKey(k string) string {
	key := strings.ToLower(strings.TrimPrefix(k, envPrefix))
	return strings.Replace(key, "_", ".", 1)
}

func loadConfig() (config.Conf, error) {
	if err := configFile.Load(file.Provider(getConfigPath()), hcl.Parser(true)); err != nil {
		log.Errorf("Could not read config file: %v", err)
		log.Error("Attempting to use environment variables")
		if err := configFile.Load(env.Provider(".", env.Opt{
			Prefix: envPrefix,
			TransformFunc: func(k, v string) (string, any) {
				k = envKey(k)
				log.Debugf("Found config env var: %s=%v", k, v)
				return k, v
			},
		}), nil); err != nil {
			return config.Conf{}, err
		}
	}
	return config.Load(configFile)
}
