package config

type RadioConf struct {
	Driver      string  `koanf:"driver"`
	Address     string  `koanf:"address"`
	DeviceIndex int     `koanf:"device_index"`
	Gain        int     `koanf:"gain"`
	Frequency   float64 `koanf:"frequency"`
	SampleRate  float64 `koanf:"sample_rate"`
	ChunkSize   uint    `koanf:"chunk_size"`
}

type TuiConf struct {
	RefreshMs       int     `koanf:"refresh_ms"`
	MeterFloor      float64 `koanf:"meter_floor"`
	MeterCeiling    float64 `koanf:"meter_ceiling"`
	EnableLogOutput bool    `koanf:"enable_log_output"`
}

type ReceiverConf struct {
	MaxBlock          int     `koanf:"max_block"`
	SMeterCalibration float64 `koanf:"smeter_calibration"`
	USFm              bool    `koanf:"us_fm"`
	PskMode           int     `koanf:"psk_mode"`
	FskBaud           float64 `koanf:"fsk_baud"`
	FskShift          float64 `koanf:"fsk_shift"`
	Mode              string  `koanf:"mode"`
	Offset            int64   `koanf:"offset"`
}

// DigitalConf carries the loop constants of the symbol recovery chains.
type DigitalConf struct {
	AGCRate         float32 `koanf:"agc_rate"`
	AGCReference    float32 `koanf:"agc_reference"`
	AGCGain         float32 `koanf:"agc_gain"`
	AGCMaxGain      float32 `koanf:"agc_max_gain"`
	Mu              float32 `koanf:"mu"`
	Alpha           float32 `koanf:"alpha"`
	OmegaLimit      float32 `koanf:"omega_limit"`
	CostasBandwidth float32 `koanf:"costas_bandwidth"`
	RRCAlpha        float64 `koanf:"rrc_alpha"`
}

type Conf struct {
	Radio    RadioConf
	Tui      TuiConf
	Receiver ReceiverConf
	Digital  DigitalConf
	Modes    [NumModes]ModeConfig
}

func DefaultReceiver() ReceiverConf {
	return ReceiverConf{
		MaxBlock: MaxInBufSize,
		USFm:     true,
		FskBaud:  100,
		FskShift: 170,
		Mode:     AM.String(),
	}
}

func DefaultDigital() DigitalConf {
	return DigitalConf{
		AGCRate:         0.01,
		AGCReference:    0.5,
		AGCGain:         1,
		AGCMaxGain:      4000,
		Mu:              0.5,
		Alpha:           0.0037,
		OmegaLimit:      0.005,
		CostasBandwidth: 0.02,
		RRCAlpha:        1.0,
	}
}

func DefaultTui() TuiConf {
	return TuiConf{
		RefreshMs:    250,
		MeterFloor:   -130,
		MeterCeiling: -20,
	}
}
