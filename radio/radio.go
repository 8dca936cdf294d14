package radio

// #cgo CFLAGS: -g -Wall
// #cgo LDFLAGS: -lSoapySDR
import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/pkg/errors"

	"github.com/pothosware/go-soapy-sdr/pkg/device"
	"github.com/pothosware/go-soapy-sdr/pkg/modules"
	"github.com/pothosware/go-soapy-sdr/pkg/sdrlogger"
	"github.com/pothosware/go-soapy-sdr/pkg/version"
)

// BlockSink consumes fixed size blocks of CF32 samples. It is called from
// the radio's read goroutine only.
type BlockSink interface {
	ProcessBlock(block []complex64) error
}

type Radio struct {
	Driver      string
	Address     string
	DeviceIndex int
	Gain        int
	SampleRate  float64
	Frequency   float64

	chunksize uint
	buf       [][]complex64
	args      map[string]string
	device    *device.SDRDevice
	stream    *device.SDRStreamCF32
}

func InitSoapySDR() {
	log.Debugf("[radio] Using SoapySDR versions: ABI: %s API: %s Lib: %s", version.GetABIVersion(), version.GetAPIVersion(), version.GetLibVersion())
	log.Debugf("[radio] SoapySDR modules root path: %v", modules.GetRootPath())

	searchPaths := modules.ListSearchPaths()
	if len(searchPaths) > 0 {
		for i, searchPath := range searchPaths {
			log.Debugf("[radio] Search path #%d: %v", i, searchPath)
		}
	} else {
		log.Debug("[radio] Search paths: [none]")
	}
	logModules(log.Debugf)
	sdrlogger.SetLogLevel(sdrlogger.Error)
}

func logModules(logf func(string, ...any)) {
	modulesFound := modules.ListModules()
	if len(modulesFound) == 0 {
		logf("[radio] No SoapySDR modules found")
		return
	}
	for _, module := range modulesFound {
		moduleVersion := modules.GetModuleVersion(module)
		if len(moduleVersion) == 0 {
			moduleVersion = "[None]"
		}
		logf("[radio] Found SoapySDR module: %v, version: %v", module, moduleVersion)
	}
}

// LogAllSoapySDRDevices lists every device SoapySDR can see with its rates
// and stream formats.
func LogAllSoapySDRDevices() error {
	log.Infof("Using SoapySDR versions: ABI: %s API: %s Lib: %s", version.GetABIVersion(), version.GetAPIVersion(), version.GetLibVersion())
	log.Infof("SoapySDR modules root path: %v", modules.GetRootPath())
	logModules(log.Infof)

	// Tune down the logger for soapy so that it doesn't yell about rtl-tcp
	sdrlogger.SetLogLevel(sdrlogger.Error)

	devices := device.Enumerate(nil)
	log.Infof("Found %d devices", len(devices))
	args := make([]map[string]string, len(devices))
	for idx, dev := range devices {
		args[idx] = map[string]string{"driver": dev["driver"]}
	}
	devs, err := device.MakeList(args)
	if err != nil {
		return errors.Wrap(err, "SoapySDR could not open devices")
	}
	for idx, dev := range devs {
		log.Infof("Driver: %s", args[idx]["driver"])
		LogAvailSettings(dev)
	}
	// UnmakeList double frees in the cgo bindings, the devices are released
	// when the process exits.
	return nil
}

func LogAvailSettings(dev *device.SDRDevice) {
	log.Infof("Current settings:")
	for _, setting := range dev.GetSettingInfo() {
		log.Infof("\t- %s: %v", setting.Key, setting.Value)
	}

	numChannels := dev.GetNumChannels(device.DirectionRX)
	log.Info("Channel info:")
	for channel := uint(0); channel < numChannels; channel++ {
		log.Infof("Channel %d:", channel)
		log.Infof("\tAvailable sample rates:")
		log.Infof("\t\t- %v", dev.GetSampleRate(device.DirectionRX, channel))
		for _, sampleRateRange := range dev.GetSampleRateRange(device.DirectionRX, channel) {
			log.Infof("\t\t- %v", sampleRateRange.ToString())
		}
		log.Infof("\tIQ Sample Types: %v", dev.GetStreamFormats(device.DirectionRX, channel))
	}
}

func New(conf config.RadioConf) (*Radio, error) {
	if conf.SampleRate <= 0 {
		return nil, errors.Wrapf(config.ErrConfiguration, "radio.sample_rate %f", conf.SampleRate)
	}
	if conf.ChunkSize == 0 || conf.ChunkSize > config.MaxInBufSize {
		return nil, errors.Wrapf(config.ErrConfiguration, "radio.chunk_size %d outside 1..%d", conf.ChunkSize, config.MaxInBufSize)
	}
	log.Debug("[radio] Initing SoapySDR")
	InitSoapySDR()

	return &Radio{
		Driver:      conf.Driver,
		Address:     conf.Address,
		DeviceIndex: conf.DeviceIndex,
		Gain:        conf.Gain,
		SampleRate:  conf.SampleRate,
		Frequency:   conf.Frequency,
		chunksize:   conf.ChunkSize,
		buf:         [][]complex64{make([]complex64, conf.ChunkSize)},
	}, nil
}

func (r *Radio) Connect() error {
	r.args = map[string]string{"driver": r.Driver}
	if r.Driver == "rtltcp" {
		r.args["rtltcp"] = r.Address
	}
	var err error
	if r.device == nil {
		if r.device, err = device.Make(r.args); err != nil {
			return errors.Wrap(err, "could not create SoapySDR device")
		}
	}

	log.Debugf("[radio] Setting sample rate to %f", r.SampleRate)
	if err := r.device.SetSampleRate(device.DirectionRX, 0, r.SampleRate); err != nil {
		return errors.Wrap(err, "could not set sample rate")
	}
	log.Debugf("[radio] Setting frequency to %f", r.Frequency)
	if err := r.device.SetFrequency(device.DirectionRX, 0, r.Frequency, nil); err != nil {
		return errors.Wrap(err, "could not set frequency")
	}
	if r.Gain > 0 {
		log.Debugf("[radio] Setting gain to %d dB", r.Gain)
		if err := r.device.SetGain(device.DirectionRX, 0, float64(r.Gain)); err != nil {
			return errors.Wrap(err, "could not set gain")
		}
	}
	log.Debugf("[radio] Initialized device: %v", r.Driver)
	if r.Driver != "rtltcp" {
		LogAvailSettings(r.device)
	}

	log.Debug("[radio] Creating the IQ stream")
	if r.stream, err = r.device.SetupSDRStreamCF32(device.DirectionRX, []uint{0}, nil); err != nil {
		return errors.Wrap(err, "could not setup SDR stream")
	}
	return r.activate()
}

func (r *Radio) activate() error {
	log.Debug("[radio] Activating IQ stream...")
	if err := r.stream.Activate(0, 0, 0); err != nil {
		return errors.Wrap(err, "could not activate the IQ stream")
	}
	// discard the first samples so the filters start on clean data
	r.read(1024)
	clear(r.buf[0])
	return nil
}

func (r *Radio) read(num uint) []complex64 {
	flags := make([]int, 1)
	timeout := uint(100000) // us
	_, numSamples, err := r.stream.Read(r.buf, min(num, r.chunksize), flags, timeout)
	if err != nil {
		log.Debugf("[radio] Read: %v", err)
		return nil
	}
	return r.buf[0][:numSamples]
}

// Start reads until ctx is done, handing sink one block of chunk_size
// samples at a time.
func (r *Radio) Start(ctx context.Context, sink BlockSink) error {
	c := newChunker(int(r.chunksize), sink)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		samples := r.read(r.chunksize)
		if len(samples) == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err := c.write(samples); err != nil {
			return err
		}
	}
}

func (r *Radio) Destroy() {
	if r.stream != nil {
		log.Debug("[radio] Deactivating IQ stream...")
		if err := r.stream.Deactivate(0, 0); err != nil {
			log.Errorf("[radio] Could not deactivate the IQ stream: %v", err)
		}
		log.Debug("[radio] Closing IQ stream...")
		if err := r.stream.Close(); err != nil {
			log.Errorf("[radio] Could not close the IQ stream: %v", err)
		}
		r.stream = nil
	}
	if r.device != nil {
		if err := device.Unmake(r.device); err != nil {
			log.Errorf("[radio] Could not release the device: %v", err)
		}
		r.device = nil
	}
}
