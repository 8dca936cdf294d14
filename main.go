package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/datalink"
	"github.com/jrwynneiii/rxdsp/radio"
	"github.com/jrwynneiii/rxdsp/receiver"
	"github.com/jrwynneiii/rxdsp/tui"
)

// audioSink feeds device blocks through the receiver. Audio playback lives
// outside this program, so the output buffer is only reused.
type audioSink struct {
	rx  *receiver.Receiver
	out []complex64
}

func (s *audioSink) ProcessBlock(block []complex64) error {
	if want := s.rx.MaxOutput(len(block)); len(s.out) < want {
		s.out = make([]complex64, want)
	}
	_, err := s.rx.ProcessDataStereo(block, s.out)
	return err
}

func printModes(modes [config.NumModes]config.ModeConfig) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Mode", "Label", "Low", "High", "Limits", "Step", "Offset", "AGC", "Squelch")
	for i, m := range modes {
		agc := "manual " + strconv.Itoa(m.AgcManualGain) + " dB"
		if m.AgcOn {
			agc = fmt.Sprintf("%d dB / %d ms", m.AgcThresh, m.AgcDecay)
		}
		t.Row(
			config.Mode(i).String(),
			m.Label,
			strconv.Itoa(m.LowCut),
			strconv.Itoa(m.HiCut),
			fmt.Sprintf("%d..%d / %d..%d", m.LowCutMin, m.LowCutMax, m.HiCutMin, m.HiCutMax),
			strconv.Itoa(m.FreqClickResolution),
			strconv.Itoa(m.Offset),
			agc,
			strconv.Itoa(m.SquelchValue),
		)
	}
	fmt.Println(t.String())
}

func tune(conf config.Conf) error {
	mode, err := config.ParseMode(conf.Receiver.Mode)
	if cli.Tune.Mode != "" {
		mode, err = config.ParseMode(cli.Tune.Mode)
	}
	if err != nil {
		return err
	}
	offset := conf.Receiver.Offset
	if cli.Tune.Offset != nil {
		offset = *cli.Tune.Offset
	}

	rx := receiver.New(receiver.OptionsFrom(conf))
	defer rx.Close()
	if err := rx.SetDemod(mode, conf.Modes[mode]); err != nil {
		return err
	}
	if err := rx.SetInputSampleRate(conf.Radio.SampleRate); err != nil {
		return err
	}
	if err := rx.SetDemodFreq(offset); err != nil {
		return err
	}

	log.Debugf("Found radio definition for %s: %##v", conf.Radio.Driver, conf.Radio)
	log.Debug("Starting init of SDR")
	r, err := radio.New(conf.Radio)
	if err != nil {
		return err
	}
	if err := r.Connect(); err != nil {
		return err
	}
	defer r.Destroy()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mon := datalink.New(rx, 16)
	go mon.Start(ctx, 100*time.Millisecond)
	go func() {
		if err := r.Start(ctx, &audioSink{rx: rx}); err != nil && ctx.Err() == nil {
			log.Errorf("Radio stopped: %v", err)
			cancel()
		}
	}()

	ctl := tui.NewController(rx, conf.Modes, conf.Receiver.USFm, conf.Receiver.PskMode)
	err = tui.StartUI(ctx, rx, ctl, mon, conf.Tui)
	cancel()
	return err
}

func main() {
	log.Info("Starting rxdsp")
	flags := kong.Parse(&cli)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if cli.Profile {
		prof, err := os.Create("./cpu.pprof")
		if err != nil {
			log.Fatalf("Could not create profile: %v", err)
		}
		pprof.StartCPUProfile(prof)
		defer pprof.StopCPUProfile()
	}

	conf, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	switch flags.Command() {
	case "probe":
		if err := radio.LogAllSoapySDRDevices(); err != nil {
			log.Fatalf("%v", err)
		}
	case "modes":
		printModes(conf.Modes)
	case "tune":
		if err := tune(conf); err != nil {
			log.Errorf("%v", err)
		}
	default:
		log.Info("Command not recognized")
	}
}
