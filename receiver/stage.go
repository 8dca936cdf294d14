package receiver

import (
	"io"
	"math"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/agc"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/demod"
	"github.com/jrwynneiii/rxdsp/downconvert"
	"github.com/jrwynneiii/rxdsp/fastfir"
	"github.com/jrwynneiii/rxdsp/smeter"
	"github.com/pkg/errors"
)

// stage is one fully built chain for a rate and mode. Only the processing
// goroutine touches its filters once it is published.
type stage struct {
	mode    config.Mode
	dc      *downconvert.DownConverter
	fir     *fastfir.FastFIR
	demod   demod.Demodulator
	agc     *agc.AGC
	cwShift float64
	ratio   int // translator rate / audio rate
	base    []complex64
}

func newStage(s settings) (*stage, error) {
	conf := s.conf
	dc, err := downconvert.New(s.rate, float64(conf.MaxBandwidth), s.opts.MaxBlock)
	if err != nil {
		return nil, err
	}
	st := &stage{mode: s.mode, dc: dc, fir: fastfir.New()}
	if s.mode.IsCW() {
		st.cwShift = float64(conf.Offset)
		if s.mode == config.CWL {
			st.cwShift = -st.cwShift
		}
	}
	if err := dc.CheckOffset(st.ncoFreq(s.freq)); err != nil {
		return nil, err
	}

	chRate := dc.OutputRate()
	if err := st.fir.SetupParameters(float64(conf.LowCut), float64(conf.HiCut), st.cwShift, chRate); err != nil {
		return nil, err
	}
	st.demod, err = demod.New(s.mode, chRate, conf, demod.Options{
		USFm:        s.opts.USFm,
		PskMode:     s.opts.PskMode,
		FskBaud:     s.opts.FskBaud,
		FskShift:    s.opts.FskShift,
		Calibration: s.opts.SMeterCalibration,
		Digital:     s.opts.Digital,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "building %s", s.mode)
	}
	audioRate := st.demod.OutputRate()
	st.agc = agc.New(audioRate, agc.ParamsFrom(conf))
	st.ratio = max(1, int(math.Round(chRate/audioRate)))
	st.base = make([]complex64, st.channelMax(s.opts.MaxBlock))

	log.Debugf("[receiver] %s chain: %.0f Hz /%d -> %.0f Hz channel, %d taps, /%d -> %.0f Hz audio",
		s.mode, s.rate, dc.Decimation(), chRate, st.fir.Taps(), st.ratio, audioRate)
	return st, nil
}

// ncoFreq is the oscillator frequency for a tuning offset. CW modes shift
// the carrier into the audible offset.
func (st *stage) ncoFreq(freq int64) float64 {
	return float64(freq) + st.cwShift
}

// channelMax bounds the translator output for an n sample block, counting
// samples held back from the previous block.
func (st *stage) channelMax(n int) int {
	d := st.dc.Decimation()
	return (n + d - 1) / d
}

func (st *stage) maxOutput(n int) int {
	return (st.channelMax(n) + st.ratio - 1) / st.ratio
}

func (st *stage) checkOutput(in, out int) error {
	if in > st.dc.MaxBlock() {
		return errors.Wrapf(config.ErrCapacity, "block of %d exceeds %d", in, st.dc.MaxBlock())
	}
	if want := st.maxOutput(in); out < want {
		return errors.Wrapf(config.ErrCapacity, "output holds %d, need %d", out, want)
	}
	return nil
}

// channel translates, filters and meters one block. The result aliases
// st.base.
func (st *stage) channel(in []complex64, freq int64, meter *smeter.Meter) ([]complex64, error) {
	n, err := st.dc.ProcessData(in, st.ncoFreq(freq), st.base)
	if err != nil {
		return nil, err
	}
	base := st.base[:n]
	st.fir.ProcessData(base, base)
	meter.ProcessData(base, st.dc.OutputRate())
	return base, nil
}

func (st *stage) Close() error {
	if c, ok := st.demod.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
