// Package receiver chains the translator, channel filter, meter, demodulator
// and AGC, and lets a control goroutine reconfigure the chain while blocks
// are being processed.
package receiver

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/demod"
	"github.com/jrwynneiii/rxdsp/smeter"
	"github.com/pkg/errors"
)

type Options struct {
	MaxBlock          int
	SMeterCalibration float64
	USFm              bool
	PskMode           int
	FskBaud           float64
	FskShift          float64
	Digital           config.DigitalConf
}

func DefaultOptions() Options {
	r := config.DefaultReceiver()
	return Options{
		MaxBlock: r.MaxBlock,
		USFm:     r.USFm,
		PskMode:  r.PskMode,
		FskBaud:  r.FskBaud,
		FskShift: r.FskShift,
		Digital:  config.DefaultDigital(),
	}
}

// OptionsFrom picks the receiver settings out of a loaded configuration.
func OptionsFrom(c config.Conf) Options {
	return Options{
		MaxBlock:          c.Receiver.MaxBlock,
		SMeterCalibration: c.Receiver.SMeterCalibration,
		USFm:              c.Receiver.USFm,
		PskMode:           c.Receiver.PskMode,
		FskBaud:           c.Receiver.FskBaud,
		FskShift:          c.Receiver.FskShift,
		Digital:           c.Digital,
	}
}

// Receiver is safe for one processing goroutine plus any number of control
// goroutines. ProcessData and ProcessDataStereo must not run concurrently
// with each other.
type Receiver struct {
	// cfgMtx serializes mutators so each builds from consistent settings.
	cfgMtx sync.Mutex

	mtx      sync.Mutex
	opts     Options
	rate     float64
	mode     config.Mode
	conf     config.ModeConfig
	freq     int64
	cur      *stage
	inFlight int
	retired  []*stage

	meter *smeter.Meter
}

func New(opts Options) *Receiver {
	if opts.MaxBlock <= 0 || opts.MaxBlock > config.MaxInBufSize {
		opts.MaxBlock = config.MaxInBufSize
	}
	r := &Receiver{
		opts:  opts,
		mode:  config.AM,
		conf:  config.DefaultModes()[config.AM],
		meter: smeter.New(),
	}
	r.meter.SetSMeterCalibration(opts.SMeterCalibration)
	return r
}

type settings struct {
	opts Options
	rate float64
	mode config.Mode
	conf config.ModeConfig
	freq int64
}

func (r *Receiver) settings() settings {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return settings{opts: r.opts, rate: r.rate, mode: r.mode, conf: r.conf, freq: r.freq}
}

// publish swaps in a freshly built stage together with the settings it was
// built from. The old stage is closed once no block is using it.
func (r *Receiver) publish(s settings, st *stage) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	old := r.cur
	r.opts, r.rate, r.mode, r.conf, r.freq = s.opts, s.rate, s.mode, s.conf, s.freq
	r.cur = st
	if old == nil {
		return
	}
	r.retired = append(r.retired, old)
	if r.inFlight == 0 {
		r.closeRetired()
	}
}

func (r *Receiver) closeRetired() {
	for _, st := range r.retired {
		if err := st.Close(); err != nil {
			log.Warnf("[receiver] Closing %s stage: %v", st.mode, err)
		}
	}
	r.retired = r.retired[:0]
}

// apply rebuilds the chain for s if a rate is set, otherwise only records s.
func (r *Receiver) apply(s settings) error {
	if s.rate == 0 {
		r.mtx.Lock()
		r.opts, r.mode, r.conf, r.freq = s.opts, s.mode, s.conf, s.freq
		r.meter.SetSMeterCalibration(s.opts.SMeterCalibration)
		r.mtx.Unlock()
		return nil
	}
	st, err := newStage(s)
	if err != nil {
		return err
	}
	r.meter.SetSMeterCalibration(s.opts.SMeterCalibration)
	r.publish(s, st)
	return nil
}

// SetInputSampleRate rebuilds the chain for a new hardware rate. The first
// call moves the receiver out of the unconfigured state, in AM unless a mode
// was chosen beforehand.
func (r *Receiver) SetInputSampleRate(rate float64) error {
	r.cfgMtx.Lock()
	defer r.cfgMtx.Unlock()

	if rate <= 0 {
		return errors.Wrapf(config.ErrConfiguration, "input rate %f", rate)
	}
	s := r.settings()
	s.rate = rate
	st, err := newStage(s)
	if err != nil && s.freq != 0 && errors.Is(err, config.ErrConfiguration) {
		log.Warnf("[receiver] Offset %d Hz is out of range at %.0f Hz, retuning to 0", s.freq, rate)
		s.freq = 0
		st, err = newStage(s)
	}
	if err != nil {
		return err
	}
	r.meter.Reset()
	r.publish(s, st)
	log.Infof("[receiver] Input rate %.0f Hz, %s output %.0f Hz", rate, s.mode, st.demod.OutputRate())
	return nil
}

// SetDemod switches mode or applies new settings for the current mode. conf
// is copied and clamped to the mode's limits. The new chain is in place
// when this returns.
func (r *Receiver) SetDemod(mode config.Mode, conf config.ModeConfig) error {
	r.cfgMtx.Lock()
	defer r.cfgMtx.Unlock()

	if !mode.Valid() {
		return errors.Wrapf(config.ErrConfiguration, "mode index %d", int(mode))
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	s := r.settings()
	s.mode = mode
	s.conf = conf.Clamp()
	if err := r.apply(s); err != nil {
		return err
	}
	log.Debugf("[receiver] Mode %s, edges %d..%d Hz", mode, s.conf.LowCut, s.conf.HiCut)
	return nil
}

// SetDemodFreq sets the offset between the tuned centre and the wanted
// signal. Only the oscillator follows, filter state is kept.
func (r *Receiver) SetDemodFreq(freq int64) error {
	r.cfgMtx.Lock()
	defer r.cfgMtx.Unlock()

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.cur != nil {
		if err := r.cur.dc.CheckOffset(r.cur.ncoFreq(freq)); err != nil {
			return err
		}
	}
	r.freq = freq
	return nil
}

// SetSMeterOffset sets the calibration added to meter readings and to the
// FM squelch level.
func (r *Receiver) SetSMeterOffset(db float64) {
	r.cfgMtx.Lock()
	defer r.cfgMtx.Unlock()

	s := r.settings()
	s.opts.SMeterCalibration = db
	if s.mode != config.FM {
		r.meter.SetSMeterCalibration(db)
		r.mtx.Lock()
		r.opts.SMeterCalibration = db
		r.mtx.Unlock()
		return
	}
	if err := r.apply(s); err != nil {
		log.Warnf("[receiver] Could not apply meter offset: %v", err)
	}
}

// SetUSFmVersion picks 75 us de-emphasis when true and 50 us otherwise.
func (r *Receiver) SetUSFmVersion(us bool) {
	r.cfgMtx.Lock()
	defer r.cfgMtx.Unlock()

	s := r.settings()
	if s.opts.USFm == us {
		return
	}
	s.opts.USFm = us
	if err := r.apply(s); err != nil {
		log.Warnf("[receiver] Could not switch de-emphasis: %v", err)
	}
}

// SetPskMode selects the symbol rate by index into demod.PskBaud.
func (r *Receiver) SetPskMode(index int) error {
	r.cfgMtx.Lock()
	defer r.cfgMtx.Unlock()

	if index < 0 || index >= len(demod.PskBaud) {
		return errors.Wrapf(config.ErrConfiguration, "psk mode %d", index)
	}
	s := r.settings()
	s.opts.PskMode = index
	if s.mode != config.PSK {
		r.mtx.Lock()
		r.opts.PskMode = index
		r.mtx.Unlock()
		return nil
	}
	return r.apply(s)
}

// acquire pins the current stage for one block.
func (r *Receiver) acquire() (*stage, int64, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.cur == nil {
		return nil, 0, errors.Wrap(config.ErrState, "no input sample rate set")
	}
	r.inFlight++
	return r.cur, r.freq, nil
}

func (r *Receiver) release() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.inFlight--
	if r.inFlight == 0 && len(r.retired) > 0 {
		r.closeRetired()
	}
}

// ProcessData demodulates one input block into out and returns the number of
// audio samples written.
func (r *Receiver) ProcessData(in []complex64, out []float32) (int, error) {
	st, freq, err := r.acquire()
	if err != nil {
		return 0, err
	}
	defer r.release()

	if err := st.checkOutput(len(in), len(out)); err != nil {
		return 0, err
	}
	base, err := st.channel(in, freq, r.meter)
	if err != nil || len(base) == 0 {
		return 0, err
	}
	n := st.demod.ProcessMono(base, out)
	st.agc.ProcessData(out[:n])
	return n, nil
}

// ProcessDataStereo is ProcessData with left in the real and right in the
// imaginary part of each output sample. Modes without stereo repeat the
// mono signal on both channels.
func (r *Receiver) ProcessDataStereo(in []complex64, out []complex64) (int, error) {
	st, freq, err := r.acquire()
	if err != nil {
		return 0, err
	}
	defer r.release()

	if err := st.checkOutput(len(in), len(out)); err != nil {
		return 0, err
	}
	base, err := st.channel(in, freq, r.meter)
	if err != nil || len(base) == 0 {
		return 0, err
	}
	n := st.demod.ProcessStereo(base, out)
	st.agc.ProcessStereo(out[:n])
	return n, nil
}

func (r *Receiver) current() *stage {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.cur
}

// GetOutputRate is the audio rate of the active mode, or 0 before a sample
// rate is set.
func (r *Receiver) GetOutputRate() float64 {
	if st := r.current(); st != nil {
		return st.demod.OutputRate()
	}
	return 0
}

// MaxOutput is the output buffer length one block of n samples needs.
func (r *Receiver) MaxOutput(n int) int {
	if st := r.current(); st != nil {
		return st.maxOutput(n)
	}
	return 0
}

func (r *Receiver) GetSMeterPeak() float64 { return r.meter.GetPeak() }
func (r *Receiver) GetSMeterAve() float64  { return r.meter.GetAve() }

// GetStereoLock reports the pilot lock and whether it changed since the last
// call. Always false outside wideband FM.
func (r *Receiver) GetStereoLock() (locked, changed bool) {
	if sr, ok := r.demodAs().(demod.StereoReporter); ok {
		return sr.StereoLock()
	}
	return false, false
}

// GetNextRdsGroupData pops the oldest pending data group. The flag is false
// when none is pending.
func (r *Receiver) GetNextRdsGroupData() (demod.RdsGroup, bool) {
	if gs, ok := r.demodAs().(demod.GroupSource); ok {
		return gs.NextGroup()
	}
	return demod.RdsGroup{}, false
}

// ReadSymbols drains pending digital mode symbols into p.
func (r *Receiver) ReadSymbols(p []byte) int {
	if ss, ok := r.demodAs().(demod.SymbolSource); ok {
		return ss.ReadSymbols(p)
	}
	return 0
}

// Locked reports carrier lock in SAM and pilot lock in wideband FM.
func (r *Receiver) Locked() bool {
	if lr, ok := r.demodAs().(demod.LockReporter); ok {
		return lr.Locked()
	}
	return false
}

func (r *Receiver) Squelched() bool {
	if sq, ok := r.demodAs().(demod.Squelcher); ok {
		return sq.Squelched()
	}
	return false
}

func (r *Receiver) demodAs() demod.Demodulator {
	if st := r.current(); st != nil {
		return st.demod
	}
	return nil
}

func (r *Receiver) Mode() config.Mode {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.mode
}

// ModeConfig returns a copy of the active, clamped mode settings.
func (r *Receiver) ModeConfig() config.ModeConfig {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.conf
}

func (r *Receiver) DemodFreq() int64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.freq
}

func (r *Receiver) InputSampleRate() float64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.rate
}

// Close releases the active chain. The receiver returns to the unconfigured
// state.
func (r *Receiver) Close() error {
	r.cfgMtx.Lock()
	defer r.cfgMtx.Unlock()

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.cur != nil {
		r.retired = append(r.retired, r.cur)
		r.cur = nil
		r.rate = 0
	}
	if r.inFlight == 0 {
		r.closeRetired()
	}
	return nil
}

var _ io.Closer = (*Receiver)(nil)
