package demod

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/ring"
	SatHelper "github.com/opensatelliteproject/libsathelper"
	"github.com/pkg/errors"
	"github.com/racerxdl/segdsp/dsp"
)

// PSK recovers BPSK symbols: AGC, matched RRC filter, Costas carrier loop and
// Mueller and Muller clock recovery, then differential soft decisions.
type PSK struct {
	rate     float64
	baud     float64
	sps      float32
	agc      SatHelper.AGC
	clock    SatHelper.ClockRecovery
	rrc      *dsp.FirFilter
	costas   dsp.CostasLoop
	levelled []complex64
	syncd    []complex64
	prev     complex64

	mtx     sync.Mutex
	symbols *ring.Buffer[byte]
}

func NewPSK(sampleRate, baud float64, conf config.DigitalConf) (*PSK, error) {
	if baud <= 0 || sampleRate < 4*baud {
		return nil, errors.Wrapf(config.ErrConfiguration, "%.2f Bd at %.0f Hz", baud, sampleRate)
	}
	p := &PSK{
		rate:     sampleRate,
		baud:     baud,
		sps:      float32(sampleRate / baud),
		levelled: make([]complex64, config.MaxMagBufSize),
		syncd:    make([]complex64, config.MaxMagBufSize),
		symbols:  ring.New[byte](config.MaxMagBufSize),
	}
	ntaps := int(p.sps*8) | 1
	log.Debugf("[demod] PSK %.2f Bd, %.1f samples per symbol, %d RRC taps", baud, p.sps, ntaps)

	p.agc = SatHelper.NewAGC(conf.AGCRate, conf.AGCReference, conf.AGCGain, conf.AGCMaxGain)
	p.clock = SatHelper.NewClockRecovery(p.sps, (conf.Alpha*conf.Alpha)/4.0, conf.Mu, conf.Alpha, conf.OmegaLimit)
	p.rrc = dsp.MakeFirFilter(dsp.MakeRRC(1, sampleRate, baud, conf.RRCAlpha, ntaps))
	p.costas = dsp.MakeCostasLoop2(conf.CostasBandwidth)
	return p, nil
}

func (p *PSK) OutputRate() float64 { return p.rate }

// ReadSymbols moves pending soft symbols into b. Each is an int8 carried in
// a byte; positive means no phase reversal.
func (p *PSK) ReadSymbols(b []byte) int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.symbols.Read(b)
}

// carrier runs one chunk through the chain and queues the symbols. The
// returned slice is the carrier corrected stream.
func (p *PSK) carrier(in []complex64) []complex64 {
	n := len(in)
	if n == 0 {
		return nil
	}
	levelled := p.levelled[:n]
	p.agc.Work(&in[0], &levelled[0], n)
	out := levelled[:p.rrc.WorkBuffer(levelled, levelled)]
	if len(out) == 0 {
		return out
	}
	p.costas.WorkBuffer(out, out)

	count := p.clock.Work(&out[0], &p.syncd[0], len(out))
	p.queue(p.syncd[:count])
	return out
}

func (p *PSK) queue(syncd []complex64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, s := range syncd {
		d := s * complex(real(p.prev), -imag(p.prev))
		norm := float32(math.Sqrt(float64(real(s)*real(s)+imag(s)*imag(s)) * float64(real(p.prev)*real(p.prev)+imag(p.prev)*imag(p.prev))))
		p.prev = s
		if norm == 0 {
			continue
		}
		sym := real(d) / norm * 127
		if sym > 127 {
			sym = 127
		} else if sym < -128 {
			sym = -128
		}
		p.symbols.Push(byte(int8(sym)))
	}
}

func (p *PSK) ProcessMono(in []complex64, out []float32) int {
	written := 0
	for pos := 0; pos < len(in) && written < len(out); pos += config.MaxMagBufSize {
		end := min(pos+config.MaxMagBufSize, len(in))
		for _, s := range p.carrier(in[pos:end]) {
			if written == len(out) {
				break
			}
			out[written] = real(s)
			written++
		}
	}
	return written
}

func (p *PSK) ProcessStereo(in []complex64, out []complex64) int {
	written := 0
	for pos := 0; pos < len(in) && written < len(out); pos += config.MaxMagBufSize {
		end := min(pos+config.MaxMagBufSize, len(in))
		written += copy(out[written:], p.carrier(in[pos:end]))
	}
	return written
}

// Close releases the native AGC and clock recovery.
func (p *PSK) Close() error {
	if p.agc != nil {
		SatHelper.DeleteAGC(p.agc)
		p.agc = nil
	}
	if p.clock != nil {
		SatHelper.DeleteClockRecovery(p.clock)
		p.clock = nil
	}
	return nil
}
