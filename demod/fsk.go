package demod

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/ring"
	"github.com/pkg/errors"
	"github.com/racerxdl/segdsp/dsp"
)

const fskClockGain = 0.1

// FSK slices a binary FSK signal into hard bits. Mark, the upper tone, is 1.
type FSK struct {
	rate     float64
	baud     float64
	disc     *dsp.QuadDemod
	lpf      *dsp.FloatFirFilter
	freq     []float32
	filtered []float32
	step     float64 // bit clock advance per sample
	phase    float64
	last     float32

	mtx     sync.Mutex
	symbols *ring.Buffer[byte]
}

func NewFSK(sampleRate, baud, shift float64) (*FSK, error) {
	if baud <= 0 || shift <= 0 || sampleRate < 4*baud || shift/2 >= sampleRate/2 {
		return nil, errors.Wrapf(config.ErrConfiguration, "%.0f Bd, %.0f Hz shift at %.0f Hz", baud, shift, sampleRate)
	}
	f := &FSK{
		rate:     sampleRate,
		baud:     baud,
		disc:     dsp.MakeQuadDemod(float32(sampleRate / (2 * math.Pi * shift / 2))),
		lpf:      dsp.MakeFloatFirFilter(dsp.MakeLowPass(1, sampleRate, baud, baud/2)),
		freq:     make([]float32, config.MaxMagBufSize),
		filtered: make([]float32, config.MaxMagBufSize),
		step:     baud / sampleRate,
		symbols:  ring.New[byte](config.MaxMagBufSize),
	}
	log.Debugf("[demod] FSK %.0f Bd, %.0f Hz shift, %.1f samples per bit", baud, shift, sampleRate/baud)
	return f, nil
}

func (f *FSK) OutputRate() float64 { return f.rate }

func (f *FSK) ReadSymbols(b []byte) int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.symbols.Read(b)
}

// clock samples bits at phase wrap. Zero crossings pull the phase toward the
// middle of the bit.
func (f *FSK) clock(filtered []float32) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, v := range filtered {
		if (v > 0) != (f.last > 0) {
			f.phase -= fskClockGain * (f.phase - 0.5)
		}
		f.last = v

		f.phase += f.step
		if f.phase >= 1 {
			f.phase -= 1
			var b byte
			if v > 0 {
				b = 1
			}
			f.symbols.Push(b)
		}
	}
}

// chunk fills f.freq with the discriminator output and runs the bit clock.
func (f *FSK) chunk(in []complex64) []float32 {
	freq := f.freq[:len(in)]
	f.disc.WorkBuffer(in, freq)
	n := f.lpf.WorkBuffer(freq, f.filtered[:len(in)])
	f.clock(f.filtered[:n])
	return freq
}

func (f *FSK) ProcessMono(in []complex64, out []float32) int {
	written := 0
	for pos := 0; pos < len(in) && written < len(out); pos += config.MaxMagBufSize {
		end := min(pos+config.MaxMagBufSize, len(in))
		for _, v := range f.chunk(in[pos:end]) {
			if written == len(out) {
				break
			}
			out[written] = clampf(v, 1)
			written++
		}
	}
	return written
}

func (f *FSK) ProcessStereo(in []complex64, out []complex64) int {
	written := 0
	for pos := 0; pos < len(in) && written < len(out); pos += config.MaxMagBufSize {
		end := min(pos+config.MaxMagBufSize, len(in))
		for _, v := range f.chunk(in[pos:end]) {
			if written == len(out) {
				break
			}
			v = clampf(v, 1)
			out[written] = complex(v, v)
			written++
		}
	}
	return written
}
