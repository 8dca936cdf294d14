// Package downconvert moves a sub-band of the input stream to 0 Hz and
// reduces the sample rate through a cascade of decimate-by-two low-pass stages.
package downconvert

import (
	"math"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/ring"
	"github.com/pkg/errors"
	"github.com/racerxdl/segdsp/dsp"
)

type DownConverter struct {
	inRate    float64
	bandwidth float64
	maxIn     int
	decim     int

	stages []*dsp.FirFilter
	nco    *NCO
	carry  *ring.Buffer[complex64]
	mixed  []complex64
	work   []complex64
}

// New builds the cascade for the given input rate so that the output rate is
// the lowest power-of-two division of inRate still at least twice bandwidth.
func New(inRate, bandwidth float64, maxIn int) (*DownConverter, error) {
	if inRate <= 0 || math.IsNaN(inRate) || math.IsInf(inRate, 0) {
		return nil, errors.Wrapf(config.ErrConfiguration, "input rate %f", inRate)
	}
	if bandwidth <= 0 {
		return nil, errors.Wrapf(config.ErrConfiguration, "bandwidth %f", bandwidth)
	}
	if maxIn <= 0 || maxIn > config.MaxInBufSize {
		return nil, errors.Wrapf(config.ErrConfiguration, "max block %d outside 1..%d", maxIn, config.MaxInBufSize)
	}

	k := 0
	for inRate/math.Pow(2, float64(k+1)) >= 2*bandwidth {
		k++
	}
	if k == 0 && inRate < 2*bandwidth {
		log.Warnf("[downconvert] Input rate %.0f is below twice the bandwidth %.0f, passing through undecimated", inRate, bandwidth)
	}

	d := &DownConverter{
		inRate:    inRate,
		bandwidth: bandwidth,
		maxIn:     maxIn,
		decim:     1 << k,
		nco:       NewNCO(0, inRate),
	}

	fin := inRate
	for j := 0; j < k; j++ {
		fo := fin / 2
		tw := math.Max(fo-2*bandwidth, 0.1*fo)
		taps := dsp.MakeLowPass(1, fin, fo/2, tw)
		log.Debugf("[downconvert] Stage %d: %.0f -> %.0f, %d taps", j, fin, fo, len(taps))
		d.stages = append(d.stages, dsp.MakeDecimationFirFilter(2, taps))
		fin = fo
	}

	d.carry = ring.New[complex64](maxIn + d.decim)
	d.mixed = make([]complex64, maxIn)
	d.work = make([]complex64, maxIn+d.decim)

	log.Debugf("[downconvert] %.0f Hz / %d = %.0f Hz for %.0f Hz bandwidth", inRate, d.decim, d.OutputRate(), bandwidth)
	return d, nil
}

func (d *DownConverter) OutputRate() float64 { return d.inRate / float64(d.decim) }
func (d *DownConverter) Decimation() int     { return d.decim }
func (d *DownConverter) MaxBlock() int       { return d.maxIn }

// MaxOutput is the largest count ProcessData can return for an n sample block.
func (d *DownConverter) MaxOutput(n int) int {
	return (d.carry.Len() + n) / d.decim
}

// CheckOffset rejects offsets whose band would fall past the input Nyquist edge.
func (d *DownConverter) CheckOffset(freq float64) error {
	if math.Abs(freq)+d.bandwidth/2 > d.inRate/2 {
		return errors.Wrapf(config.ErrConfiguration, "offset %.0f Hz outside +/-%.0f Hz", freq, d.inRate/2-d.bandwidth/2)
	}
	return nil
}

// ProcessData mixes in by freq, then decimates. Samples that do not fill a
// whole decimation period are held back for the next call.
func (d *DownConverter) ProcessData(in []complex64, freq float64, out []complex64) (int, error) {
	if len(in) > d.maxIn {
		return 0, errors.Wrapf(config.ErrCapacity, "block of %d exceeds %d", len(in), d.maxIn)
	}
	if want := d.MaxOutput(len(in)); len(out) < want {
		return 0, errors.Wrapf(config.ErrCapacity, "output holds %d, need %d", len(out), want)
	}

	if freq != d.nco.Frequency() {
		d.nco.SetFrequency(freq, d.inRate)
	}
	mixed := d.mixed[:len(in)]
	d.nco.Mix(in, mixed)

	if d.decim == 1 {
		return copy(out, mixed), nil
	}

	if err := d.carry.Write(mixed); err != nil {
		return 0, errors.Wrapf(config.ErrCapacity, "carry-over: %v", err)
	}
	n := (d.carry.Len() / d.decim) * d.decim
	if n == 0 {
		return 0, nil
	}
	x := d.work[:n]
	d.carry.Read(x)
	for _, s := range d.stages {
		x = x[:s.WorkBuffer(x, x)]
	}
	return copy(out, x), nil
}

// Reset drops held samples. The filter histories are kept.
func (d *DownConverter) Reset() {
	d.carry.Reset()
	d.nco.Reset()
}
