package demod

import (
	"errors"
	"io"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/jrwynneiii/rxdsp/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crossings counts rising zero crossings.
func crossings(s []float32) int {
	n := 0
	for i := 1; i < len(s); i++ {
		if s[i-1] < 0 && s[i] >= 0 {
			n++
		}
	}
	return n
}

func peakAbs(s []float32) float64 {
	var p float64
	for _, v := range s {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return p
}

func noise(rng *rand.Rand, n int) []complex64 {
	s := make([]complex64, n)
	for i := range s {
		s[i] = complex(float32(rng.NormFloat64()), float32(rng.NormFloat64()))
	}
	return s
}

// fmSignal frequency modulates mod (in Hz of deviation per sample) onto a
// unit carrier.
func fmSignal(mod []float64, rate float64) []complex64 {
	s := make([]complex64, len(mod))
	var phase float64
	for i, f := range mod {
		phase += 2 * math.Pi * f / rate
		s[i] = complex64(cmplx.Rect(1, phase))
	}
	return s
}

func TestNewBuildsEveryMode(t *testing.T) {
	modes := config.DefaultModes()
	opts := DefaultOptions()
	for m := config.Mode(0); m < config.NumModes; m++ {
		rate := 12000.0
		if m == config.WFM {
			rate = 240000
		}
		d, err := New(m, rate, modes[m], opts)
		require.NoError(t, err, "mode %s", m)

		in := noise(rand.New(rand.NewSource(int64(m))), 4096)
		mono := make([]float32, len(in))
		stereo := make([]complex64, len(in))
		n := d.ProcessMono(in, mono)
		assert.LessOrEqual(t, n, len(in))
		if !m.IsDigital() && m != config.WFM {
			assert.Equal(t, len(in), n, "mode %s", m)
		}
		assert.LessOrEqual(t, d.ProcessStereo(in, stereo), len(in))

		switch m {
		case config.SAM:
			assert.Implements(t, (*LockReporter)(nil), d)
		case config.FM:
			assert.Implements(t, (*Squelcher)(nil), d)
		case config.WFM:
			assert.Implements(t, (*StereoReporter)(nil), d)
			assert.Implements(t, (*GroupSource)(nil), d)
		case config.PSK, config.FSK:
			assert.Implements(t, (*SymbolSource)(nil), d)
		}
		if c, ok := d.(io.Closer); ok {
			assert.NoError(t, c.Close())
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	modes := config.DefaultModes()
	_, err := New(config.Mode(12), 12000, modes[0], DefaultOptions())
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	_, err = New(config.AM, 0, modes[config.AM], DefaultOptions())
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	opts := DefaultOptions()
	opts.PskMode = 3
	_, err = New(config.PSK, 12000, modes[config.PSK], opts)
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	_, err = New(config.WFM, 20000, modes[config.WFM], DefaultOptions())
	assert.True(t, errors.Is(err, config.ErrConfiguration))
}

func TestAMRecoversToneAndDepth(t *testing.T) {
	const rate = 48000.0
	in := make([]complex64, int(rate))
	for i := range in {
		a := 1 + 0.3*math.Cos(2*math.Pi*1000*float64(i)/rate)
		in[i] = complex64(cmplx.Rect(a, 0.7))
	}
	am := NewAM(rate)
	out := make([]float32, len(in))
	require.Equal(t, len(in), am.ProcessMono(in, out))

	settled := out[len(out)/2:]
	freq := float64(crossings(settled)) / 0.5
	assert.InDelta(t, 1000, freq, 10)
	assert.InDelta(t, 0.3, peakAbs(settled), 0.3*0.05)
}

func TestSAMLocksOnOffsetCarrier(t *testing.T) {
	const rate = 12000.0
	s := NewSAM(rate)
	in := make([]complex64, int(rate))
	for i := range in {
		in[i] = complex64(cmplx.Rect(0.5, 2*math.Pi*200*float64(i)/rate))
	}
	out := make([]float32, len(in))
	s.ProcessMono(in, out)

	assert.True(t, s.Locked())
	assert.InDelta(t, 200, s.Frequency(), 1)
	assert.Less(t, math.Abs(s.lastErr), 0.05)
}

func TestSAMReacquiresAfterDropout(t *testing.T) {
	const rate = 12000.0
	s := NewSAM(rate)
	rng := rand.New(rand.NewSource(7))
	n := 0
	carrier := func(d float64) []complex64 {
		c := make([]complex64, int(d*rate))
		for i := range c {
			c[i] = complex64(cmplx.Rect(1, 2*math.Pi*200*float64(n)/rate))
			n++
		}
		return c
	}
	out := make([]float32, int(3*rate))

	s.ProcessMono(carrier(1), out)
	require.True(t, s.Locked())

	dropout := noise(rng, int(0.2*rate))
	n += len(dropout)
	s.ProcessMono(dropout, out)
	assert.False(t, s.Locked())

	s.ProcessMono(carrier(3), out)
	assert.True(t, s.Locked())
}

func TestSAMNoiseIsNotAnError(t *testing.T) {
	s := NewSAM(12000)
	in := noise(rand.New(rand.NewSource(1)), 12000)
	out := make([]float32, len(in))
	assert.Equal(t, len(in), s.ProcessMono(in, out))
	assert.False(t, s.Locked())
	for _, v := range out {
		require.False(t, math.IsNaN(float64(v)))
	}
}

func TestFMRecoversTone(t *testing.T) {
	const rate = 24000.0
	conf := config.DefaultModes()[config.FM]
	require.Equal(t, 5000, conf.HiCut)

	mod := make([]float64, int(rate))
	for i := range mod {
		mod[i] = 2500 * math.Sin(2*math.Pi*1000*float64(i)/rate)
	}
	f := NewFM(rate, conf, 0)
	out := make([]float32, len(mod))
	f.ProcessMono(fmSignal(mod, rate), out)

	assert.False(t, f.Squelched())
	settled := out[len(out)/2:]
	assert.InDelta(t, 1000, float64(crossings(settled))/0.5, 10)
	assert.InDelta(t, 0.5, peakAbs(settled), 0.05)
}

func TestFMSquelch(t *testing.T) {
	const rate = 24000.0
	conf := config.DefaultModes()[config.FM]
	conf.SquelchValue = -20
	f := NewFM(rate, conf, 0)

	weak := make([]complex64, 2400)
	for i := range weak {
		weak[i] = complex64(cmplx.Rect(0.01, 0.3*float64(i)))
	}
	out := make([]float32, len(weak))
	f.ProcessMono(weak, out)
	assert.True(t, f.Squelched())
	assert.Zero(t, peakAbs(out))

	strong := make([]complex64, 2400)
	for i := range strong {
		strong[i] = complex64(cmplx.Rect(1, 0.3*float64(i)))
	}
	f.ProcessMono(strong, out)
	assert.False(t, f.Squelched())

	// inside the hysteresis band the state holds
	mid := make([]complex64, 2400)
	for i := range mid {
		mid[i] = complex64(cmplx.Rect(0.095, 0.3*float64(i)))
	}
	f.ProcessMono(mid, out)
	assert.False(t, f.Squelched())
}

// stereoMPX builds a broadcast multiplex: L on 1 kHz, R silent, 10% pilot.
// Pilot and stereo subcarrier are both sine phase, as transmitters send them.
func stereoMPX(rate float64, n int, pilot bool) []float64 {
	mpx := make([]float64, n)
	for i := range mpx {
		tm := float64(i) / rate
		l := math.Sin(2 * math.Pi * 1000 * tm)
		r := 0.0
		th := 2 * math.Pi * 19000 * tm
		mpx[i] = 0.9 * ((l+r)/2 + (l-r)/2*math.Sin(2*th))
		if pilot {
			mpx[i] += 0.1 * math.Sin(th)
		}
		mpx[i] *= wfmDeviation
	}
	return mpx
}

func TestWFMPilotLockAndSeparation(t *testing.T) {
	const rate = 240000.0
	w, err := NewWFM(rate, true, config.DefaultDigital())
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, 48000.0, w.OutputRate())

	in := fmSignal(stereoMPX(rate, int(rate), true), rate)
	out := make([]complex64, len(in))
	n := w.ProcessStereo(in, out)
	assert.InDelta(t, len(in)/5, n, 1)

	locked, changed := w.StereoLock()
	assert.True(t, locked)
	assert.True(t, changed)
	locked, changed = w.StereoLock()
	assert.True(t, locked)
	assert.False(t, changed)

	var pl, pr float64
	for _, v := range out[n/2 : n] {
		pl = math.Max(pl, math.Abs(float64(real(v))))
		pr = math.Max(pr, math.Abs(float64(imag(v))))
	}
	assert.Greater(t, pl, 0.6)
	assert.Less(t, pr, 0.2*pl)
}

func TestWFMNoPilotStaysMono(t *testing.T) {
	const rate = 240000.0
	w, err := NewWFM(rate, false, config.DefaultDigital())
	require.NoError(t, err)
	defer w.Close()

	in := fmSignal(stereoMPX(rate, int(rate/2), false), rate)
	out := make([]float32, len(in))
	n := w.ProcessMono(in, out)
	assert.Greater(t, n, 0)
	locked, _ := w.StereoLock()
	assert.False(t, locked)
}

func rdsBits(groups []RdsGroup) []byte {
	var bits []byte
	for _, g := range groups {
		for i, data := range []uint16{g.BlockA, g.BlockB, g.BlockC, g.BlockD} {
			block := rdsEncode(data, rdsOffsets[i])
			for b := rdsBlockBits - 1; b >= 0; b-- {
				bits = append(bits, byte(block>>b)&1)
			}
		}
	}
	return bits
}

func TestRdsSyndromeOfEncodedBlocks(t *testing.T) {
	for _, o := range rdsOffsets {
		assert.Equal(t, o, rdsSyndrome(rdsEncode(0x1234, o)))
	}
	assert.Equal(t, uint16(rdsOffsetCPrime), rdsSyndrome(rdsEncode(0xBEEF, rdsOffsetCPrime)))
	assert.Equal(t, 2, rdsOffsetIndex(rdsOffsetCPrime))
	assert.Equal(t, -1, rdsOffsetIndex(0x3FF))
}

func TestRdsBlockSync(t *testing.T) {
	want := []RdsGroup{
		{0x54A8, 0x0408, 0xE0CD, 0x5241},
		{0x54A8, 0x0409, 0xE0CD, 0x4449},
		{0x54A8, 0x040A, 0xE0CD, 0x4F20},
		{0x54A8, 0x040F, 0xE0CD, 0x3120},
		{0x54A8, 0x2000, 0x4E4F, 0x5720},
	}
	var got []RdsGroup
	s := newRdsSync(func(g RdsGroup) { got = append(got, g) })

	for _, b := range []byte{1, 0, 1, 1, 0, 0, 1} {
		s.bit(b)
	}
	for _, b := range rdsBits(want) {
		s.bit(b)
	}
	require.True(t, s.synced)
	assert.Equal(t, want, got)

	// garbage loses sync and reports it with an empty group
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2000 && s.synced; i++ {
		s.bit(byte(rng.Intn(2)))
	}
	require.False(t, s.synced)
	assert.Equal(t, RdsGroup{}, got[len(got)-1])
}

func TestRdsGroupQueueIsBounded(t *testing.T) {
	r := newRdsDecoder(240000, config.DefaultDigital())
	defer r.close()
	for i := 0; i < rdsQueueSize+10; i++ {
		r.push(RdsGroup{BlockA: uint16(i + 1)})
	}
	g, ok := r.next()
	require.True(t, ok)
	assert.Equal(t, uint16(11), g.BlockA)
	n := 1
	for _, ok := r.next(); ok; _, ok = r.next() {
		n++
	}
	assert.Equal(t, rdsQueueSize, n)
}

func TestFSKRecoversBits(t *testing.T) {
	const rate = 3000.0
	f, err := NewFSK(rate, 100, 170)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	tx := make([]byte, 400)
	mod := make([]float64, 0, len(tx)*30)
	for i := range tx {
		tx[i] = byte(rng.Intn(2))
		dev := -85.0
		if tx[i] == 1 {
			dev = 85
		}
		for k := 0; k < 30; k++ {
			mod = append(mod, dev)
		}
	}
	out := make([]float32, len(mod))
	f.ProcessMono(fmSignal(mod, rate), out)

	rx := make([]byte, 1000)
	n := f.ReadSymbols(rx)
	rx = rx[:n]
	assert.InDelta(t, len(tx), n, 5)

	// the middle of the message must appear intact somewhere in the output
	mid := tx[100:300]
	found := false
	for off := 0; off+len(mid) <= len(rx); off++ {
		match := true
		for i := range mid {
			if rx[off+i] != mid[i] {
				match = false
				break
			}
		}
		if match {
			found = true
			break
		}
	}
	assert.True(t, found, "transmitted bits not found in %v", rx)
}

func TestPSKProducesSymbolsAtBaudRate(t *testing.T) {
	const rate = 3000.0
	p, err := NewPSK(rate, PskBaud[0], config.DefaultDigital())
	require.NoError(t, err)
	defer p.Close()

	rng := rand.New(rand.NewSource(5))
	sps := int(rate / PskBaud[0])
	in := make([]complex64, 0, 200*sps)
	phase := 1.0
	for k := 0; k < 200; k++ {
		if rng.Intn(2) == 0 {
			phase = -phase
		}
		for i := 0; i < sps; i++ {
			in = append(in, complex(float32(phase), 0))
		}
	}
	out := make([]float32, len(in))
	assert.Equal(t, len(in), p.ProcessMono(in, out))

	syms := make([]byte, 1000)
	n := p.ReadSymbols(syms)
	assert.InDelta(t, 200, n, 20)
}

func TestPSKSymbolsFollowPhaseReversals(t *testing.T) {
	const rate = 3000.0
	p, err := NewPSK(rate, PskBaud[0], config.DefaultDigital())
	require.NoError(t, err)
	defer p.Close()

	rng := rand.New(rand.NewSource(8))
	sps := int(rate / PskBaud[0])
	const nsym = 200
	reversal := make([]bool, nsym)
	// half a symbol of lead-in keeps the clock sampling away from the edges
	in := make([]complex64, 0, nsym*sps+sps/2)
	for i := 0; i < sps/2; i++ {
		in = append(in, 1)
	}
	phase := float32(1)
	for k := 0; k < nsym; k++ {
		if k > 0 && rng.Intn(2) == 0 {
			phase = -phase
			reversal[k] = true
		}
		for i := 0; i < sps; i++ {
			in = append(in, complex(phase, 0))
		}
	}
	out := make([]float32, len(in))
	p.ProcessMono(in, out)

	syms := make([]byte, 1000)
	syms = syms[:p.ReadSymbols(syms)]
	require.Greater(t, len(syms), 160)

	want := reversal[50:150]
	best := 0
	for off := 0; off+len(want) <= len(syms); off++ {
		match := 0
		for i, rev := range want {
			if (int8(syms[off+i]) < 0) == rev {
				match++
			}
		}
		best = max(best, match)
	}
	assert.GreaterOrEqual(t, best, 95)
}

// rdsSubcarrier renders groups as the 57 kHz data signal already mixed to
// 0 Hz: differentially encoded, biphase chips, with a static carrier phase.
func rdsSubcarrier(groups []RdsGroup, rate, phase float64) []complex64 {
	rot := complex64(cmplx.Rect(1, phase))
	chip := rate / rdsHalfSymbolRate
	var sig []complex64
	var enc byte
	pos := 0.0
	emit := func(v float32) {
		pos += chip
		for float64(len(sig)) < pos {
			sig = append(sig, complex(v, 0)*rot)
		}
	}
	for _, b := range rdsBits(groups) {
		enc ^= b
		if enc == 1 {
			emit(1)
			emit(-1)
		} else {
			emit(-1)
			emit(1)
		}
	}
	return sig
}

func TestRdsDecoderRecoversGroupsFromSubcarrier(t *testing.T) {
	const rate = 76000.0
	r := newRdsDecoder(rate, config.DefaultDigital())
	defer r.close()

	want := make([]RdsGroup, 60)
	for i := range want {
		want[i] = RdsGroup{0x54A8, 0x0400 | uint16(i), 0xE0CD, 0x2000 + uint16(i)}
	}
	sig := rdsSubcarrier(want, rate, 0.7)
	for pos := 0; pos < len(sig); pos += 5000 {
		r.process(sig[pos:min(pos+5000, len(sig))])
	}

	var got []int
	for g, ok := r.next(); ok; g, ok = r.next() {
		if g == (RdsGroup{}) {
			continue
		}
		require.Equal(t, uint16(0x54A8), g.BlockA)
		i := int(g.BlockB & 0xFF)
		require.Less(t, i, len(want))
		require.Equal(t, want[i], g)
		got = append(got, i)
	}
	assert.GreaterOrEqual(t, len(got), 40)
	assert.IsIncreasing(t, got)
}
