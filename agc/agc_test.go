package agc

import (
	"math"
	"testing"

	"github.com/jrwynneiii/rxdsp/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const rate = 48000.0

func sine(amp float64, n, start int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(amp * math.Sin(2*math.Pi*1000*float64(start+i)/rate))
	}
	return s
}

func peak(s []float32) float64 {
	var p float64
	for _, v := range s {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return p
}

func defaultParams() Params {
	return Params{On: true, Threshold: -100, ManualGain: 30, Decay: 200}
}

func TestParamsFromModeConfig(t *testing.T) {
	usb := config.DefaultModes()[config.USB]
	usb.AgcSlope = 6
	usb.AgcHangOn = true
	p := ParamsFrom(usb)
	assert.True(t, p.On)
	assert.True(t, p.HangOn)
	assert.Equal(t, -100.0, p.Threshold)
	assert.Equal(t, 6.0, p.Slope)
	assert.Equal(t, 200.0, p.Decay)
}

func TestStepResponseSettlesWithinDecay(t *testing.T) {
	p := defaultParams()
	a := New(rate, p)
	step := int(rate) / 2
	settle := int(p.Decay/1000*rate) + int(LookAhead*rate)
	window := int(0.02 * rate)

	var out []float32
	amps := []float64{0.1, 10, 0.1}
	for k, amp := range amps {
		buf := sine(amp, step, k*step)
		a.ProcessData(buf)
		out = append(out, buf...)
	}

	assert.LessOrEqual(t, peak(out), Ceiling)
	for k := range amps {
		start := k*step + settle
		got := peak(out[start : start+window])
		assert.InDelta(t, Target, got, 0.1*Target, "segment %d", k)
	}
}

func TestOutputNeverExceedsCeiling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Params{
			On:         rapid.Bool().Draw(t, "on"),
			HangOn:     rapid.Bool().Draw(t, "hang"),
			Threshold:  rapid.Float64Range(-140, -20).Draw(t, "threshold"),
			Slope:      rapid.Float64Range(0, 10).Draw(t, "slope"),
			ManualGain: rapid.Float64Range(0, 100).Draw(t, "manual"),
			Decay:      rapid.Float64Range(20, 5000).Draw(t, "decay"),
		}
		a := New(12000, p)
		buf := make([]float32, 200)
		for i := range buf {
			buf[i] = float32(rapid.Float64Range(-50, 50).Draw(t, "x"))
		}
		a.ProcessData(buf)
		for i, v := range buf {
			if v > Ceiling || v < -Ceiling || math.IsNaN(float64(v)) {
				t.Fatalf("sample %d = %f", i, v)
			}
		}
	})
}

func TestManualGainWhenOff(t *testing.T) {
	a := New(rate, Params{ManualGain: 20})
	buf := []float32{0.01, -0.02, 0.5}
	a.ProcessData(buf)
	assert.InDelta(t, 0.1, buf[0], 1e-6)
	assert.InDelta(t, -0.2, buf[1], 1e-6)
	assert.Equal(t, float32(Ceiling), buf[2])

	st := []complex64{complex(0.01, -0.03)}
	a.ProcessStereo(st)
	assert.InDelta(t, 0.1, real(st[0]), 1e-6)
	assert.InDelta(t, -0.3, imag(st[0]), 1e-6)
}

func TestGainHeldBelowThreshold(t *testing.T) {
	a := New(rate, Params{On: true, Threshold: -40, Decay: 100})
	// -60 dB tone, under the threshold: gain is pinned at target/threshold
	buf := sine(0.001, int(rate), 0)
	a.ProcessData(buf)
	want := Target / math.Pow(10, -40.0/20) * 0.001
	assert.InDelta(t, want, peak(buf[len(buf)/2:]), want*0.05)
}

func TestHangDelaysDecay(t *testing.T) {
	p := defaultParams()
	p.HangOn = true
	withHang := New(rate, p)
	p.HangOn = false
	noHang := New(rate, p)

	for _, a := range []*AGC{withHang, noHang} {
		a.ProcessData(sine(1, int(rate)/4, 0))
	}
	quiet := int(0.1 * rate)
	a := sine(0.1, quiet, 0)
	b := sine(0.1, quiet, 0)
	withHang.ProcessData(a)
	noHang.ProcessData(b)

	// 100 ms after the drop the hanging AGC has not recovered any gain yet
	assert.InDelta(t, 0.05, peak(a[quiet-1000:]), 0.005)
	assert.Greater(t, peak(b[quiet-1000:]), 0.1)
}

func TestStereoSharesGain(t *testing.T) {
	a := New(rate, defaultParams())
	l := sine(1, int(rate)/2, 0)
	buf := make([]complex64, len(l))
	for i, v := range l {
		buf[i] = complex(v, v/2)
	}
	a.ProcessStereo(buf)
	tail := buf[len(buf)/2:]
	var pl, pr float64
	for _, v := range tail {
		pl = math.Max(pl, math.Abs(float64(real(v))))
		pr = math.Max(pr, math.Abs(float64(imag(v))))
	}
	assert.InDelta(t, Target, pl, 0.02)
	assert.InDelta(t, Target/2, pr, 0.02)
}

func TestWindowMax(t *testing.T) {
	w := newWindowMax(3)
	vals := []float32{1, 5, 2, 2, 1, 0, 7}
	want := []float32{1, 5, 5, 5, 2, 2, 7}
	for i, v := range vals {
		require.Equal(t, want[i], w.push(i+1, v), "step %d", i)
	}
}
