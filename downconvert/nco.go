package downconvert

import "math"

// NCO is a numerically controlled oscillator. The phase is kept in float64
// radians and wrapped into [-pi, pi) on every sample so long runs do not lose
// precision.
type NCO struct {
	phase float64
	step  float64
	freq  float64
	rate  float64
}

func NewNCO(freq, sampleRate float64) *NCO {
	n := &NCO{}
	n.SetFrequency(freq, sampleRate)
	return n
}

// SetFrequency changes the rotation rate without disturbing the phase.
func (n *NCO) SetFrequency(freq, sampleRate float64) {
	n.freq = freq
	n.rate = sampleRate
	if sampleRate > 0 {
		n.step = 2 * math.Pi * freq / sampleRate
	} else {
		n.step = 0
	}
}

func (n *NCO) Frequency() float64 { return n.freq }
func (n *NCO) Phase() float64     { return n.phase }

func (n *NCO) Reset() { n.phase = 0 }

func wrapPhase(p float64) float64 {
	if p >= math.Pi || p < -math.Pi {
		p = math.Mod(p+math.Pi, 2*math.Pi)
		if p < 0 {
			p += 2 * math.Pi
		}
		p -= math.Pi
	}
	return p
}

// Mix writes in[i]*exp(j*phase) into out and advances the phase. in and out
// may alias.
func (n *NCO) Mix(in, out []complex64) {
	for i, s := range in {
		sin, cos := math.Sincos(n.phase)
		out[i] = s * complex(float32(cos), float32(sin))
		n.phase = wrapPhase(n.phase + n.step)
	}
}
