package demod

// SSB passes the channel filter output through. The sideband and the CW
// offset are already selected by the filter edges.
type SSB struct {
	rate float64
}

func NewSSB(sampleRate float64) *SSB {
	return &SSB{rate: sampleRate}
}

func (s *SSB) OutputRate() float64 { return s.rate }

func (s *SSB) ProcessMono(in []complex64, out []float32) int {
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		out[i] = real(in[i])
	}
	return n
}

func (s *SSB) ProcessStereo(in []complex64, out []complex64) int {
	return copy(out, in)
}
