package sitor

import "math"

// mixer is a numerically controlled oscillator that shifts one tone down to
// baseband. The phase is wrapped to keep it from drifting off into large
// float territory on long streams.
type mixer struct {
	phase      float64
	freq       float64
	sampleRate float64
}

func (m *mixer) mix(in complex128) complex128 {
	z := complex(math.Cos(m.phase), math.Sin(m.phase)) * in

	m.phase -= 2 * math.Pi * m.freq / m.sampleRate
	if m.phase < -2*math.Pi {
		m.phase += 2 * math.Pi
	}

	return z
}
