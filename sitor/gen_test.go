package sitor

import (
	"math"
	"math/rand"
)

// Test-only SITOR-B modulator. A broadcast interleaves two streams: each
// character goes out first in the DX slot and again, five character slots
// (35 bits) later, in the RX slot. The decoder locks onto the later copy,
// so the earlier one is the rep. Phasing periods send rep in DX and alpha
// in RX.
type sitorbGen struct {
	table      *CCIR476
	sampleRate float64
	baud       float64
	markFreq   float64
	spaceFreq  float64
	amplitude  float64

	bits  []int
	phase float64
}

func newSitorbGen(sampleRate float64) *sitorbGen {
	return &sitorbGen{
		table:      NewCCIR476(),
		sampleRate: sampleRate,
		baud:       100,
		markFreq:   1085,
		spaceFreq:  915,
		amplitude:  0.5,
	}
}

func (g *sitorbGen) appendCode(code int) {
	for i := 0; i < 7; i++ {
		g.bits = append(g.bits, (code>>i)&1)
	}
}

// appendPhasing emits n rep/alpha slot pairs.
func (g *sitorbGen) appendPhasing(n int) {
	for i := 0; i < n; i++ {
		g.appendCode(codeRep)
		g.appendCode(codeAlpha)
	}
}

// appendText encodes text and interleaves it DX/RX with the rep copy 35
// bits ahead of the alpha copy, padding the tail with phasing.
func (g *sitorbGen) appendText(text string) {
	var codes []int
	shift := false
	for _, ch := range text {
		codes = g.table.AppendCode(codes, ch, &shift)
	}

	// Character j rides in the DX slot of pair j and again in the RX slot
	// of pair j+2; the two copies are 5 slots (35 bits) apart on air.
	for k := 0; k < len(codes)+2; k++ {
		if k < len(codes) {
			g.appendCode(codes[k])
		} else {
			g.appendCode(codeRep)
		}
		if k-2 >= 0 && k-2 < len(codes) {
			g.appendCode(codes[k-2])
		} else {
			g.appendCode(codeAlpha)
		}
	}
}

// samples renders the bit stream as continuous-phase FSK. Bit boundaries
// fall on fractional sample indices, as they do on air.
func (g *sitorbGen) samples() []float64 {
	n := int(float64(len(g.bits)) * g.sampleRate / g.baud)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bit := int(float64(i) * g.baud / g.sampleRate)
		if bit >= len(g.bits) {
			bit = len(g.bits) - 1
		}
		f := g.spaceFreq
		if g.bits[bit] == 1 {
			f = g.markFreq
		}
		g.phase += 2 * math.Pi * f / g.sampleRate
		out[i] = g.amplitude * math.Sin(g.phase)
	}
	g.bits = g.bits[:0]
	return out
}

func silence(sampleRate, seconds float64) []float64 {
	return make([]float64, int(sampleRate*seconds))
}

func addNoise(samples []float64, sigma float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s + sigma*rng.NormFloat64()
	}
	return out
}

// addImpulses replaces the given fraction of samples with full-scale spikes.
func addImpulses(samples []float64, fraction float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := append([]float64(nil), samples...)
	for i := range out {
		if rng.Float64() < fraction {
			if rng.Intn(2) == 0 {
				out[i] = 1
			} else {
				out[i] = -1
			}
		}
	}
	return out
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// standard test transmission: phasing, the message, trailing phasing to
// push everything through the one-second bit FIFO
func testTransmission(sampleRate float64, text string) []float64 {
	g := newSitorbGen(sampleRate)
	g.appendPhasing(40)
	g.appendText(text)
	g.appendPhasing(30)
	return g.samples()
}
