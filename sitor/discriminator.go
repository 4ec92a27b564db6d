package sitor

import "math"

// decayavg is a single-pole IIR average. It returns the new average; the
// caller must assign the result back.
func decayavg(avg, value, weight float64) float64 {
	if weight <= 1 {
		return value
	}
	return avg + (value-avg)/weight
}

// discriminator turns the magnitudes of the filtered mark and space tones
// into a signed soft bit, using W7AY's automatic threshold correction
// (http://www.w7ay.net/site/Technical/ATC/). Envelope and noise trackers
// follow the signal so the decision threshold stays unbiased as conditions
// change.
type discriminator struct {
	bitSamples float64

	markEnv    float64
	markNoise  float64
	spaceEnv   float64
	spaceNoise float64
}

// envelopeDecay tracks the signal envelope: fast attack, slow decay.
func (d *discriminator) envelopeDecay(avg, value float64) float64 {
	var divisor float64
	if value > avg {
		divisor = d.bitSamples / 4
	} else {
		divisor = d.bitSamples * 16
	}
	return decayavg(avg, value, divisor)
}

// noiseDecay tracks the noise floor: fast down, slow up.
func (d *discriminator) noiseDecay(avg, value float64) float64 {
	var divisor float64
	if value < avg {
		divisor = d.bitSamples / 4
	} else {
		divisor = d.bitSamples * 48
	}
	return decayavg(avg, value, divisor)
}

// process consumes one filtered sample pair and returns the soft bit:
// positive for mark, negative for space, magnitude log-compressed so the
// bit clock and FEC see how confident each sample was.
func (d *discriminator) process(markAbs, spaceAbs float64) int {
	d.markEnv = d.envelopeDecay(d.markEnv, markAbs)
	d.markNoise = d.noiseDecay(d.markNoise, markAbs)

	d.spaceEnv = d.envelopeDecay(d.spaceEnv, spaceAbs)
	d.spaceNoise = d.noiseDecay(d.spaceNoise, spaceAbs)

	noiseFloor := (d.spaceNoise + d.markNoise) / 2

	// clip mark & space to envelope & floor
	markAbs = math.Min(markAbs, d.markEnv)
	markAbs = math.Max(markAbs, noiseFloor)

	spaceAbs = math.Min(spaceAbs, d.spaceEnv)
	spaceAbs = math.Max(spaceAbs, noiseFloor)

	logicLevel := (markAbs-noiseFloor)*(d.markEnv-noiseFloor) -
		(spaceAbs-noiseFloor)*(d.spaceEnv-noiseFloor) -
		0.5*((d.markEnv-noiseFloor)*(d.markEnv-noiseFloor)-
			(d.spaceEnv-noiseFloor)*(d.spaceEnv-noiseFloor))

	markState := int(math.Log(1 + math.Abs(logicLevel)))
	if logicLevel < 0 {
		markState = -markState
	}
	return markState
}
