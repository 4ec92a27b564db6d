package sitor

import (
	"log"
	"math"
)

// bitClock recovers the 100 baud bit timing with a three tap
// multicorrelator. The soft bit value is integrated into early, prompt and
// late accumulators whose windows close 1/5 of a bit apart; comparing the
// averaged magnitudes at the three closing instants shows which way the
// sampling phase has drifted without relying on noisy null crossings.
//
// Event times are kept as float64 sample indices. At 11025 Hz a bit is
// 110.25 samples long; rounding that to an integer would make the clock
// chase the signal and drop a bit every few seconds.
type bitClock struct {
	bitSamples float64
	reverse    bool

	earlyAcc  float64
	promptAcc float64
	lateAcc   float64

	nextEarly  float64
	nextPrompt float64
	nextLate   float64

	avgEarly  float64
	avgPrompt float64
	avgLate   float64

	sampleCount int

	// set by accumulate when the prompt window closed this sample
	pulseEdge bool
	markState int
}

func newBitClock(bitSamples float64, reverse bool) *bitClock {
	// A narrower spread between the taps centers on the pulses better,
	// but a wider spread is more robust in noise. 1/5 works.
	return &bitClock{
		bitSamples: bitSamples,
		reverse:    reverse,
		nextEarly:  0,
		nextPrompt: bitSamples / 5,
		nextLate:   bitSamples * 2 / 5,
	}
}

// adjust corrects the sampling phase once every 8 bit periods. The usual
// correction is a small proportional step from the early/late imbalance;
// when the prompt tap turns out to be sitting in a signal minimum the clock
// has slipped half a bit and jumps straight to the stronger neighbour.
func (b *bitClock) adjust() {
	if b.sampleCount%int(b.bitSamples*8) != 0 {
		return
	}

	slope := b.avgLate - b.avgEarly

	if b.avgPrompt*1.05 < b.avgEarly && b.avgPrompt*1.05 < b.avgLate {
		// At a signal minimum. Get out quickly.
		if b.avgEarly > b.avgLate {
			// move prompt to where early is
			slope = b.nextEarly - b.nextPrompt
			slope = math.Mod(slope-b.bitSamples, b.bitSamples)
			b.avgLate = b.avgPrompt
			b.avgPrompt = b.avgEarly
		} else {
			// move prompt to where late is
			slope = b.nextLate - b.nextPrompt
			slope = math.Mod(slope+b.bitSamples, b.bitSamples)
			b.avgEarly = b.avgPrompt
			b.avgPrompt = b.avgLate
		}
	} else {
		slope /= 1024
	}

	if slope != 0 {
		b.nextEarly += slope
		b.nextPrompt += slope
		b.nextLate += slope
		if Debug {
			log.Printf("[SITOR] bit clock adjust %1.2f, early %1.1f, prompt %1.1f, late %1.1f",
				slope, b.avgEarly, b.avgPrompt, b.avgLate)
		}
	}
}

// accumulate integrates one soft bit value and closes whichever tap windows
// are due. It reports whether the prompt window closed (a bit decision is
// ready in markState).
func (b *bitClock) accumulate(soft int) bool {
	b.earlyAcc += float64(soft)
	b.promptAcc += float64(soft)
	b.lateAcc += float64(soft)

	sc := float64(b.sampleCount)

	if sc >= b.nextEarly {
		b.avgEarly = decayavg(b.avgEarly, math.Abs(b.earlyAcc), 64)
		b.nextEarly += b.bitSamples
		b.earlyAcc = 0
	}

	if sc >= b.nextLate {
		b.avgLate = decayavg(b.avgLate, math.Abs(b.lateAcc), 64)
		b.nextLate += b.bitSamples
		b.lateAcc = 0
	}

	// the end of a signal pulse: the accumulator should be at maximum
	// deviation here
	b.pulseEdge = sc >= b.nextPrompt
	if b.pulseEdge {
		b.avgPrompt = decayavg(b.avgPrompt, math.Abs(b.promptAcc), 64)
		b.nextPrompt += b.bitSamples
		b.markState = int(b.promptAcc)
		if b.reverse {
			b.markState = -b.markState
		}
		b.promptAcc = 0
	}

	b.sampleCount++
	return b.pulseEdge
}
