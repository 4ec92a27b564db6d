package sitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// combinerHarness plants an alpha/rep pair in a fresh bit FIFO and runs the
// FEC combiner on it.
type combinerHarness struct {
	fs      *frameSync
	emitted []rune
}

func newCombinerHarness() *combinerHarness {
	h := &combinerHarness{}
	h.fs = newFrameSync(NewCCIR476(), 100, 5, func(ch rune) {
		h.emitted = append(h.emitted, ch)
	})
	return h
}

// plant writes soft bits for alpha at cursor and rep 35 bits earlier.
// flipped bit positions get their sign inverted with a smaller magnitude,
// so they are the least confident bits of the character.
func (h *combinerHarness) plant(cursor, alpha, rep int, alphaFlip, repFlip int) {
	for i := range h.fs.bits {
		h.fs.bits[i] = 0
	}
	writeSoft(h.fs.bits[cursor:], alpha, alphaFlip)
	writeSoft(h.fs.bits[fecOffset(cursor):], rep, repFlip)
}

func writeSoft(dst []int, code int, flip int) {
	for i := 0; i < 7; i++ {
		v := 8
		if (code>>i)&1 == 0 {
			v = -8
		}
		if i == flip {
			v = -v / 2
		}
		dst[i] = v
	}
}

// information codes: valid code words that are not shifts or phasing
func informationCodes(t *testing.T) []int {
	t.Helper()
	var codes []int
	for v := 0; v < 128; v++ {
		switch v {
		case codeLTRS, codeFIGS, codeAlpha, codeBeta, codeChar32, codeRep:
			continue
		}
		if CheckBits(v) {
			codes = append(codes, v)
		}
	}
	require.Len(t, codes, 29)
	return codes
}

// A clean character, alpha matching rep, decodes from the alpha copy alone.
func TestCombinerCleanAlpha(t *testing.T) {
	h := newCombinerHarness()
	table := NewCCIR476()

	for _, code := range informationCodes(t) {
		h.emitted = nil
		h.plant(40, code, code, -1, -1)
		ret := h.fs.processBytes(40)
		assert.Equal(t, 1, ret, "code %#x", code)

		if glyph, ok := table.CodeToChar(code, false); ok {
			require.Len(t, h.emitted, 1, "code %#x", code)
			assert.Equal(t, glyph, h.emitted[0])
		}
	}
}

// Any single flipped bit in the alpha copy is healed by the rep copy.
func TestCombinerSingleBitFlipRecovery(t *testing.T) {
	h := newCombinerHarness()
	codes := informationCodes(t)

	rapid.Check(t, func(t *rapid.T) {
		code := rapid.SampledFrom(codes).Draw(t, "code")
		flip := rapid.IntRange(0, 6).Draw(t, "flip")

		h.emitted = nil
		h.plant(42, code, code, flip, -1)
		ret := h.fs.processBytes(42)

		// unmodified rep replacement
		assert.Equal(t, 0, ret)
		if glyph, ok := h.fs.table.CodeToChar(code, false); ok {
			require.Len(t, h.emitted, 1)
			assert.Equal(t, glyph, h.emitted[0])
		}
	})
}

// With both copies hit in different bits, the soft sum still recovers the
// character.
func TestCombinerSoftSumRecovery(t *testing.T) {
	h := newCombinerHarness()

	for _, code := range informationCodes(t) {
		h.emitted = nil
		h.plant(42, code, code, 1, 4)
		ret := h.fs.processBytes(42)

		assert.Equal(t, -1, ret, "code %#x", code)
		if glyph, ok := h.fs.table.CodeToChar(code, false); ok {
			require.Len(t, h.emitted, 1, "code %#x", code)
			assert.Equal(t, glyph, h.emitted[0])
		}
	}
}

// A rep phasing code in the rep slot marks the alpha slot as a phasing
// position: nothing is emitted, and it does not count as an error.
func TestCombinerRepPhasingSkipped(t *testing.T) {
	h := newCombinerHarness()

	// invalid alpha, rep slot holds the rep phasing code
	h.plant(42, 0x7f, codeRep, -1, -1)
	ret := h.fs.processBytes(42)

	assert.Equal(t, 0, ret)
	assert.Empty(t, h.emitted)
}

// Garbage in both copies is a hard failure and emits nothing.
func TestCombinerHardFailure(t *testing.T) {
	h := newCombinerHarness()

	// seven strongly confident mark bits in both slots: no single flip,
	// sum, or substitution can make 4-of-7 out of that
	h.plant(42, 0x7f, 0x7f, -1, -1)
	ret := h.fs.processBytes(42)

	assert.Equal(t, -2, ret)
	assert.Empty(t, h.emitted)
}

func TestFlipSmallestBit(t *testing.T) {
	tests := []struct {
		name string
		soft []int
		want []int
	}{
		{
			name: "five ones flips weakest positive",
			soft: []int{8, 8, 2, 8, 8, -8, -8},
			want: []int{8, 8, -2, 8, 8, -8, -8},
		},
		{
			name: "four zeros flips weakest negative",
			soft: []int{8, 8, 8, -2, -8, -8, -8},
			want: []int{8, 8, 8, 2, -8, -8, -8},
		},
		{
			name: "valid weight untouched",
			soft: []int{8, 8, 8, 8, -8, -8, -8},
			want: []int{8, 8, 8, 8, -8, -8, -8},
		},
		{
			name: "hopeless weight untouched",
			soft: []int{8, 8, 8, 8, 8, 8, 8},
			want: []int{8, 8, 8, 8, 8, 8, 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			soft := append([]int(nil), tt.soft...)
			flipSmallestBit(soft)
			assert.Equal(t, tt.want, soft)
		})
	}
}

// Two rep codes in a row flip the alpha/rep interleave back into place.
func TestDecodeDoubleRepFixesPhase(t *testing.T) {
	h := newCombinerHarness()
	h.fs.alphaPhase = true

	h.fs.decode(codeRep)
	assert.True(t, h.fs.alphaPhase)

	h.fs.decode(codeRep)
	assert.False(t, h.fs.alphaPhase)
}

func TestDecodeShiftHandling(t *testing.T) {
	h := newCombinerHarness()

	h.fs.decode(codeFIGS)
	assert.True(t, h.fs.shift)

	// 0x27 is '2' in figures
	h.fs.decode(0x27)
	require.Len(t, h.emitted, 1)
	assert.Equal(t, '2', h.emitted[0])

	h.fs.decode(codeLTRS)
	assert.False(t, h.fs.shift)

	// 0x27 is 'W' in letters
	h.fs.decode(0x27)
	require.Len(t, h.emitted, 2)
	assert.Equal(t, 'W', h.emitted[1])
}
