package sitor

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCheckBitsConstantWeight(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.IntRange(0, 127).Draw(t, "v")
		assert.Equal(t, bits.OnesCount(uint(v)) == 4, CheckBits(v))
	})
}

func TestValidCodeCount(t *testing.T) {
	c := NewCCIR476()

	count := 0
	for v := 0; v < 128; v++ {
		if c.Valid(v) {
			count++
			assert.True(t, CheckBits(v))
		}
	}

	// C(7,4) = 35 valid code words
	assert.Equal(t, 35, count)
}

func TestControlCodesAreValid(t *testing.T) {
	for _, code := range []int{codeLTRS, codeFIGS, codeAlpha, codeBeta, codeChar32, codeRep} {
		assert.True(t, CheckBits(code), "control code %#x must be constant weight", code)
	}
}

func TestTableRoundTrip(t *testing.T) {
	c := NewCCIR476()

	for glyph, code := range c.ltrsCode {
		got, ok := c.CodeToChar(code, false)
		require.True(t, ok, "letters code %#x", code)
		assert.Equal(t, glyph, got)
	}

	for glyph, code := range c.figsCode {
		got, ok := c.CodeToChar(code, true)
		require.True(t, ok, "figures code %#x", code)
		assert.Equal(t, glyph, got)
	}
}

func TestAppendCodeShifts(t *testing.T) {
	c := NewCCIR476()

	shift := false
	var codes []int
	for _, ch := range "A1B" {
		codes = c.AppendCode(codes, ch, &shift)
	}

	// A, shift to figures, 1, shift back to letters, B
	require.Len(t, codes, 5)
	assert.Equal(t, codeFIGS, codes[1])
	assert.Equal(t, codeLTRS, codes[3])
	assert.False(t, shift)
}

func TestBytesToCodeLSBFirst(t *testing.T) {
	soft := []int{5, -3, 9, 1, -2, -8, 4}
	// positive bits at positions 0, 2, 3, 6
	assert.Equal(t, 0x4d, BytesToCode(soft))
}

func TestBytesToCodeMatchesValidCharAt(t *testing.T) {
	c := NewCCIR476()
	rapid.Check(t, func(t *rapid.T) {
		soft := make([]int, 7)
		for i := range soft {
			soft[i] = rapid.IntRange(-20, 20).Draw(t, "soft")
		}
		assert.Equal(t, CheckBits(BytesToCode(soft)), c.ValidCharAt(soft))
	})
}
