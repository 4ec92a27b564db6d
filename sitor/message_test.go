package sitor

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssembler() (*assembler, *[]Message, *bytes.Buffer) {
	var msgs []Message
	var sink bytes.Buffer
	a := &assembler{
		timeout: 600,
		sink:    &sink,
		handler: func(m Message) { msgs = append(msgs, m) },
	}
	return a, &msgs, &sink
}

func feed(a *assembler, text string, now float64) {
	for _, ch := range text {
		a.push(ch, now)
	}
}

// A well-formed ZCZC AB12 ... NNNN envelope yields exactly one message with
// the right fields.
func TestAssemblerEnvelope(t *testing.T) {
	a, msgs, sink := newTestAssembler()

	feed(a, "ZCZC AB12\r\nSECURITE\r\nNNNN", 1.0)

	require.Len(t, *msgs, 1)
	m := (*msgs)[0]
	assert.Equal(t, byte('A'), m.Origin)
	assert.Equal(t, byte('B'), m.Subject)
	assert.Equal(t, 12, m.Number)
	assert.True(t, m.HeaderSeen)
	assert.Equal(t, "SECURITE", m.Text)

	assert.Contains(t, sink.String(), "ZCZC AB12")
	assert.Contains(t, sink.String(), "NNNN")
}

func TestAssemblerHeaderVariants(t *testing.T) {
	tests := []struct {
		name   string
		header string
		match  bool
	}{
		{"digits in station id", "ZCZC 4X99\n", true},
		{"lf terminated", "ZCZC FA01\n", true},
		// CR never reaches the buffer (the glyph filter drops it), so a
		// bare-CR header only locks once a LF follows
		{"cr only", "ZCZC FA01\r", false},
		{"missing space", "ZCZCFA01X\n", false},
		{"letter in number", "ZCZC FAX1\n", false},
		{"short", "ZCZC F1\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, msgs, _ := newTestAssembler()
			feed(a, tt.header+"TEXT\nNNNN", 0)
			if tt.match {
				require.Len(t, *msgs, 1)
				assert.True(t, (*msgs)[0].HeaderSeen)
			} else {
				for _, m := range *msgs {
					assert.False(t, m.HeaderSeen)
				}
			}
		})
	}
}

// A second header before any trailer flushes the open message annotated
// with a lost trailer.
func TestAssemblerLostTrailer(t *testing.T) {
	a, msgs, _ := newTestAssembler()

	feed(a, "ZCZC FA01\nFIRST PART ", 1.0)
	feed(a, "ZCZC GB02\nSECOND\nNNNN", 2.0)

	require.Len(t, *msgs, 2)

	first := (*msgs)[0]
	assert.True(t, first.HeaderSeen)
	assert.Equal(t, byte('F'), first.Origin)
	assert.Equal(t, byte('A'), first.Subject)
	assert.Equal(t, 1, first.Number)
	assert.Contains(t, first.Text, "FIRST PART")
	assert.Contains(t, first.Text, "[Lost trailer]")

	second := (*msgs)[1]
	assert.Equal(t, byte('G'), second.Origin)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, "SECOND", second.Text)
}

// Text preceding the first header is flushed with both annotations.
func TestAssemblerLostHeader(t *testing.T) {
	a, msgs, _ := newTestAssembler()

	feed(a, "GARBAGE TAIL\nZCZC FA01\nBODY\nNNNN", 1.0)

	require.Len(t, *msgs, 2)

	lost := (*msgs)[0]
	assert.False(t, lost.HeaderSeen)
	assert.Contains(t, lost.Text, "[Lost header]")
	assert.Contains(t, lost.Text, "GARBAGE TAIL")
	assert.Contains(t, lost.Text, "[Lost trailer]")

	assert.Equal(t, "BODY", (*msgs)[1].Text)
}

// Exactly one timeout flush fires at the boundary, and the clock rearms.
func TestAssemblerTimeout(t *testing.T) {
	a, msgs, _ := newTestAssembler()

	feed(a, "ZCZC FA01\nPARTIAL", 10.0)

	a.checkTimeout(300)
	assert.Empty(t, *msgs)

	a.checkTimeout(611)
	require.Len(t, *msgs, 1)
	assert.Contains(t, (*msgs)[0].Text, "PARTIAL")
	assert.Contains(t, (*msgs)[0].Text, "<TIMEOUT>")

	// no second flush until another full timeout elapses
	a.checkTimeout(700)
	assert.Len(t, *msgs, 1)

	a.checkTimeout(1300)
	assert.Len(t, *msgs, 2)
}

func TestAssemblerTimeoutWithoutHeader(t *testing.T) {
	a, msgs, _ := newTestAssembler()

	a.checkTimeout(601)
	require.Len(t, *msgs, 1)
	assert.False(t, (*msgs)[0].HeaderSeen)
	assert.Contains(t, (*msgs)[0].Text, "<TIMEOUT>")
}

// In raw SITOR-B mode there is no envelope handling and no timeout.
func TestAssemblerOnlySitorB(t *testing.T) {
	a, msgs, sink := newTestAssembler()
	a.onlySitorB = true

	feed(a, "ZCZC FA01\nTEXT\nNNNN", 1.0)
	a.checkTimeout(5000)

	assert.Empty(t, *msgs)
	assert.Contains(t, sink.String(), "ZCZC FA01")
	assert.Contains(t, sink.String(), "TEXT")
}

// BELL renders as an apostrophe, CR is dropped.
func TestAssemblerGlyphFilter(t *testing.T) {
	a, _, sink := newTestAssembler()

	a.push('A', 0)
	a.push(charBell, 0)
	a.push('\r', 0)
	a.push('B', 0)

	assert.Equal(t, "A'B", sink.String())
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("sink broken") }

// Sink failures surface through takeErr without disturbing decode state.
func TestAssemblerSinkErrorSurfaces(t *testing.T) {
	a := &assembler{timeout: 600, sink: failWriter{}}

	feed(a, "ZCZC FA01\nTEXT\nNNNN", 0)

	assert.EqualError(t, a.takeErr(), "sink broken")
	assert.NoError(t, a.takeErr())
	assert.Equal(t, byte('F'), a.origin)
}

func TestCleanupText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"whitespace runs", "A  \t B", "A B"},
		{"newline runs", "A\r\n\r\nB", "A\nB"},
		{"leading stripped", "\r\n  HELLO", "HELLO"},
		{"trailing stripped", "HELLO\r\n", "HELLO"},
		{"non printables dropped", "A\x01B\x7fC", "ABC"},
		{"mixed delim and space", "A \r\n B", "A\nB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanupText(tt.in))
		})
	}
}

func TestFormatEnvelope(t *testing.T) {
	got := formatEnvelope('F', 'A', 1, "TEXT")
	assert.True(t, strings.HasPrefix(got, "\nZCZC FA01\n"))
	assert.True(t, strings.HasSuffix(got, "\nNNNN\n"))
	assert.Contains(t, got, "TEXT")
}
