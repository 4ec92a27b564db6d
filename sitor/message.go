package sitor

import (
	"io"
	"log"
	"strings"
)

// Message is one flushed NAVTEX message. Origin, Subject and Number are
// only meaningful when HeaderSeen is set; Text is the cleaned message body
// including any [Lost header], [Lost trailer] or <TIMEOUT> annotations.
type Message struct {
	Origin     byte
	Subject    byte
	Number     int
	Text       string
	HeaderSeen bool
	Time       float64 // sample-clock seconds since the start of the stream
}

// assembler accumulates decoded glyphs, recognizes the NAVTEX message
// envelope (ZCZC O SS NN ... NNNN) and flushes completed, truncated or
// timed out messages to the sink and the optional message handler. Only the
// assembler mutates the current message text.
type assembler struct {
	onlySitorB bool
	timeout    float64
	minLen     int

	sink    io.Writer
	handler func(Message)

	// first sink write failure, handed back from Process; decoding
	// carries on regardless
	writeErr error

	buf         []byte
	headerFound bool
	origin      byte
	subject     byte
	number      int
	messageTime float64
}

// Header structure is ZCZC abcd: a = origin of the station, b = message
// type, cd = message number from this station.
const headerLen = 10

// push filters one decoded glyph into the current message. The live glyph
// stream is also written straight to the sink, the way the reference
// decoder prints while it receives.
func (a *assembler) push(ch rune, now float64) {
	if ch == charBell {
		// A beep by rights, but French navtex displays a quote.
		ch = '\''
	} else if ch == '\r' || ch == codeAlpha || ch == codeRep {
		return
	}

	a.write(string(ch))

	a.buf = append(a.buf, byte(ch))

	// No header nor trailer for plain SITOR-B: everything belongs to one
	// open, header-less message.
	if a.onlySitorB {
		a.headerFound = true
		a.messageTime = now
		return
	}

	// The envelope fields captured by detectHeader belong to the next
	// message; anything flushed here still carries the previous header.
	prevOrigin, prevSubject, prevNumber := a.origin, a.subject, a.number
	if cut, ok := a.detectHeader(); ok {
		if a.headerFound {
			// The previous message never saw its trailer.
			a.display(prevOrigin, prevSubject, prevNumber, cut, cut+":[Lost trailer]", true, now)
		} else if len(cut) > 0 {
			a.display(prevOrigin, prevSubject, prevNumber, cut, "[Lost header]:"+cut+":[Lost trailer]", false, now)
		}
		a.headerFound = true
		a.messageTime = now
		return
	}

	if a.detectEnd() {
		a.flush("", now)
	}
}

// checkTimeout flushes the current message when no header or flush has
// happened for the configured timeout; glyphs arriving in between do not
// restart the clock. Time is sample-clock, not wall-clock.
func (a *assembler) checkTimeout(now float64) {
	if a.onlySitorB {
		return
	}
	if now-a.messageTime <= a.timeout {
		return
	}
	if Debug {
		log.Printf("[SITOR] timeout: now=%.1f, message_time=%.1f", now, a.messageTime)
	}
	a.flush(":<TIMEOUT>", now)
}

// flush emits the current message with extra appended, annotating a missing
// header, and resets for the next message.
func (a *assembler) flush(extra string, now float64) {
	text := string(a.buf)
	if a.headerFound {
		a.headerFound = false
		a.display(a.origin, a.subject, a.number, text, text+extra, true, now)
	} else {
		a.display(a.origin, a.subject, a.number, text, "[Lost header]:"+text+extra, false, now)
	}
	a.buf = a.buf[:0]
	a.messageTime = now
}

// display cleans up and emits one message. body is the accumulated text
// used for the minimum-length check; alt is the string actually shown.
func (a *assembler) display(origin, subject byte, number int, body, alt string, withHeader bool, now float64) {
	if len(body) < a.minLen {
		if Debug {
			log.Printf("[SITOR] not logging short message: %q", body)
		}
		return
	}

	text := cleanupText(alt)

	if withHeader {
		a.write(formatEnvelope(origin, subject, number, text))
	} else {
		a.write("\n" + text + "\n")
	}

	if a.handler != nil {
		a.handler(Message{
			Origin:     origin,
			Subject:    subject,
			Number:     number,
			Text:       text,
			HeaderSeen: withHeader,
			Time:       now,
		})
	}
}

func (a *assembler) write(s string) {
	if a.sink == nil {
		return
	}
	if _, err := io.WriteString(a.sink, s); err != nil && a.writeErr == nil {
		a.writeErr = err
	}
}

// takeErr returns and clears the first sink write failure.
func (a *assembler) takeErr() error {
	err := a.writeErr
	a.writeErr = nil
	return err
}

func formatEnvelope(origin, subject byte, number int, text string) string {
	var sb strings.Builder
	sb.WriteString("\nZCZC ")
	sb.WriteByte(origin)
	sb.WriteByte(subject)
	sb.WriteByte('0' + byte(number/10%10))
	sb.WriteByte('0' + byte(number%10))
	sb.WriteByte('\n')
	sb.WriteString(text)
	sb.WriteString("\nNNNN\n")
	return sb.String()
}

// detectHeader checks whether the buffer now ends in a message header
// "ZCZC OSNN" followed by CR or LF. On a match it captures the envelope
// fields, clears the buffer and returns whatever garbage preceded the
// header (text whose trailer was never read).
func (a *assembler) detectHeader() (string, bool) {
	if len(a.buf) < headerLen {
		return "", false
	}
	comp := a.buf[len(a.buf)-headerLen:]
	if !(comp[0] == 'Z' && comp[1] == 'C' && comp[2] == 'Z' && comp[3] == 'C' &&
		comp[4] == ' ' &&
		isAlnum(comp[5]) && isAlnum(comp[6]) &&
		isDigit(comp[7]) && isDigit(comp[8]) &&
		(comp[9] == '\r' || comp[9] == '\n')) {
		return "", false
	}

	cut := string(a.buf[:len(a.buf)-headerLen])
	a.origin = comp[5]
	a.subject = comp[6]
	a.number = int(comp[7]-'0')*10 + int(comp[8]-'0')
	a.buf = a.buf[:0]
	return cut, true
}

// detectEnd checks for the NNNN trailer. Theoretically "\r\nNNNN\r\n", but
// shorter strings are tolerated. The trailer is removed from the buffer.
func (a *assembler) detectEnd() bool {
	const trailer = "NNNN"
	if len(a.buf) < len(trailer) {
		return false
	}
	if string(a.buf[len(a.buf)-len(trailer):]) != trailer {
		return false
	}
	a.buf = a.buf[:len(a.buf)-len(trailer)]
	return true
}

// cleanupText collapses whitespace runs to a single space and CR/LF runs to
// a single newline, and strips anything non-printable.
func cleanupText(s string) string {
	var sb strings.Builder
	wasDelim, wasSpace, chrSeen := false, false, false
	for _, ch := range s {
		switch {
		case ch == '\n' || ch == '\r':
			wasDelim = true
		case ch == ' ' || ch == '\t':
			wasSpace = true
		case ch < 0x20 || ch > 0x7e:
			// non-printable, drop
		default:
			if chrSeen {
				if wasDelim {
					sb.WriteByte('\n')
				} else if wasSpace {
					sb.WriteByte(' ')
				}
			}
			wasDelim = false
			wasSpace = false
			chrSeen = true
			sb.WriteRune(ch)
		}
	}
	return sb.String()
}

func isAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
