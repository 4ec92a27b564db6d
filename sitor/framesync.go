package sitor

import "log"

type syncState int

const (
	stateSyncSetup syncState = iota
	stateSync
	stateReadData
)

func (s syncState) String() string {
	switch s {
	case stateSyncSetup:
		return "SYNC_SETUP"
	case stateSync:
		return "SYNC"
	case stateReadData:
		return "READ_DATA"
	}
	return "unknown"
}

// The rep copy of a character is transmitted 5 characters (35 bits) ahead
// of its alpha copy.
func fecOffset(offset int) int {
	return offset - 35
}

// frameSync keeps about one second of soft bit values and aligns the 7-bit
// character grid and the alpha/rep interleave on them, then feeds aligned
// characters through the FEC combiner.
type frameSync struct {
	table *CCIR476

	bits   []int // soft bit FIFO, one bit per baud for one second
	cursor int

	state       syncState
	errorCount  int
	errorBudget int
	alphaPhase  bool
	shift       bool // false = letters, true = figures
	lastCode    int

	emit func(rune)

	// decode tallies for the stats snapshot
	nAlpha    int // alpha copy valid as received
	nRep      int // unmodified rep replacement
	nSoftFEC  int // recovered by summing or bit flipping
	nHardFail int
	nSyncLoss int
}

func newFrameSync(table *CCIR476, baud int, errorBudget int, emit func(rune)) *frameSync {
	return &frameSync{
		table:       table,
		bits:        make([]int, baud),
		errorBudget: errorBudget,
		emit:        emit,
		state:       stateSyncSetup,
	}
}

func (f *frameSync) setState(s syncState) {
	if s != f.state {
		f.state = s
		if Debug {
			log.Printf("[SITOR] state: %s", s)
		}
	}
}

// handleBit shifts one decided soft bit into the FIFO and runs the sync
// state machine on it.
func (f *frameSync) handleBit(soft int) {
	if f.state == stateSyncSetup {
		f.errorCount = 0
		f.shift = false
		f.setState(stateSync)
	}

	copy(f.bits, f.bits[1:])
	f.bits[len(f.bits)-1] = soft
	if f.cursor > 0 {
		f.cursor--
	}

	// Find the most likely location where the character grid starts.
	if f.state == stateSync {
		offset := f.findAlphaPhase()
		if offset >= 0 {
			f.setState(stateReadData)
			f.cursor = offset
			f.alphaPhase = true
		} else {
			f.setState(stateSyncSetup)
		}
	}

	// Process 7-bit characters as they come in, skipping the rep
	// (duplicate) positions.
	if f.state == stateReadData {
		if f.cursor <= len(f.bits)-7 {
			if f.alphaPhase {
				ret := f.processBytes(f.cursor)
				f.errorCount -= ret
				if f.errorCount > f.errorBudget {
					f.nSyncLoss++
					f.setState(stateSyncSetup)
				}
				if f.errorCount < 0 {
					f.errorCount = 0
				}
			}
			f.alphaPhase = !f.alphaPhase
			f.cursor += 7
		}
	}
}

// findAlphaPhase looks for the offset into the bit FIFO with the largest
// number of valid characters, with rep (duplicate) characters in the right
// locations. This is how the decoder syncs up with a signal after the
// initial alpha/rep phasing sequence.
//
// http://www.arachnoid.com/JNX/index.html
// "NAUTICAL" becomes:
// rep alpha rep alpha N alpha A alpha U N T A I U C T A I L C blank A blank L
func (f *frameSync) findAlphaPhase() int {
	bestOffset := 0
	bestScore := 0

	// With 7 bits per character and interleaved rep & alpha characters,
	// the first alpha character with a corresponding rep still in the
	// FIFO can be at any of 14 offsets.
	limit := len(f.bits) - 7
	for offset := 35; offset < 35+14; offset++ {
		score := 0
		reps := 0

		for i := offset; i < limit; i += 7 {
			if !f.table.ValidCharAt(f.bits[i:]) {
				continue
			}
			code := BytesToCode(f.bits[i:])
			rep := BytesToCode(f.bits[fecOffset(i):])

			score++

			if code == rep {
				// A phasing code matching itself 35 bits back
				// means rep and alpha are spaced odd: this
				// offset has the wrong parity.
				if code == codeAlpha || code == codeRep {
					score = 0
					continue
				}
				reps++
			} else if code == codeAlpha {
				// During phasing the rep for this alpha is the
				// immediately preceding slot.
				if BytesToCode(f.bits[i-7:]) == codeRep {
					reps++
				}
			}
		}

		// the most valid characters, with at least 3 FEC reps
		if reps >= 3 && score+reps > bestScore {
			bestScore = score + reps
			bestOffset = offset
		}
	}

	// The FIFO holds 14 characters; only lock on if most of them look
	// plausible.
	if bestScore > 8 {
		return bestOffset
	}
	return -1
}

// processBytes turns the 7 soft bits at cursor into a character, using the
// rep copy 35 bits earlier for error correction.
//
// Returns:
//
//	+1 on successful decode of the alpha character
//	 0 on unmodified FEC replacement
//	-1 on soft failure (FEC calculation)
//	-2 on hard failure
func (f *frameSync) processBytes(cursor int) int {
	code := BytesToCode(f.bits[cursor:])

	if CheckBits(code) {
		f.nAlpha++
		f.decode(code)
		return 1
	}

	repPos := fecOffset(cursor)
	if repPos < 0 {
		return -1
	}

	// The alpha (primary) copy was not valid. Try the rep copy, then some
	// permutations of the two, until something checks out.
	rep := BytesToCode(f.bits[repPos:])
	if CheckBits(rep) {
		// The alpha slot is probably the phasing code; skip decoding
		// so the alpha/rep interleave is not disturbed.
		if rep == codeRep {
			return 0
		}
		if Debug {
			log.Printf("[SITOR] FEC replacement: %x -> %x", code, rep)
		}
		f.nRep++
		f.decode(rep)
		return 0
	}

	// Neither copy is valid on its own. Try the elementwise sum of the
	// two soft characters.
	var sum [7]int
	for i := 0; i < 7; i++ {
		sum[i] = f.bits[cursor+i] + f.bits[repPos+i]
	}
	if calc := BytesToCode(sum[:]); CheckBits(calc) {
		f.nSoftFEC++
		f.decode(calc)
		return -1
	}

	// Flip the lowest confidence bit in alpha.
	flipSmallestBit(f.bits[cursor : cursor+7])
	if calc := BytesToCode(f.bits[cursor:]); CheckBits(calc) {
		f.nSoftFEC++
		f.decode(calc)
		return -1
	}

	// Flip the lowest confidence bit in rep.
	flipSmallestBit(f.bits[repPos : repPos+7])
	if calc := BytesToCode(f.bits[repPos:]); CheckBits(calc) {
		f.nSoftFEC++
		f.decode(calc)
		return -1
	}

	// Flip the lowest confidence bit of the sum.
	flipSmallestBit(sum[:])
	if calc := BytesToCode(sum[:]); CheckBits(calc) {
		f.nSoftFEC++
		f.decode(calc)
		return -1
	}

	if Debug {
		log.Printf("[SITOR] decode fail %x, %x", code, rep)
	}
	f.nHardFail++
	return -2
}

// flipSmallestBit flips the sign of the least certain bit in a character
// when doing so can produce a valid 4-of-7 code: with five ones the weakest
// positive bit is flipped, with four zeros the weakest negative bit.
func flipSmallestBit(soft []int) {
	minZero, minOne := 0, 0
	minZeroPos, minOnePos := -1, -1
	countOne := 0

	for i := 0; i < 7; i++ {
		v := soft[i]
		if v > 0 {
			countOne++
			if minOnePos < 0 || v < minOne {
				minOne = v
				minOnePos = i
			}
		} else if v < 0 {
			if minZeroPos < 0 || v > minZero {
				minZero = v
				minZeroPos = i
			}
		}
	}

	switch {
	case countOne == 5 && minOnePos >= 0:
		soft[minOnePos] = -soft[minOnePos]
	case countOne == 3 && minZeroPos >= 0:
		soft[minZeroPos] = -soft[minZeroPos]
	}
}

// decode interprets an accepted code word: shifts and phasing are handled
// here, information characters go to the message assembler.
func (f *frameSync) decode(code int) {
	switch code {
	case codeRep:
		// This runs in alpha phase, yet two rep codes arrived in a
		// row: the alpha/rep interleave flipped. Fix the phase so FEC
		// works again.
		if f.lastCode == codeRep {
			if Debug {
				log.Printf("[SITOR] fixing rep/alpha sync")
			}
			f.alphaPhase = false
		}
	case codeAlpha, codeBeta, codeChar32:
		// control, no output
	case codeLTRS:
		f.shift = false
	case codeFIGS:
		f.shift = true
	default:
		ch, ok := f.table.CodeToChar(code, f.shift)
		if !ok {
			if Debug {
				log.Printf("[SITOR] missed code: %x", code)
			}
			break
		}
		f.emit(ch)
	}

	f.lastCode = code
}
