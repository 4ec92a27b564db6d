// Package sitor implements a streaming NAVTEX / SITOR-B receive core: FSK
// demodulation of the 100 baud CCIR 476 broadcast, time-diversity forward
// error correction, and assembly of the ZCZC ... NNNN message envelope.
//
// The decoder is single threaded and push driven: the caller feeds blocks
// of real-valued mono samples and the decoder's notion of time advances
// with the sample count. Two decoders on independent streams share no
// state and may run from different goroutines.
package sitor

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// Debug enables verbose DSP and state logging.
var Debug bool

// ErrInvalidConfig is returned by NewDecoder for out-of-range parameters.
var ErrInvalidConfig = errors.New("sitor: invalid config")

const filterLen = 512

// Config holds the decoder parameters. The zero value is not usable; fill
// in SampleRate and leave the rest at 0 for the NAVTEX defaults.
type Config struct {
	SampleRate float64 // Hz, must be > 0 (anything from about 8 kHz up)
	OnlySitorB bool    // raw SITOR-B, no message envelope handling
	Reverse    bool    // swap mark and space

	CenterFrequency float64 // Hz, default 1000
	Deviation       float64 // Hz, default 85
	BaudRate        float64 // default 100, must be > 10

	TimeoutSeconds   float64 // message inactivity timeout, default 600
	ErrorBudget      int     // consecutive-error budget before resync, default 5
	MinMessageLength int     // shortest message worth flushing, default 0
}

func (c *Config) applyDefaults() {
	if c.CenterFrequency == 0 {
		c.CenterFrequency = 1000
	}
	if c.Deviation == 0 {
		c.Deviation = 85
	}
	if c.BaudRate == 0 {
		c.BaudRate = 100
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 600
	}
	if c.ErrorBudget == 0 {
		c.ErrorBudget = 5
	}
}

// Stats is a snapshot of decoder tallies, safe to read while another
// goroutine drives Process.
type Stats struct {
	Characters      int64 // characters accepted by the FEC combiner
	AlphaDecodes    int64 // alpha copy valid as received
	RepReplacements int64 // rep copy substituted unmodified
	SoftFEC         int64 // recovered by soft combining or bit flips
	HardFailures    int64 // dropped after FEC exhaustion
	SyncLosses      int64 // error budget exceeded, resynced
	Messages        int64 // messages delivered to the message handler (0 when none is set)
	MarkEnvelope    float64
	SpaceEnvelope   float64
	NoiseFloor      float64
}

// Decoder is one NAVTEX receive chain. Create with NewDecoder.
type Decoder struct {
	cfg Config

	markMixer    mixer
	spaceMixer   mixer
	markLowpass  *FFTFilt
	spaceLowpass *FFTFilt

	disc  discriminator
	clock *bitClock
	frame *frameSync
	asm   *assembler
	table *CCIR476

	sampleCount int
	timeSec     float64

	statsMu  sync.Mutex
	stats    Stats
	messages int64
}

// NewDecoder builds a decoder writing decoded text to sink. sink may be nil
// when only the message handler output is wanted.
func NewDecoder(cfg Config, sink io.Writer) (*Decoder, error) {
	cfg.applyDefaults()
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %v", ErrInvalidConfig, cfg.SampleRate)
	}
	if cfg.BaudRate <= 10 {
		return nil, fmt.Errorf("%w: baud rate %v", ErrInvalidConfig, cfg.BaudRate)
	}

	bitSamples := cfg.SampleRate / cfg.BaudRate

	d := &Decoder{
		cfg:   cfg,
		table: NewCCIR476(),
		disc:  discriminator{bitSamples: bitSamples},
		clock: newBitClock(bitSamples, cfg.Reverse),
		asm: &assembler{
			onlySitorB: cfg.OnlySitorB,
			timeout:    cfg.TimeoutSeconds,
			minLen:     cfg.MinMessageLength,
			sink:       sink,
		},
	}

	d.markMixer = mixer{freq: cfg.CenterFrequency + cfg.Deviation, sampleRate: cfg.SampleRate}
	d.spaceMixer = mixer{freq: cfg.CenterFrequency - cfg.Deviation, sampleRate: cfg.SampleRate}

	// The reference transform length of 512 covers about 4.6 bit periods
	// at 11025 Hz; scale it up for higher sample rates so the kernel
	// still resolves the narrow FSK shift.
	flen := filterLen
	for float64(flen) < 4.5*bitSamples {
		flen <<= 1
	}

	cutoff := cfg.BaudRate / cfg.SampleRate
	d.markLowpass = NewFFTFilt(cutoff, flen)
	d.spaceLowpass = NewFFTFilt(cutoff, flen)

	d.frame = newFrameSync(d.table, int(cfg.BaudRate), cfg.ErrorBudget, func(ch rune) {
		d.asm.push(ch, d.timeSec)
	})

	return d, nil
}

// SetMessageHandler installs a callback invoked from inside Process with
// every flushed message.
func (d *Decoder) SetMessageHandler(h func(Message)) {
	d.asm.handler = func(m Message) {
		d.messages++
		h(m)
	}
}

// Process consumes a block of mono samples, nominally in [-1, 1]. All
// decoding happens inside this call; glyphs and messages reach the sink and
// handler in decode order. The returned error is the first sink write
// failure, if any; decoder state is unaffected by sink errors.
func (d *Decoder) Process(samples []float64) error {
	d.asm.checkTimeout(d.timeSec)

	for _, s := range samples {
		// NaN or Inf would poison the envelope trackers for good;
		// treat such samples as dropped and carry on.
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		dv := 32767 * s
		z := complex(dv, dv)

		markBlock := d.markLowpass.Run(d.markMixer.mix(z))
		spaceBlock := d.spaceLowpass.Run(d.spaceMixer.mix(z))

		if len(markBlock) > 0 {
			d.processFiltered(markBlock, spaceBlock)
		}
	}

	d.snapshotStats()
	return d.asm.takeErr()
}

// ProcessPCM is a convenience wrapper for 16-bit PCM sources.
func (d *Decoder) ProcessPCM(samples []int16) error {
	block := make([]float64, len(samples))
	for i, s := range samples {
		block[i] = float64(s) / 32767.0
	}
	return d.Process(block)
}

// processFiltered runs the detector over one block of filtered sample
// pairs. Both low-pass filters emit blocks on the same cadence.
func (d *Decoder) processFiltered(zMark, zSpace []complex128) {
	for i := range zMark {
		d.timeSec = float64(d.sampleCount) / d.cfg.SampleRate

		d.clock.adjust()

		soft := d.disc.process(cabs(zMark[i]), cabs(zSpace[i]))

		if d.clock.accumulate(soft) {
			d.frame.handleBit(d.clock.markState)
		}

		d.sampleCount++
	}
}

func cabs(z complex128) float64 {
	return math.Hypot(real(z), imag(z))
}

// Stats returns a snapshot of the decode tallies. The snapshot is updated
// at the end of every Process call.
func (d *Decoder) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Decoder) snapshotStats() {
	d.statsMu.Lock()
	d.stats = Stats{
		Characters:      int64(d.frame.nAlpha + d.frame.nRep + d.frame.nSoftFEC),
		AlphaDecodes:    int64(d.frame.nAlpha),
		RepReplacements: int64(d.frame.nRep),
		SoftFEC:         int64(d.frame.nSoftFEC),
		HardFailures:    int64(d.frame.nHardFail),
		SyncLosses:      int64(d.frame.nSyncLoss),
		Messages:        d.messages,
		MarkEnvelope:    d.disc.markEnv,
		SpaceEnvelope:   d.disc.spaceEnv,
		NoiseFloor:      (d.disc.markNoise + d.disc.spaceNoise) / 2,
	}
	d.statsMu.Unlock()
}
