package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fventuri/navtex/sitor"
)

// DecodedMessage is one flushed NAVTEX message as published to clients.
type DecodedMessage struct {
	Origin   string    `json:"origin"`
	Subject  string    `json:"subject"`
	Number   int       `json:"number"`
	Text     string    `json:"text"`
	Header   bool      `json:"header"`
	Received time.Time `json:"received"`
}

// Service wraps the push-driven sitor.Decoder behind channels so the RTP
// receiver and the streaming outputs can run on their own goroutines. The
// decoder itself stays single threaded: only processLoop touches it.
type Service struct {
	decoder *sitor.Decoder

	running  bool
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup

	// live decoded text accumulated between flush ticks
	textBuffer []rune
	bufferMu   sync.Mutex

	// recent flushed messages, newest last
	messages   []DecodedMessage
	messagesMu sync.Mutex
	maxKept    int

	onMessage []func(DecodedMessage)
}

// NewService builds the decoder from the configuration.
func NewService(sampleRate int, cfg DecoderConfig, maxKept int) (*Service, error) {
	s := &Service{
		stopChan: make(chan struct{}),
		maxKept:  maxKept,
	}

	decoder, err := sitor.NewDecoder(sitor.Config{
		SampleRate:       float64(sampleRate),
		OnlySitorB:       cfg.OnlySitorB,
		Reverse:          cfg.Reverse,
		CenterFrequency:  cfg.CenterFrequency,
		Deviation:        cfg.Deviation,
		BaudRate:         cfg.BaudRate,
		TimeoutSeconds:   cfg.TimeoutSeconds,
		ErrorBudget:      cfg.ErrorBudget,
		MinMessageLength: cfg.MinLength,
	}, runeSink{s})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	s.decoder = decoder

	decoder.SetMessageHandler(func(m sitor.Message) {
		s.handleMessage(m)
	})

	log.Printf("[Service] Decoder ready: SR=%d, CF=%.1f Hz, Dev=%.1f Hz, Baud=%.1f",
		sampleRate, cfg.CenterFrequency, cfg.Deviation, cfg.BaudRate)

	return s, nil
}

// runeSink collects the live glyph stream for periodic flushing to clients.
type runeSink struct{ s *Service }

func (r runeSink) Write(p []byte) (int, error) {
	r.s.bufferMu.Lock()
	r.s.textBuffer = append(r.s.textBuffer, []rune(string(p))...)
	r.s.bufferMu.Unlock()
	return len(p), nil
}

// OnMessage registers a callback for flushed messages. Callbacks run on the
// processing goroutine and must not block.
func (s *Service) OnMessage(fn func(DecodedMessage)) {
	s.onMessage = append(s.onMessage, fn)
}

// ProcessPCM feeds a block of 16-bit samples synchronously. Used by the
// file/stdin driver, which needs no goroutine.
func (s *Service) ProcessPCM(samples []int16) error {
	return s.decoder.ProcessPCM(samples)
}

// Stats exposes the decoder tallies for the metrics collector.
func (s *Service) Stats() sitor.Stats {
	return s.decoder.Stats()
}

// Start begins consuming audio from audioChan and emitting stream frames on
// resultChan.
func (s *Service) Start(audioChan <-chan []int16, resultChan chan<- []byte, enc *StreamEncoder) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service already running")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.processLoop(audioChan, resultChan, enc)

	return nil
}

// Stop stops the processing goroutine.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// processLoop is the main processing loop
func (s *Service) processLoop(audioChan <-chan []int16, resultChan chan<- []byte, enc *StreamEncoder) {
	defer s.wg.Done()

	// Periodic live-text flush (every 100ms)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return

		case samples, ok := <-audioChan:
			if !ok {
				return
			}
			if err := s.decoder.ProcessPCM(samples); err != nil {
				log.Printf("[Service] Sink write error: %v", err)
			}

		case <-ticker.C:
			s.flushTextBuffer(resultChan, enc)
		}
	}
}

// flushTextBuffer sends accumulated live text to the client stream.
func (s *Service) flushTextBuffer(resultChan chan<- []byte, enc *StreamEncoder) {
	s.bufferMu.Lock()
	if len(s.textBuffer) == 0 {
		s.bufferMu.Unlock()
		return
	}
	text := string(s.textBuffer)
	s.textBuffer = s.textBuffer[:0]
	s.bufferMu.Unlock()

	frame, err := enc.EncodeText(text)
	if err != nil {
		log.Printf("[Service] Frame encode error: %v", err)
		return
	}

	select {
	case resultChan <- frame:
	default:
		// Channel full, skip this frame
	}
}

// DrainText returns and clears the accumulated live text. Used when no
// streaming loop is running.
func (s *Service) DrainText() string {
	s.bufferMu.Lock()
	defer s.bufferMu.Unlock()
	text := string(s.textBuffer)
	s.textBuffer = s.textBuffer[:0]
	return text
}

func (s *Service) handleMessage(m sitor.Message) {
	dm := DecodedMessage{
		Origin:   string(rune(m.Origin)),
		Subject:  string(rune(m.Subject)),
		Number:   m.Number,
		Text:     m.Text,
		Header:   m.HeaderSeen,
		Received: time.Now().UTC(),
	}

	s.messagesMu.Lock()
	s.messages = append(s.messages, dm)
	if s.maxKept > 0 && len(s.messages) > s.maxKept {
		s.messages = s.messages[len(s.messages)-s.maxKept:]
	}
	s.messagesMu.Unlock()

	for _, fn := range s.onMessage {
		fn(dm)
	}
}

// RecentMessages returns a copy of the kept message history, newest last.
func (s *Service) RecentMessages() []DecodedMessage {
	s.messagesMu.Lock()
	defer s.messagesMu.Unlock()
	out := make([]DecodedMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
