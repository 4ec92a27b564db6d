package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Binary stream frame format
// ==========================
//
// Every frame pushed to streaming clients is:
//
//	Offset | Size | Description
//	-------|------|--------------------------------------------
//	0      | 1    | Frame type
//	1      | 8    | Unix timestamp, big endian
//	9      | 4    | Payload length, big endian
//	13     | N    | Payload
//
// Frame types:
//
//	0x01 live decoded text (UTF-8)
//	0x02 flushed message (JSON)
//	0x03 decoder status (JSON)
//
// When compression is enabled the payload is zstd-compressed and the frame
// type has the high bit set (0x81, 0x82, 0x83); clients decompress the
// payload before parsing.
const (
	FrameText    byte = 0x01
	FrameMessage byte = 0x02
	FrameStatus  byte = 0x03

	frameCompressed byte = 0x80
	frameHeaderSize      = 13
)

// zstdEncoderPool provides reusable zstd encoders.
var zstdEncoderPool = sync.Pool{
	New: func() interface{} {
		encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return encoder
	},
}

// StreamEncoder builds stream frames, optionally zstd-compressed.
type StreamEncoder struct {
	useCompression bool
	zstdEncoder    *zstd.Encoder
	encoderMu      sync.Mutex
}

// NewStreamEncoder creates a frame encoder.
func NewStreamEncoder(useCompression bool) *StreamEncoder {
	e := &StreamEncoder{useCompression: useCompression}
	if useCompression {
		e.zstdEncoder = zstdEncoderPool.Get().(*zstd.Encoder)
	}
	return e
}

// Close returns the zstd encoder to the pool.
func (e *StreamEncoder) Close() {
	if e.zstdEncoder != nil {
		zstdEncoderPool.Put(e.zstdEncoder)
		e.zstdEncoder = nil
	}
}

func (e *StreamEncoder) frame(frameType byte, payload []byte) ([]byte, error) {
	if e.useCompression {
		e.encoderMu.Lock()
		payload = e.zstdEncoder.EncodeAll(payload, nil)
		e.encoderMu.Unlock()
		frameType |= frameCompressed
	}

	msg := make([]byte, frameHeaderSize+len(payload))
	msg[0] = frameType
	binary.BigEndian.PutUint64(msg[1:9], uint64(time.Now().Unix()))
	binary.BigEndian.PutUint32(msg[9:13], uint32(len(payload)))
	copy(msg[13:], payload)
	return msg, nil
}

// EncodeText builds a live-text frame.
func (e *StreamEncoder) EncodeText(text string) ([]byte, error) {
	return e.frame(FrameText, []byte(text))
}

// EncodeMessage builds a flushed-message frame.
func (e *StreamEncoder) EncodeMessage(m DecodedMessage) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return e.frame(FrameMessage, payload)
}

// EncodeStatus builds a decoder status frame.
func (e *StreamEncoder) EncodeStatus(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return e.frame(FrameStatus, payload)
}
