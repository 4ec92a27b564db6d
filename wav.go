package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAVHeader represents a simplified WAV file header
type WAVHeader struct {
	// RIFF chunk
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // File size - 8
	Format    [4]byte // "WAVE"

	// fmt sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // 1 or 2
	SampleRate    uint32  // Sample rate in Hz
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16  // NumChannels * BitsPerSample/8
	BitsPerSample uint16  // 8, 16, etc.

	// data sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // NumSamples * NumChannels * BitsPerSample/8
}

// ReadWAVHeader consumes a WAV header from r and returns it. The reader is
// left positioned at the first PCM sample.
func ReadWAVHeader(r io.Reader) (*WAVHeader, error) {
	var header WAVHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV file")
	}
	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported WAV format %d (PCM only)", header.AudioFormat)
	}
	if header.NumChannels != 1 {
		return nil, fmt.Errorf("unsupported channel count %d (mono only)", header.NumChannels)
	}
	if header.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported sample width %d (16-bit only)", header.BitsPerSample)
	}
	return &header, nil
}

// WAVWriter records PCM audio data to a WAV file
type WAVWriter struct {
	file          *os.File
	sampleRate    int
	channels      int
	bitsPerSample int
	dataSize      int64
}

// NewWAVWriter creates a new WAV file writer
func NewWAVWriter(filename string, sampleRate, channels, bitsPerSample int) (*WAVWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	w := &WAVWriter{
		file:          file,
		sampleRate:    sampleRate,
		channels:      channels,
		bitsPerSample: bitsPerSample,
	}

	// Write placeholder header (sizes patched on close)
	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}

	return w, nil
}

func (w *WAVWriter) writeHeader() error {
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     0xFFFFFFFF,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(w.channels),
		SampleRate:    uint32(w.sampleRate),
		ByteRate:      uint32(w.sampleRate * w.channels * w.bitsPerSample / 8),
		BlockAlign:    uint16(w.channels * w.bitsPerSample / 8),
		BitsPerSample: uint16(w.bitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: 0xFFFFFFFF,
	}

	if err := binary.Write(w.file, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// WriteSamples appends PCM samples to the file.
func (w *WAVWriter) WriteSamples(samples []int16) error {
	if err := binary.Write(w.file, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.dataSize += int64(len(samples) * 2)
	return nil
}

// Close patches the header sizes and closes the file.
func (w *WAVWriter) Close() error {
	// RIFF chunk size at offset 4, data chunk size at offset 40
	var sizes [4]byte

	binary.LittleEndian.PutUint32(sizes[:], uint32(36+w.dataSize))
	if _, err := w.file.WriteAt(sizes[:], 4); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(sizes[:], uint32(w.dataSize))
	if _, err := w.file.WriteAt(sizes[:], 40); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to patch data size: %w", err)
	}

	return w.file.Close()
}
