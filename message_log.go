package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MessageLogger writes decoded messages to daily CSV files, one row per
// message, with age-based cleanup of old files.
type MessageLogger struct {
	dataDir    string
	maxAgeDays int

	openFile  *os.File
	csvWriter *csv.Writer
	openDate  string
	fileMu    sync.Mutex

	stopClean chan struct{}
}

// NewMessageLogger creates the data directory and starts the cleanup
// goroutine when an age limit is set.
func NewMessageLogger(cfg MessageLogConfig) (*MessageLogger, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create message log directory: %w", err)
	}

	l := &MessageLogger{
		dataDir:    cfg.DataDir,
		maxAgeDays: cfg.MaxAgeDays,
		stopClean:  make(chan struct{}),
	}

	if l.maxAgeDays > 0 {
		go l.cleanupLoop()
	}

	log.Printf("[MessageLog] Logging to %s", cfg.DataDir)
	return l, nil
}

// Log appends one message row to today's file.
func (l *MessageLogger) Log(m DecodedMessage) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	date := m.Received.Format("2006-01-02")
	if l.openFile == nil || date != l.openDate {
		if err := l.rotate(date); err != nil {
			log.Printf("[MessageLog] Rotate failed: %v", err)
			return
		}
	}

	l.csvWriter.Write([]string{
		m.Received.Format(time.RFC3339),
		m.Origin,
		m.Subject,
		strconv.Itoa(m.Number),
		strconv.FormatBool(m.Header),
		m.Text,
	})
	l.csvWriter.Flush()

	if err := l.csvWriter.Error(); err != nil {
		log.Printf("[MessageLog] CSV write error: %v", err)
	}
}

func (l *MessageLogger) rotate(date string) error {
	if l.openFile != nil {
		l.csvWriter.Flush()
		l.openFile.Close()
		l.openFile = nil
	}

	path := filepath.Join(l.dataDir, date+".csv")
	_, statErr := os.Stat(path)
	isNew := statErr != nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	l.openFile = f
	l.csvWriter = csv.NewWriter(f)
	l.openDate = date

	if isNew {
		l.csvWriter.Write([]string{"timestamp", "origin", "subject", "number", "header", "text"})
		l.csvWriter.Flush()
	}

	return nil
}

// Close flushes and closes the current file and stops cleanup.
func (l *MessageLogger) Close() {
	close(l.stopClean)

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.openFile != nil {
		l.csvWriter.Flush()
		l.openFile.Close()
		l.openFile = nil
	}
}

// cleanupLoop removes files older than the age limit, once a day.
func (l *MessageLogger) cleanupLoop() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	l.cleanup()
	for {
		select {
		case <-l.stopClean:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *MessageLogger) cleanup() {
	cutoff := time.Now().AddDate(0, 0, -l.maxAgeDays)

	entries, err := os.ReadDir(l.dataDir)
	if err != nil {
		log.Printf("[MessageLog] Cleanup scan failed: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".csv"))
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			path := filepath.Join(l.dataDir, name)
			if err := os.Remove(path); err != nil {
				log.Printf("[MessageLog] Failed to remove %s: %v", path, err)
			} else {
				log.Printf("[MessageLog] Removed old log %s", name)
			}
		}
	}
}
