package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Decoder    DecoderConfig    `yaml:"decoder"`
	Server     ServerConfig     `yaml:"server"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	MessageLog MessageLogConfig `yaml:"message_log"`
}

// InputConfig selects the audio source
type InputConfig struct {
	SampleRate int    `yaml:"sample_rate"` // Hz (default: 11025)
	Path       string `yaml:"path"`        // PCM/WAV file path, "-" or "" for stdin
	RTP        string `yaml:"rtp"`         // multicast group:port for RTP ingest (empty = disabled)
	Record     string `yaml:"record"`      // tee ingested audio to this WAV file (empty = disabled)
}

// DecoderConfig contains the SITOR-B decoder parameters
type DecoderConfig struct {
	CenterFrequency float64 `yaml:"center_frequency"` // Hz (default: 1000)
	Deviation       float64 `yaml:"deviation"`        // Hz (default: 85)
	BaudRate        float64 `yaml:"baud_rate"`        // Baud (default: 100)
	OnlySitorB      bool    `yaml:"only_sitor_b"`     // raw SITOR-B, no message envelope
	Reverse         bool    `yaml:"reverse"`          // swap mark/space
	TimeoutSeconds  float64 `yaml:"timeout_seconds"`  // message inactivity timeout (default: 600)
	ErrorBudget     int     `yaml:"error_budget"`     // consecutive-error budget before resync (default: 5)
	MinLength       int     `yaml:"min_length"`       // shortest message worth flushing (default: 0)
}

// ServerConfig contains the HTTP/WebSocket server settings
type ServerConfig struct {
	Listen      string `yaml:"listen"`       // address:port (empty = no server)
	MaxMessages int    `yaml:"max_messages"` // messages kept for /api/messages (default: 100)
	Compression bool   `yaml:"compression"`  // zstd-compress stream frames
}

// PrometheusConfig contains metrics settings
type PrometheusConfig struct {
	Enabled        bool `yaml:"enabled"`
	SystemMetrics  bool `yaml:"system_metrics"`  // CPU/memory gauges
	UpdateInterval int  `yaml:"update_interval"` // seconds between system samples (default: 15)
}

// MQTTConfig contains MQTT publishing settings
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"` // e.g. tcp://localhost:1883
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`     // default: navtex
	MetricsInterval int           `yaml:"metrics_interval"` // seconds between metric snapshots (0 = disabled)
	TLS             MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains TLS settings for the MQTT connection
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// MessageLogConfig contains CSV message logging settings
type MessageLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DataDir    string `yaml:"data_dir"`     // directory for daily CSV files
	MaxAgeDays int    `yaml:"max_age_days"` // age-based cleanup (0 = keep forever)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			SampleRate: 11025,
			Path:       "-",
		},
		Decoder: DecoderConfig{
			CenterFrequency: 1000,
			Deviation:       85,
			BaudRate:        100,
			TimeoutSeconds:  600,
			ErrorBudget:     5,
		},
		Server: ServerConfig{
			MaxMessages: 100,
		},
		Prometheus: PrometheusConfig{
			SystemMetrics:  true,
			UpdateInterval: 15,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "navtex",
		},
		MessageLog: MessageLogConfig{
			DataDir: "messages",
		},
	}
}

// LoadConfig reads and validates a YAML configuration file, filling in
// defaults for anything left unset.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for out-of-range values
func (c *Config) Validate() error {
	if c.Input.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.Input.SampleRate)
	}
	if c.Decoder.CenterFrequency <= 0 || c.Decoder.CenterFrequency > 10000 {
		return fmt.Errorf("invalid center frequency: %.1f Hz (must be 1-10000)", c.Decoder.CenterFrequency)
	}
	if c.Decoder.Deviation <= 0 || c.Decoder.Deviation > 1000 {
		return fmt.Errorf("invalid deviation: %.1f Hz (must be 1-1000)", c.Decoder.Deviation)
	}
	if c.Decoder.BaudRate <= 10 || c.Decoder.BaudRate > 1000 {
		return fmt.Errorf("invalid baud rate: %.1f (must be above 10, at most 1000)", c.Decoder.BaudRate)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt enabled but no broker configured")
	}
	if c.MessageLog.Enabled && c.MessageLog.DataDir == "" {
		return fmt.Errorf("message log enabled but no data_dir configured")
	}
	return nil
}
