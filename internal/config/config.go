package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yegors/RTLSDR-Airband/internal/audio"
)

// Config represents the complete service configuration
type Config struct {
	Stream  StreamConfig  `yaml:"stream"`
	Source  SourceConfig  `yaml:"source"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// StreamConfig contains the fan-out output configuration
type StreamConfig struct {
	Format               string `yaml:"format"`   // raw, wav or compressed
	Channels             string `yaml:"channels"` // mono or stereo
	ListenAddress        string `yaml:"listen_address"`
	ListenPort           int    `yaml:"listen_port"`
	Backlog              int    `yaml:"backlog"`
	Transport            string `yaml:"transport"` // tcp or websocket
	WebSocketPath        string `yaml:"websocket_path"`
	MaxSamplesPerChannel int    `yaml:"max_samples_per_channel"`
	PayloadSize          int    `yaml:"payload_size"` // bytes
	SendQueueDepth       int    `yaml:"send_queue_depth"`
	WriteTimeout         int    `yaml:"write_timeout"` // seconds
}

// SourceConfig contains the audio producer configuration
type SourceConfig struct {
	Type          string  `yaml:"type"` // udp or tone
	BindAddress   string  `yaml:"bind_address"`
	UDPPort       int     `yaml:"udp_port"`
	BufferSize    int     `yaml:"buffer_size"`
	ToneFrequency float64 `yaml:"tone_frequency"` // Hz
	BlockSamples  int     `yaml:"block_samples"`  // per channel
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that passes Validate: a mono WAV stream on
// TCP port 8000 fed by the tone generator.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			Format:               "wav",
			Channels:             "mono",
			ListenAddress:        "0.0.0.0",
			ListenPort:           8000,
			Backlog:              5,
			Transport:            "tcp",
			WebSocketPath:        "/",
			MaxSamplesPerChannel: 2048,
			PayloadSize:          1316,
			SendQueueDepth:       64,
			WriteTimeout:         5,
		},
		Source: SourceConfig{
			Type:          "tone",
			BindAddress:   "0.0.0.0",
			UDPPort:       4444,
			BufferSize:    65536,
			ToneFrequency: 440,
			BlockSamples:  400,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Missing keys keep their
// Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Source.Validate(c.Stream.MaxSamplesPerChannel); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	// the tone source produces PCM, and no codec is built in for compressed output
	if format, _ := audio.ParseFormat(c.Stream.Format); format == audio.FormatCompressed && c.Source.Type == "tone" {
		return fmt.Errorf("source config: tone source cannot feed a compressed stream, use a udp source with encoded packets")
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if _, err := audio.ParseFormat(s.Format); err != nil {
		return err
	}

	if _, err := audio.ParseChannelMode(s.Channels); err != nil {
		return err
	}

	if _, err := netip.ParseAddr(s.ListenAddress); err != nil {
		return fmt.Errorf("listen_address must be an IP address, got '%s'", s.ListenAddress)
	}

	if s.ListenPort < 1 || s.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535, got %d", s.ListenPort)
	}

	if s.Backlog < 1 {
		return fmt.Errorf("backlog must be at least 1, got %d", s.Backlog)
	}

	validTransports := map[string]bool{"tcp": true, "websocket": true}
	if !validTransports[s.Transport] {
		return fmt.Errorf("transport must be 'tcp' or 'websocket', got '%s'", s.Transport)
	}

	if s.Transport == "websocket" && (s.WebSocketPath == "" || s.WebSocketPath[0] != '/') {
		return fmt.Errorf("websocket_path must start with '/', got '%s'", s.WebSocketPath)
	}

	if s.MaxSamplesPerChannel < 1 {
		return fmt.Errorf("max_samples_per_channel must be at least 1, got %d", s.MaxSamplesPerChannel)
	}

	if s.PayloadSize < audio.StreamHeaderSize {
		return fmt.Errorf("payload_size must be at least %d bytes, got %d", audio.StreamHeaderSize, s.PayloadSize)
	}

	if s.SendQueueDepth < 1 {
		return fmt.Errorf("send_queue_depth must be at least 1, got %d", s.SendQueueDepth)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	return nil
}

// Validate validates source configuration. Blocks from the source must fit
// the stream's conversion buffers.
func (s *SourceConfig) Validate(maxSamplesPerChannel int) error {
	switch s.Type {
	case "udp":
		if s.UDPPort < 1 || s.UDPPort > 65535 {
			return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
		}

		if s.BindAddress == "" {
			return fmt.Errorf("bind_address cannot be empty")
		}

		if s.BufferSize < 1024 {
			return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
		}

	case "tone":
		nyquist := float64(audio.WaveRate) / 2
		if s.ToneFrequency <= 0 || s.ToneFrequency >= nyquist {
			return fmt.Errorf("tone_frequency must be between 0 and %.0f Hz (exclusive), got %f", nyquist, s.ToneFrequency)
		}

		if s.BlockSamples < 1 || s.BlockSamples > maxSamplesPerChannel {
			return fmt.Errorf("block_samples must be between 1 and max_samples_per_channel (%d), got %d",
				maxSamplesPerChannel, s.BlockSamples)
		}

	default:
		return fmt.Errorf("type must be 'udp' or 'tone', got '%s'", s.Type)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output value is a file path
	return nil
}

// GetFormat returns the parsed stream format
func (s *StreamConfig) GetFormat() audio.Format {
	f, _ := audio.ParseFormat(s.Format)
	return f
}

// GetChannelMode returns the parsed channel mode
func (s *StreamConfig) GetChannelMode() audio.ChannelMode {
	m, _ := audio.ParseChannelMode(s.Channels)
	return m
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (s *StreamConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetBlockDuration returns the playback duration of one tone block
func (s *SourceConfig) GetBlockDuration() time.Duration {
	return time.Duration(s.BlockSamples) * time.Second / time.Duration(audio.WaveRate)
}
