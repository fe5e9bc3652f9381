package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
)

// Environment variables overriding the transcription endpoint
const (
	EnvWhisperHost = "WHISPER_HOST"
	EnvWhisperPort = "WHISPER_PORT"
)

// Config represents the complete service configuration
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Bus           BusConfig           `yaml:"bus"`
	Session       SessionConfig       `yaml:"session"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains capture and recording parameters
type AudioConfig struct {
	CaptureFormat      string  `yaml:"capture_format"`
	FramesPerBuffer    int     `yaml:"frames_per_buffer"`
	RecordingsDir      string  `yaml:"recordings_dir"`
	MaxDuration        float64 `yaml:"max_duration"`      // seconds, 0 disables the watchdog
	WatchdogInterval   float64 `yaml:"watchdog_interval"` // seconds
	ProgressIntervalMs int     `yaml:"progress_interval_ms"`
	MaxWriteErrors     int     `yaml:"max_write_errors"`
}

// BusConfig sizes the per-subscriber chunk rings
type BusConfig struct {
	Capacity     int `yaml:"capacity"`
	FileCapacity int `yaml:"file_capacity"`
}

// SessionConfig contains session lifecycle parameters
type SessionConfig struct {
	FinalizeTimeout float64 `yaml:"finalize_timeout"` // seconds
}

// TranscriptionConfig contains transcription service connection parameters
type TranscriptionConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	DialTimeout  float64 `yaml:"dial_timeout"`  // seconds
	WriteTimeout float64 `yaml:"write_timeout"` // seconds
	DrainTimeout float64 `yaml:"drain_timeout"` // seconds, 0 drops replies on close
	MaxLineSize  int     `yaml:"max_line_size"`
	Debug        bool    `yaml:"debug"`
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

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			CaptureFormat:      audio.FormatInt16.String(),
			FramesPerBuffer:    1024,
			RecordingsDir:      "recordings",
			MaxDuration:        5,
			WatchdogInterval:   1,
			ProgressIntervalMs: 10,
			MaxWriteErrors:     3,
		},
		Bus: BusConfig{
			Capacity:     512,
			FileCapacity: 4096,
		},
		Session: SessionConfig{
			FinalizeTimeout: 5,
		},
		Transcription: TranscriptionConfig{
			Enabled:      true,
			Host:         "localhost",
			Port:         43001,
			DialTimeout:  5,
			WriteTimeout: 2,
			DrainTimeout: 2,
			MaxLineSize:  64 * 1024,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file on top of the defaults, applies
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides the transcription endpoint from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if host, ok := lookup(EnvWhisperHost); ok && strings.TrimSpace(host) != "" {
		c.Transcription.Host = strings.TrimSpace(host)
	}

	if raw, ok := lookup(EnvWhisperPort); ok && strings.TrimSpace(raw) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWhisperPort, raw, err)
		}
		c.Transcription.Port = port
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("bus config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if _, err := audio.ParseFormat(a.CaptureFormat); err != nil {
		return fmt.Errorf("capture_format: %w", err)
	}

	if a.FramesPerBuffer < 0 {
		return fmt.Errorf("frames_per_buffer cannot be negative, got %d", a.FramesPerBuffer)
	}

	if a.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	if a.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %f", a.MaxDuration)
	}

	if a.WatchdogInterval <= 0 {
		return fmt.Errorf("watchdog_interval must be positive, got %f", a.WatchdogInterval)
	}

	if a.ProgressIntervalMs < 1 {
		return fmt.Errorf("progress_interval_ms must be at least 1, got %d", a.ProgressIntervalMs)
	}

	if a.MaxWriteErrors < 1 {
		return fmt.Errorf("max_write_errors must be at least 1, got %d", a.MaxWriteErrors)
	}

	return nil
}

// Validate validates bus configuration
func (b *BusConfig) Validate() error {
	if b.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", b.Capacity)
	}

	if b.FileCapacity < b.Capacity {
		return fmt.Errorf("file_capacity (%d) must not be smaller than capacity (%d)", b.FileCapacity, b.Capacity)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.FinalizeTimeout <= 0 {
		return fmt.Errorf("finalize_timeout must be positive, got %f", s.FinalizeTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.Host == "" {
		return fmt.Errorf("host cannot be empty when transcription is enabled")
	}

	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", t.Port)
	}

	if t.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive, got %f", t.DialTimeout)
	}

	if t.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout cannot be negative, got %f", t.WriteTimeout)
	}

	if t.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout cannot be negative, got %f", t.DrainTimeout)
	}

	if t.MaxLineSize < 1 {
		return fmt.Errorf("max_line_size must be at least 1, got %d", t.MaxLineSize)
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

	// anything other than stdout/stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetCaptureFormat returns the parsed driver sample format
func (a *AudioConfig) GetCaptureFormat() audio.Format {
	f, err := audio.ParseFormat(a.CaptureFormat)
	if err != nil {
		return audio.FormatInt16
	}
	return f
}

// GetMaxDuration returns the maximum recording duration as a time.Duration
func (a *AudioConfig) GetMaxDuration() time.Duration {
	return seconds(a.MaxDuration)
}

// GetWatchdogInterval returns the watchdog poll interval as a time.Duration
func (a *AudioConfig) GetWatchdogInterval() time.Duration {
	return seconds(a.WatchdogInterval)
}

// GetProgressInterval returns the level meter throttle as a time.Duration
func (a *AudioConfig) GetProgressInterval() time.Duration {
	return time.Duration(a.ProgressIntervalMs) * time.Millisecond
}

// GetFinalizeTimeout returns the finalize timeout as a time.Duration
func (s *SessionConfig) GetFinalizeTimeout() time.Duration {
	return seconds(s.FinalizeTimeout)
}

// GetDialTimeout returns the dial timeout as a time.Duration
func (t *TranscriptionConfig) GetDialTimeout() time.Duration {
	return seconds(t.DialTimeout)
}

// GetWriteTimeout returns the per-chunk write timeout as a time.Duration
func (t *TranscriptionConfig) GetWriteTimeout() time.Duration {
	return seconds(t.WriteTimeout)
}

// GetDrainTimeout returns the close drain timeout as a time.Duration
func (t *TranscriptionConfig) GetDrainTimeout() time.Duration {
	return seconds(t.DrainTimeout)
}

// Endpoint returns the host:port address of the transcription service
func (t *TranscriptionConfig) Endpoint() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
