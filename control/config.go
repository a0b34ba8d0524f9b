// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration: defaults, TOML loading and validation.

package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the runtime configuration of a link instance.
type Config struct {
	// PollTimeout bounds one poller wait when no timer is pending.
	PollTimeout time.Duration
	// CheckReconnectInterval is the cadence of reconnect and connect-timeout checks.
	CheckReconnectInterval time.Duration
	// ReadChunkSize is the minimum read buffer handed to a socket read.
	ReadChunkSize int
	// BlockSize is the default region size of outgoing buffer chains.
	BlockSize int
	// Backlog is the listen backlog for bound endpoints.
	Backlog int

	MaxMessageSize   int
	MaxPayload       int
	HeaderWidth      int
	MaxContentLength int
	MaxHeaderBytes   int

	Reconnect ReconnectConfig

	LogLevel    string
	MetricsAddr string
}

// ReconnectConfig is the default reconnect policy of outgoing connections.
type ReconnectConfig struct {
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	MaxAttempts int
	Expiry      time.Duration
	Timeout     time.Duration
	Jitter      bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		PollTimeout:            500 * time.Millisecond,
		CheckReconnectInterval: 100 * time.Millisecond,
		ReadChunkSize:          16 * 1024,
		BlockSize:              4096,
		Backlog:                128,
		MaxMessageSize:         0,
		MaxPayload:             16 << 20,
		HeaderWidth:            4,
		MaxContentLength:       1 << 20,
		MaxHeaderBytes:         64 << 10,
		Reconnect: ReconnectConfig{
			Multiplier: 1,
			Timeout:    5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.PollTimeout <= 0:
		return fmt.Errorf("poll_timeout must be positive")
	case c.CheckReconnectInterval <= 0:
		return fmt.Errorf("check_reconnect_interval must be positive")
	case c.ReadChunkSize <= 0:
		return fmt.Errorf("read_chunk_size must be positive")
	case c.BlockSize <= 0:
		return fmt.Errorf("block_size must be positive")
	case c.HeaderWidth != 2 && c.HeaderWidth != 4 && c.HeaderWidth != 8:
		return fmt.Errorf("header_width must be 2, 4 or 8, got %d", c.HeaderWidth)
	case c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1:
		return fmt.Errorf("reconnect.multiplier must be >= 1")
	case c.Reconnect.MaxAttempts < 0:
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	return nil
}

type fileConfig struct {
	PollTimeout            string          `toml:"poll_timeout"`
	CheckReconnectInterval string          `toml:"check_reconnect_interval"`
	ReadChunkSize          int             `toml:"read_chunk_size"`
	BlockSize              int             `toml:"block_size"`
	Backlog                int             `toml:"backlog"`
	MaxMessageSize         int             `toml:"max_message_size"`
	MaxPayload             int             `toml:"max_payload"`
	HeaderWidth            int             `toml:"header_width"`
	MaxContentLength       int             `toml:"max_content_length"`
	MaxHeaderBytes         int             `toml:"max_header_bytes"`
	LogLevel               string          `toml:"log_level"`
	MetricsAddr            string          `toml:"metrics_addr"`
	Reconnect              reconnectConfig `toml:"reconnect"`
}

type reconnectConfig struct {
	Interval    string  `toml:"interval"`
	Multiplier  float64 `toml:"multiplier"`
	MaxInterval string  `toml:"max_interval"`
	MaxAttempts int     `toml:"max_attempts"`
	Expiry      string  `toml:"expiry"`
	Timeout     string  `toml:"timeout"`
	Jitter      bool    `toml:"jitter"`
}

// LoadConfig reads a TOML file over DefaultConfig. Keys absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(DefaultConfig(), raw, meta)
}

// ParseConfig decodes TOML text over DefaultConfig.
func ParseConfig(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(DefaultConfig(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"poll_timeout", raw.PollTimeout, &cfg.PollTimeout},
		{"check_reconnect_interval", raw.CheckReconnectInterval, &cfg.CheckReconnectInterval},
		{"reconnect.interval", raw.Reconnect.Interval, &cfg.Reconnect.Interval},
		{"reconnect.max_interval", raw.Reconnect.MaxInterval, &cfg.Reconnect.MaxInterval},
		{"reconnect.expiry", raw.Reconnect.Expiry, &cfg.Reconnect.Expiry},
		{"reconnect.timeout", raw.Reconnect.Timeout, &cfg.Reconnect.Timeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		val int
		dst *int
	}{
		{"read_chunk_size", raw.ReadChunkSize, &cfg.ReadChunkSize},
		{"block_size", raw.BlockSize, &cfg.BlockSize},
		{"backlog", raw.Backlog, &cfg.Backlog},
		{"max_message_size", raw.MaxMessageSize, &cfg.MaxMessageSize},
		{"max_payload", raw.MaxPayload, &cfg.MaxPayload},
		{"header_width", raw.HeaderWidth, &cfg.HeaderWidth},
		{"max_content_length", raw.MaxContentLength, &cfg.MaxContentLength},
		{"max_header_bytes", raw.MaxHeaderBytes, &cfg.MaxHeaderBytes},
		{"reconnect.max_attempts", raw.Reconnect.MaxAttempts, &cfg.Reconnect.MaxAttempts},
	}
	for _, i := range ints {
		if meta.IsDefined(strings.Split(i.key, ".")...) {
			*i.dst = i.val
		}
	}

	if meta.IsDefined("reconnect", "multiplier") {
		cfg.Reconnect.Multiplier = raw.Reconnect.Multiplier
	}
	if meta.IsDefined("reconnect", "jitter") {
		cfg.Reconnect.Jitter = raw.Reconnect.Jitter
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
