// internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
//
// zerolog configuration with runtime and test profiles plus env overrides.

package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "HIOLOAD_LOG_LEVEL"
	EnvLogTimestamp = "HIOLOAD_LOG_TIMESTAMP"
	EnvLogNoColor   = "HIOLOAD_LOG_NOCOLOR"
	EnvLogJSON      = "HIOLOAD_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config controls the process logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
	Out       io.Writer
}

var (
	configureOnce sync.Once
	root          zerolog.Logger
)

func ConfigureRuntime() zerolog.Logger {
	return Configure(ProfileRuntime)
}

func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest)
}

// Configure builds the process logger once and installs it as the zerolog
// global. Later calls return the logger built by the first.
func Configure(profile Profile) zerolog.Logger {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile)
		ApplyEnvOverrides(&cfg)
		root = New(cfg)
		log.Logger = root
	})
	return root
}

// DefaultConfig returns the logger settings of profile.
func DefaultConfig(profile Profile) Config {
	cfg := Config{Out: os.Stderr}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

// New builds a logger from cfg without touching global state.
func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// Component derives a sub-logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func ApplyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

// ParseLevel maps a level name to a zerolog level. Unknown names report false.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
