// Package logging builds the zap logger shared by the CLI and the MCP server.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "LOKIVAULT_LOG_LEVEL"

// DefaultLevel is used when neither config nor environment sets a level.
const DefaultLevel = "warn"

// ParseLevel maps a level name to a zap level. Names are case-insensitive.
func ParseLevel(name string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return lvl, fmt.Errorf("logging: unknown level %q", name)
	}
	return lvl, nil
}

// New returns a console logger writing to stderr at level. An empty level
// means DefaultLevel; LOKIVAULT_LOG_LEVEL wins over both.
func New(level string) (*zap.Logger, error) {
	if env := os.Getenv(EnvLogLevel); env != "" {
		level = env
	}
	if level == "" {
		level = DefaultLevel
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return newConfig(lvl).Build()
}

// newConfig is zap's production config with console output and no sampling;
// the CLI logs too little for sampling to matter.
func newConfig(lvl zapcore.Level) zap.Config {
	return zap.Config{
		Level:       zap.NewAtomicLevelAt(lvl),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
}
