// Package observability owns the process-wide loggers.
//
// CLILogger is safe to use before initialization; it starts as a no-op
// logger so library code and tests never dereference nil.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// CLILogger is the logger used by commands. Diagnostics go to stderr so
// stdout stays reserved for JSONL records.
var CLILogger = zap.NewNop()

// InitCLILogger initializes CLILogger at info level. jsonOutput selects the
// structured profile; otherwise a console encoder is used.
func InitCLILogger(serviceName string, jsonOutput bool) {
	profile := ProfileConsole
	if jsonOutput {
		profile = ProfileStructured
	}
	logger, err := NewLogger(serviceName, "info", profile)
	if err != nil {
		return
	}
	CLILogger = logger
}

// Configure rebuilds CLILogger from a level and profile name.
func Configure(serviceName, level, profile string) error {
	logger, err := NewLogger(serviceName, level, profile)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a stderr logger. Level is a zap level name; profile is
// structured (JSON) or console.
func NewLogger(serviceName, level, profile string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case ProfileStructured, "":
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	case ProfileConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		enc = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, fmt.Errorf("invalid log profile %q: expected structured or console", profile)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	logger := zap.New(core)
	if serviceName != "" {
		logger = logger.With(zap.String("service", serviceName))
	}
	return logger, nil
}
