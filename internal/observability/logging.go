// Package observability owns process-wide logging setup.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared logger for command entry points. It defaults to a
// no-op so packages can log before Init runs (e.g. in tests).
var CLILogger = zap.NewNop()

// Init builds the process logger from the configured level and profile and
// installs it as CLILogger. Profile "CONSOLE" renders human-readable output
// for interactive use; anything else emits structured JSON.
func Init(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	if strings.EqualFold(profile, "CONSOLE") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	return logger, nil
}
