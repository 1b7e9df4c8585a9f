// Package observability builds the process loggers.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger used by commands. It is a no-op
// logger until InitCLILogger or Configure runs.
var CLILogger = zap.NewNop()

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// InitCLILogger installs a console logger for name. Verbose enables debug
// output.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := NewLogger(name, level, FormatConsole)
	if err != nil {
		logger = zap.NewNop()
	}
	CLILogger = logger
}

// Configure replaces CLILogger with a logger built from level and format.
func Configure(name, level, format string) error {
	logger, err := NewLogger(name, level, format)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a named logger writing to stderr. Format "json" gives the
// production encoder; "console" the development one.
func NewLogger(name, level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or console)", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if name != "" {
		logger = logger.Named(name)
	}
	return logger, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
