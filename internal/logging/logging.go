// Package logging constructs the zap logger shared by every service.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process-wide logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Empty defaults to "info".
	Level string
	// Development enables human-readable console output instead of JSON.
	Development bool
}

// New builds a *zap.Logger configured for the pipeline. Component loggers are
// derived from it with Named/With, mirroring the bracketed "[Pipeline]"
// prefixes the teacher used, but as structured fields instead of string
// concatenation.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
		}
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// Component returns a named child logger, e.g. Component(log, "capture").
func Component(log *zap.Logger, name string) *zap.Logger {
	return log.Named(name)
}

// MustSync flushes a logger's buffered entries; errors from Sync on stdout
// are expected on some platforms and are intentionally ignored.
func MustSync(log *zap.Logger) {
	_ = log.Sync()
}
