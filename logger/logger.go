// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap, providing structured, high-performance logging
// throughout the application.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/livecode/config"
)

// ServiceName is attached to every entry produced by NewFromConfig.
const ServiceName = "livecode"

// NewFromConfig builds the application logger from the logging section.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	l, err := New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service", ServiceName)), nil
}

// New creates a new logger instance based on configuration
func New(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	// Stack traces only at debug level.
	cfg.DisableStacktrace = logLevel > zapcore.DebugLevel

	return cfg.Build()
}
