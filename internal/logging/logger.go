// Package logging defines the structured logger used across tslinstall.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging for install operations.
// Callers may plug in their own implementation.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
}

// noopLogger is a Logger implementation that does nothing.
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &noopLogger{}
}

// zapLogger adapts a zap SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.s.Debugw(msg, keysAndValues...)
}

func (z *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	z.s.Infow(msg, keysAndValues...)
}

func (z *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.s.Warnw(msg, keysAndValues...)
}

func (z *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	z.s.Errorw(msg, keysAndValues...)
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) Logger {
	if l == nil {
		return Nop()
	}
	return &zapLogger{s: l.Sugar()}
}

// New builds a console logger writing to stderr. Verbose enables debug level.
// The returned sync function flushes buffered entries.
func New(verbose bool) (Logger, func() error, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return &zapLogger{s: l.Sugar()}, l.Sync, nil
}
