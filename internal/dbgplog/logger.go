// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package dbgplog provides the structured logger used by every
// component of the proxy. It wraps zap behind the logr facade, the
// same layering the rest of the pack uses so that packages depend on
// logr.Logger rather than on zap directly.
package dbgplog

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a logr.Logger with the ability to change its minimum
// level at runtime (via the -l flag) and to flush buffered output on
// shutdown.
type Logger struct {
	logr.Logger
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New creates a Logger that writes human-readable, leveled output to
// stderr. The initial level is Info.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	atomicLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atomicLevel)

	zapLogger := zap.New(core).Named(name)
	logger := zapr.NewLogger(zapLogger)

	return &Logger{
		Logger:      logger,
		atomicLevel: atomicLevel,
		flush:       func() { _ = zapLogger.Sync() },
	}
}

// WithName returns a Logger whose messages are tagged with the given
// name, in addition to any names already attached.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.WithName(name),
		atomicLevel: l.atomicLevel,
		flush:       l.flush,
	}
}

// SetLevel changes the minimum level the logger will emit.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

// Flush blocks until any buffered log entries have been written out.
// Best effort: sync errors against stderr are expected and ignored.
func (l *Logger) Flush() {
	l.flush()
}
