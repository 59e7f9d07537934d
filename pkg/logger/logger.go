// Package logger provides opinionated logging capabilities for quill
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a console logger writing to stdout.
func NewLogger(debug bool) *zap.Logger {
	return New(zapcore.AddSync(os.Stdout), debug)
}

// New returns a console logger writing to w. CLI commands log to stderr so
// their stdout stays clean for generated text.
func New(w zapcore.WriteSyncer, debug bool) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	// Set log level
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		w,
		level,
	)

	return zap.New(core, zap.AddCaller())
}

// ForCLI returns a stderr debug logger when debug is set, and a no-op
// logger otherwise.
func ForCLI(debug bool) *zap.Logger {
	if !debug {
		return zap.NewNop()
	}
	return New(zapcore.Lock(os.Stderr), true)
}
