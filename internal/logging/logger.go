// Package logging provides the gateway's structured logger. It wraps
// go.uber.org/zap behind a small interface so call sites read the way the
// rest of the stack's internal commons.Logger call sites do.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging surface used throughout the gateway.
type Logger interface {
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
	Warnw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	// Benchmark logs how long a named operation took, matching the
	// teacher's commons.Logger call sites around executor initialization.
	Benchmark(functionName string, duration time.Duration)
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Options configures the logger's output.
type Options struct {
	// Development enables human-readable console output instead of JSON.
	Development bool
	// FilePath, if set, rotates logs through lumberjack instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a Logger from Options.
func New(opts Options) (Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Development {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	if opts.Development {
		devCfg := zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(devCfg)
	}

	var sink zapcore.WriteSyncer
	if opts.FilePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    nonZero(opts.MaxSizeMB, 100),
			MaxBackups: nonZero(opts.MaxBackups, 3),
			MaxAge:     nonZero(opts.MaxAgeDays, 28),
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	logger := zap.New(core, zap.AddCaller())

	return &zapLogger{sugar: logger.Sugar()}, nil
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *zapLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(args ...any)                  { l.sugar.Info(args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Warnw(msg string, kv ...any)       { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...any)       { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Benchmark(functionName string, duration time.Duration) {
	l.sugar.Infow("benchmark", "function", functionName, "duration", duration)
}
func (l *zapLogger) Sync() error { return l.sugar.Sync() }
