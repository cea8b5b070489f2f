// Package dlogger exposes a simple zap logger, with log levels
package dlogger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// LogLevelInfo sets the log level to info
	LogLevelInfo = "info"

	// LogLevelDebug sets the log level to debug
	LogLevelDebug = "debug"

	// LogLevelNone sets logger to no logging
	LogLevelNone = "none"
)

// FileSink describes a rotating log file
type FileSink struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// GetLogger returns a zap logger with the specified level
func GetLogger(logLevel string) (*zap.Logger, error) {
	return GetLoggerWithSink(logLevel, nil)
}

// GetLoggerWithSink returns a zap logger with the specified level.
//
// When a file sink is provided, logs are written to a rotating file in addition to stderr.
func GetLoggerWithSink(logLevel string, sink *FileSink) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, err
	}

	if sink == nil || sink.Filename == "" {
		zapConfig := zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(lvl)
		return zapConfig.Build()
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	level := zap.NewAtomicLevelAt(lvl)
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(encoder, zapcore.AddSync(&lumberjack.Logger{
			Filename:   sink.Filename,
			MaxSize:    sink.MaxSizeMB, // megabytes
			MaxBackups: sink.MaxBackups,
			MaxAge:     sink.MaxAgeDays, // days
			Compress:   sink.Compress,
		}), level),
	)
	return zap.New(core, zap.AddCaller()), nil
}

// MustGetLogger returns a zap logger with the specified level or panics
func MustGetLogger(logLevel string) *zap.Logger {
	l, err := GetLogger(logLevel)
	if err != nil {
		panic(err)
	}
	return l
}
