// internal/logger/logger.go
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures where and how verbosely a Logger writes
type Options struct {
	// FilePath enables a rotated JSON file sink when set
	FilePath string
	Level    string
	JSON     bool
}

// Logger wraps a zap logger with service context
type Logger struct {
	service string
	base    *zap.Logger
	zl      *zap.Logger
}

// New creates a console logger for a service
func New(service string) *Logger {
	return NewWithOptions(service, Options{Level: "info"})
}

// NewWithOptions creates a logger with an optional rotated file sink
func NewWithOptions(service string, opts Options) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Level != "" {
		_ = level.UnmarshalText([]byte(opts.Level))
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	consoleEncoder := jsonEncoder
	if !opts.JSON {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
	}

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	return FromZap(service, zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)))
}

// FromZap wraps an existing zap logger
func FromZap(service string, zl *zap.Logger) *Logger {
	return &Logger{
		service: service,
		base:    zl,
		zl:      zl.With(zap.String("source", service)),
	}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return FromZap("nop", zap.NewNop())
}

// Service returns the source name attached to every entry
func (l *Logger) Service() string {
	return l.service
}

// Named returns a child logger for another source sharing the same sinks
func (l *Logger) Named(service string) *Logger {
	return FromZap(service, l.base)
}

// Info logs an info message
func (l *Logger) Info(message string, keyvals ...interface{}) {
	l.zl.Sugar().Infow(message, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(message string, keyvals ...interface{}) {
	l.zl.Sugar().Errorw(message, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, keyvals ...interface{}) {
	l.zl.Sugar().Warnw(message, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, keyvals ...interface{}) {
	l.zl.Sugar().Debugw(message, keyvals...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, keyvals ...interface{}) {
	l.zl.Sugar().Fatalw(message, keyvals...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}
