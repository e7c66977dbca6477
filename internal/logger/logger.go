// Package logger provides the structured logger used across dealerdash.
//
// Components depend on the Logger interface and attach typed fields with the
// helpers in fields.go. The default implementation is backed by zap.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a logging severity.
type Level string

// Supported log levels.
const (
	LogLevelDebug Level = "debug"
	LogLevelInfo  Level = "info"
	LogLevelWarn  Level = "warn"
	LogLevelError Level = "error"
)

// Logger is the structured logging interface injected into components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// With returns a child logger that always carries the given fields.
	With(fields ...Field) Logger
	// Sync flushes buffered entries.
	Sync() error
}

// Config controls where and how log entries are written.
type Config struct {
	Level   Level
	Console bool // also write to stdout
	// File enables rotated file output when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zapLogger struct {
	z *zap.Logger
}

// New returns a JSON logger writing to w at the given level.
func New(w io.Writer, level Level) Logger {
	core := zapcore.NewCore(jsonEncoder(), zapcore.AddSync(w), zapLevel(level))
	return &zapLogger{z: zap.New(core)}
}

// NewFromConfig builds a logger from cfg. File output is rotated by lumberjack.
// The returned close function flushes and releases the log file.
func NewFromConfig(cfg Config) (Logger, func(), error) {
	if _, err := ParseLevel(string(cfg.Level)); err != nil {
		return nil, nil, err
	}

	var cores []zapcore.Core
	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotator), zapLevel(cfg.Level)))
	}
	if cfg.Console || rotator == nil {
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.Lock(os.Stdout), zapLevel(cfg.Level)))
	}

	l := &zapLogger{z: zap.New(zapcore.NewTee(cores...))}
	closeFn := func() {
		_ = l.z.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return l, closeFn, nil
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

// ParseLevel validates a level name. An empty string means info.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LogLevelInfo:
		return LogLevelInfo, nil
	case LogLevelDebug:
		return LogLevelDebug, nil
	case LogLevelWarn, "warning":
		return LogLevelWarn, nil
	case LogLevelError:
		return LogLevelError, nil
	default:
		return "", fmt.Errorf("invalid log level %q", s)
	}
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
