package logger

import (
	"time"

	"go.uber.org/zap"
)

// Field is a typed key/value pair attached to a log entry.
type Field = zap.Field

func String(key, value string) Field { return zap.String(key, value) }
func Int(key string, value int) Field { return zap.Int(key, value) }
func Int64(key string, value int64) Field { return zap.Int64(key, value) }
func Uint64(key string, value uint64) Field { return zap.Uint64(key, value) }
func Bool(key string, value bool) Field { return zap.Bool(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Time(key string, t time.Time) Field { return zap.Time(key, t) }
func Any(key string, value any) Field { return zap.Any(key, value) }

// Error attaches err under the "error" key.
func Error(err error) Field {
	return zap.Error(err)
}

// Component tags entries with the emitting subsystem.
func Component(name string) Field {
	return zap.String("component", name)
}
