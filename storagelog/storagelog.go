// Package storagelog is the thin structured-logging facade shared by the
// gate, pagecache and recordstore packages. It never decides where logs go
// — callers inject a *zap.Logger with New; the default is silent.
package storagelog

import "go.uber.org/zap"

// Logger wraps a *zap.Logger so the engine can log diagnostic events
// (open, cache resize, eviction write-back failure, flush failure) without
// forcing a logging backend on an embedding application.
type Logger struct {
	z *zap.Logger
}

// Nop returns a Logger that discards everything. This is the default for
// every Open call that does not pass WithLogger.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// New wraps an existing zap.Logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		return Nop()
	}
	return &Logger{z: z}
}

func (l *Logger) base() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.base().Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.base().Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.base().Error(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.base().Debug(msg, fields...) }

// Named returns a child logger scoped to a component name, matching the
// convention of tagging every log line with its owning subsystem.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.base().Named(name)}
}
