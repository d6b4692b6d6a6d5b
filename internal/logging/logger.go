package logging

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"agentgate/internal/observability"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var backend atomic.Pointer[observability.Logger]

// SetBackend installs the structured logger that component loggers emit through.
func SetBackend(logger *observability.Logger) {
	if logger == nil {
		return
	}
	backend.Store(logger)
}

func currentBackend() *observability.Logger {
	if logger := backend.Load(); logger != nil {
		return logger
	}
	fallback := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	backend.CompareAndSwap(nil, fallback)
	return backend.Load()
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

// FromObservability wraps a structured logger and preserves printf-style call
// sites by formatting the message before emitting it.
func FromObservability(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	scoped := logger
	if component != "" {
		scoped = scoped.With("component", component)
	}
	return &printfLogger{logger: scoped}
}

type componentLogger struct {
	component string
}

func (l *componentLogger) scoped() *observability.Logger {
	return currentBackend().With("component", l.component)
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.scoped().Debug(fmt.Sprintf(format, args...))
}

func (l *componentLogger) Info(format string, args ...any) {
	l.scoped().Info(fmt.Sprintf(format, args...))
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.scoped().Warn(fmt.Sprintf(format, args...))
}

func (l *componentLogger) Error(format string, args ...any) {
	l.scoped().Error(fmt.Sprintf(format, args...))
}

type printfLogger struct {
	logger *observability.Logger
}

func (l *printfLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *printfLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *printfLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *printfLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
