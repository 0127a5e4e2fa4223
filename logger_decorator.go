package fragments

import (
	"go.uber.org/zap"
)

// LoggerDecorator wraps a logger to add behaviour without modifying it.
type LoggerDecorator interface {
	Logger

	// GetInnerLogger returns the wrapped logger
	GetInnerLogger() Logger
}

// BaseLoggerDecorator forwards every call to the wrapped logger.
type BaseLoggerDecorator struct {
	inner Logger
}

// NewBaseLoggerDecorator creates a new base decorator wrapping the given logger.
func NewBaseLoggerDecorator(inner Logger) *BaseLoggerDecorator {
	if inner == nil {
		inner = NopLogger{}
	}
	return &BaseLoggerDecorator{inner: inner}
}

// GetInnerLogger returns the wrapped logger
func (d *BaseLoggerDecorator) GetInnerLogger() Logger {
	return d.inner
}

func (d *BaseLoggerDecorator) Info(msg string, args ...any) {
	d.inner.Info(msg, args...)
}

func (d *BaseLoggerDecorator) Error(msg string, args ...any) {
	d.inner.Error(msg, args...)
}

func (d *BaseLoggerDecorator) Warn(msg string, args ...any) {
	d.inner.Warn(msg, args...)
}

func (d *BaseLoggerDecorator) Debug(msg string, args ...any) {
	d.inner.Debug(msg, args...)
}

// ValueInjectionLoggerDecorator prepends fixed key-value pairs to every log call.
// Containers use it to tag log lines with the fragment they were scoped for.
type ValueInjectionLoggerDecorator struct {
	*BaseLoggerDecorator
	injectedArgs []any
}

// NewValueInjectionLoggerDecorator creates a decorator that injects args into every call.
func NewValueInjectionLoggerDecorator(inner Logger, injectedArgs ...any) *ValueInjectionLoggerDecorator {
	return &ValueInjectionLoggerDecorator{
		BaseLoggerDecorator: NewBaseLoggerDecorator(inner),
		injectedArgs:        injectedArgs,
	}
}

func (d *ValueInjectionLoggerDecorator) combineArgs(originalArgs []any) []any {
	if len(d.injectedArgs) == 0 {
		return originalArgs
	}
	if len(originalArgs) == 0 {
		return d.injectedArgs
	}
	combined := make([]any, 0, len(d.injectedArgs)+len(originalArgs))
	combined = append(combined, d.injectedArgs...)
	combined = append(combined, originalArgs...)
	return combined
}

func (d *ValueInjectionLoggerDecorator) Info(msg string, args ...any) {
	d.inner.Info(msg, d.combineArgs(args)...)
}

func (d *ValueInjectionLoggerDecorator) Error(msg string, args ...any) {
	d.inner.Error(msg, d.combineArgs(args)...)
}

func (d *ValueInjectionLoggerDecorator) Warn(msg string, args ...any) {
	d.inner.Warn(msg, d.combineArgs(args)...)
}

func (d *ValueInjectionLoggerDecorator) Debug(msg string, args ...any) {
	d.inner.Debug(msg, d.combineArgs(args)...)
}

// ZapLogger adapts a zap logger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil l falls back to zap.NewNop.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) Info(msg string, args ...any) {
	z.sugar.Infow(msg, args...)
}

func (z *ZapLogger) Error(msg string, args ...any) {
	z.sugar.Errorw(msg, args...)
}

func (z *ZapLogger) Warn(msg string, args ...any) {
	z.sugar.Warnw(msg, args...)
}

func (z *ZapLogger) Debug(msg string, args ...any) {
	z.sugar.Debugw(msg, args...)
}

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync() //nolint:wrapcheck // pass-through
}
