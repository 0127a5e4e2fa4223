package eventbus

import (
	"context"
	"time"

	"github.com/GoCodeAlone/fragments"
)

const (
	// DefaultWaitTimeout bounds WaitFor calls that do not set their own timeout.
	DefaultWaitTimeout = 30 * time.Second

	// DefaultSource is stamped on events when neither the bus nor the emitter names one.
	DefaultSource = "fragments/eventbus"
)

// ErrorHandler receives every dispatch-time failure: handler errors, handler panics,
// validation rejections and failing interceptors.
type ErrorHandler func(ctx context.Context, event Event, err error)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for the default error path and debug output.
func WithLogger(logger fragments.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSource sets the Source stamped on events that do not carry their own.
func WithSource(source string) Option {
	return func(b *Bus) {
		if source != "" {
			b.source = source
		}
	}
}

// WithErrorHandler replaces the default logging error path.
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bus) {
		b.onError = h
	}
}

// WithDefaultWaitTimeout changes the timeout used by WaitFor when none is given.
func WithDefaultWaitTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.waitTimeout = d
		}
	}
}

// WithClock sets the time source for event timestamps and handler durations.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}
