package eventbus

import (
	"context"
	"strconv"
	"time"
)

// HandlerInfo describes one subscription as seen by interceptors.
type HandlerInfo struct {
	// ID is unique per subscription for the lifetime of the bus.
	ID uint64

	// Type is the subscribed type, Wildcard for catch-all handlers.
	Type string

	// Once is true for subscriptions created by Once.
	Once bool

	Handler Handler
}

// Interceptor is a set of optional hooks around emission and handler invocation.
// Hooks run in the order interceptors were added with Use.
type Interceptor struct {
	// Name identifies the interceptor in EmitResult.CancelledBy and in errors.
	Name string

	// BeforeEmit may enrich the event. Returning ErrCancelEmit drops the event;
	// any other error also drops it and is reported on the error path.
	BeforeEmit func(ctx context.Context, event *Event) error

	// BeforeHandle returning false skips one handler for one event.
	BeforeHandle func(ctx context.Context, event Event, handler HandlerInfo) bool

	// AfterHandle runs after every handler attempt, failed or not.
	AfterHandle func(ctx context.Context, event Event, handler HandlerInfo, err error, elapsed time.Duration)

	// AfterEmit runs once dispatch has finished.
	AfterEmit func(ctx context.Context, event Event, result EmitResult)
}

func (i Interceptor) label(index int) string {
	if i.Name != "" {
		return i.Name
	}
	return "interceptor-" + strconv.Itoa(index)
}

// EmitResult reports what happened to one emission.
type EmitResult struct {
	Event Event

	// Cancelled is set when a BeforeEmit hook dropped the event.
	Cancelled   bool
	CancelledBy string

	// Rejected is set when the registered validator refused the payload.
	Rejected bool

	// Delivered counts handlers that returned without error.
	Delivered int

	// Failed counts handlers that returned an error or panicked.
	Failed int

	// Skipped counts handlers vetoed by BeforeHandle.
	Skipped int
}

// Dispatched reports whether the event reached the handler stage.
func (r EmitResult) Dispatched() bool {
	return !r.Cancelled && !r.Rejected
}
