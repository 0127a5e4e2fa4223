package eventbus

import (
	"context"
	"sync"
	"time"
)

// WaitOptions tunes WaitFor.
type WaitOptions struct {
	// Timeout defaults to the bus wait timeout when zero.
	Timeout time.Duration

	// Filter, when set, must accept an event for it to settle the wait.
	Filter func(Event) bool
}

// WaitFor blocks until an event of eventType passing opts.Filter is emitted, the
// timeout elapses, or ctx is done. The temporary subscription is gone when it returns.
func (b *Bus) WaitFor(ctx context.Context, eventType string, opts WaitOptions) (Event, error) {
	if eventType == "" {
		return Event{}, ErrEmptyType
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.waitTimeout
	}

	matched := make(chan Event, 1)
	var settle sync.Once
	unsubscribe := b.On(eventType, HandlerFunc(func(_ context.Context, event Event) error {
		if opts.Filter != nil && !opts.Filter(event) {
			return nil
		}
		settle.Do(func() {
			matched <- event
		})
		return nil
	}))
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-matched:
		return event, nil
	case <-timer.C:
		return Event{}, &TimeoutError{Type: eventType, Timeout: timeout}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
