package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// Topic names an event type and fixes its payload type at compile time.
type Topic[T any] struct {
	name string
}

// NewTopic declares a typed topic. Declare topics once, as package variables.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the event type the topic is emitted under.
func (t Topic[T]) Name() string {
	return t.name
}

// TypedEvent is an Event whose payload has already been asserted to T.
type TypedEvent[T any] struct {
	Event
	Payload T
}

// Emit publishes data on topic through b.
func Emit[T any](ctx context.Context, b *Bus, topic Topic[T], data T, opts ...EmitOption) (EmitResult, error) {
	return b.Emit(ctx, topic.name, data, opts...)
}

// On subscribes fn to topic. An event whose payload is not a T fails with
// ErrPayloadType on the bus error path instead of reaching fn.
func On[T any](b *Bus, topic Topic[T], fn func(ctx context.Context, event TypedEvent[T]) error) Unsubscribe {
	return b.OnFunc(topic.name, typedHandler(fn))
}

// Once is On for a single delivery.
func Once[T any](b *Bus, topic Topic[T], fn func(ctx context.Context, event TypedEvent[T]) error) Unsubscribe {
	if fn == nil {
		return b.Once(topic.name, nil)
	}
	return b.Once(topic.name, HandlerFunc(typedHandler(fn)))
}

// WaitFor waits for the first event on topic whose payload is a T and passes filter.
func WaitFor[T any](ctx context.Context, b *Bus, topic Topic[T], timeout time.Duration, filter func(TypedEvent[T]) bool) (TypedEvent[T], error) {
	event, err := b.WaitFor(ctx, topic.name, WaitOptions{
		Timeout: timeout,
		Filter: func(e Event) bool {
			typed, err := narrow[T](e)
			if err != nil {
				return false
			}
			return filter == nil || filter(typed)
		},
	})
	if err != nil {
		return TypedEvent[T]{}, err
	}
	return narrow[T](event)
}

func typedHandler[T any](fn func(ctx context.Context, event TypedEvent[T]) error) func(context.Context, Event) error {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, e Event) error {
		typed, err := narrow[T](e)
		if err != nil {
			return err
		}
		return fn(ctx, typed)
	}
}

func narrow[T any](e Event) (TypedEvent[T], error) {
	payload, ok := e.Data.(T)
	if !ok {
		return TypedEvent[T]{}, fmt.Errorf("%w: event '%s' carries %T, want %s", ErrPayloadType, e.Type, e.Data, reflect.TypeFor[T]())
	}
	return TypedEvent[T]{Event: e, Payload: payload}, nil
}
