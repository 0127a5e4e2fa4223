package eventbus

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Emission errors
	ErrEmptyType    = errors.New("event type cannot be empty")
	ErrReservedType = errors.New("event type is reserved")
	ErrCancelEmit   = errors.New("emit cancelled")
	ErrValidation   = errors.New("event validation failed")

	// Dispatch errors
	ErrHandlerPanic = errors.New("handler panicked")
	ErrPayloadType  = errors.New("unexpected payload type")

	// Waiting errors
	ErrTimeout = errors.New("timed out waiting for event")
)

// TimeoutError names the event type WaitFor gave up on.
type TimeoutError struct {
	Type    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for event '%s'", e.Timeout, e.Type)
}

// Is allows errors.Is to match TimeoutError with ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// HandlerError wraps an error returned by a handler.
type HandlerError struct {
	// Type is the type of the event being dispatched.
	Type string

	// HandlerID identifies the subscription whose handler failed.
	HandlerID uint64

	// Err is the underlying error.
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d failed for event '%s': %v", e.HandlerID, e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic value recovered from a handler.
type PanicError struct {
	Type      string
	HandlerID uint64
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %d panicked for event '%s': %v", e.HandlerID, e.Type, e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

// ValidationError reports a payload rejected by the validator registered for its type.
type ValidationError struct {
	Type string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event '%s' rejected: %v", e.Type, e.Err)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InterceptorError wraps a non-cancellation error returned by a BeforeEmit hook.
type InterceptorError struct {
	Interceptor string
	Type        string
	Err         error
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("interceptor %s failed for event '%s': %v", e.Interceptor, e.Type, e.Err)
}

func (e *InterceptorError) Unwrap() error {
	return e.Err
}
