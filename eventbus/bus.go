package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/fragments"
)

// Handler processes one event. A returned error is reported on the bus error path and
// does not stop sibling handlers.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler. Function values cannot be compared, so
// every HandlerFunc registration is distinct and is removed through its Unsubscribe.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Unsubscribe removes a subscription. Calling it again has no effect.
type Unsubscribe func()

type subscription struct {
	id        uint64
	eventType string
	handler   Handler
	once      bool
	active    atomic.Bool
}

func (s *subscription) info() HandlerInfo {
	return HandlerInfo{ID: s.id, Type: s.eventType, Once: s.once, Handler: s.handler}
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	TotalEvents      uint64            `json:"totalEvents"`
	EventCounts      map[string]uint64 `json:"eventCounts"`
	HandlerCounts    map[string]int    `json:"handlerCounts"`
	WildcardHandlers int               `json:"wildcardHandlers"`
	Errors           uint64            `json:"errors"`
}

// Bus is the canonical synchronous event bus.
type Bus struct {
	mu           sync.RWMutex
	handlers     map[string][]*subscription
	wildcard     []*subscription
	interceptors []Interceptor
	validators   map[string]Validator

	totalEvents uint64
	eventCounts map[string]uint64
	errorCount  uint64

	nextID atomic.Uint64

	logger      fragments.Logger
	source      string
	onError     ErrorHandler
	waitTimeout time.Duration
	now         func() time.Time
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers:    make(map[string][]*subscription),
		validators:  make(map[string]Validator),
		eventCounts: make(map[string]uint64),
		logger:      fragments.NopLogger{},
		source:      DefaultSource,
		waitTimeout: DefaultWaitTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit builds an event and dispatches it synchronously. The error is non-nil only for
// an empty or reserved type; every other outcome is reported through EmitResult.
func (b *Bus) Emit(ctx context.Context, eventType string, data any, opts ...EmitOption) (EmitResult, error) {
	if err := checkEmitType(eventType); err != nil {
		return EmitResult{}, err
	}
	event := Event{
		ID:        generateEventID(),
		Type:      eventType,
		Data:      data,
		Timestamp: b.now(),
		Source:    b.source,
	}
	for _, opt := range opts {
		opt(&event)
	}
	return b.emit(ctx, event), nil
}

func checkEmitType(eventType string) error {
	if eventType == "" {
		return ErrEmptyType
	}
	if eventType == Wildcard {
		return fmt.Errorf("%w: '%s' cannot be emitted", ErrReservedType, eventType)
	}
	return nil
}

func (b *Bus) emit(ctx context.Context, event Event) EmitResult {
	eventType := event.Type

	b.mu.Lock()
	b.totalEvents++
	b.eventCounts[eventType]++
	interceptors := b.interceptors
	validator := b.validators[eventType]
	b.mu.Unlock()

	result := EmitResult{}
	for i, ic := range interceptors {
		if ic.BeforeEmit == nil {
			continue
		}
		err := ic.BeforeEmit(ctx, &event)
		event.Type = eventType
		if err == nil {
			continue
		}
		result.Event = event
		result.Cancelled = true
		result.CancelledBy = ic.label(i)
		if errors.Is(err, ErrCancelEmit) {
			b.logger.Debug("Event emission cancelled", "type", eventType, "interceptor", result.CancelledBy)
		} else {
			b.fail(ctx, event, &InterceptorError{Interceptor: result.CancelledBy, Type: eventType, Err: err})
		}
		return result
	}
	result.Event = event

	if validator != nil {
		if err := validator.Validate(eventType, event.Data); err != nil {
			result.Rejected = true
			b.fail(ctx, event, &ValidationError{Type: eventType, Err: err})
		}
	}
	if !result.Rejected {
		b.dispatch(ctx, event, interceptors, &result)
	}

	for _, ic := range interceptors {
		if ic.AfterEmit != nil {
			ic.AfterEmit(ctx, event, result)
		}
	}
	return result
}

// subscribers snapshots the handlers for eventType followed by the wildcard handlers.
func (b *Bus) subscribers(eventType string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]*subscription, 0, len(b.handlers[eventType])+len(b.wildcard))
	subs = append(subs, b.handlers[eventType]...)
	subs = append(subs, b.wildcard...)
	return subs
}

func (b *Bus) dispatch(ctx context.Context, event Event, interceptors []Interceptor, result *EmitResult) {
	for _, sub := range b.subscribers(event.Type) {
		// A sibling handler may have unsubscribed this one during this emission.
		if !sub.active.Load() {
			continue
		}
		info := sub.info()
		if vetoed(ctx, event, info, interceptors) {
			result.Skipped++
			continue
		}
		if sub.once {
			if !sub.active.CompareAndSwap(true, false) {
				continue
			}
			b.remove(sub)
		}

		start := b.now()
		err := b.invoke(ctx, sub, event)
		elapsed := b.now().Sub(start)

		for _, ic := range interceptors {
			if ic.AfterHandle != nil {
				ic.AfterHandle(ctx, event, info, err, elapsed)
			}
		}
		if err != nil {
			result.Failed++
			b.fail(ctx, event, err)
			continue
		}
		result.Delivered++
	}
}

func vetoed(ctx context.Context, event Event, info HandlerInfo, interceptors []Interceptor) bool {
	for _, ic := range interceptors {
		if ic.BeforeHandle != nil && !ic.BeforeHandle(ctx, event, info) {
			return true
		}
	}
	return false
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Type: event.Type, HandlerID: sub.id, Value: r, Stack: string(debug.Stack())}
		}
	}()
	if herr := sub.handler.Handle(ctx, event); herr != nil {
		return &HandlerError{Type: event.Type, HandlerID: sub.id, Err: herr}
	}
	return nil
}

// fail counts err and hands it to the error handler, or logs it when none is set.
func (b *Bus) fail(ctx context.Context, event Event, err error) {
	b.mu.Lock()
	b.errorCount++
	b.mu.Unlock()

	if b.onError == nil {
		b.logger.Error("Event dispatch failed", "type", event.Type, "eventID", event.ID, "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event error handler panicked", "type", event.Type, "panic", r)
		}
	}()
	b.onError(ctx, event, err)
}

// On subscribes h to eventType, or to every event when eventType is Wildcard.
// Subscribing a comparable handler already registered for the same type returns an
// Unsubscribe for the existing registration.
func (b *Bus) On(eventType string, h Handler) Unsubscribe {
	return b.subscribe(eventType, h, false)
}

// OnFunc is On for a plain function.
func (b *Bus) OnFunc(eventType string, fn func(ctx context.Context, event Event) error) Unsubscribe {
	if fn == nil {
		return b.subscribe(eventType, nil, false)
	}
	return b.subscribe(eventType, HandlerFunc(fn), false)
}

// Once subscribes h for a single delivery. The subscription is removed before h runs,
// so re-entrant emission from inside h cannot invoke it again.
func (b *Bus) Once(eventType string, h Handler) Unsubscribe {
	return b.subscribe(eventType, h, true)
}

func (b *Bus) subscribe(eventType string, h Handler, once bool) Unsubscribe {
	if eventType == "" || h == nil {
		b.logger.Warn("Ignoring invalid subscription", "type", eventType, "nilHandler", h == nil)
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !once {
		if existing := b.findLocked(eventType, h, false); existing != nil {
			return b.unsubscriber(existing)
		}
	}

	sub := &subscription{id: b.nextID.Add(1), eventType: eventType, handler: h, once: once}
	sub.active.Store(true)
	if eventType == Wildcard {
		b.wildcard = append(b.wildcard, sub)
	} else {
		b.handlers[eventType] = append(b.handlers[eventType], sub)
	}
	return b.unsubscriber(sub)
}

func (b *Bus) unsubscriber(sub *subscription) Unsubscribe {
	return func() {
		sub.active.Store(false)
		b.remove(sub)
	}
}

// Off removes the registration of h for eventType. It reports false when h is not
// subscribed or is not comparable. Function handlers, including HandlerFunc values and
// legacy adapter subscriptions, must be removed with the Unsubscribe that On returned.
func (b *Bus) Off(eventType string, h Handler) bool {
	b.mu.Lock()
	sub := b.findLocked(eventType, h, true)
	b.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.active.Store(false)
	b.remove(sub)
	return true
}

func (b *Bus) findLocked(eventType string, h Handler, includeOnce bool) *subscription {
	list := b.handlers[eventType]
	if eventType == Wildcard {
		list = b.wildcard
	}
	for _, sub := range list {
		if sub.once && !includeOnce {
			continue
		}
		if sameHandler(sub.handler, h) {
			return sub
		}
	}
	return nil
}

func sameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return false
	}
	if !reflect.ValueOf(a).Comparable() || !reflect.ValueOf(b).Comparable() {
		return false
	}
	return a == b
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	match := func(s *subscription) bool { return s == sub }
	if sub.eventType == Wildcard {
		b.wildcard = slices.DeleteFunc(b.wildcard, match)
		return
	}
	list, ok := b.handlers[sub.eventType]
	if !ok {
		return
	}
	list = slices.DeleteFunc(list, match)
	if len(list) == 0 {
		delete(b.handlers, sub.eventType)
		return
	}
	b.handlers[sub.eventType] = list
}

// Use appends an interceptor. It applies to emissions that start after it returns.
func (b *Bus) Use(ic Interceptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interceptors = append(slices.Clip(b.interceptors), ic)
}

// RegisterValidator installs v for eventType, replacing any previous validator.
// A nil v removes it.
func (b *Bus) RegisterValidator(eventType string, v Validator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v == nil {
		delete(b.validators, eventType)
		return
	}
	b.validators[eventType] = v
}

// Stats returns a snapshot that later activity does not change.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		TotalEvents:      b.totalEvents,
		EventCounts:      make(map[string]uint64, len(b.eventCounts)),
		HandlerCounts:    make(map[string]int, len(b.handlers)),
		WildcardHandlers: len(b.wildcard),
		Errors:           b.errorCount,
	}
	for t, n := range b.eventCounts {
		s.EventCounts[t] = n
	}
	for t, subs := range b.handlers {
		s.HandlerCounts[t] = len(subs)
	}
	return s
}

// Clear drops every subscription and resets the statistics. Interceptors and
// validators are kept.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.handlers {
		for _, sub := range subs {
			sub.active.Store(false)
		}
	}
	for _, sub := range b.wildcard {
		sub.active.Store(false)
	}
	b.handlers = make(map[string][]*subscription)
	b.wildcard = nil
	b.totalEvents = 0
	b.eventCounts = make(map[string]uint64)
	b.errorCount = 0
}
