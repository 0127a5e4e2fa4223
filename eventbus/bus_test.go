package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	mu    sync.Mutex
	count int
}

func (h *countingHandler) Handle(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	return nil
}

func (h *countingHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(ctx context.Context, event Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestBus_DispatchOrder(t *testing.T) {
	bus := New()
	var order []string
	record := func(name string) func(context.Context, Event) error {
		return func(ctx context.Context, e Event) error {
			order = append(order, name)
			return nil
		}
	}
	bus.OnFunc(Wildcard, record("wildcard"))
	bus.OnFunc("user:login", record("first"))
	bus.OnFunc("user:login", record("second"))
	bus.OnFunc("user:logout", record("other"))

	result, err := bus.Emit(context.Background(), "user:login", map[string]string{"userId": "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "wildcard"}, order)
	assert.Equal(t, 3, result.Delivered)
	assert.True(t, result.Dispatched())
	assert.Equal(t, map[string]string{"userId": "1"}, result.Event.Data)
}

func TestBus_EmitRejectsInvalidTypes(t *testing.T) {
	bus := New()
	_, err := bus.Emit(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyType)
	_, err = bus.Emit(context.Background(), Wildcard, nil)
	assert.ErrorIs(t, err, ErrReservedType)
	assert.Zero(t, bus.Stats().TotalEvents)
}

func TestBus_EventEnvelope(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus := New(WithSource("shell"), WithClock(func() time.Time { return fixed }))

	result, err := bus.Emit(context.Background(), "cart:updated", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Event.ID)
	assert.Equal(t, "cart:updated", result.Event.Type)
	assert.Equal(t, fixed, result.Event.Timestamp)
	assert.Equal(t, "shell", result.Event.Source)

	result, err = bus.Emit(context.Background(), "cart:updated", 4,
		WithEventSource("cart-fragment"),
		WithEventVersion("2"),
		WithCorrelationID("req-9"),
		WithEventID("fixed-id"),
	)
	require.NoError(t, err)
	assert.Equal(t, Event{
		ID:            "fixed-id",
		Type:          "cart:updated",
		Data:          4,
		Timestamp:     fixed,
		Source:        "cart-fragment",
		Version:       "2",
		CorrelationID: "req-9",
	}, result.Event)

	assert.Equal(t, DefaultSource, New().source)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := New()
	h := &countingHandler{}
	unsubscribe := bus.On("tick", h)

	_, _ = bus.Emit(context.Background(), "tick", nil)
	unsubscribe()
	unsubscribe()
	_, _ = bus.Emit(context.Background(), "tick", nil)

	assert.Equal(t, 1, h.calls())
	_, present := bus.Stats().HandlerCounts["tick"]
	assert.False(t, present, "empty handler sets are removed")
}

func TestBus_UnsubscribeFromInsideHandler(t *testing.T) {
	bus := New()
	calls := 0
	var unsubscribe Unsubscribe
	unsubscribe = bus.OnFunc("tick", func(ctx context.Context, e Event) error {
		calls++
		unsubscribe()
		return nil
	})
	for range 3 {
		_, _ = bus.Emit(context.Background(), "tick", nil)
	}
	assert.Equal(t, 1, calls)
}

func TestBus_SiblingUnsubscribeDuringDispatch(t *testing.T) {
	bus := New()
	second := &countingHandler{}
	var unsubscribeSecond Unsubscribe
	bus.OnFunc("tick", func(ctx context.Context, e Event) error {
		unsubscribeSecond()
		return nil
	})
	unsubscribeSecond = bus.On("tick", second)

	_, _ = bus.Emit(context.Background(), "tick", nil)
	assert.Zero(t, second.calls(), "a handler removed earlier in the same emission does not run")
}

func TestBus_ComparableHandlersAreDeduplicated(t *testing.T) {
	bus := New()
	h := &countingHandler{}
	first := bus.On("tick", h)
	bus.On("tick", h)
	assert.Equal(t, 1, bus.Stats().HandlerCounts["tick"])

	_, _ = bus.Emit(context.Background(), "tick", nil)
	assert.Equal(t, 1, h.calls())

	assert.True(t, bus.Off("tick", h))
	assert.False(t, bus.Off("tick", h))
	first()
	assert.Empty(t, bus.Stats().HandlerCounts)

	fn := HandlerFunc(func(ctx context.Context, e Event) error { return nil })
	bus.On("tick", fn)
	bus.On("tick", fn)
	assert.Equal(t, 2, bus.Stats().HandlerCounts["tick"], "function handlers cannot be compared")
	assert.False(t, bus.Off("tick", fn))
}

func TestBus_OnIgnoresInvalidSubscriptions(t *testing.T) {
	bus := New()
	bus.On("", &countingHandler{})
	bus.On("tick", nil)
	bus.OnFunc("tick", nil)
	stats := bus.Stats()
	assert.Empty(t, stats.HandlerCounts)
	assert.Zero(t, stats.WildcardHandlers)
}

func TestBus_OnceFiresOnceUnderReentrantEmit(t *testing.T) {
	bus := New()
	calls := 0
	bus.Once("boot", HandlerFunc(func(ctx context.Context, e Event) error {
		calls++
		for range 3 {
			_, _ = bus.Emit(ctx, "boot", nil)
		}
		return nil
	}))

	_, _ = bus.Emit(context.Background(), "boot", nil)
	_, _ = bus.Emit(context.Background(), "boot", nil)
	assert.Equal(t, 1, calls)
	assert.Empty(t, bus.Stats().HandlerCounts)
	assert.Equal(t, uint64(5), bus.Stats().EventCounts["boot"])
}

func TestBus_OnceCanBeCancelled(t *testing.T) {
	bus := New()
	h := &countingHandler{}
	unsubscribe := bus.Once("boot", h)
	unsubscribe()
	_, _ = bus.Emit(context.Background(), "boot", nil)
	assert.Zero(t, h.calls())

	bus.Once("boot", h)
	assert.True(t, bus.Off("boot", h))
}

func TestBus_HandlerFailuresAreIsolated(t *testing.T) {
	sink := &errorSink{}
	bus := New(WithErrorHandler(sink.handle))
	boom := errors.New("boom")
	ok := &countingHandler{}

	bus.OnFunc("job", func(ctx context.Context, e Event) error { return boom })
	bus.OnFunc("job", func(ctx context.Context, e Event) error { panic("bad handler") })
	bus.On(Wildcard, ok)

	result, err := bus.Emit(context.Background(), "job", nil)
	require.NoError(t, err, "handler failures never escape Emit")
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, ok.calls())
	assert.Equal(t, uint64(2), bus.Stats().Errors)

	errs := sink.all()
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], boom)
	var handlerErr *HandlerError
	require.ErrorAs(t, errs[0], &handlerErr)
	assert.Equal(t, "job", handlerErr.Type)

	assert.ErrorIs(t, errs[1], ErrHandlerPanic)
	var panicErr *PanicError
	require.ErrorAs(t, errs[1], &panicErr)
	assert.Equal(t, "bad handler", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestBus_PanickingErrorHandlerIsContained(t *testing.T) {
	bus := New(WithErrorHandler(func(ctx context.Context, e Event, err error) { panic("sink down") }))
	bus.OnFunc("job", func(ctx context.Context, e Event) error { return errors.New("x") })
	assert.NotPanics(t, func() {
		_, _ = bus.Emit(context.Background(), "job", nil)
	})
}

func TestBus_BeforeEmitCancellation(t *testing.T) {
	sink := &errorSink{}
	bus := New(WithErrorHandler(sink.handle))
	h := &countingHandler{}
	bus.On("page:view", h)

	var ran []string
	bus.Use(Interceptor{Name: "gate", BeforeEmit: func(ctx context.Context, e *Event) error {
		ran = append(ran, "gate")
		return ErrCancelEmit
	}})
	bus.Use(Interceptor{Name: "late", BeforeEmit: func(ctx context.Context, e *Event) error {
		ran = append(ran, "late")
		return nil
	}, AfterEmit: func(ctx context.Context, e Event, r EmitResult) {
		ran = append(ran, "after")
	}})

	result, err := bus.Emit(context.Background(), "page:view", nil)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, "gate", result.CancelledBy)
	assert.False(t, result.Dispatched())
	assert.Equal(t, []string{"gate"}, ran, "later interceptors and handlers are skipped")
	assert.Zero(t, h.calls())

	stats := bus.Stats()
	assert.Equal(t, uint64(1), stats.TotalEvents)
	assert.Zero(t, stats.Errors)
	assert.Empty(t, sink.all())
}

func TestBus_BeforeEmitFailureTakesErrorPath(t *testing.T) {
	sink := &errorSink{}
	bus := New(WithErrorHandler(sink.handle))
	h := &countingHandler{}
	bus.On("page:view", h)
	bus.Use(Interceptor{BeforeEmit: func(ctx context.Context, e *Event) error {
		return errors.New("quota exceeded")
	}})

	result, err := bus.Emit(context.Background(), "page:view", nil)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, "interceptor-0", result.CancelledBy)
	assert.Zero(t, h.calls())

	errs := sink.all()
	require.Len(t, errs, 1)
	var icErr *InterceptorError
	require.ErrorAs(t, errs[0], &icErr)
	assert.Equal(t, "interceptor-0", icErr.Interceptor)
	assert.Equal(t, uint64(1), bus.Stats().Errors)
}

func TestBus_BeforeEmitEnrichesEvent(t *testing.T) {
	bus := New()
	var seen Event
	bus.OnFunc("page:view", func(ctx context.Context, e Event) error {
		seen = e
		return nil
	})
	bus.Use(Interceptor{BeforeEmit: func(ctx context.Context, e *Event) error {
		e.CorrelationID = "trace-1"
		e.Type = "hijacked"
		return nil
	}})

	result, err := bus.Emit(context.Background(), "page:view", nil)
	require.NoError(t, err)
	assert.Equal(t, "trace-1", seen.CorrelationID)
	assert.Equal(t, "page:view", seen.Type, "interceptors cannot retarget an event")
	assert.Equal(t, seen, result.Event)
}

func TestBus_HandleInterceptors(t *testing.T) {
	bus := New()
	typed := &countingHandler{}
	wildcard := &countingHandler{}
	bus.On("job", typed)
	bus.OnFunc("job", func(ctx context.Context, e Event) error { return errors.New("fails") })
	bus.On(Wildcard, wildcard)

	type attempt struct {
		handlerType string
		failed      bool
	}
	var attempts []attempt
	var afterEmit []EmitResult
	bus.Use(Interceptor{
		BeforeHandle: func(ctx context.Context, e Event, h HandlerInfo) bool {
			return h.Type != Wildcard
		},
		AfterHandle: func(ctx context.Context, e Event, h HandlerInfo, err error, elapsed time.Duration) {
			assert.GreaterOrEqual(t, elapsed, time.Duration(0))
			attempts = append(attempts, attempt{handlerType: h.Type, failed: err != nil})
		},
		AfterEmit: func(ctx context.Context, e Event, r EmitResult) {
			afterEmit = append(afterEmit, r)
		},
	})

	result, err := bus.Emit(context.Background(), "job", nil)
	require.NoError(t, err)
	assert.Equal(t, []attempt{{"job", false}, {"job", true}}, attempts)
	assert.Equal(t, 1, typed.calls())
	assert.Zero(t, wildcard.calls(), "vetoed handlers are not invoked")
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, afterEmit, 1)
	assert.Equal(t, result, afterEmit[0])
}

func TestBus_VetoedOnceHandlerStaysSubscribed(t *testing.T) {
	bus := New()
	h := &countingHandler{}
	bus.Once("boot", h)
	allow := false
	bus.Use(Interceptor{BeforeHandle: func(ctx context.Context, e Event, info HandlerInfo) bool { return allow }})

	_, _ = bus.Emit(context.Background(), "boot", nil)
	assert.Zero(t, h.calls())
	allow = true
	_, _ = bus.Emit(context.Background(), "boot", nil)
	_, _ = bus.Emit(context.Background(), "boot", nil)
	assert.Equal(t, 1, h.calls())
}

func TestBus_ValidatorRejection(t *testing.T) {
	sink := &errorSink{}
	bus := New(WithErrorHandler(sink.handle))
	h := &countingHandler{}
	bus.On("order:placed", h)
	afterEmit := 0
	bus.Use(Interceptor{AfterEmit: func(ctx context.Context, e Event, r EmitResult) { afterEmit++ }})
	bus.RegisterValidator("order:placed", ValidatorFunc(func(eventType string, data any) error {
		if _, ok := data.(int); !ok {
			return errors.New("order id must be an int")
		}
		return nil
	}))

	result, err := bus.Emit(context.Background(), "order:placed", "not-an-int")
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.False(t, result.Dispatched())
	assert.Zero(t, h.calls())
	require.Len(t, sink.all(), 1)
	assert.ErrorIs(t, sink.all()[0], ErrValidation)

	result, err = bus.Emit(context.Background(), "order:placed", 7)
	require.NoError(t, err)
	assert.False(t, result.Rejected)
	assert.Equal(t, 1, h.calls())
	assert.Equal(t, 2, afterEmit)

	bus.RegisterValidator("order:placed", nil)
	result, _ = bus.Emit(context.Background(), "order:placed", "anything")
	assert.False(t, result.Rejected)
}

type signup struct {
	Email string `validate:"required,email"`
	Age   int    `validate:"gte=13"`
}

func TestStructValidator(t *testing.T) {
	v := NewStructValidator(nil)
	assert.NoError(t, v.Validate("user:signup", signup{Email: "a@example.com", Age: 20}))
	assert.NoError(t, v.Validate("user:signup", &signup{Email: "a@example.com", Age: 20}))
	assert.Error(t, v.Validate("user:signup", signup{Email: "nope", Age: 20}))
	assert.Error(t, v.Validate("user:signup", &signup{Email: "a@example.com", Age: 3}))
	assert.NoError(t, v.Validate("user:signup", "plain string"))
	assert.NoError(t, v.Validate("user:signup", nil))
	assert.NoError(t, v.Validate("user:signup", (*signup)(nil)))

	v.Required = true
	assert.Error(t, v.Validate("user:signup", nil))
	assert.Error(t, v.Validate("user:signup", (*signup)(nil)))

	sink := &errorSink{}
	bus := New(WithErrorHandler(sink.handle))
	bus.RegisterValidator("user:signup", v)
	result, err := bus.Emit(context.Background(), "user:signup", signup{Email: "bad"})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	var vErr *ValidationError
	require.ErrorAs(t, sink.all()[0], &vErr)
	assert.Equal(t, "user:signup", vErr.Type)
}

func TestBus_StatsSnapshotAndClear(t *testing.T) {
	bus := New()
	bus.OnFunc("a", func(ctx context.Context, e Event) error { return nil })
	bus.OnFunc("a", func(ctx context.Context, e Event) error { return errors.New("x") })
	bus.OnFunc(Wildcard, func(ctx context.Context, e Event) error { return nil })
	_, _ = bus.Emit(context.Background(), "a", nil)
	_, _ = bus.Emit(context.Background(), "b", nil)

	stats := bus.Stats()
	assert.Equal(t, Stats{
		TotalEvents:      2,
		EventCounts:      map[string]uint64{"a": 1, "b": 1},
		HandlerCounts:    map[string]int{"a": 2},
		WildcardHandlers: 1,
		Errors:           1,
	}, stats)

	stats.EventCounts["a"] = 99
	assert.Equal(t, uint64(1), bus.Stats().EventCounts["a"], "snapshots are copies")

	interceptorRuns := 0
	bus.Use(Interceptor{BeforeEmit: func(ctx context.Context, e *Event) error {
		interceptorRuns++
		return nil
	}})
	bus.Clear()
	assert.Equal(t, Stats{
		EventCounts:   map[string]uint64{},
		HandlerCounts: map[string]int{},
	}, bus.Stats())

	_, _ = bus.Emit(context.Background(), "a", nil)
	assert.Equal(t, 1, interceptorRuns, "interceptors survive Clear")
	assert.Zero(t, bus.Stats().Errors)
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := New()
	total := &countingHandler{}
	bus.On(Wildcard, total)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 50 {
				unsubscribe := bus.OnFunc("load", func(ctx context.Context, e Event) error { return nil })
				_, _ = bus.Emit(context.Background(), "load", i)
				unsubscribe()
				_ = bus.Stats()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, total.calls())
	assert.Equal(t, uint64(400), bus.Stats().TotalEvents)
	assert.Empty(t, bus.Stats().HandlerCounts)
}
