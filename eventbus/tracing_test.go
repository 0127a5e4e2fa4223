package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingInterceptor(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	bus := New(WithSource("host"))
	bus.Use(TracingInterceptor(tp.Tracer("test")))
	bus.OnFunc("nav:go", func(ctx context.Context, e Event) error { return nil })
	bus.OnFunc(Wildcard, func(ctx context.Context, e Event) error { return errors.New("audit failed") })

	result, err := bus.Emit(context.Background(), "nav:go", nil, WithCorrelationID("corr-3"))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2, "one span per handler attempt")

	ok, failed := spans[0], spans[1]
	assert.Equal(t, "eventbus.handle nav:go", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.False(t, ok.StartTime().After(ok.EndTime()))

	attrs := attribute.NewSet(ok.Attributes()...)
	id, _ := attrs.Value("event.id")
	assert.Equal(t, result.Event.ID, id.AsString())
	corr, _ := attrs.Value("event.correlation_id")
	assert.Equal(t, "corr-3", corr.AsString())
	wildcard, _ := attrs.Value("handler.wildcard")
	assert.False(t, wildcard.AsBool())

	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Contains(t, failed.Status().Description, "audit failed")
	require.NotEmpty(t, failed.Events(), "the error is recorded on the span")
	assert.Equal(t, "exception", failed.Events()[0].Name)
	failedAttrs := attribute.NewSet(failed.Attributes()...)
	wildcard, _ = failedAttrs.Value("handler.wildcard")
	assert.True(t, wildcard.AsBool())
}

func TestTracingInterceptor_DefaultTracer(t *testing.T) {
	ic := TracingInterceptor(nil)
	assert.Equal(t, "otel-tracing", ic.Name)
	bus := New()
	bus.Use(ic)
	bus.OnFunc("x", func(ctx context.Context, e Event) error { return nil })
	assert.NotPanics(t, func() {
		_, _ = bus.Emit(context.Background(), "x", nil)
	})
}
