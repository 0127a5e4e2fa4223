package eventbus

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	bus := New()
	bus.OnFunc("a", func(ctx context.Context, e Event) error { return nil })
	bus.OnFunc("a", func(ctx context.Context, e Event) error { return errors.New("x") })
	bus.OnFunc(Wildcard, func(ctx context.Context, e Event) error { return nil })
	for range 2 {
		_, _ = bus.Emit(context.Background(), "a", nil)
	}
	_, _ = bus.Emit(context.Background(), "b", nil)

	collector := NewPrometheusCollector(bus, "test_bus")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))

	expected := `
# HELP test_bus_events_total Total emitted events (cumulative)
# TYPE test_bus_events_total counter
test_bus_events_total 3
# HELP test_bus_events_by_type_total Emitted events per type (cumulative)
# TYPE test_bus_events_by_type_total counter
test_bus_events_by_type_total{type="a"} 2
test_bus_events_by_type_total{type="b"} 1
# HELP test_bus_handler_errors_total Dispatch failures caught by the bus (cumulative)
# TYPE test_bus_handler_errors_total counter
test_bus_handler_errors_total 2
# HELP test_bus_handlers Current subscriptions per type
# TYPE test_bus_handlers gauge
test_bus_handlers{type="*"} 1
test_bus_handlers{type="a"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))

	_, _ = bus.Emit(context.Background(), "b", nil)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP test_bus_events_total Total emitted events (cumulative)
# TYPE test_bus_events_total counter
test_bus_events_total 4
`), "test_bus_events_total"), "values are read on every scrape")
}

func TestPrometheusCollector_DefaultNamespace(t *testing.T) {
	collector := NewPrometheusCollector(New(), "")
	assert.Equal(t, 3, testutil.CollectAndCount(collector), "totals plus the wildcard gauge")
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "fragments_eventbus_events_total"))
}

func TestHandlerDurationInterceptor(t *testing.T) {
	hist := NewHandlerDurationHistogram("test_bus")
	bus := New()
	bus.Use(HandlerDurationInterceptor(hist))
	bus.OnFunc("a", func(ctx context.Context, e Event) error { return nil })
	bus.OnFunc("a", func(ctx context.Context, e Event) error { return errors.New("x") })

	_, _ = bus.Emit(context.Background(), "a", nil)
	_, _ = bus.Emit(context.Background(), "a", nil)

	assert.Equal(t, 2, testutil.CollectAndCount(hist))
	assert.Equal(t, 2, testutil.CollectAndCount(hist, "test_bus_handler_duration_seconds"), "ok and error series")
}
