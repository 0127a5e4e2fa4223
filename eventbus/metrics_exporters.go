package eventbus

// Prometheus export for bus statistics.
//
// The collector is pull-based: every scrape reads Stats(), so nothing is added to the
// emit path. Handler latency is the one exception and needs the
// HandlerDurationInterceptor installed with Use.
//
// Usage:
//   collector := eventbus.NewPrometheusCollector(bus, "fragments_eventbus")
//   prometheus.MustRegister(collector)

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements prometheus.Collector for bus statistics. Metrics are
// generated as ConstMetrics on each scrape:
//   <namespace>_events_total               counter
//   <namespace>_events_by_type_total{type} counter
//   <namespace>_handler_errors_total       counter
//   <namespace>_handlers{type}             gauge, type="*" for wildcard handlers
type PrometheusCollector struct {
	bus *Bus

	eventsDesc   *prometheus.Desc
	byTypeDesc   *prometheus.Desc
	errorsDesc   *prometheus.Desc
	handlersDesc *prometheus.Desc
}

// NewPrometheusCollector creates a collector for bus. namespace defaults to
// fragments_eventbus.
func NewPrometheusCollector(bus *Bus, namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "fragments_eventbus"
	}
	return &PrometheusCollector{
		bus: bus,
		eventsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_events_total", namespace),
			"Total emitted events (cumulative)",
			nil, nil,
		),
		byTypeDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_events_by_type_total", namespace),
			"Emitted events per type (cumulative)",
			[]string{"type"}, nil,
		),
		errorsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_handler_errors_total", namespace),
			"Dispatch failures caught by the bus (cumulative)",
			nil, nil,
		),
		handlersDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_handlers", namespace),
			"Current subscriptions per type",
			[]string{"type"}, nil,
		),
	}
}

// Describe sends metric descriptors.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsDesc
	ch <- c.byTypeDesc
	ch <- c.errorsDesc
	ch <- c.handlersDesc
}

// Collect gathers current stats and emits ConstMetrics.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.bus.Stats()
	ch <- prometheus.MustNewConstMetric(c.eventsDesc, prometheus.CounterValue, float64(s.TotalEvents))
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(s.Errors))
	for eventType, n := range s.EventCounts {
		ch <- prometheus.MustNewConstMetric(c.byTypeDesc, prometheus.CounterValue, float64(n), eventType)
	}
	for eventType, n := range s.HandlerCounts {
		ch <- prometheus.MustNewConstMetric(c.handlersDesc, prometheus.GaugeValue, float64(n), eventType)
	}
	ch <- prometheus.MustNewConstMetric(c.handlersDesc, prometheus.GaugeValue, float64(s.WildcardHandlers), Wildcard)
}

// NewHandlerDurationHistogram builds the histogram HandlerDurationInterceptor observes,
// labelled by event type and outcome ("ok" or "error").
func NewHandlerDurationHistogram(namespace string) *prometheus.HistogramVec {
	if namespace == "" {
		namespace = "fragments_eventbus"
	}
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    fmt.Sprintf("%s_handler_duration_seconds", namespace),
		Help:    "Handler execution time",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "outcome"})
}

// HandlerDurationInterceptor records every handler attempt in h.
func HandlerDurationInterceptor(h *prometheus.HistogramVec) Interceptor {
	return Interceptor{
		Name: "prometheus-handler-duration",
		AfterHandle: func(_ context.Context, event Event, _ HandlerInfo, err error, elapsed time.Duration) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			h.WithLabelValues(event.Type, outcome).Observe(elapsed.Seconds())
		},
	}
}
