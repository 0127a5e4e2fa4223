package eventbus

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingInterceptor records one span per handler attempt. Spans are back-dated to the
// attempt start using the measured duration. A nil tracer uses the global provider.
func TracingInterceptor(tracer trace.Tracer) Interceptor {
	if tracer == nil {
		tracer = otel.Tracer("fragments/eventbus")
	}
	return Interceptor{
		Name: "otel-tracing",
		AfterHandle: func(ctx context.Context, event Event, handler HandlerInfo, err error, elapsed time.Duration) {
			end := time.Now()
			_, span := tracer.Start(ctx, "eventbus.handle "+event.Type,
				trace.WithTimestamp(end.Add(-elapsed)),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("event.id", event.ID),
					attribute.String("event.type", event.Type),
					attribute.String("event.source", event.Source),
					attribute.Int64("handler.id", int64(handler.ID)),
					attribute.Bool("handler.wildcard", handler.Type == Wildcard),
				),
			)
			if event.CorrelationID != "" {
				span.SetAttributes(attribute.String("event.correlation_id", event.CorrelationID))
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End(trace.WithTimestamp(end))
		},
	}
}
