package eventbus

import (
	"context"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEvents extension attributes carrying the envelope fields that have no core
// attribute.
const (
	ExtensionVersion       = "eventversion"
	ExtensionCorrelationID = "correlationid"
)

// ToCloudEvent converts an event into a CloudEvent with a JSON data payload.
func ToCloudEvent(e Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetID(e.ID)
	ce.SetType(e.Type)
	ce.SetSource(e.Source)
	ce.SetTime(e.Timestamp)
	if e.Version != "" {
		ce.SetExtension(ExtensionVersion, e.Version)
	}
	if e.CorrelationID != "" {
		ce.SetExtension(ExtensionCorrelationID, e.CorrelationID)
	}
	if e.Data != nil {
		if err := ce.SetData(cloudevents.ApplicationJSON, e.Data); err != nil {
			return cloudevents.Event{}, fmt.Errorf("encoding data of event %s: %w", e.ID, err)
		}
	}
	if err := ce.Validate(); err != nil {
		return cloudevents.Event{}, fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return ce, nil
}

// FromCloudEvent converts a CloudEvent back into an event. JSON data is decoded into
// generic values, so struct payloads come back as maps.
func FromCloudEvent(ce cloudevents.Event) (Event, error) {
	e := Event{
		ID:        ce.ID(),
		Type:      ce.Type(),
		Source:    ce.Source(),
		Timestamp: ce.Time(),
	}
	ext := ce.Extensions()
	if v, ok := ext[ExtensionVersion].(string); ok {
		e.Version = v
	}
	if v, ok := ext[ExtensionCorrelationID].(string); ok {
		e.CorrelationID = v
	}
	if ce.Data() != nil {
		var data any
		if err := ce.DataAs(&data); err != nil {
			return Event{}, fmt.Errorf("decoding data of CloudEvent %s: %w", ce.ID(), err)
		}
		e.Data = data
	}
	return e, nil
}

// CloudEventSink receives forwarded CloudEvents, typically a cloudevents client Send.
type CloudEventSink func(ctx context.Context, event cloudevents.Event) error

// CloudEventsForwarder returns an interceptor that forwards every dispatched event
// to sink after local handlers have run. Cancelled and rejected events are not
// forwarded. Conversion and sink failures go to onError when it is set.
func CloudEventsForwarder(sink CloudEventSink, onError func(Event, error)) Interceptor {
	return Interceptor{
		Name: "cloudevents-forwarder",
		AfterEmit: func(ctx context.Context, event Event, result EmitResult) {
			if !result.Dispatched() {
				return
			}
			ce, err := ToCloudEvent(event)
			if err == nil {
				err = sink(ctx, ce)
			}
			if err != nil && onError != nil {
				onError(event, err)
			}
		},
	}
}
