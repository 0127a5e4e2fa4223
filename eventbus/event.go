package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Wildcard is the reserved event type matching every emitted event. It can be
// subscribed to but never emitted.
const Wildcard = "*"

// Event is the envelope dispatched to handlers.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`
	Version       string    `json:"version,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// EmitOption adjusts the event built by Emit.
type EmitOption func(*Event)

// WithEventSource overrides the bus default source for one event.
func WithEventSource(source string) EmitOption {
	return func(e *Event) {
		if source != "" {
			e.Source = source
		}
	}
}

// WithEventVersion sets the payload schema version.
func WithEventVersion(version string) EmitOption {
	return func(e *Event) {
		e.Version = version
	}
}

// WithCorrelationID links the event to a causal chain.
func WithCorrelationID(id string) EmitOption {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// WithEventID keeps an identifier assigned elsewhere, e.g. when re-emitting a
// converted legacy message.
func WithEventID(id string) EmitOption {
	return func(e *Event) {
		if id != "" {
			e.ID = id
		}
	}
}

// generateEventID generates a time-ordered identifier using UUIDv7.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}
