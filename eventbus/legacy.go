package eventbus

import (
	"context"
	"time"
)

// LegacyMessage is the payload shape older fragments publish and receive.
type LegacyMessage struct {
	Type    string     `json:"type"`
	Payload any        `json:"payload,omitempty"`
	Source  string     `json:"source,omitempty"`
	Time    time.Time  `json:"time"`
	Meta    LegacyMeta `json:"meta"`
}

// LegacyMeta carries the envelope fields the legacy shape has no slot for.
type LegacyMeta struct {
	ID            string `json:"id,omitempty"`
	Version       string `json:"version,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ToLegacy converts an event into the legacy shape.
func ToLegacy(e Event) LegacyMessage {
	return LegacyMessage{
		Type:    e.Type,
		Payload: e.Data,
		Source:  e.Source,
		Time:    e.Timestamp,
		Meta: LegacyMeta{
			ID:            e.ID,
			Version:       e.Version,
			CorrelationID: e.CorrelationID,
		},
	}
}

// FromLegacy converts a legacy message into an event. FromLegacy(ToLegacy(e)) == e.
func FromLegacy(m LegacyMessage) Event {
	return Event{
		ID:            m.Meta.ID,
		Type:          m.Type,
		Data:          m.Payload,
		Timestamp:     m.Time,
		Source:        m.Source,
		Version:       m.Meta.Version,
		CorrelationID: m.Meta.CorrelationID,
	}
}

// LegacyAdapter exposes the two-method legacy surface over a Bus. Subscriptions and
// statistics are those of the wrapped bus, so legacy and typed call sites see each
// other's events.
type LegacyAdapter struct {
	bus *Bus
}

// NewLegacyAdapter wraps bus.
func NewLegacyAdapter(bus *Bus) *LegacyAdapter {
	return &LegacyAdapter{bus: bus}
}

// Bus returns the wrapped bus.
func (a *LegacyAdapter) Bus() *Bus {
	return a.bus
}

// Emit publishes data as eventType. A LegacyMessage payload is unwrapped and keeps its
// id, source, version and correlation id; its Type is used when eventType is empty.
// Failures are logged because the legacy surface has no error return.
func (a *LegacyAdapter) Emit(eventType string, data any) {
	var opts []EmitOption
	switch msg := data.(type) {
	case LegacyMessage:
		eventType, data, opts = unwrapLegacy(eventType, msg)
	case *LegacyMessage:
		if msg != nil {
			eventType, data, opts = unwrapLegacy(eventType, *msg)
		}
	}
	if _, err := a.bus.Emit(context.Background(), eventType, data, opts...); err != nil {
		a.bus.logger.Warn("Legacy emit rejected", "type", eventType, "error", err)
	}
}

func unwrapLegacy(eventType string, msg LegacyMessage) (string, any, []EmitOption) {
	if eventType == "" {
		eventType = msg.Type
	}
	return eventType, msg.Payload, []EmitOption{
		WithEventID(msg.Meta.ID),
		WithEventSource(msg.Source),
		WithEventVersion(msg.Meta.Version),
		WithCorrelationID(msg.Meta.CorrelationID),
	}
}

// On subscribes a legacy handler. The returned function unsubscribes it.
func (a *LegacyAdapter) On(eventType string, handler func(LegacyMessage)) func() {
	if handler == nil {
		return a.bus.OnFunc(eventType, nil)
	}
	return a.bus.OnFunc(eventType, func(_ context.Context, e Event) error {
		handler(ToLegacy(e))
		return nil
	})
}
