package eventbus

import (
	"context"
	"time"

	"github.com/GoCodeAlone/fragments"
)

// Lifecycle event types published by LifecycleBridge.
const (
	EventServiceRegistered = "registry:service:registered"
	EventServiceReady      = "registry:service:ready"
	EventServiceError      = "registry:service:error"
	EventServiceDisposed   = "registry:service:disposed"
)

// ServiceLifecycleData is the payload of registry lifecycle events.
type ServiceLifecycleData struct {
	Service  string                  `json:"service"`
	Status   fragments.ServiceStatus `json:"status"`
	Version  string                  `json:"version,omitempty"`
	Duration time.Duration           `json:"duration,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// ServiceLifecycleTopic is the typed view shared by all four lifecycle event types.
func ServiceLifecycleTopic(eventType string) Topic[ServiceLifecycleData] {
	return NewTopic[ServiceLifecycleData](eventType)
}

// Bridge publishes registry transitions on a bus.
//
// Registry emission happens while provider creation is serialized, so handlers of
// these events must not call Registry.Resolve or Registry.Initialize synchronously.
type Bridge struct {
	bus *Bus
}

// LifecycleBridge returns a fragments.LifecycleEmitter publishing on bus.
func LifecycleBridge(bus *Bus) *Bridge {
	return &Bridge{bus: bus}
}

var _ fragments.LifecycleEmitter = (*Bridge)(nil)

// EmitLifecycle implements fragments.LifecycleEmitter.
func (b *Bridge) EmitLifecycle(ctx context.Context, event fragments.LifecycleEvent) {
	data := ServiceLifecycleData{
		Service:  event.Service.Name,
		Status:   event.Service.Status,
		Version:  event.Service.Metadata.Version,
		Duration: event.Duration,
	}
	if event.Err != nil {
		data.Error = event.Err.Error()
	}
	eventType := "registry:service:" + string(event.Type)
	if _, err := b.bus.Emit(ctx, eventType, data, WithEventSource("fragments/registry")); err != nil {
		b.bus.logger.Warn("Failed to publish lifecycle event", "type", eventType, "error", err)
	}
}
