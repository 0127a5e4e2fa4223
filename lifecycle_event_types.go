package fragments

import (
	"context"
	"time"
)

// ServiceStatus is the lifecycle state of one registered name.
type ServiceStatus string

const (
	// StatusRegistered marks a provider that has not been materialized yet.
	StatusRegistered ServiceStatus = "registered"
	// StatusInitializing marks a provider whose Create is running.
	StatusInitializing ServiceStatus = "initializing"
	// StatusReady marks a usable instance.
	StatusReady ServiceStatus = "ready"
	// StatusError marks a provider whose Create failed. It is terminal until Dispose.
	StatusError ServiceStatus = "error"
)

// Metadata describes a registered service for introspection.
type Metadata struct {
	Version      string   `json:"version,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Category     string   `json:"category,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// ServiceInfo is one row of Registry.ListServices.
type ServiceInfo struct {
	Name        string        `json:"name"`
	Status      ServiceStatus `json:"status"`
	Metadata    Metadata      `json:"metadata"`
	HasProvider bool          `json:"hasProvider"`
	Error       string        `json:"error,omitempty"`
}

// LifecycleEventType identifies a registry transition.
type LifecycleEventType string

const (
	LifecycleEventRegistered LifecycleEventType = "registered"
	LifecycleEventReady      LifecycleEventType = "ready"
	LifecycleEventFailed     LifecycleEventType = "error"
	LifecycleEventDisposed   LifecycleEventType = "disposed"
)

// LifecycleEvent is reported to a LifecycleEmitter on every service transition.
type LifecycleEvent struct {
	Type      LifecycleEventType
	Service   ServiceInfo
	Timestamp time.Time
	Duration  time.Duration
	Err       error
}

// LifecycleEmitter receives registry transitions. eventbus.LifecycleBridge publishes
// them on an event bus.
type LifecycleEmitter interface {
	EmitLifecycle(ctx context.Context, event LifecycleEvent)
}

// LifecycleEmitterFunc adapts a function to LifecycleEmitter.
type LifecycleEmitterFunc func(ctx context.Context, event LifecycleEvent)

// EmitLifecycle implements LifecycleEmitter.
func (f LifecycleEmitterFunc) EmitLifecycle(ctx context.Context, event LifecycleEvent) {
	f(ctx, event)
}
