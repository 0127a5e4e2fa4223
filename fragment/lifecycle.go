package fragment

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/fragments"
	"github.com/GoCodeAlone/fragments/eventbus"
)

// Events published on the container's event bus, when it has one.
const (
	EventMounted     = "fragment:mounted"
	EventUnmounted   = "fragment:unmounted"
	EventMountFailed = "fragment:error"
)

// NameServiceKey is the service under which a scoped container exposes the name of
// the fragment it was created for.
const NameServiceKey = "fragmentName"

// EventData is the payload of fragment lifecycle events.
type EventData struct {
	Fragment string `json:"fragment"`
	Kind     Kind   `json:"kind"`
	Target   string `json:"target,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MountError names the fragment whose Mount or Unmount failed.
type MountError struct {
	Fragment string
	Op       string
	Err      error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("fragment %s: %s failed: %v", e.Fragment, e.Op, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// ScopeFunc returns extra services for the container of one fragment. A nil value
// hides the inherited service of that name from the fragment.
type ScopeFunc func(reg Registration) map[string]any

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger for mount activity.
func WithLogger(logger fragments.Logger) Option {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithScope sets per-fragment container overrides.
func WithScope(fn ScopeFunc) Option {
	return func(l *Lifecycle) {
		l.scope = fn
	}
}

type mounted struct {
	reg       Registration
	target    string
	scoped    *fragments.Container
	mountedAt time.Time
	pending   bool
}

// MountedFragment describes one mounted fragment.
type MountedFragment struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Target    string    `json:"target"`
	MountedAt time.Time `json:"mountedAt"`
}

// Lifecycle mounts fragments against a single host container. Every mount gets its own
// scoped container, disposed again when the fragment is unmounted.
type Lifecycle struct {
	container *fragments.Container
	logger    fragments.Logger
	scope     ScopeFunc

	mu     sync.Mutex
	mounts map[string]*mounted
	order  []string
	closed bool
}

// NewLifecycle creates a Lifecycle over c.
func NewLifecycle(c *fragments.Container, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		container: c,
		logger:    fragments.NopLogger{},
		mounts:    make(map[string]*mounted),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mount mounts reg at target. A name can be mounted once until it is unmounted.
func (l *Lifecycle) Mount(ctx context.Context, reg Registration, target string) error {
	if err := reg.validate(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLifecycleClosed
	}
	if _, exists := l.mounts[reg.Name]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyMounted, reg.Name)
	}
	// Reserve the name so a concurrent Mount of the same fragment fails fast.
	l.mounts[reg.Name] = &mounted{reg: reg, pending: true}
	l.mu.Unlock()

	scoped, err := l.container.CreateScoped(l.overrides(reg))
	if err == nil {
		err = mountSafely(ctx, reg.Module, target, scoped)
	}
	if err != nil {
		l.mu.Lock()
		delete(l.mounts, reg.Name)
		l.mu.Unlock()
		if scoped != nil {
			scoped.Dispose()
		}
		l.logger.Error("Fragment mount failed", "fragment", reg.Name, "kind", reg.Kind, "target", target, "error", err)
		l.publish(ctx, EventMountFailed, EventData{Fragment: reg.Name, Kind: reg.Kind, Target: target, Error: err.Error()})
		return &MountError{Fragment: reg.Name, Op: "mount", Err: err}
	}

	l.mu.Lock()
	l.mounts[reg.Name] = &mounted{reg: reg, target: target, scoped: scoped, mountedAt: time.Now()}
	l.order = append(l.order, reg.Name)
	l.mu.Unlock()

	l.logger.Info("Fragment mounted", "fragment", reg.Name, "kind", reg.Kind, "target", target, "container", scoped.ID())
	l.publish(ctx, EventMounted, EventData{Fragment: reg.Name, Kind: reg.Kind, Target: target})
	return nil
}

func (l *Lifecycle) overrides(reg Registration) map[string]any {
	overrides := map[string]any{NameServiceKey: reg.Name}
	if l.scope != nil {
		for name, svc := range l.scope(reg) {
			overrides[name] = svc
		}
	}
	return overrides
}

// Unmount unmounts the named fragment and disposes its container. The fragment is
// removed even when its Unmount fails.
func (l *Lifecycle) Unmount(ctx context.Context, name string) error {
	l.mu.Lock()
	m, ok := l.mounts[name]
	if !ok || m.pending {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotMounted, name)
	}
	delete(l.mounts, name)
	l.order = slices.DeleteFunc(l.order, func(n string) bool { return n == name })
	l.mu.Unlock()

	err := unmountSafely(ctx, m.reg.Module, m.scoped)
	m.scoped.Dispose()

	data := EventData{Fragment: name, Kind: m.reg.Kind, Target: m.target}
	if err != nil {
		data.Error = err.Error()
		l.logger.Error("Fragment unmount failed", "fragment", name, "error", err)
		l.publish(ctx, EventUnmounted, data)
		return &MountError{Fragment: name, Op: "unmount", Err: err}
	}
	l.logger.Info("Fragment unmounted", "fragment", name)
	l.publish(ctx, EventUnmounted, data)
	return nil
}

// Mounted lists mounted fragments in mount order.
func (l *Lifecycle) Mounted() []MountedFragment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MountedFragment, 0, len(l.order))
	for _, name := range l.order {
		m := l.mounts[name]
		out = append(out, MountedFragment{Name: name, Kind: m.reg.Kind, Target: m.target, MountedAt: m.mountedAt})
	}
	return out
}

// Close unmounts every fragment in reverse mount order and rejects further mounts.
func (l *Lifecycle) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	names := slices.Clone(l.order)
	l.mu.Unlock()

	var errs []error
	for _, name := range slices.Backward(names) {
		if err := l.Unmount(ctx, name); err != nil && !errors.Is(err, ErrNotMounted) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Lifecycle) publish(ctx context.Context, eventType string, data EventData) {
	bus, ok := fragments.GetService[*eventbus.Bus](l.container, fragments.EventBusServiceName)
	if !ok {
		return
	}
	if _, err := bus.Emit(ctx, eventType, data, eventbus.WithEventSource("fragments/lifecycle")); err != nil {
		l.logger.Warn("Failed to publish fragment event", "type", eventType, "error", err)
	}
}

func mountSafely(ctx context.Context, m Module, target string, c *fragments.Container) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mount panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return m.Mount(ctx, target, c)
}

func unmountSafely(ctx context.Context, m Module, c *fragments.Container) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unmount panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return m.Unmount(ctx, c)
}
