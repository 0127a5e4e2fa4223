// Package fragment defines the boundary between the host and independently built
// fragments: the mount/unmount contract, an explicit adapter for fragments still
// exporting the older two-argument mount, a Lifecycle that hands every mounted fragment
// its own scoped container, and the manifest validation boundary.
package fragment

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/fragments"
)

// Module is the contract a fragment implements. The container passed to Mount is the
// fragment's only way to reach host services; the same container is passed to Unmount.
type Module interface {
	Mount(ctx context.Context, target string, c *fragments.Container) error
	Unmount(ctx context.Context, c *fragments.Container) error
}

// ModuleFuncs adapts a pair of functions to Module. A nil UnmountFunc is a no-op.
type ModuleFuncs struct {
	MountFunc   func(ctx context.Context, target string, c *fragments.Container) error
	UnmountFunc func(ctx context.Context, c *fragments.Container) error
}

func (m ModuleFuncs) Mount(ctx context.Context, target string, c *fragments.Container) error {
	if m.MountFunc == nil {
		return nil
	}
	return m.MountFunc(ctx, target, c)
}

func (m ModuleFuncs) Unmount(ctx context.Context, c *fragments.Container) error {
	if m.UnmountFunc == nil {
		return nil
	}
	return m.UnmountFunc(ctx, c)
}

// LegacyMountFunc is the mount signature of fragments built before containers existed:
// they receive a plain map of services.
type LegacyMountFunc func(target string, services map[string]any) error

// LegacyUnmountFunc is the optional legacy teardown hook.
type LegacyUnmountFunc func(services map[string]any) error

// Kind records how a fragment was registered.
type Kind string

const (
	KindModule Kind = "module"
	KindLegacy Kind = "legacy"
)

// Registration is a fragment selected for mounting. Its Kind is fixed when it is built
// and never re-inspected.
type Registration struct {
	Name   string
	Kind   Kind
	Module Module
}

// NewModule registers a fragment implementing Module.
func NewModule(name string, m Module) (Registration, error) {
	if name == "" {
		return Registration{}, ErrNameEmpty
	}
	if m == nil {
		return Registration{}, fmt.Errorf("%w: %s", ErrModuleNil, name)
	}
	return Registration{Name: name, Kind: KindModule, Module: m}, nil
}

// NewLegacyModule registers a fragment exporting the legacy mount signature. unmount
// may be nil.
func NewLegacyModule(name string, mount LegacyMountFunc, unmount LegacyUnmountFunc) (Registration, error) {
	if name == "" {
		return Registration{}, ErrNameEmpty
	}
	if mount == nil {
		return Registration{}, fmt.Errorf("%w: %s", ErrModuleNil, name)
	}
	return Registration{Name: name, Kind: KindLegacy, Module: &legacyModule{mount: mount, unmount: unmount}}, nil
}

func (r Registration) validate() error {
	if r.Name == "" {
		return ErrNameEmpty
	}
	if r.Module == nil {
		return fmt.Errorf("%w: %s", ErrModuleNil, r.Name)
	}
	if r.Kind != KindModule && r.Kind != KindLegacy {
		return fmt.Errorf("%w: '%s' for %s", ErrUnknownKind, r.Kind, r.Name)
	}
	return nil
}

// legacyModule exposes a legacy mount through Module by flattening the container into
// a snapshot map.
type legacyModule struct {
	mount   LegacyMountFunc
	unmount LegacyUnmountFunc
}

func (l *legacyModule) Mount(_ context.Context, target string, c *fragments.Container) error {
	services, err := c.GetAllServices()
	if err != nil {
		return err
	}
	return l.mount(target, services)
}

func (l *legacyModule) Unmount(_ context.Context, c *fragments.Container) error {
	if l.unmount == nil {
		return nil
	}
	services, err := c.GetAllServices()
	if err != nil {
		return err
	}
	return l.unmount(services)
}
