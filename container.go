package fragments

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Container is the read-oriented view of services handed to a fragment. It is backed
// either by a Registry, reading through to its materialized instances, or by a private
// map for scoped containers. Disposing a container never touches the registry or the
// container it was derived from.
type Container struct {
	id       string
	parentID string
	registry *Registry

	mu       sync.RWMutex
	services map[string]any
	disposed atomic.Bool
}

// NewContainer returns a map-backed container holding a copy of services. Nil values
// are dropped.
func NewContainer(services map[string]any) *Container {
	local := make(map[string]any, len(services))
	for name, svc := range services {
		if svc != nil {
			local[name] = svc
		}
	}
	return &Container{id: uuid.NewString(), services: local}
}

func newRegistryContainer(r *Registry) *Container {
	return &Container{id: uuid.NewString(), registry: r}
}

// ID identifies the container in logs and errors.
func (c *Container) ID() string { return c.id }

// ParentID is the ID of the container this one was scoped from, if any.
func (c *Container) ParentID() string { return c.parentID }

func (c *Container) disposedErr(op string) error {
	if c.disposed.Load() {
		return &ContainerDisposedError{ContainerID: c.id, Operation: op}
	}
	return nil
}

func (c *Container) lookup(name string) (any, bool) {
	if c.registry != nil {
		return c.registry.Get(name)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[name]
	return svc, ok
}

func (c *Container) view() map[string]any {
	if c.registry != nil {
		return c.registry.snapshot()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.services)
}

// Get returns the named service, or nil when it is absent. Absence is not an error.
func (c *Container) Get(name string) (any, error) {
	if err := c.disposedErr("get"); err != nil {
		return nil, err
	}
	svc, _ := c.lookup(name)
	return svc, nil
}

// Require returns the named service or a *RequiredServiceMissingError.
func (c *Container) Require(name string) (any, error) {
	if err := c.disposedErr("require"); err != nil {
		return nil, err
	}
	svc, ok := c.lookup(name)
	if !ok {
		return nil, &RequiredServiceMissingError{Service: name}
	}
	return svc, nil
}

// Has reports whether the named service is visible through this container.
func (c *Container) Has(name string) (bool, error) {
	if err := c.disposedErr("has"); err != nil {
		return false, err
	}
	_, ok := c.lookup(name)
	return ok, nil
}

// ListAvailable returns the visible service names, sorted.
func (c *Container) ListAvailable() ([]string, error) {
	if err := c.disposedErr("listAvailable"); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(c.view())), nil
}

// GetAllServices returns a copy of the visible services. Mutating it has no effect on
// the container.
func (c *Container) GetAllServices() (map[string]any, error) {
	if err := c.disposedErr("getAllServices"); err != nil {
		return nil, err
	}
	return c.view(), nil
}

// CreateScoped derives a map-backed container from the current view with overrides
// applied. A nil override value removes the inherited service.
func (c *Container) CreateScoped(overrides map[string]any) (*Container, error) {
	if err := c.disposedErr("createScoped"); err != nil {
		return nil, err
	}
	local := c.view()
	for name, svc := range overrides {
		if svc == nil {
			delete(local, name)
			continue
		}
		local[name] = svc
	}
	return &Container{id: uuid.NewString(), parentID: c.id, services: local}, nil
}

// Dispose makes the container inert and clears its local map.
func (c *Container) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.services = nil
	c.mu.Unlock()
}

// Disposed reports whether Dispose has been called.
func (c *Container) Disposed() bool {
	return c.disposed.Load()
}
