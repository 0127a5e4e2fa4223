package fragments

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Factory creates a new T per call to New and keeps every instance it handed out so
// they can be disposed together. It is the instance a FactoryProvider materializes.
type Factory[T any] struct {
	create  func(ctx context.Context, c *Container) (T, error)
	dispose func(ctx context.Context, instance T) error
	c       *Container

	mu        sync.Mutex
	instances []T
	disposed  bool
}

// New creates and tracks a fresh instance.
func (f *Factory[T]) New(ctx context.Context) (T, error) {
	var zero T
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return zero, ErrFactoryDisposed
	}
	f.mu.Unlock()

	instance, err := f.create(ctx, f.c)
	if err != nil {
		return zero, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		if f.dispose != nil {
			if err := f.dispose(ctx, instance); err != nil {
				return zero, errors.Join(ErrFactoryDisposed, err)
			}
		}
		return zero, ErrFactoryDisposed
	}
	f.instances = append(f.instances, instance)
	return instance, nil
}

// Len reports how many live instances the factory tracks.
func (f *Factory[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

// close disposes tracked instances newest first and joins their errors.
func (f *Factory[T]) close(ctx context.Context) error {
	f.mu.Lock()
	instances := f.instances
	f.instances = nil
	f.disposed = true
	f.mu.Unlock()

	if f.dispose == nil {
		return nil
	}
	var errs []error
	for _, instance := range slices.Backward(instances) {
		if err := f.dispose(ctx, instance); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FactoryProvider registers a *Factory[T] under its name. Consumers resolve the factory
// and call New for each instance they need.
type FactoryProvider[T any] struct {
	name    string
	version string
	deps    []string
	create  func(ctx context.Context, c *Container) (T, error)
	dispose func(ctx context.Context, instance T) error

	mu      sync.Mutex
	factory *Factory[T]
}

// NewFactoryProvider returns a factory-style provider. dispose may be nil.
func NewFactoryProvider[T any](name, version string, deps []string,
	create func(ctx context.Context, c *Container) (T, error),
	dispose func(ctx context.Context, instance T) error,
) *FactoryProvider[T] {
	return &FactoryProvider[T]{
		name:    name,
		version: version,
		deps:    slices.Clone(deps),
		create:  create,
		dispose: dispose,
	}
}

func (p *FactoryProvider[T]) Name() string           { return p.name }
func (p *FactoryProvider[T]) Version() string        { return p.version }
func (p *FactoryProvider[T]) Dependencies() []string { return slices.Clone(p.deps) }

// Create materializes the factory bound to c.
func (p *FactoryProvider[T]) Create(_ context.Context, c *Container) (any, error) {
	f := &Factory[T]{create: p.create, dispose: p.dispose, c: c}
	p.mu.Lock()
	p.factory = f
	p.mu.Unlock()
	return f, nil
}

// Dispose releases every instance the factory created.
func (p *FactoryProvider[T]) Dispose(ctx context.Context) error {
	p.mu.Lock()
	f := p.factory
	p.factory = nil
	p.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.close(ctx)
}
