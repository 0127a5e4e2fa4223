package fragments

import (
	"context"
	"slices"
	"sync"
)

// Well-known service names resolved by the bundled consumers.
const (
	LoggerServiceName       = "logger"
	NotificationServiceName = "notification"
	EventBusServiceName     = "eventBus"
)

// Provider describes how to lazily build one named service and how to tear it down.
//
// Create receives a Container over the registry as it is being initialized; every name
// listed in Dependencies is guaranteed to be resolvable through it. Create and Dispose
// may block.
type Provider interface {
	Name() string
	Version() string
	Dependencies() []string
	Create(ctx context.Context, c *Container) (any, error)
	Dispose(ctx context.Context) error
}

// CreateFunc builds a service instance.
type CreateFunc func(ctx context.Context, c *Container) (any, error)

// DisposeFunc releases an instance previously returned by a CreateFunc.
type DisposeFunc func(ctx context.Context, instance any) error

// ProviderOption configures a FuncProvider.
type ProviderOption func(*FuncProvider)

// WithDependencies sets the names the provider requires, in order.
func WithDependencies(deps ...string) ProviderOption {
	return func(p *FuncProvider) {
		p.deps = slices.Clone(deps)
	}
}

// WithDisposer sets the function used to release the created instance.
func WithDisposer(fn DisposeFunc) ProviderOption {
	return func(p *FuncProvider) {
		p.dispose = fn
	}
}

// FuncProvider is a Provider assembled from functions. It remembers the instance it
// created so Dispose can hand it to the disposer.
type FuncProvider struct {
	name    string
	version string
	deps    []string
	create  CreateFunc
	dispose DisposeFunc

	mu       sync.Mutex
	instance any
	created  bool
}

// NewProvider returns a provider that builds its service with create.
func NewProvider(name, version string, create CreateFunc, opts ...ProviderOption) *FuncProvider {
	p := &FuncProvider{
		name:    name,
		version: version,
		create:  create,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Singleton is NewProvider with a typed create function.
func Singleton[T any](name, version string, create func(ctx context.Context, c *Container) (T, error), opts ...ProviderOption) *FuncProvider {
	return NewProvider(name, version, func(ctx context.Context, c *Container) (any, error) {
		return create(ctx, c)
	}, opts...)
}

func (p *FuncProvider) Name() string    { return p.name }
func (p *FuncProvider) Version() string { return p.version }

// Dependencies returns a copy of the declared dependency names.
func (p *FuncProvider) Dependencies() []string {
	return slices.Clone(p.deps)
}

// Create builds the instance and records it for Dispose.
func (p *FuncProvider) Create(ctx context.Context, c *Container) (any, error) {
	instance, err := p.create(ctx, c)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.instance = instance
	p.created = true
	p.mu.Unlock()
	return instance, nil
}

// Dispose runs the disposer, if any, against the recorded instance.
func (p *FuncProvider) Dispose(ctx context.Context) error {
	p.mu.Lock()
	instance, created := p.instance, p.created
	p.instance, p.created = nil, false
	p.mu.Unlock()

	if !created || p.dispose == nil {
		return nil
	}
	return p.dispose(ctx, instance)
}
