package fragments

import (
	"context"
	"fmt"
)

// Decorator transforms a freshly created instance before the registry stores it.
// Decorators are composed explicitly at provider creation time: wrap the concrete
// methods and return the wrapped value.
type Decorator func(ctx context.Context, c *Container, instance any) (any, error)

// DecoratedProvider forwards to an inner provider and runs decorators over the
// instance its Create returns.
type DecoratedProvider struct {
	Provider
	decorators []Decorator
}

// Decorate wraps p so that each decorator is applied, in order, to the created instance.
func Decorate(p Provider, decorators ...Decorator) *DecoratedProvider {
	return &DecoratedProvider{Provider: p, decorators: decorators}
}

// GetInnerProvider returns the wrapped provider
func (d *DecoratedProvider) GetInnerProvider() Provider {
	return d.Provider
}

// Create builds the inner instance then threads it through the decorators.
func (d *DecoratedProvider) Create(ctx context.Context, c *Container) (any, error) {
	instance, err := d.Provider.Create(ctx, c)
	if err != nil {
		return nil, err //nolint:wrapcheck // the registry wraps with the service name
	}
	for i, decorate := range d.decorators {
		instance, err = decorate(ctx, c, instance)
		if err != nil {
			return nil, fmt.Errorf("decorator %d for %s: %w", i, d.Name(), err)
		}
	}
	return instance, nil
}

// DecorateTyped adapts a typed wrapping function to a Decorator. Instances that are not
// a T pass through untouched.
func DecorateTyped[T any](fn func(ctx context.Context, c *Container, instance T) (T, error)) Decorator {
	return func(ctx context.Context, c *Container, instance any) (any, error) {
		typed, ok := instance.(T)
		if !ok {
			return instance, nil
		}
		return fn(ctx, c, typed)
	}
}

// LoggingDecorator hands the container's "logger" service, tagged with the service
// name, to instances implementing LoggerAware. A missing logger is not an error.
func LoggingDecorator(service string) Decorator {
	return func(_ context.Context, c *Container, instance any) (any, error) {
		aware, ok := instance.(LoggerAware)
		if !ok {
			return instance, nil
		}
		logger, found := GetService[Logger](c, LoggerServiceName)
		if !found {
			return instance, nil
		}
		aware.SetLogger(NewValueInjectionLoggerDecorator(logger, "service", service))
		return instance, nil
	}
}
