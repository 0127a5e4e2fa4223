package fragments

import (
	"fmt"
	"reflect"
)

// GetService resolves name from c as a T. It reports false when the service is absent,
// has another type, or c is disposed.
func GetService[T any](c *Container, name string) (T, bool) {
	var zero T
	svc, err := c.Get(name)
	if err != nil || svc == nil {
		return zero, false
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// RequireService resolves name from c as a T, failing when it is absent, has another
// type, or c is disposed.
func RequireService[T any](c *Container, name string) (T, error) {
	var zero T
	svc, err := c.Require(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("%w: service '%s' of type %T is not %s", ErrServiceWrongType, name, svc, reflect.TypeFor[T]())
	}
	return typed, nil
}
