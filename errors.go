package fragments

import (
	"errors"
	"fmt"
	"strings"
)

// Registry and container errors
var (
	// Registration errors
	ErrDuplicateService = errors.New("service already registered")
	ErrServiceNameEmpty = errors.New("service name cannot be empty")
	ErrProviderNil      = errors.New("provider cannot be nil")

	// Dependency resolution errors
	ErrMissingDependency     = errors.New("missing dependency")
	ErrCircularDependency    = errors.New("circular dependency detected")
	ErrServiceInitialization = errors.New("service initialization failed")

	// Container errors
	ErrRequiredServiceMissing = errors.New("required service missing")
	ErrContainerDisposed      = errors.New("container has been disposed")
	ErrServiceWrongType       = errors.New("service doesn't satisfy required type")

	// Factory errors
	ErrFactoryDisposed = errors.New("factory has been disposed")
)

// DuplicateServiceError is returned when a name is registered twice without override.
type DuplicateServiceError struct {
	Service string
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateService, e.Service)
}

// Is reports whether target is ErrDuplicateService.
func (e *DuplicateServiceError) Is(target error) bool {
	return target == ErrDuplicateService
}

// MissingDependencyError names the absent dependency and the provider that asked for it.
type MissingDependencyError struct {
	Service    string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s: %s requires %s", ErrMissingDependency, e.Service, e.Dependency)
}

// Is reports whether target is ErrMissingDependency.
func (e *MissingDependencyError) Is(target error) bool {
	return target == ErrMissingDependency
}

// CircularDependencyError reports a dependency cycle. Service is the entry point of the
// cycle, Path the names walked from the entry point back to itself.
type CircularDependencyError struct {
	Service string
	Path    []string
}

func (e *CircularDependencyError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s: %s", ErrCircularDependency, e.Service)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrCircularDependency, e.Service, strings.Join(e.Path, " -> "))
}

// Is reports whether target is ErrCircularDependency.
func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

// ServiceInitializationError wraps the error returned by a provider's Create.
type ServiceInitializationError struct {
	Service string
	Cause   error
}

func (e *ServiceInitializationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrServiceInitialization, e.Service, e.Cause)
}

// Is reports whether target is ErrServiceInitialization.
func (e *ServiceInitializationError) Is(target error) bool {
	return target == ErrServiceInitialization
}

// Unwrap returns the provider's original error.
func (e *ServiceInitializationError) Unwrap() error {
	return e.Cause
}

// RequiredServiceMissingError is returned by Container.Require for an absent name.
type RequiredServiceMissingError struct {
	Service string
}

func (e *RequiredServiceMissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRequiredServiceMissing, e.Service)
}

// Is reports whether target is ErrRequiredServiceMissing.
func (e *RequiredServiceMissingError) Is(target error) bool {
	return target == ErrRequiredServiceMissing
}

// ContainerDisposedError is returned by every accessor of a disposed container.
type ContainerDisposedError struct {
	ContainerID string
	Operation   string
}

func (e *ContainerDisposedError) Error() string {
	return fmt.Sprintf("%s: %s on container %s", ErrContainerDisposed, e.Operation, e.ContainerID)
}

// Is reports whether target is ErrContainerDisposed.
func (e *ContainerDisposedError) Is(target error) bool {
	return target == ErrContainerDisposed
}
