package fragments

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"
)

// ErrServiceNil is returned when registering a nil instance or when a provider creates one.
var ErrServiceNil = errors.New("service is nil")

// Registry owns registered instances and providers and their dependency-ordered
// lifecycle. It is safe for concurrent use; provider creation is serialized.
type Registry struct {
	mu        sync.RWMutex
	services  map[string]any
	providers map[string]Provider
	metadata  map[string]Metadata
	status    map[string]ServiceStatus
	failures  map[string]error
	order     []string // registration order, drives deterministic tie-breaks
	created   []string // providers in the order they were materialized

	createMu sync.Mutex

	initMu  sync.Mutex
	initRun *initRun

	logger  Logger
	emitter LifecycleEmitter
}

type initRun struct {
	done chan struct{}
	err  error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLifecycleEmitter reports service transitions to e.
func WithLifecycleEmitter(e LifecycleEmitter) RegistryOption {
	return func(r *Registry) {
		r.emitter = e
	}
}

// RegisterOption configures a single Register or RegisterProvider call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	override bool
	metadata Metadata
}

// WithOverride replaces an existing registration under the same name.
func WithOverride() RegisterOption {
	return func(o *registerOptions) {
		o.override = true
	}
}

// WithMetadata attaches introspection metadata. For providers, non-empty fields
// override what is derived from the provider itself.
func WithMetadata(m Metadata) RegisterOption {
	return func(o *registerOptions) {
		o.metadata = m
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: NopLogger{},
	}
	r.reset()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) reset() {
	r.services = make(map[string]any)
	r.providers = make(map[string]Provider)
	r.metadata = make(map[string]Metadata)
	r.status = make(map[string]ServiceStatus)
	r.failures = make(map[string]error)
	r.order = nil
	r.created = nil
}

// Register adds a ready instance under name.
func (r *Registry) Register(name string, instance any, opts ...RegisterOption) error {
	if name == "" {
		return ErrServiceNameEmpty
	}
	if instance == nil {
		return fmt.Errorf("%w: %s", ErrServiceNil, name)
	}
	o := collectRegisterOptions(opts)

	r.mu.Lock()
	replaced, err := r.claimLocked(name, o.override)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.services[name] = instance
	r.metadata[name] = o.metadata
	r.status[name] = StatusReady
	info := r.infoLocked(name)
	r.mu.Unlock()

	r.retire(replaced)
	r.logger.Debug("Registered service", "name", name, "type", fmt.Sprintf("%T", instance), "override", o.override)
	r.emit(context.Background(), LifecycleEvent{Type: LifecycleEventRegistered, Service: info})
	return nil
}

// RegisterProvider adds a provider to be materialized by Initialize or Resolve.
func (r *Registry) RegisterProvider(p Provider, opts ...RegisterOption) error {
	if p == nil {
		return ErrProviderNil
	}
	name := p.Name()
	if name == "" {
		return ErrServiceNameEmpty
	}
	o := collectRegisterOptions(opts)

	meta := Metadata{
		Version:      p.Version(),
		Dependencies: p.Dependencies(),
	}
	mergeMetadata(&meta, o.metadata)

	r.mu.Lock()
	replaced, err := r.claimLocked(name, o.override)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.providers[name] = p
	r.metadata[name] = meta
	r.status[name] = StatusRegistered
	info := r.infoLocked(name)
	r.mu.Unlock()

	r.retire(replaced)
	r.logger.Debug("Registered provider", "name", name, "version", meta.Version, "dependencies", meta.Dependencies)
	r.emit(context.Background(), LifecycleEvent{Type: LifecycleEventRegistered, Service: info})
	return nil
}

// claimLocked enforces the duplicate rule and clears a prior entry on override.
// A materialized provider that gets replaced is returned so the caller can dispose it
// once the lock is released.
func (r *Registry) claimLocked(name string, override bool) (*retired, error) {
	if !r.existsLocked(name) {
		r.order = append(r.order, name)
		return nil, nil
	}
	if !override {
		return nil, &DuplicateServiceError{Service: name}
	}
	var old *retired
	if slices.Contains(r.created, name) {
		old = &retired{provider: r.providers[name], info: r.infoLocked(name)}
		r.created = slices.DeleteFunc(r.created, func(n string) bool { return n == name })
	}
	delete(r.services, name)
	delete(r.providers, name)
	delete(r.failures, name)
	return old, nil
}

// retired is a materialized provider displaced by an override.
type retired struct {
	provider Provider
	info     ServiceInfo
}

func (r *Registry) retire(old *retired) {
	if old == nil || old.provider == nil {
		return
	}
	ctx := context.Background()
	name := old.info.Name
	if err := disposeSafely(ctx, old.provider); err != nil {
		r.logger.Error("Error disposing overridden service", "service", name, "error", err)
	} else {
		r.logger.Debug("Disposed overridden service", "service", name)
	}
	r.emit(ctx, LifecycleEvent{Type: LifecycleEventDisposed, Service: old.info})
}

func (r *Registry) existsLocked(name string) bool {
	if _, ok := r.services[name]; ok {
		return true
	}
	_, ok := r.providers[name]
	return ok
}

// Get returns a materialized instance. Providers that have not been created are not
// visible until Initialize or Resolve runs for them.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Has reports whether name is materialized.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// ListServices describes every known name, materialized or pending, in registration order.
func (r *Registry) ListServices() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ServiceInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.infoLocked(name))
	}
	return infos
}

func (r *Registry) infoLocked(name string) ServiceInfo {
	meta := r.metadata[name]
	meta.Dependencies = slices.Clone(meta.Dependencies)
	info := ServiceInfo{
		Name:     name,
		Status:   r.status[name],
		Metadata: meta,
	}
	_, info.HasProvider = r.providers[name]
	if err := r.failures[name]; err != nil {
		info.Error = err.Error()
	}
	return info
}

// InitializationOrder returns the providers materialized so far, in creation order.
func (r *Registry) InitializationOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.created)
}

// CreateContainer returns a Container that reads through to this registry.
func (r *Registry) CreateContainer() *Container {
	return newRegistryContainer(r)
}

// Initialize materializes every registered provider in dependency order.
//
// Only one run ever executes per registry lifetime: concurrent and later callers wait
// for and return the outcome of that run. A waiter whose ctx ends stops waiting; the
// run itself continues. Services that became ready before a failure stay ready; call
// Dispose to tear them down.
func (r *Registry) Initialize(ctx context.Context) error {
	r.initMu.Lock()
	run := r.initRun
	if run == nil {
		run = &initRun{done: make(chan struct{})}
		r.initRun = run
		r.initMu.Unlock()

		run.err = r.initializeAll(ctx)
		close(run.done)
		return run.err
	}
	r.initMu.Unlock()

	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // caller's own context
	}
}

func (r *Registry) initializeAll(ctx context.Context) error {
	order, err := r.resolveOrder(nil)
	if err != nil {
		r.logger.Error("Failed to resolve service dependencies", "error", err)
		return err
	}
	r.logger.Debug("Service initialization order", "order", order)

	start := time.Now()
	c := r.CreateContainer()
	for _, name := range order {
		if err := r.materialize(ctx, name, c); err != nil {
			return err
		}
	}
	r.logger.Info("Registry initialized", "providers", len(order), "duration", time.Since(start))
	return nil
}

// Resolve materializes a single provider and its provider dependencies, then returns
// the instance. Already materialized names are returned directly.
func (r *Registry) Resolve(ctx context.Context, name string) (any, error) {
	if svc, ok := r.Get(name); ok {
		return svc, nil
	}
	r.mu.RLock()
	_, isProvider := r.providers[name]
	r.mu.RUnlock()
	if !isProvider {
		return nil, fmt.Errorf("%w: %s", ErrRequiredServiceMissing, name)
	}

	order, err := r.resolveOrder([]string{name})
	if err != nil {
		return nil, err
	}
	c := r.CreateContainer()
	for _, n := range order {
		if err := r.materialize(ctx, n, c); err != nil {
			return nil, err
		}
	}
	svc, _ := r.Get(name)
	return svc, nil
}

// resolveOrder returns providers reachable from roots (all providers when roots is nil)
// such that each appears after its provider dependencies. Roots and dependency lists are
// walked in registration and declaration order, so the result is deterministic.
func (r *Registry) resolveOrder(roots []string) ([]string, error) {
	r.mu.RLock()
	graph := make(map[string][]string, len(r.providers))
	var all []string
	for _, name := range r.order {
		if p, ok := r.providers[name]; ok {
			graph[name] = p.Dependencies()
			all = append(all, name)
		}
	}
	r.mu.RUnlock()

	if roots == nil {
		roots = all
	}

	var result []string
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	var path []string

	var visit func(string) error
	visit = func(node string) error {
		if visiting[node] {
			cycle := slices.Clone(path[slices.Index(path, node):])
			return &CircularDependencyError{Service: node, Path: append(cycle, node)}
		}
		if visited[node] {
			return nil
		}
		deps, isProvider := graph[node]
		if !isProvider {
			// plain instances and missing names are leaves; materialize reports the latter
			return nil
		}

		visiting[node] = true
		path = append(path, node)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		visiting[node] = false
		visited[node] = true
		result = append(result, node)
		return nil
	}

	for _, node := range roots {
		if err := visit(node); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// materialize creates one provider's instance. Creation is serialized across the
// registry so later providers observe earlier ones as ready.
func (r *Registry) materialize(ctx context.Context, name string, c *Container) error {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	r.mu.Lock()
	p, isProvider := r.providers[name]
	if !isProvider {
		r.mu.Unlock()
		return nil
	}
	if _, done := r.services[name]; done {
		r.mu.Unlock()
		return nil
	}
	if r.status[name] == StatusError {
		cause := r.failures[name]
		r.mu.Unlock()
		return &ServiceInitializationError{Service: name, Cause: cause}
	}
	for _, dep := range p.Dependencies() {
		if !r.existsLocked(dep) {
			r.mu.Unlock()
			return &MissingDependencyError{Service: name, Dependency: dep}
		}
	}
	r.status[name] = StatusInitializing
	r.mu.Unlock()

	r.logger.Debug("Initializing service", "service", name, "version", p.Version())
	start := time.Now()
	instance, err := createSafely(ctx, p, c)
	if err == nil && instance == nil {
		err = ErrServiceNil
	}
	elapsed := time.Since(start)

	r.mu.Lock()
	if err != nil {
		r.status[name] = StatusError
		r.failures[name] = err
		info := r.infoLocked(name)
		r.mu.Unlock()

		r.logger.Error("Service initialization failed", "service", name, "error", err)
		r.emit(ctx, LifecycleEvent{Type: LifecycleEventFailed, Service: info, Duration: elapsed, Err: err})
		return &ServiceInitializationError{Service: name, Cause: err}
	}
	r.services[name] = instance
	r.status[name] = StatusReady
	r.created = append(r.created, name)
	info := r.infoLocked(name)
	r.mu.Unlock()

	r.logger.Info("Service ready", "service", name, "version", p.Version(), "duration", elapsed)
	r.emit(ctx, LifecycleEvent{Type: LifecycleEventReady, Service: info, Duration: elapsed})
	return nil
}

// Dispose tears down materialized providers in exactly the reverse of their creation
// order, logging and swallowing individual failures, then clears the registry and
// allows Initialize to run again.
func (r *Registry) Dispose(ctx context.Context) {
	r.initMu.Lock()
	run := r.initRun
	r.initMu.Unlock()
	if run != nil {
		<-run.done
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	r.mu.RLock()
	created := slices.Clone(r.created)
	providers := make(map[string]Provider, len(created))
	infos := make(map[string]ServiceInfo, len(created))
	for _, name := range created {
		providers[name] = r.providers[name]
		infos[name] = r.infoLocked(name)
	}
	r.mu.RUnlock()

	for _, name := range slices.Backward(created) {
		p := providers[name]
		if p == nil {
			continue
		}
		if err := disposeSafely(ctx, p); err != nil {
			r.logger.Error("Error disposing service", "service", name, "error", err)
		} else {
			r.logger.Debug("Disposed service", "service", name)
		}
		r.emit(ctx, LifecycleEvent{Type: LifecycleEventDisposed, Service: infos[name]})
	}

	r.mu.Lock()
	r.reset()
	r.mu.Unlock()

	r.initMu.Lock()
	r.initRun = nil
	r.initMu.Unlock()

	r.logger.Info("Registry disposed", "services", len(created))
}

func (r *Registry) emit(ctx context.Context, event LifecycleEvent) {
	if r.emitter == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.emitter.EmitLifecycle(ctx, event)
}

// snapshot copies the materialized services.
func (r *Registry) snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.services))
	for name, svc := range r.services {
		out[name] = svc
	}
	return out
}

func createSafely(ctx context.Context, p Provider, c *Container) (instance any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in create: %v\n%s", rec, debug.Stack())
		}
	}()
	return p.Create(ctx, c)
}

func disposeSafely(ctx context.Context, p Provider) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in dispose: %v", rec)
		}
	}()
	return p.Dispose(ctx)
}

func collectRegisterOptions(opts []RegisterOption) registerOptions {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	o.metadata.Dependencies = slices.Clone(o.metadata.Dependencies)
	return o
}

func mergeMetadata(dst *Metadata, src Metadata) {
	if src.Version != "" {
		dst.Version = src.Version
	}
	if len(src.Dependencies) > 0 {
		dst.Dependencies = src.Dependencies
	}
	if src.Category != "" {
		dst.Category = src.Category
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
}
