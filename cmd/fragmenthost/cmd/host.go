package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/fragments"
	"github.com/GoCodeAlone/fragments/config"
	"github.com/GoCodeAlone/fragments/eventbus"
	"github.com/GoCodeAlone/fragments/fragment"
	"github.com/GoCodeAlone/fragments/internal/diag"
	"github.com/GoCodeAlone/fragments/internal/stats"
	"github.com/GoCodeAlone/fragments/reporter"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Service names registered by the host on top of the well-known ones.
const (
	// LegacyEventsServiceName exposes the LegacyAdapter to fragments still using the
	// untyped message API.
	LegacyEventsServiceName = "legacyEvents"
	ReporterServiceName     = "errorReporter"
	FragmentsServiceName    = "fragments"
	StatsServiceName        = "stats"
)

const forwardTimeout = 5 * time.Second

// Host owns every long-lived component of the fragmenthost process. Components with
// a lifecycle are registry providers, so Start and Shutdown follow dependency order.
type Host struct {
	Registry *fragments.Registry
	Bus      *eventbus.Bus
	Metrics  *prometheus.Registry

	mu     sync.Mutex
	cfg    config.HostConfig
	level  zap.AtomicLevel
	zap    *zap.Logger
	logger fragments.Logger

	tracer   *sdktrace.TracerProvider
	server   *http.Server
	listener net.Listener
}

// NewLogger builds the zap logger described by cfg. The returned level can be changed
// while the logger is in use.
func NewLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	l, err := zc.Build()
	if err != nil {
		return nil, level, fmt.Errorf("build logger: %w", err)
	}
	return l, level, nil
}

// NewHost wires the registry, bus and their satellites from cfg. Nothing runs until
// Start.
func NewHost(cfg config.HostConfig, zl *zap.Logger, level zap.AtomicLevel) (*Host, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	logger := fragments.NewZapLogger(zl.With(zap.String("host", cfg.Name)))
	h := &Host{cfg: cfg, level: level, zap: zl, logger: logger}

	h.Bus = eventbus.New(
		eventbus.WithLogger(logger),
		eventbus.WithSource(cfg.Events.Source),
		eventbus.WithDefaultWaitTimeout(cfg.Events.WaitTimeout),
	)
	if err := h.instrumentBus(); err != nil {
		return nil, err
	}

	h.Registry = fragments.NewRegistry(
		fragments.WithLogger(logger),
		fragments.WithLifecycleEmitter(eventbus.LifecycleBridge(h.Bus)),
	)
	services := map[string]any{
		fragments.LoggerServiceName:       fragments.Logger(logger),
		fragments.EventBusServiceName:     h.Bus,
		fragments.NotificationServiceName: logNotifier{logger: logger},
		LegacyEventsServiceName:           eventbus.NewLegacyAdapter(h.Bus),
	}
	for _, name := range []string{fragments.LoggerServiceName, fragments.EventBusServiceName, fragments.NotificationServiceName, LegacyEventsServiceName} {
		if err := h.Registry.Register(name, services[name]); err != nil {
			return nil, err
		}
	}

	for _, p := range h.providers() {
		if err := h.Registry.RegisterProvider(p); err != nil {
			return nil, err
		}
	}

	if cfg.Diag.Enabled {
		srv := &diag.Server{
			Services:  h.Registry,
			Bus:       h.Bus,
			Fragments: mountedFragments{h},
			Logger:    logger,
		}
		if h.Metrics != nil {
			srv.Gatherer = h.Metrics
		}
		h.server = &http.Server{
			Addr:              cfg.Diag.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return h, nil
}

// providers returns the host components the registry initializes and disposes.
func (h *Host) providers() []fragments.Provider {
	title := h.cfg.Name
	ps := []fragments.Provider{
		fragments.Singleton(ReporterServiceName, Version,
			func(ctx context.Context, c *fragments.Container) (*reporter.Reporter, error) {
				return reporter.New(c, reporter.WithNotificationTitle(title)), nil
			},
			fragments.WithDependencies(fragments.LoggerServiceName, fragments.NotificationServiceName, fragments.EventBusServiceName),
		),
		fragments.Singleton(FragmentsServiceName, Version,
			func(ctx context.Context, c *fragments.Container) (*fragment.Lifecycle, error) {
				logger, err := fragments.RequireService[fragments.Logger](c, fragments.LoggerServiceName)
				if err != nil {
					return nil, err
				}
				return fragment.NewLifecycle(c, fragment.WithLogger(logger)), nil
			},
			fragments.WithDependencies(fragments.LoggerServiceName, fragments.EventBusServiceName),
			fragments.WithDisposer(func(ctx context.Context, instance any) error {
				return instance.(*fragment.Lifecycle).Close(ctx)
			}),
		),
	}
	if h.cfg.Stats.Enabled {
		schedule := h.cfg.Stats.Schedule
		ps = append(ps, fragments.Decorate(
			fragments.Singleton(StatsServiceName, Version,
				func(ctx context.Context, c *fragments.Container) (*stats.Reporter, error) {
					bus, err := fragments.RequireService[*eventbus.Bus](c, fragments.EventBusServiceName)
					if err != nil {
						return nil, err
					}
					return stats.New(bus, schedule)
				},
				fragments.WithDependencies(fragments.EventBusServiceName, fragments.LoggerServiceName),
				fragments.WithDisposer(func(ctx context.Context, instance any) error {
					return instance.(*stats.Reporter).Stop(ctx)
				}),
			),
			fragments.LoggingDecorator(StatsServiceName),
			fragments.DecorateTyped(func(ctx context.Context, c *fragments.Container, r *stats.Reporter) (*stats.Reporter, error) {
				return r, r.Start(context.WithoutCancel(ctx))
			}),
		))
	}
	return ps
}

// Reporter returns the error reporter, or nil before the registry is initialized.
func (h *Host) Reporter() *reporter.Reporter {
	r, _ := fragments.GetService[*reporter.Reporter](h.Registry.CreateContainer(), ReporterServiceName)
	return r
}

// Fragments returns the fragment lifecycle, or nil before the registry is initialized.
func (h *Host) Fragments() *fragment.Lifecycle {
	l, _ := fragments.GetService[*fragment.Lifecycle](h.Registry.CreateContainer(), FragmentsServiceName)
	return l
}

func (h *Host) report(ctx context.Context, err error, fields map[string]any) {
	if r := h.Reporter(); r != nil {
		r.Report(ctx, err, fields)
		return
	}
	h.logger.Error("Unreported error", "error", err, "fields", fields)
}

// mountedFragments lists fragments once the lifecycle provider is ready.
type mountedFragments struct{ h *Host }

func (m mountedFragments) Mounted() []fragment.MountedFragment {
	if l := m.h.Fragments(); l != nil {
		return l.Mounted()
	}
	return nil
}

func (h *Host) instrumentBus() error {
	ev := h.cfg.Events
	if ev.Metrics {
		h.Metrics = prometheus.NewRegistry()
		hist := eventbus.NewHandlerDurationHistogram(ev.MetricsNamespace)
		if err := h.Metrics.Register(eventbus.NewPrometheusCollector(h.Bus, ev.MetricsNamespace)); err != nil {
			return fmt.Errorf("register bus collector: %w", err)
		}
		if err := h.Metrics.Register(hist); err != nil {
			return fmt.Errorf("register handler histogram: %w", err)
		}
		h.Metrics.MustRegister(collectors.NewGoCollector())
		h.Bus.Use(eventbus.HandlerDurationInterceptor(hist))
	}

	if ev.Tracing {
		h.tracer = sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
		h.Bus.Use(eventbus.TracingInterceptor(h.tracer.Tracer("fragments/eventbus")))
	}

	if ev.StrictPayloads {
		required := eventbus.NewStructValidator(nil)
		required.Required = true
		for _, t := range []string{
			fragment.EventMounted, fragment.EventUnmounted, fragment.EventMountFailed,
			reporter.EventErrorReported, stats.EventBusStats,
		} {
			h.Bus.RegisterValidator(t, required)
		}
	}

	if ev.ForwardURL != "" {
		client, err := cloudevents.NewClientHTTP()
		if err != nil {
			return fmt.Errorf("cloudevents client: %w", err)
		}
		target := ev.ForwardURL
		sink := func(ctx context.Context, ce cloudevents.Event) error {
			ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
			defer cancel()
			if res := client.Send(cloudevents.ContextWithTarget(ctx, target), ce); !cloudevents.IsACK(res) {
				return res
			}
			return nil
		}
		h.Bus.Use(eventbus.CloudEventsForwarder(sink, func(e eventbus.Event, err error) {
			h.logger.Warn("Failed to forward event", "type", e.Type, "id", e.ID, "target", target, "error", err)
		}))
	}
	return nil
}

// Start initializes the registry, which starts every provider in dependency order,
// checks the configured manifests and starts serving diagnostics.
func (h *Host) Start(ctx context.Context) error {
	if err := h.Registry.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	h.CheckManifests(ctx)

	if h.server != nil {
		ln, err := net.Listen("tcp", h.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
		}
		h.mu.Lock()
		h.listener = ln
		h.mu.Unlock()
		go func() {
			if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.report(context.Background(), err, map[string]any{"component": "diag"})
			}
		}()
		h.logger.Info("Diagnostics listening", "addr", ln.Addr().String())
	}
	return nil
}

// DiagAddr returns the address the diagnostics server listens on, empty before Start
// or when diagnostics are disabled.
func (h *Host) DiagAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// CheckManifests validates every configured manifest, reporting invalid ones through
// the error reporter. It returns the number of valid manifests.
func (h *Host) CheckManifests(ctx context.Context) int {
	h.mu.Lock()
	paths := h.cfg.Fragments.Manifests
	h.mu.Unlock()

	v := fragment.NewStructManifestValidator()
	valid := 0
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			h.report(ctx, fmt.Errorf("read manifest: %w", err), map[string]any{"manifest": path})
			continue
		}
		m, result := v.Parse(raw)
		for _, w := range result.Warnings {
			h.logger.Warn("Manifest warning", "manifest", path, "warning", w)
		}
		if !result.Valid {
			h.report(ctx, fmt.Errorf("invalid manifest: %s", strings.Join(result.Errors, "; ")), map[string]any{"manifest": path})
			continue
		}
		h.logger.Info("Manifest accepted", "manifest", path, "fragment", m.Name, "version", m.Version)
		valid++
	}
	return valid
}

// ApplyConfig takes over the settings that can change at runtime and logs the ones
// that need a restart.
func (h *Host) ApplyConfig(cfg config.HostConfig) {
	h.mu.Lock()
	prev := h.cfg
	h.cfg = cfg
	h.mu.Unlock()

	if cfg.Log.Level != prev.Log.Level {
		if err := h.level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			h.logger.Warn("Ignoring log level", "level", cfg.Log.Level, "error", err)
		} else {
			h.logger.Info("Log level changed", "from", prev.Log.Level, "to", cfg.Log.Level)
		}
	}
	if cfg.Events != prev.Events || cfg.Diag != prev.Diag || cfg.Stats != prev.Stats || cfg.Log.Format != prev.Log.Format {
		h.logger.Warn("Configuration change requires a restart", "name", cfg.Name)
	}
	if !slices.Equal(cfg.Fragments.Manifests, prev.Fragments.Manifests) {
		h.CheckManifests(context.Background())
	}
}

// Shutdown stops serving diagnostics, then disposes the registry, which stops the
// stats reporter and unmounts fragments in reverse initialization order.
func (h *Host) Shutdown(ctx context.Context) error {
	var errs []error
	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics shutdown: %w", err))
		}
	}
	h.Registry.Dispose(ctx)
	if h.tracer != nil {
		if err := h.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	h.logger.Info("Host stopped")
	_ = h.zap.Sync()
	return errors.Join(errs...)
}

// logNotifier is the default notification service of a headless host.
type logNotifier struct {
	logger fragments.Logger
}

func (n logNotifier) Notify(ctx context.Context, note reporter.Notification) error {
	n.logger.Warn(note.Title, "level", note.Level, "message", note.Message)
	return nil
}
