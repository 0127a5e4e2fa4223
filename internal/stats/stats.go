// Package stats periodically publishes event bus statistics on the bus itself and
// logs them.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/fragments"
	"github.com/GoCodeAlone/fragments/eventbus"
	"github.com/robfig/cron/v3"
)

// EventBusStats is emitted with a Snapshot payload on every report.
const EventBusStats = "bus:stats"

// Source is the event source of stats events.
const Source = "fragments/stats"

// Snapshot is the payload of EventBusStats. Delta counts events emitted since the
// previous report, including that report's own EventBusStats event.
type Snapshot struct {
	Stats eventbus.Stats `json:"stats"`
	Delta uint64         `json:"delta"`
	At    time.Time      `json:"at"`
}

// Topic is the typed topic for EventBusStats.
var Topic = eventbus.NewTopic[Snapshot](EventBusStats)

// Bus is the part of *eventbus.Bus a Reporter needs.
type Bus interface {
	Stats() eventbus.Stats
	Emit(ctx context.Context, eventType string, data any, opts ...eventbus.EmitOption) (eventbus.EmitResult, error)
}

// Reporter publishes a Snapshot on a cron schedule.
type Reporter struct {
	bus      Bus
	schedule string
	logger   fragments.Logger
	now      func() time.Time

	mu      sync.Mutex
	last    uint64
	cron    *cron.Cron
	cancel  context.CancelFunc
	started bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger snapshots and scheduler errors are written to.
func WithLogger(logger fragments.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// SetLogger replaces the logger. Call it before Start.
func (r *Reporter) SetLogger(logger fragments.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// New creates a Reporter. schedule is a standard cron expression or descriptor.
func New(bus Bus, schedule string, opts ...Option) (*Reporter, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	r := &Reporter{
		bus:      bus,
		schedule: schedule,
		logger:   fragments.NopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start schedules reports until Stop is called or ctx is done.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	log := cronLogger{r.logger}
	c := cron.New(cron.WithLogger(log), cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)))
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(r.schedule, func() { r.Report(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule stats report: %w", err)
	}
	c.Start()
	r.cron = c
	r.cancel = cancel
	r.started = true
	r.logger.Info("Started stats reporter", "schedule", r.schedule)
	return nil
}

// Stop removes the schedule and waits for a running report, or for ctx.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.cancel()
	c := r.cron
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
		r.logger.Info("Stopped stats reporter")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Report takes a snapshot, logs it and publishes it. A publish failure is logged and
// also returned with the snapshot; scheduled runs only log it.
func (r *Reporter) Report(ctx context.Context) (Snapshot, error) {
	stats := r.bus.Stats()

	r.mu.Lock()
	snap := Snapshot{Stats: stats, At: r.now()}
	if stats.TotalEvents >= r.last {
		snap.Delta = stats.TotalEvents - r.last
	} else {
		// the bus was cleared since the previous report
		snap.Delta = stats.TotalEvents
	}
	r.last = stats.TotalEvents
	r.mu.Unlock()

	r.logger.Info("Event bus stats",
		"totalEvents", stats.TotalEvents,
		"delta", snap.Delta,
		"errors", stats.Errors,
		"eventTypes", len(stats.EventCounts),
		"wildcardHandlers", stats.WildcardHandlers,
	)

	if _, err := r.bus.Emit(ctx, Topic.Name(), snap, eventbus.WithEventSource(Source)); err != nil {
		r.logger.Warn("Failed to publish stats", "error", err)
		return snap, err
	}
	return snap, nil
}

// cronLogger routes scheduler logs to a fragments.Logger.
type cronLogger struct {
	logger fragments.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
