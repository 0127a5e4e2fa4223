// Package reporter routes application errors to whatever reporting services the host
// container provides: the logger, a user-facing notification service and the event
// bus. Every service is optional and a failing service never breaks reporting.
package reporter

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/GoCodeAlone/fragments"
	"github.com/GoCodeAlone/fragments/eventbus"
)

// EventErrorReported is published on the event bus for every report.
const EventErrorReported = "error:reported"

// Notification is shown to the user by a Notifier.
type Notification struct {
	Level   string
	Title   string
	Message string
}

// Notifier is the shape expected of the "notification" service.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ErrorReport is the payload of EventErrorReported.
type ErrorReport struct {
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

// Delivery records which services accepted a report.
type Delivery struct {
	Logged    bool
	Notified  bool
	Published bool
}

// Reporter reports errors through the services of one container.
type Reporter struct {
	container *fragments.Container
	title     string
	now       func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithNotificationTitle sets the title of user notifications.
func WithNotificationTitle(title string) Option {
	return func(r *Reporter) {
		r.title = title
	}
}

// New creates a Reporter resolving services from c on every report, so services
// registered later are picked up.
func New(c *fragments.Container, opts ...Option) *Reporter {
	r := &Reporter{container: c, title: "Something went wrong", now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report delivers err to every available reporting service. A nil err is ignored.
func (r *Reporter) Report(ctx context.Context, err error, fields map[string]any) Delivery {
	var d Delivery
	if err == nil || r.container == nil {
		return d
	}
	report := ErrorReport{
		Message: err.Error(),
		Type:    fmt.Sprintf("%T", err),
		Fields:  maps.Clone(fields),
		Time:    r.now(),
	}

	if logger, ok := fragments.GetService[fragments.Logger](r.container, fragments.LoggerServiceName); ok {
		d.Logged = guard(func() error {
			logger.Error("Error reported", flatten(report)...)
			return nil
		})
	}

	if notifier, ok := fragments.GetService[Notifier](r.container, fragments.NotificationServiceName); ok {
		d.Notified = guard(func() error {
			return notifier.Notify(ctx, Notification{Level: "error", Title: r.title, Message: report.Message})
		})
	}

	if bus, ok := fragments.GetService[*eventbus.Bus](r.container, fragments.EventBusServiceName); ok {
		d.Published = guard(func() error {
			_, err := bus.Emit(ctx, EventErrorReported, report, eventbus.WithEventSource("fragments/reporter"))
			return err
		})
	}

	return d
}

// Recover reports a panic in progress and stops it. Use it directly with defer:
//
//	defer rep.Recover(ctx, map[string]any{"fragment": "cart"})
func (r *Reporter) Recover(ctx context.Context, fields map[string]any) {
	if v := recover(); v != nil {
		err, ok := v.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", v)
		}
		r.Report(ctx, err, fields)
	}
}

// guard runs fn, reporting false when it fails or panics.
func guard(fn func() error) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return fn() == nil
}

func flatten(report ErrorReport) []any {
	args := make([]any, 0, 4+2*len(report.Fields))
	args = append(args, "error", report.Message, "errorType", report.Type)
	for _, k := range slices.Sorted(maps.Keys(report.Fields)) {
		args = append(args, k, report.Fields[k])
	}
	return args
}
