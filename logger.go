package fragments

// Logger defines the interface for structured logging used by the registry, the
// containers it hands out and the event bus.
//
// Arguments are key-value pairs:
//
//	logger.Info("Service ready", "service", "notification", "version", "1.0.0")
//
// The shape matches slog, zap's SugaredLogger "w" methods and most structured logging
// libraries. NewZapLogger adapts a *zap.Logger.
type Logger interface {
	// Info logs lifecycle milestones such as a service becoming ready.
	Info(msg string, args ...any)

	// Error logs failures that were handled, for example a provider whose Dispose failed.
	Error(msg string, args ...any)

	// Warn logs unusual but tolerated conditions.
	Warn(msg string, args ...any)

	// Debug logs diagnostic detail such as the computed initialization order.
	Debug(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Debug(string, ...any) {}

// LoggerAware is implemented by services that accept a logger after construction.
// LoggingDecorator uses it to hand the registry's "logger" service to instances.
type LoggerAware interface {
	SetLogger(logger Logger)
}
