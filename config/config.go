// Package config loads the host process configuration.
//
// A HostConfig starts from Default, is fed from a YAML or TOML file chosen by
// extension, then from FRAGMENTS_ prefixed environment variables, and is finally
// validated. Watch reloads the file whenever it changes.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAGMENTS"

var (
	// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("unsupported config format")
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidStructure is returned when a feeder is given something other than a
	// pointer to a struct.
	ErrInvalidStructure = errors.New("config: expected pointer to struct")
)

// HostConfig configures the fragment host.
type HostConfig struct {
	Name      string          `yaml:"name" toml:"name" env:"NAME" validate:"required"`
	Log       LogConfig       `yaml:"log" toml:"log" env:"LOG"`
	Events    EventsConfig    `yaml:"events" toml:"events" env:"EVENTS"`
	Diag      DiagConfig      `yaml:"diag" toml:"diag" env:"DIAG"`
	Stats     StatsConfig     `yaml:"stats" toml:"stats" env:"STATS"`
	Fragments FragmentsConfig `yaml:"fragments" toml:"fragments"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" env:"FORMAT" validate:"oneof=json console"`
}

// EventsConfig configures the event bus and its interceptors.
type EventsConfig struct {
	Source           string        `yaml:"source" toml:"source" env:"SOURCE" validate:"required"`
	WaitTimeout      time.Duration `yaml:"waitTimeout" toml:"waitTimeout" env:"WAIT_TIMEOUT" validate:"gt=0"`
	Metrics          bool          `yaml:"metrics" toml:"metrics" env:"METRICS"`
	MetricsNamespace string        `yaml:"metricsNamespace" toml:"metricsNamespace" env:"METRICS_NAMESPACE" validate:"required_if=Metrics true"`
	Tracing          bool          `yaml:"tracing" toml:"tracing" env:"TRACING"`
	StrictPayloads   bool          `yaml:"strictPayloads" toml:"strictPayloads" env:"STRICT_PAYLOADS"`
	ForwardURL       string        `yaml:"forwardURL" toml:"forwardURL" env:"FORWARD_URL" validate:"omitempty,url"`
}

// DiagConfig configures the diagnostics HTTP listener.
type DiagConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" toml:"addr" env:"ADDR" validate:"required,hostname_port"`
}

// StatsConfig configures the periodic bus statistics report. Schedule is a standard
// five field cron expression or a descriptor such as "@every 1m".
type StatsConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Schedule string `yaml:"schedule" toml:"schedule" env:"SCHEDULE" validate:"required"`
}

// FragmentsConfig lists the manifests checked at startup.
type FragmentsConfig struct {
	Manifests []string `yaml:"manifests" toml:"manifests" validate:"dive,required"`
}

// Default returns the configuration used for anything a file or the environment
// leaves unset.
func Default() HostConfig {
	return HostConfig{
		Name: "fragmenthost",
		Log:  LogConfig{Level: "info", Format: "json"},
		Events: EventsConfig{
			Source:           "fragments/eventbus",
			WaitTimeout:      30 * time.Second,
			Metrics:          true,
			MetricsNamespace: "fragments_eventbus",
		},
		Diag:  DiagConfig{Enabled: true, Addr: ":9090"},
		Stats: StatsConfig{Enabled: true, Schedule: "@every 1m"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("yaml")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks cfg, reporting every failing field in one error.
func (cfg HostConfig) Validate() error {
	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
	}
	if cfg.Stats.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Stats.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("stats.schedule: %v", err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "url":
		return field + " must be a URL"
	case "hostname_port":
		return field + " must be a host:port address"
	default:
		return field + " is invalid"
	}
}
