package fragment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CurrentManifestVersion is the manifest schema version written by current tooling.
const CurrentManifestVersion = "2"

// Manifest is the descriptor a fragment ships next to its entry point.
type Manifest struct {
	ManifestVersion string   `json:"manifestVersion" yaml:"manifestVersion" validate:"required,oneof=1 2"`
	Name            string   `json:"name" yaml:"name" validate:"required,max=64"`
	Version         string   `json:"version" yaml:"version" validate:"required,semver"`
	Entry           string   `json:"entry" yaml:"entry" validate:"required"`
	Kind            Kind     `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=module legacy"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Requires        []string `json:"requires,omitempty" yaml:"requires,omitempty" validate:"dive,required"`
	Emits           []string `json:"emits,omitempty" yaml:"emits,omitempty" validate:"dive,required,excludes=*"`
}

// ValidationResult is the outcome of validating a manifest. Version is the manifest
// schema version found in the document, empty when it could not be read.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Version  string   `json:"version,omitempty"`
}

// ManifestValidator validates raw manifest documents.
type ManifestValidator interface {
	Validate(ctx context.Context, raw []byte) ValidationResult
}

// StructManifestValidator decodes JSON or YAML manifests into Manifest and checks them
// against its struct tags.
type StructManifestValidator struct {
	validate *validator.Validate
}

// NewStructManifestValidator returns a validator reporting fields by their JSON names.
func NewStructManifestValidator() *StructManifestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &StructManifestValidator{validate: v}
}

var _ ManifestValidator = (*StructManifestValidator)(nil)

// Validate implements ManifestValidator.
func (s *StructManifestValidator) Validate(ctx context.Context, raw []byte) ValidationResult {
	_, result := s.Parse(raw)
	return result
}

// Parse decodes and validates raw. The manifest is returned even when invalid so
// callers can report on it.
func (s *StructManifestValidator) Parse(raw []byte) (Manifest, ValidationResult) {
	var m Manifest
	if err := decodeManifest(raw, &m); err != nil {
		return m, ValidationResult{Errors: []string{err.Error()}}
	}

	result := ValidationResult{Version: m.ManifestVersion}
	if err := s.validate.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			result.Errors = append(result.Errors, err.Error())
		}
		for _, fe := range fieldErrs {
			result.Errors = append(result.Errors, formatFieldError(fe))
		}
	}
	result.Warnings = manifestWarnings(m)
	result.Valid = len(result.Errors) == 0
	return m, result
}

func decodeManifest(raw []byte, m *Manifest) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty document", ErrManifestFormat)
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(m); err != nil {
			return fmt.Errorf("%w: invalid JSON: %v", ErrManifestFormat, err)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(trimmed))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("%w: invalid YAML: %v", ErrManifestFormat, err)
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "semver":
		return fmt.Sprintf("%s must be a semantic version", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "excludes":
		return fmt.Sprintf("%s must not contain '%s'", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func manifestWarnings(m Manifest) []string {
	var warnings []string
	if m.ManifestVersion != "" && m.ManifestVersion != CurrentManifestVersion {
		warnings = append(warnings, fmt.Sprintf("manifestVersion %s is deprecated, current is %s", m.ManifestVersion, CurrentManifestVersion))
	}
	if m.Description == "" {
		warnings = append(warnings, "description is empty")
	}
	if m.Kind == KindLegacy {
		warnings = append(warnings, "legacy fragments receive a service snapshot instead of a container")
	}
	seen := make(map[string]bool, len(m.Requires))
	for _, name := range m.Requires {
		if seen[name] {
			warnings = append(warnings, fmt.Sprintf("requires lists %s more than once", name))
		}
		seen[name] = true
	}
	slices.Sort(warnings)
	return warnings
}
