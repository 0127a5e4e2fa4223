package eventbus

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
)

var errPayloadRequired = errors.New("payload is required")

// Validator accepts or rejects the payload of an event type before dispatch.
type Validator interface {
	Validate(eventType string, data any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(eventType string, data any) error

func (f ValidatorFunc) Validate(eventType string, data any) error {
	return f(eventType, data)
}

// StructValidator checks struct payloads against their `validate` tags. Payloads that
// are not structs or pointers to structs pass unchecked; a nil payload is rejected
// when Required is set.
type StructValidator struct {
	Required bool

	validate *validator.Validate
}

// NewStructValidator returns a StructValidator. A nil v gets a fresh validator
// instance.
func NewStructValidator(v *validator.Validate) *StructValidator {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &StructValidator{validate: v}
}

func (s *StructValidator) Validate(eventType string, data any) error {
	if data == nil {
		if s.Required {
			return errPayloadRequired
		}
		return nil
	}
	t := reflect.TypeOf(data)
	if t.Kind() == reflect.Pointer {
		if reflect.ValueOf(data).IsNil() {
			if s.Required {
				return errPayloadRequired
			}
			return nil
		}
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return s.validate.Struct(data)
}
