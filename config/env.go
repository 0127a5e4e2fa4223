package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeFor[time.Duration]()

// EnvFeeder overrides fields tagged `env` from prefixed environment variables. A
// struct field with an env tag extends the prefix for its own fields, so
// HostConfig.Log.Level reads FRAGMENTS_LOG_LEVEL.
type EnvFeeder struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvFeeder creates an EnvFeeder reading the process environment.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix, lookup: os.LookupEnv}
}

// Feed implements the golobby config Feeder interface.
func (f EnvFeeder) Feed(structure any) error {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w, got %T", ErrInvalidStructure, structure)
	}
	lookup := f.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return feedStruct(rv.Elem(), strings.ToUpper(f.Prefix), lookup)
}

func feedStruct(rv reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		tag, ok := sf.Tag.Lookup("env")
		if !ok || !sf.IsExported() {
			continue
		}
		name := joinEnv(prefix, strings.ToUpper(tag))
		field := rv.Field(i)

		if field.Kind() == reflect.Struct {
			if err := feedStruct(field, name, lookup); err != nil {
				return err
			}
			continue
		}

		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	converted, err := cast.FromType(value, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %v: %w", value, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}

func joinEnv(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
