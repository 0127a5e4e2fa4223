package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	golobby "github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}

// Load builds a HostConfig from Default, the file at path and the environment, then
// validates it. An empty path skips the file.
func Load(path string) (HostConfig, error) {
	cfg := Default()

	feeders := make([]golobby.Feeder, 0, 2)
	if path != "" {
		f, err := fileFeeder(path)
		if err != nil {
			return HostConfig{}, err
		}
		feeders = append(feeders, f)
	}
	feeders = append(feeders, NewEnvFeeder(EnvPrefix))

	if err := golobby.New().AddFeeder(feeders...).AddStruct(&cfg).Feed(); err != nil {
		return HostConfig{}, fmt.Errorf("load config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

func fileFeeder(path string) (golobby.Feeder, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if format == FormatTOML {
		return feeder.Toml{Path: path}, nil
	}
	return feeder.Yaml{Path: path}, nil
}

// Write encodes cfg to w in the given format.
func Write(w io.Writer, cfg HostConfig, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
