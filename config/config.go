package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Validatable is an optional interface that config structs can implement
// to validate themselves before being swapped in.
type Validatable interface {
	Validate() error
}

// LoadTOML loads a TOML config file into a struct of type T.
// If the file does not exist, it returns the provided defaults.
func LoadTOML[T any](path string, defaults *T) (*T, error) {
	return load(path, defaults, toml.Unmarshal)
}

// LoadYAML loads a YAML config file into a struct of type T.
// If the file does not exist, it returns the provided defaults.
func LoadYAML[T any](path string, defaults *T) (*T, error) {
	return load(path, defaults, yaml.Unmarshal)
}

// Load picks the decoder from the file extension: .yaml and .yml are YAML,
// anything else is TOML.
func Load[T any](path string, defaults *T) (*T, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, defaults)
	default:
		return LoadTOML(path, defaults)
	}
}

func load[T any](path string, defaults *T, unmarshal func([]byte, any) error) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := new(T)
	if defaults != nil {
		*cfg = *defaults
	}

	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if v, ok := any(cfg).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating config %s: %w", path, err)
		}
	}

	return cfg, nil
}
