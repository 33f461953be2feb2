package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings configures the callkit gateway binary.
type Settings struct {
	// Addr is the HTTP listen address.
	Addr string `toml:"addr" yaml:"addr"`
	// Project is the Cloud project used for log trace fields.
	Project string `toml:"project" yaml:"project"`
	// Database is the SQLite file backing the document store.
	Database string `toml:"database" yaml:"database"`
	// Bucket is the default storage bucket.
	Bucket string `toml:"bucket" yaml:"bucket"`
	// StorageEmulatorHost switches download URLs to a local emulator.
	StorageEmulatorHost string `toml:"storage_emulator_host" yaml:"storage_emulator_host"`
	// CORSOrigins lists allowed origins; "*" allows all.
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	// TrustProxy takes client addresses from X-Forwarded-For.
	TrustProxy bool `toml:"trust_proxy" yaml:"trust_proxy"`
	// LogLevel is a Cloud Logging severity name.
	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() Settings {
	return Settings{
		Addr:        ":8080",
		Database:    "callkit.db",
		Bucket:      "default",
		CORSOrigins: []string{"*"},
		LogLevel:    "INFO",
	}
}

// Validate implements Validatable.
func (s *Settings) Validate() error {
	var errs []error
	if s.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if s.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if s.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	return errors.Join(errs...)
}

// ApplyEnv overlays the environment variables the Cloud runtimes set:
// GOOGLE_CLOUD_PROJECT, FIREBASE_STORAGE_EMULATOR_HOST and PORT.
func (s *Settings) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		s.Project = v
	}
	if v := getenv("FIREBASE_STORAGE_EMULATOR_HOST"); v != "" {
		s.StorageEmulatorHost = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		s.Addr = ":" + strconv.Itoa(port)
	}
	return nil
}

// LoadSettings reads the settings file at path (defaults when it does not
// exist) and applies the environment overlay.
func LoadSettings(path string, getenv func(string) string) (*Settings, error) {
	defaults := DefaultSettings()
	s := &defaults
	if path != "" {
		loaded, err := Load(path, &defaults)
		if err != nil {
			return nil, err
		}
		cp := *loaded
		s = &cp
	}
	if err := s.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}
	return s, nil
}
