// Package config provides configuration loading and management for the
// semcatalog CLI.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/semcatalog/document"
	"gopkg.in/yaml.v3"
)

// Config represents the complete semcatalog CLI configuration
type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Explode ExplodeConfig `yaml:"explode"`
	Watch   WatchConfig   `yaml:"watch"`
	Log     LogConfig     `yaml:"log"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL; NATS_URL in the environment wins over it
	URL string `yaml:"url"`
}

// ExplodeConfig configures offline document explosion
type ExplodeConfig struct {
	// Inputs are file paths or doublestar globs of document files
	Inputs []string `yaml:"inputs"`
	// OutputDir receives one NDJSON file per input (empty = stdout)
	OutputDir string `yaml:"output_dir"`
	// OnInvalid is the invalid-document policy: reject, passthrough or fail
	OnInvalid string `yaml:"on_invalid"`
}

// WatchConfig configures directory watching for the explode command
type WatchConfig struct {
	// Enabled keeps the explode command running and re-processing changes
	Enabled bool `yaml:"enabled"`
	// Dir is the directory to watch
	Dir string `yaml:"dir"`
	// Debounce is how long to collect changes before processing them
	Debounce time.Duration `yaml:"debounce"`
	// Extensions lists document file extensions to react to
	Extensions []string `yaml:"extensions"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Explode: ExplodeConfig{
			Inputs:    nil, // stdin
			OutputDir: "",
			OnInvalid: string(document.PolicyReject),
		},
		Watch: WatchConfig{
			Enabled:    false,
			Dir:        "",
			Debounce:   500 * time.Millisecond,
			Extensions: []string{".json", ".ndjson"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, err := document.ParseInvalidPolicy(c.Explode.OnInvalid); err != nil {
		return fmt.Errorf("explode.on_invalid: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if c.Watch.Enabled && c.Watch.Dir == "" {
		return fmt.Errorf("watch.dir is required when watch.enabled is set")
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level. The empty string is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q (valid: debug, info, warn, error)", level)
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Explode
	if len(other.Explode.Inputs) > 0 {
		c.Explode.Inputs = other.Explode.Inputs
	}
	if other.Explode.OutputDir != "" {
		c.Explode.OutputDir = other.Explode.OutputDir
	}
	if other.Explode.OnInvalid != "" {
		c.Explode.OnInvalid = other.Explode.OnInvalid
	}

	// Watch
	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
	if other.Watch.Dir != "" {
		c.Watch.Dir = other.Watch.Dir
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
