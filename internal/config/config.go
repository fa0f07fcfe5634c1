// Package config loads and validates the engine's runtime configuration
// from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the cascade engine.
type Config struct {
	Engine     EngineConfig     `yaml:"engine" validate:"required"`
	Validation ValidationConfig `yaml:"validation"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// EngineConfig controls the executor.
type EngineConfig struct {
	// MaxParallel bounds the number of nodes executing concurrently within
	// a level.
	MaxParallel int `yaml:"max_parallel" validate:"min=1,max=100"`
	// DefaultNodeTimeout applies to nodes that declare no timeout. Zero
	// disables the default.
	DefaultNodeTimeout Duration `yaml:"default_node_timeout"`
}

// ValidationConfig controls pre-flight workflow validation.
type ValidationConfig struct {
	Depth    string   `yaml:"depth" validate:"omitempty,oneof=minimal standard strict"`
	MaxNodes int      `yaml:"max_nodes" validate:"min=0"`
	MaxEdges int      `yaml:"max_edges" validate:"min=0"`
	Budget   Duration `yaml:"budget"`
}

// HistoryConfig controls run persistence.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string `yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure bool   `yaml:"insecure"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxParallel:        10,
			DefaultNodeTimeout: Duration(5 * time.Minute),
		},
		Validation: ValidationConfig{
			Depth: "standard",
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "cascade.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "cascade",
		},
	}
}

// Load reads a YAML config file, layered over the defaults, and validates
// the result. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its declared constraints.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
