// Package config provides configuration loading and management for Lisa.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Lisa configuration
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	NATS       NATSConfig       `yaml:"nats"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ModelConfig configures the model registry and call behavior
type ModelConfig struct {
	// RegistryFile is an optional model registry YAML overriding the
	// built-in capability defaults
	RegistryFile string `yaml:"registry_file"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = NATS features disabled)
	URL string `yaml:"url"`
}

// CheckpointConfig configures conversation state persistence
type CheckpointConfig struct {
	// Backend is "memory" or "nats"
	Backend string `yaml:"backend"`
	// Bucket is the JetStream KV bucket for the nats backend
	Bucket string `yaml:"bucket"`
	// TTL is how long idle threads are retained
	TTL time.Duration `yaml:"ttl"`
	// MaxThreads bounds the memory backend
	MaxThreads int `yaml:"max_threads"`
}

// WorkflowConfig configures the workflow catalogue
type WorkflowConfig struct {
	// OverlayDir holds YAML overlays refining the built-in workflows
	OverlayDir string `yaml:"overlay_dir"`
	// Watch reloads overlays on file changes
	Watch bool `yaml:"watch"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the metrics listen address (empty = disabled)
	Listen string `yaml:"listen"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		NATS: NATSConfig{
			URL: "",
		},
		Checkpoint: CheckpointConfig{
			Backend:    "memory",
			TTL:        24 * time.Hour,
			MaxThreads: 4096,
		},
		Workflow: WorkflowConfig{
			OverlayDir: "",
			Watch:      false,
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	switch c.Checkpoint.Backend {
	case "memory":
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("checkpoint.backend nats requires nats.url")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be memory or nats, got %q", c.Checkpoint.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
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

	// Model
	if other.Model.RegistryFile != "" {
		c.Model.RegistryFile = other.Model.RegistryFile
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Checkpoint
	if other.Checkpoint.Backend != "" {
		c.Checkpoint.Backend = other.Checkpoint.Backend
	}
	if other.Checkpoint.Bucket != "" {
		c.Checkpoint.Bucket = other.Checkpoint.Bucket
	}
	if other.Checkpoint.TTL != 0 {
		c.Checkpoint.TTL = other.Checkpoint.TTL
	}
	if other.Checkpoint.MaxThreads != 0 {
		c.Checkpoint.MaxThreads = other.Checkpoint.MaxThreads
	}

	// Workflow
	if other.Workflow.OverlayDir != "" {
		c.Workflow.OverlayDir = other.Workflow.OverlayDir
	}
	if other.Workflow.Watch {
		c.Workflow.Watch = true
	}

	// Metrics
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
