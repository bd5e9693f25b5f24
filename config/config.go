// Package config provides configuration loading and management for enscope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete enscope configuration
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Catalog CatalogConfig `yaml:"catalog"`
	NATS    NATSConfig    `yaml:"nats"`
	Engine  EngineConfig  `yaml:"engine"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// ModelConfig configures the LLM endpoint used for field extraction
// and follow-up phrasing
type ModelConfig struct {
	// Provider selects the wire protocol ("ollama", "openai", "anthropic")
	Provider string `yaml:"provider"`
	// Name is the model to use (e.g., "qwen2.5-coder:32b")
	Name string `yaml:"name"`
	// Endpoint is the API endpoint (default: http://localhost:11434/v1)
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.1)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for a single extraction or
	// phrasing call
	Timeout time.Duration `yaml:"timeout"`
}

// CatalogConfig configures where question definitions are loaded from
type CatalogConfig struct {
	// Patterns are doublestar globs of YAML catalog files
	// (empty = built-in ENS catalog)
	Patterns []string `yaml:"patterns"`
	// Watch enables the on-disk drift watcher
	Watch bool `yaml:"watch"`
}

// NATSConfig configures the NATS connection backing the stores
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
}

// EngineConfig configures the assessment engine policy knobs
type EngineConfig struct {
	// ConfidenceThreshold is the minimum extraction confidence for a
	// field to count as satisfied (default: 0.7)
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// ConfirmationMargin triggers a confirmation prompt when every
	// field confidence sits within this margin above the threshold
	// (default: 0.05)
	ConfirmationMargin float64 `yaml:"confirmation_margin"`
	// WindowTurns is how many recent turns are sent to extraction
	// (default: 6)
	WindowTurns int `yaml:"window_turns"`
	// MaxExtractionFailures is how many consecutive extraction
	// failures are tolerated before degraded mode (default: 3)
	MaxExtractionFailures int `yaml:"max_extraction_failures"`
}

// HTTPConfig configures the HTTP API server
type HTTPConfig struct {
	// Addr is the listen address (default: ":8380")
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "ollama",
			Name:        "qwen2.5-coder:32b",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.1,
			Timeout:     10 * time.Second,
		},
		Catalog: CatalogConfig{
			Patterns: nil, // Built-in catalog
			Watch:    false,
		},
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
		Engine: EngineConfig{
			ConfidenceThreshold:   0.7,
			ConfirmationMargin:    0.05,
			WindowTurns:           6,
			MaxExtractionFailures: 3,
		},
		HTTP: HTTPConfig{
			Addr: ":8380",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Engine.ConfidenceThreshold <= 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold must be in (0, 1]")
	}
	if c.Engine.ConfirmationMargin < 0 || c.Engine.ConfirmationMargin >= c.Engine.ConfidenceThreshold {
		return fmt.Errorf("engine.confirmation_margin must be in [0, confidence_threshold)")
	}
	if c.Engine.WindowTurns <= 0 {
		return fmt.Errorf("engine.window_turns must be positive")
	}
	if c.Engine.MaxExtractionFailures <= 0 {
		return fmt.Errorf("engine.max_extraction_failures must be positive")
	}
	return nil
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

	// Model
	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Name != "" {
		c.Model.Name = other.Model.Name
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Catalog
	if len(other.Catalog.Patterns) > 0 {
		c.Catalog.Patterns = other.Catalog.Patterns
	}
	if other.Catalog.Watch {
		c.Catalog.Watch = true
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Engine
	if other.Engine.ConfidenceThreshold != 0 {
		c.Engine.ConfidenceThreshold = other.Engine.ConfidenceThreshold
	}
	if other.Engine.ConfirmationMargin != 0 {
		c.Engine.ConfirmationMargin = other.Engine.ConfirmationMargin
	}
	if other.Engine.WindowTurns != 0 {
		c.Engine.WindowTurns = other.Engine.WindowTurns
	}
	if other.Engine.MaxExtractionFailures != 0 {
		c.Engine.MaxExtractionFailures = other.Engine.MaxExtractionFailures
	}

	// HTTP
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
}
