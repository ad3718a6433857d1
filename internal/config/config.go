// Package config holds agentos runner configuration: filesystem layout,
// provider tunables, iteration caps, and env overrides. Configuration is
// loaded from ~/.agentos/config.json with per-field defaults; a missing
// file yields the defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all agentos configuration.
type Config struct {
	// Rotation configures the credential rotator.
	Rotation RotationConfig `json:"rotation"`

	// Providers configures the LLM provider layer.
	Providers ProvidersConfig `json:"providers"`

	// Workflows configures per-workflow iteration caps and gates.
	Workflows WorkflowsConfig `json:"workflows"`

	// Validation configures the mechanical validators.
	Validation ValidationConfig `json:"validation"`

	// Logging mirrors the logging package config (read there directly;
	// kept here so a single config file describes the whole runner).
	Logging LoggingConfig `json:"logging"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
	JSONFormat bool            `json:"json_format,omitempty"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Rotation:   DefaultRotationConfig(),
		Providers:  DefaultProvidersConfig(),
		Workflows:  DefaultWorkflowsConfig(),
		Validation: DefaultValidationConfig(),
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads ~/.agentos/config.json, applying defaults for absent fields.
// A missing file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	path := filepath.Join(Home(), "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Home returns the agentos home directory, ~/.agentos by default.
// Overridable via AGENTOS_HOME for tests and sandboxed runs.
func Home() string {
	if h := os.Getenv("AGENTOS_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentos"
	}
	return filepath.Join(home, ".agentos")
}
