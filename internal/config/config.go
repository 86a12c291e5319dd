// Package config loads mapgen configuration from .mapgen/config.yaml, applying
// defaults for anything left unset and environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file location relative to the workspace.
const DefaultPath = ".mapgen/config.yaml"

// Config holds all mapgen configuration.
type Config struct {
	// Generator configuration
	Generator GeneratorConfig `yaml:"generator"`

	// Validation loop configuration
	Validation ValidationConfig `yaml:"validation"`

	// External structural parser
	Execution ExecutionConfig `yaml:"execution"`

	// Concurrency across components
	Limits Limits `yaml:"limits"`

	// Attempt ledger
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite attempt ledger.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Generator: GeneratorConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
			ClaudeCLI: ClaudeCLIConfig{
				Binary: "claude",
				Model:  "sonnet",
			},
		},

		Validation: ValidationConfig{
			Retries:        3,
			Profile:        "react",
			Tier2Enabled:   true,
			Tier2CacheSize: 256,
		},

		Execution: ExecutionConfig{
			ParseTimeout:   "60s",
			MaxOutputBytes: 1 << 20,
			AllowedEnvVars: []string{"PATH", "HOME", "NODE_PATH", "NODE_OPTIONS", "FIGMA_ACCESS_TOKEN", "TMPDIR"},
		},

		Limits: Limits{
			Workers: 4,
		},

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: ".mapgen/ledger.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// A .env file in the working directory, if present, is loaded before
// environment overrides are applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// .env is optional; variables already set in the environment win
	_ = godotenv.Load()

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Generator.APIKey = key
		if c.Generator.Provider == "" {
			c.Generator.Provider = ProviderGemini
		}
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.Generator.APIKey == "" {
		c.Generator.APIKey = key
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" && c.Generator.APIKey == "" {
		// the claude CLI reads the key itself
		c.Generator.Provider = ProviderClaudeCLI
	}
	if provider := os.Getenv("MAPGEN_PROVIDER"); provider != "" {
		c.Generator.Provider = provider
	}
	if model := os.Getenv("MAPGEN_MODEL"); model != "" {
		c.Generator.Model = model
	}

	if path := os.Getenv("MAPGEN_FIGMA_CLI"); path != "" {
		c.Execution.FigmaCLI = path
	}
	if path := os.Getenv("MAPGEN_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if n := os.Getenv("MAPGEN_WORKERS"); n != "" {
		if workers, err := strconv.Atoi(n); err == nil && workers > 0 {
			c.Limits.Workers = workers
		}
	}
}

// GetGeneratorTimeout returns the per-call generator timeout.
func (c *Config) GetGeneratorTimeout() time.Duration {
	d, err := time.ParseDuration(c.Generator.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// GetParseTimeout returns the hard timeout for one external parser invocation.
func (c *Config) GetParseTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.ParseTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Generator.Validate(); err != nil {
		return err
	}
	if err := c.Validation.Validate(); err != nil {
		return err
	}
	return c.Limits.Validate()
}
