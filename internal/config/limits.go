package config

import "fmt"

// Limits bounds concurrency across components.
type Limits struct {
	Workers int `yaml:"workers" json:"workers"` // Max component loops in flight
}

// Validate checks that limits are within acceptable ranges.
func (l Limits) Validate() error {
	if l.Workers < 1 {
		return fmt.Errorf("limits.workers must be >= 1")
	}
	return nil
}

// ValidationConfig configures the generation-validation-repair loop.
type ValidationConfig struct {
	Retries        int    `yaml:"retries" json:"retries"`                   // Attempts beyond the first
	Profile        string `yaml:"profile" json:"profile"`                   // react, html
	Tier2Enabled   bool   `yaml:"tier2_enabled" json:"tier2_enabled"`       // Run the external parser
	Tier2CacheSize int    `yaml:"tier2_cache_size" json:"tier2_cache_size"` // 0 disables verdict caching
}

// Validate checks loop settings.
func (v ValidationConfig) Validate() error {
	if v.Retries < 0 {
		return fmt.Errorf("validation.retries must be >= 0")
	}
	switch v.Profile {
	case "react", "html":
	default:
		return fmt.Errorf("invalid validation.profile: %q (valid: react, html)", v.Profile)
	}
	return nil
}
