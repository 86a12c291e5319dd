package config

import "fmt"

// Generator providers.
const (
	ProviderGemini    = "gemini"
	ProviderClaudeCLI = "claude-cli"
)

// ValidProviders lists all supported generator providers.
var ValidProviders = []string{ProviderGemini, ProviderClaudeCLI}

// GeneratorConfig configures the artifact generator.
type GeneratorConfig struct {
	Provider string `yaml:"provider"` // gemini, claude-cli
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`

	ClaudeCLI ClaudeCLIConfig `yaml:"claude_cli"`
}

// ClaudeCLIConfig configures the Claude Code CLI subprocess generator.
type ClaudeCLIConfig struct {
	Binary string `yaml:"binary"`
	Model  string `yaml:"model"`
}

// Validate checks provider and credentials.
func (g GeneratorConfig) Validate() error {
	switch g.Provider {
	case ProviderGemini:
		if g.APIKey == "" {
			return fmt.Errorf("gemini API key not configured (set GEMINI_API_KEY)")
		}
	case ProviderClaudeCLI:
		if g.ClaudeCLI.Binary == "" {
			return fmt.Errorf("claude_cli.binary must be set")
		}
	default:
		return fmt.Errorf("invalid generator provider: %s (valid: %v)", g.Provider, ValidProviders)
	}
	return nil
}
