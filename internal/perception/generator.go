// Package perception adapts language-model backends to the feedback.Generator
// contract: one instruction in, one candidate text and its token usage out.
package perception

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mapgen/internal/config"
	"mapgen/internal/mapping/feedback"
)

// RateLimitError indicates the provider refused the call for rate limiting.
// Callers can use errors.As to detect it and back off.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (feedback.Generator, error) {
	if err := cfg.Generator.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.GetGeneratorTimeout()

	switch cfg.Generator.Provider {
	case config.ProviderGemini:
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			Timeout: timeout,
		}, logger)
	case config.ProviderClaudeCLI:
		model := cfg.Generator.ClaudeCLI.Model
		if cfg.Generator.Model != "" && !strings.HasPrefix(cfg.Generator.Model, "gemini") {
			model = cfg.Generator.Model
		}
		return NewClaudeCLIGenerator(ClaudeCLIConfig{
			Binary:  cfg.Generator.ClaudeCLI.Binary,
			Model:   model,
			Timeout: timeout,
		}, nil, logger), nil
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", cfg.Generator.Provider)
	}
}

// isRateLimitError checks if the error message indicates a rate limit.
func isRateLimitError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "429")
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
