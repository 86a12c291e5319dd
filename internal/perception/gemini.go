package perception

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"mapgen/internal/logging"
	"mapgen/internal/mapping/feedback"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures a GeminiGenerator.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
	// SystemInstruction is sent with every call.
	SystemInstruction string
}

// contentGenerator is the part of *genai.Models the generator uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator produces candidates with the Gemini API.
type GeminiGenerator struct {
	models contentGenerator
	config GeminiConfig
	logger *zap.Logger
}

const defaultSystemInstruction = "You write Figma Code Connect mapping files. " +
	"Reply with the file contents only, using only the property and layer names you are given."

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiGenerator(client.Models, cfg, logger), nil
}

func newGeminiGenerator(models contentGenerator, cfg GeminiConfig, logger *zap.Logger) *GeminiGenerator {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = defaultSystemInstruction
	}
	return &GeminiGenerator{
		models: models,
		config: cfg,
		logger: logging.For(logger, logging.CategoryGenerator).With(zap.String("provider", "gemini")),
	}
}

// Model returns the model name in use.
func (g *GeminiGenerator) Model() string {
	return g.config.Model
}

// Generate sends one instruction and returns the response text.
func (g *GeminiGenerator) Generate(ctx context.Context, instruction string) (feedback.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.config.Temperature),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: g.config.SystemInstruction}},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(instruction, genai.RoleUser)}

	timer := logging.StartTimer(g.logger, "GenerateContent")
	resp, err := g.models.GenerateContent(ctx, g.config.Model, contents, cfg)
	timer.Stop()
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == 429 {
			return feedback.Completion{}, &RateLimitError{Provider: "gemini", RawResponse: apiErr.Message}
		}
		if isRateLimitError(err.Error()) {
			return feedback.Completion{}, &RateLimitError{Provider: "gemini", RawResponse: err.Error()}
		}
		return feedback.Completion{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return feedback.Completion{}, errors.New("gemini returned no response")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		reason := "no candidates"
		if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
			reason = string(resp.Candidates[0].FinishReason)
		}
		return feedback.Completion{}, fmt.Errorf("gemini returned empty text (%s)", reason)
	}

	var usage *feedback.Usage
	if md := resp.UsageMetadata; md != nil {
		usage = &feedback.Usage{
			InputTokens:  int(md.PromptTokenCount),
			OutputTokens: int(md.CandidatesTokenCount),
		}
	}
	g.logger.Debug("gemini completion",
		zap.String("model", g.config.Model),
		zap.Int("chars", len(text)),
		zap.Int("tokens", usage.Total()))
	return feedback.Completion{Text: text, Usage: usage}, nil
}
