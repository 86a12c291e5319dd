package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mapgen/internal/logging"
	"mapgen/internal/mapping/feedback"
	"mapgen/internal/tactile"
)

// ClaudeCLIConfig configures a ClaudeCLIGenerator.
type ClaudeCLIConfig struct {
	Binary  string
	Model   string
	Timeout time.Duration
}

// ClaudeCLIGenerator runs `claude -p --output-format json --model <model>`
// with the instruction on stdin and parses the JSON result.
type ClaudeCLIGenerator struct {
	config   ClaudeCLIConfig
	executor tactile.Executor
	logger   *zap.Logger
}

// claudeCLIResponse is the JSON printed by `claude --output-format json`.
// Result is a plain string in current releases; older ones nested content blocks.
type claudeCLIResponse struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	IsError bool            `json:"is_error"`
	Result  json.RawMessage `json:"result"`
	Usage   *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	IsRateLimited bool `json:"is_rate_limited,omitempty"`
}

// NewClaudeCLIGenerator creates a CLI-backed generator. A nil executor runs the
// binary directly on the host.
func NewClaudeCLIGenerator(cfg ClaudeCLIConfig, executor tactile.Executor, logger *zap.Logger) *ClaudeCLIGenerator {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Model == "" {
		cfg.Model = "sonnet"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if executor == nil {
		execCfg := tactile.DefaultExecutorConfig()
		execCfg.DefaultTimeout = cfg.Timeout
		execCfg.MaxTimeout = cfg.Timeout
		execCfg.AllowedEnvironment = append(execCfg.AllowedEnvironment, "ANTHROPIC_API_KEY", "CLAUDE_CONFIG_DIR")
		executor = tactile.NewDirectExecutorWithConfig(execCfg, logger)
	}
	return &ClaudeCLIGenerator{
		config:   cfg,
		executor: executor,
		logger:   logging.For(logger, logging.CategoryGenerator).With(zap.String("provider", "claude-cli")),
	}
}

// Generate sends one instruction to the CLI.
func (c *ClaudeCLIGenerator) Generate(ctx context.Context, instruction string) (feedback.Completion, error) {
	res, err := c.executor.Execute(ctx, tactile.Command{
		Binary:    c.config.Binary,
		Arguments: []string{"-p", "--output-format", "json", "--model", c.config.Model},
		Stdin:     instruction,
		Timeout:   c.config.Timeout,
	})
	if err != nil {
		return feedback.Completion{}, fmt.Errorf("claude CLI: %w", err)
	}
	if res.IsError() {
		return feedback.Completion{}, fmt.Errorf("claude CLI could not start: %s", res.Error)
	}
	if res.Killed {
		return feedback.Completion{}, fmt.Errorf("claude CLI %s", res.KillReason)
	}
	if res.ExitCode != 0 {
		if isRateLimitError(res.Stderr) || isRateLimitError(res.Stdout) {
			return feedback.Completion{}, &RateLimitError{Provider: "claude-cli", RawResponse: res.Output()}
		}
		// Error results are still printed as JSON on stdout.
		if _, perr := parseClaudeResponse([]byte(res.Stdout)); perr != nil && strings.TrimSpace(res.Stdout) != "" {
			return feedback.Completion{}, perr
		}
		return feedback.Completion{}, fmt.Errorf("claude CLI exited with code %d (stderr: %s)", res.ExitCode, truncateString(strings.TrimSpace(res.Stderr), 500))
	}

	completion, err := parseClaudeResponse([]byte(res.Stdout))
	if err != nil {
		return feedback.Completion{}, err
	}
	c.logger.Debug("claude completion",
		zap.String("model", c.config.Model),
		zap.Int("chars", len(completion.Text)),
		zap.Duration("duration", res.Duration))
	return completion, nil
}

// parseClaudeResponse extracts the assistant text and usage.
func parseClaudeResponse(data []byte) (feedback.Completion, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return feedback.Completion{}, errors.New("empty response from claude CLI")
	}

	var resp claudeCLIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return feedback.Completion{}, fmt.Errorf("failed to unmarshal claude CLI response: %w (raw: %s)", err, truncateString(string(data), 500))
	}

	if resp.IsRateLimited {
		return feedback.Completion{}, &RateLimitError{Provider: "claude-cli", RawResponse: string(data)}
	}
	if resp.Error != nil {
		if isRateLimitError(resp.Error.Message) || isRateLimitError(resp.Error.Type) {
			return feedback.Completion{}, &RateLimitError{Provider: "claude-cli", RawResponse: resp.Error.Message}
		}
		return feedback.Completion{}, fmt.Errorf("claude CLI error: %s (type: %s)", resp.Error.Message, resp.Error.Type)
	}

	text := resultText(resp.Result)
	if resp.IsError {
		if isRateLimitError(text) {
			return feedback.Completion{}, &RateLimitError{Provider: "claude-cli", RawResponse: text}
		}
		return feedback.Completion{}, fmt.Errorf("claude CLI error result (%s): %s", resp.Subtype, truncateString(text, 500))
	}
	if text == "" {
		return feedback.Completion{}, errors.New("no text content in claude CLI response")
	}

	var usage *feedback.Usage
	if resp.Usage != nil {
		usage = &feedback.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	}
	return feedback.Completion{Text: text, Usage: usage}, nil
}

func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range blocks.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
