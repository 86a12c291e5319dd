package perception

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"mapgen/internal/config"
	"mapgen/internal/tactile"
)

type fakeModels struct {
	resp      *genai.GenerateContentResponse
	err       error
	gotModel  string
	gotPrompt string
	gotConfig *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotConfig = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.gotPrompt = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func textResponse(text string, in, out int32) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}, Role: "model"},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     in,
			CandidatesTokenCount: out,
		},
	}
}

func TestGeminiGenerator_Generate(t *testing.T) {
	models := &fakeModels{resp: textResponse("figma.connect(Button, {})", 120, 40)}
	g := newGeminiGenerator(models, GeminiConfig{}, nil)

	got, err := g.Generate(context.Background(), "map Button")
	require.NoError(t, err)
	assert.Equal(t, "figma.connect(Button, {})", got.Text)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 120, got.Usage.InputTokens)
	assert.Equal(t, 40, got.Usage.OutputTokens)
	assert.Equal(t, DefaultGeminiModel, models.gotModel)
	assert.Equal(t, "map Button", models.gotPrompt)
	require.NotNil(t, models.gotConfig.SystemInstruction)
}

func TestGeminiGenerator_Errors(t *testing.T) {
	tests := []struct {
		name      string
		models    *fakeModels
		rateLimit bool
		contains  string
	}{
		{
			name:      "api 429",
			models:    &fakeModels{err: genai.APIError{Code: 429, Message: "quota"}},
			rateLimit: true,
		},
		{
			name:      "resource exhausted text",
			models:    &fakeModels{err: errors.New("RESOURCE_EXHAUSTED: slow down")},
			rateLimit: true,
		},
		{
			name:     "other api error",
			models:   &fakeModels{err: genai.APIError{Code: 500, Message: "boom"}},
			contains: "gemini generate",
		},
		{
			name:     "empty text",
			models:   &fakeModels{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}},
			contains: "empty text",
		},
		{
			name:     "nil response",
			models:   &fakeModels{},
			contains: "no response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGeminiGenerator(tt.models, GeminiConfig{Model: "gemini-test"}, nil)
			_, err := g.Generate(context.Background(), "x")
			require.Error(t, err)
			var rl *RateLimitError
			assert.Equal(t, tt.rateLimit, errors.As(err, &rl))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

type scriptedExecutor struct {
	result *tactile.ExecutionResult
	err    error
	got    tactile.Command
}

func (s *scriptedExecutor) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	s.got = cmd
	return s.result, s.err
}

func TestClaudeCLIGenerator_Generate(t *testing.T) {
	exec := &scriptedExecutor{result: &tactile.ExecutionResult{
		Success: true,
		Stdout:  `{"type":"result","subtype":"success","is_error":false,"result":"figma.connect(Card, {})","usage":{"input_tokens":50,"output_tokens":9}}`,
	}}
	g := NewClaudeCLIGenerator(ClaudeCLIConfig{Model: "opus", Timeout: time.Minute}, exec, nil)

	got, err := g.Generate(context.Background(), "map Card")
	require.NoError(t, err)
	assert.Equal(t, "figma.connect(Card, {})", got.Text)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 59, got.Usage.Total())

	assert.Equal(t, "claude", exec.got.Binary)
	assert.Equal(t, []string{"-p", "--output-format", "json", "--model", "opus"}, exec.got.Arguments)
	assert.Equal(t, "map Card", exec.got.Stdin)
	assert.Equal(t, time.Minute, exec.got.Timeout)
}

func TestClaudeCLIGenerator_Failures(t *testing.T) {
	tests := []struct {
		name      string
		result    *tactile.ExecutionResult
		err       error
		rateLimit bool
		contains  string
	}{
		{
			name:     "executor error",
			err:      errors.New("sandbox refused"),
			contains: "sandbox refused",
		},
		{
			name:     "binary missing",
			result:   &tactile.ExecutionResult{Success: false, ExitCode: -1, Error: "exec: \"claude\": executable file not found"},
			contains: "could not start",
		},
		{
			name:     "timeout",
			result:   &tactile.ExecutionResult{Success: true, ExitCode: -1, Killed: true, KillReason: "timeout after 5m0s"},
			contains: "timeout",
		},
		{
			name:      "rate limited on stderr",
			result:    &tactile.ExecutionResult{Success: true, ExitCode: 1, Stderr: "Error: 429 Too Many Requests"},
			rateLimit: true,
		},
		{
			name:     "error result json",
			result:   &tactile.ExecutionResult{Success: true, ExitCode: 1, Stdout: `{"type":"result","subtype":"error_during_execution","is_error":true,"result":"model overloaded"}`},
			contains: "model overloaded",
		},
		{
			name:      "flagged rate limit",
			result:    &tactile.ExecutionResult{Success: true, Stdout: `{"is_rate_limited":true}`},
			rateLimit: true,
		},
		{
			name:     "malformed json",
			result:   &tactile.ExecutionResult{Success: true, Stdout: `not json`},
			contains: "unmarshal",
		},
		{
			name:     "plain nonzero exit",
			result:   &tactile.ExecutionResult{Success: true, ExitCode: 2, Stderr: "unknown flag"},
			contains: "exited with code 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewClaudeCLIGenerator(ClaudeCLIConfig{}, &scriptedExecutor{result: tt.result, err: tt.err}, nil)
			_, err := g.Generate(context.Background(), "x")
			require.Error(t, err)
			var rl *RateLimitError
			assert.Equal(t, tt.rateLimit, errors.As(err, &rl), err.Error())
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestParseClaudeResponse_ContentBlocks(t *testing.T) {
	got, err := parseClaudeResponse([]byte(`{"result":{"content":[{"type":"text","text":"a"},{"type":"tool_use"},{"type":"text","text":"b"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "ab", got.Text)
	assert.Nil(t, got.Usage)

	_, err = parseClaudeResponse([]byte(`{"result":""}`))
	assert.ErrorContains(t, err, "no text content")
}

func TestNewGenerator(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Generator.Provider = config.ProviderClaudeCLI
	cfg.Generator.ClaudeCLI.Binary = "claude"
	g, err := NewGenerator(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &ClaudeCLIGenerator{}, g)

	cfg.Generator.Provider = config.ProviderGemini
	cfg.Generator.APIKey = ""
	_, err = NewGenerator(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "GEMINI_API_KEY")

	cfg.Generator.Provider = "openai"
	_, err = NewGenerator(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRateLimitError(t *testing.T) {
	assert.Equal(t, "gemini rate limit exceeded", (&RateLimitError{Provider: "gemini"}).Error())
	assert.Contains(t, (&RateLimitError{Provider: "x", RetryAfter: time.Second}).Error(), "retry after 1s")
	assert.Equal(t, "abcd...", truncateString("abcdefghij", 7))
	assert.Equal(t, "abc", truncateString("abc", 7))
}
