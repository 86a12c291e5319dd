package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"mapgen/internal/logging"
	"mapgen/internal/tactile"
)

// TargetProfile selects the output flavor of a mapping artifact and with it
// the file extension and parser mode the structural parser uses.
type TargetProfile string

const (
	ProfileReact TargetProfile = "react"
	ProfileHTML  TargetProfile = "html"
)

// ErrUnknownProfile is returned for a profile outside the supported set.
var ErrUnknownProfile = errors.New("unknown target profile")

// ParseProfile validates a profile name.
func ParseProfile(name string) (TargetProfile, error) {
	p := TargetProfile(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case ProfileReact, ProfileHTML:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

// Extension returns the artifact file extension.
func (p TargetProfile) Extension() string {
	if p == ProfileHTML {
		return ".figma.ts"
	}
	return ".figma.tsx"
}

// Parser returns the parser name written into figma.config.json.
func (p TargetProfile) Parser() string {
	return string(p)
}

// StructuralConfig configures a StructuralValidator.
type StructuralConfig struct {
	Timeout        time.Duration
	MaxOutputBytes int64
	AllowedEnv     []string
	CacheSize      int // 0 disables the verdict cache
}

// DefaultStructuralConfig returns sensible defaults.
func DefaultStructuralConfig() StructuralConfig {
	return StructuralConfig{
		Timeout:        60 * time.Second,
		MaxOutputBytes: 1 << 20,
		CacheSize:      256,
	}
}

// StructuralValidator is the tier 2 validator. Each Run places the candidate
// alone in a fresh scratch directory, invokes "connect parse" there, and
// removes the directory before returning.
type StructuralValidator struct {
	resolver   ToolResolver
	executor   tactile.Executor
	classifier *ErrorClassifier
	config     StructuralConfig
	cache      *lru.Cache[string, ValidationResult]
	logger     *zap.Logger
}

// NewStructuralValidator creates a tier 2 validator. A nil executor uses a
// DirectExecutor configured from cfg.
func NewStructuralValidator(resolver ToolResolver, executor tactile.Executor, cfg StructuralConfig, logger *zap.Logger) (*StructuralValidator, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStructuralConfig().Timeout
	}
	if executor == nil {
		execCfg := tactile.DefaultExecutorConfig()
		execCfg.DefaultTimeout = cfg.Timeout
		if cfg.MaxOutputBytes > 0 {
			execCfg.MaxOutputBytes = cfg.MaxOutputBytes
		}
		if len(cfg.AllowedEnv) > 0 {
			execCfg.AllowedEnvironment = cfg.AllowedEnv
		}
		executor = tactile.NewDirectExecutorWithConfig(execCfg, logger)
	}

	sv := &StructuralValidator{
		resolver:   resolver,
		executor:   executor,
		classifier: NewErrorClassifier(),
		config:     cfg,
		logger:     logging.For(logger, logging.CategoryTier2),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, ValidationResult](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create verdict cache: %w", err)
		}
		sv.cache = cache
	}
	return sv, nil
}

// Run validates text with the external structural parser.
//
// An invalid candidate is reported through the result. The error return is
// reserved for failures that say nothing about the candidate: the parser
// cannot be resolved or started (ErrToolUnavailable), the scratch workspace
// cannot be created, the profile is unknown, or ctx ended while the parser ran.
func (sv *StructuralValidator) Run(ctx context.Context, text string, profile TargetProfile) (ValidationResult, error) {
	if _, err := ParseProfile(string(profile)); err != nil {
		return ValidationResult{}, err
	}

	key := cacheKey(profile, text)
	if sv.cache != nil {
		if v, ok := sv.cache.Get(key); ok {
			sv.logger.Debug("tier 2 verdict from cache", zap.Bool("valid", v.Valid))
			return v, nil
		}
	}

	tool, err := sv.resolver.Resolve(ctx)
	if err != nil {
		return ValidationResult{}, err
	}

	dir, err := os.MkdirTemp("", "mapgen-tier2-*")
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to create scratch workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			sv.logger.Warn("failed to remove scratch workspace", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	if err := writeWorkspace(dir, text, profile); err != nil {
		return ValidationResult{}, fmt.Errorf("failed to prepare scratch workspace: %w", err)
	}

	timer := logging.StartTimer(sv.logger, "connect parse")
	res, err := sv.executor.Execute(ctx, tactile.Command{
		Binary:           tool.Path,
		Arguments:        []string{"connect", "parse", "--exit-on-unreadable-files"},
		WorkingDirectory: dir,
		Timeout:          sv.config.Timeout,
	})
	timer.StopWithThreshold(sv.config.Timeout / 2)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to invoke structural parser: %w", err)
	}
	if res.IsError() {
		return ValidationResult{}, fmt.Errorf("%w: %s: %s", ErrToolUnavailable, tool.Path, res.Error)
	}
	if res.Killed && ctx.Err() != nil {
		return ValidationResult{}, fmt.Errorf("structural parser interrupted: %w", ctx.Err())
	}

	verdict := sv.classify(res)
	sv.logger.Debug("tier 2 verdict",
		zap.String("tool", tool.Path),
		zap.String("source", string(tool.Source)),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("killed", res.Killed),
		zap.Bool("valid", verdict.Valid),
		zap.Int("errors", len(verdict.Errors)))

	// A timeout says nothing stable about the candidate.
	if sv.cache != nil && !res.Killed {
		sv.cache.Add(key, verdict)
	}
	return verdict, nil
}

func (sv *StructuralValidator) classify(res *tactile.ExecutionResult) ValidationResult {
	output := res.Output()

	if res.Killed {
		return Fail(GenericError(-1, true, output))
	}
	if res.ExitCode == 0 && !sv.classifier.HasDiagnostic(output) {
		return Ok()
	}

	errs := sv.classifier.Classify(output)
	if len(errs) == 0 {
		errs = []string{GenericError(res.ExitCode, false, output)}
	}
	return Fail(errs...)
}

// codeConnectConfig is the minimal figma.config.json.
type codeConnectConfig struct {
	CodeConnect struct {
		Parser  string   `json:"parser"`
		Include []string `json:"include"`
	} `json:"codeConnect"`
}

func writeWorkspace(dir, text string, profile TargetProfile) error {
	file := "candidate" + profile.Extension()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(text), 0o644); err != nil {
		return err
	}

	var cfg codeConnectConfig
	cfg.CodeConnect.Parser = profile.Parser()
	cfg.CodeConnect.Include = []string{file}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "figma.config.json"), data, 0o644)
}

func cacheKey(profile TargetProfile, text string) string {
	h := sha256.New()
	h.Write([]byte(profile))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
