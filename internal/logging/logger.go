// Package logging builds the zap loggers used across mapgen.
//
// Components never create loggers themselves: they receive a *zap.Logger (or
// fall back to zap.NewNop) and narrow it with For to one of the categories
// below, so each log line carries a stable "logger" field that can be filtered.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem in log output.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config resolution
	CategoryEvidence  Category = "evidence"  // Evidence loading and normalization
	CategoryTier1     Category = "tier1"     // Key-set validation
	CategoryTier2     Category = "tier2"     // External structural parser
	CategoryLoop      Category = "loop"      // Generation-validation-repair loop
	CategoryGenerator Category = "generator" // Generator adapters
	CategoryBatch     Category = "batch"     // Multi-component runs
	CategoryStore     Category = "store"     // Attempt ledger
	CategoryTactile   Category = "tactile"   // Subprocess execution
	CategoryMCP       Category = "mcp"       // MCP tool surface
)

// Options mirrors config.LoggingConfig so this package does not import config.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional file sink, in addition to stderr
	Categories map[string]bool // per-category toggles, all enabled when nil
}

var (
	disabledMu sync.RWMutex
	disabled   = map[Category]bool{}
)

// New builds the root logger. Verbose forces debug level regardless of Options.Level.
func New(opts Options, verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	setDisabled(opts.Categories)
	return logger, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func setDisabled(categories map[string]bool) {
	disabledMu.Lock()
	defer disabledMu.Unlock()
	disabled = map[Category]bool{}
	for name, enabled := range categories {
		if !enabled {
			disabled[Category(name)] = true
		}
	}
}

// IsCategoryEnabled reports whether a category has not been switched off.
func IsCategoryEnabled(category Category) bool {
	disabledMu.RLock()
	defer disabledMu.RUnlock()
	return !disabled[category]
}

// For narrows base to a category. A nil base or a disabled category yields a no-op logger.
func For(base *zap.Logger, category Category) *zap.Logger {
	if base == nil || !IsCategoryEnabled(category) {
		return zap.NewNop()
	}
	return base.Named(string(category))
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation.
func StartTimer(logger *zap.Logger, operation string) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{logger: logger, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning when the operation took longer than threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" slow", zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
		return elapsed
	}
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}
