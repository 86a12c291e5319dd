package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"mapgen/internal/config"
	"mapgen/internal/evidence"
	"mapgen/internal/mapping/feedback"
	"mapgen/internal/store"
)

func resolveWorkspace(ws string) (string, error) {
	if ws == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return cwd, nil
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("invalid workspace %s: %w", ws, err)
	}
	return abs, nil
}

// inWorkspace resolves a relative path against the workspace.
func inWorkspace(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// expandEvidence resolves evidence globs (doublestar syntax, relative to the
// workspace) into a sorted, de-duplicated file list.
func expandEvidence(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(inWorkspace(filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("bad evidence pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no evidence files match %v", patterns)
	}
	sort.Strings(files)
	return files, nil
}

// loadAllEvidence loads every component from every file.
func loadAllEvidence(files []string) ([]*evidence.Evidence, error) {
	var all []*evidence.Evidence
	for _, f := range files {
		evs, err := evidence.Load(f)
		if err != nil {
			return nil, err
		}
		all = append(all, evs...)
	}
	return all, nil
}

func loadOneEvidence(path, component string) (*evidence.Evidence, error) {
	evs, err := evidence.Load(inWorkspace(path))
	if err != nil {
		return nil, err
	}
	return evidence.Select(evs, component)
}

func resolveProfile(flag string) (feedback.TargetProfile, error) {
	if flag == "" {
		flag = cfg.Validation.Profile
	}
	return feedback.ParseProfile(flag)
}

// newStructuralChecker builds the tier 2 validator, or returns nil when tier 2
// is disabled.
func newStructuralChecker(c *config.Config) (feedback.StructuralChecker, error) {
	if !c.Validation.Tier2Enabled {
		return nil, nil
	}
	root := c.Execution.ProjectRoot
	if root == "" {
		root = workspace
	}
	sv, err := feedback.NewStructuralValidator(
		feedback.NewChainResolver(c.Execution.FigmaCLI, inWorkspace(root)),
		nil,
		feedback.StructuralConfig{
			Timeout:        c.GetParseTimeout(),
			MaxOutputBytes: c.Execution.MaxOutputBytes,
			AllowedEnv:     c.Execution.AllowedEnvVars,
			CacheSize:      c.Validation.Tier2CacheSize,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}
	return sv, nil
}

// openLedger opens the configured ledger, or returns nil when disabled.
func openLedger(c *config.Config) (*store.Ledger, error) {
	if !c.Store.Enabled {
		return nil, nil
	}
	path := c.Store.DatabasePath
	if path != ":memory:" {
		path = inWorkspace(path)
	}
	return store.Open(path, logger)
}

func closeLedger(l *store.Ledger) {
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		logger.Warn("failed to close ledger", zap.Error(err))
	}
}
