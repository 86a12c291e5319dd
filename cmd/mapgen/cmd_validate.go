package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mapgen/internal/mapping/feedback"
)

var (
	valEvidence  string
	valComponent string
	valArtifact  string
	valProfile   string
	valTier1Only bool
	valWatch     bool
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an existing mapping file against component evidence",
	Long: `Runs tier 1 (key-set check) and, unless --tier1-only is given, tier 2
(figma connect parse) against a mapping file. With --watch the check re-runs
whenever the mapping or the evidence file changes.

Example:
  mapgen validate --evidence design/button.yaml --artifact src/Button.figma.tsx`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&valEvidence, "evidence", "e", "", "Evidence file")
	validateCmd.Flags().StringVar(&valComponent, "name", "", "Component name or ID when the evidence holds several")
	validateCmd.Flags().StringVarP(&valArtifact, "artifact", "a", "", "Mapping file to check")
	validateCmd.Flags().StringVar(&valProfile, "profile", "", "Target profile: react or html (default from config)")
	validateCmd.Flags().BoolVar(&valTier1Only, "tier1-only", false, "Skip the structural parser")
	validateCmd.Flags().BoolVar(&valWatch, "watch", false, "Re-run on file changes")
	_ = validateCmd.MarkFlagRequired("evidence")
	_ = validateCmd.MarkFlagRequired("artifact")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	profile, err := resolveProfile(valProfile)
	if err != nil {
		return err
	}
	var structural feedback.StructuralChecker
	if !valTier1Only {
		if structural, err = newStructuralChecker(cfg); err != nil {
			return err
		}
	}
	loop := feedback.NewLoop(profile, structural, logger)

	check := func() (bool, error) {
		return validateOnce(ctx, cmd.OutOrStdout(), loop, valEvidence, valComponent, valArtifact, valTier1Only)
	}

	if !valWatch {
		ok, err := check()
		if err != nil {
			return err
		}
		if !ok {
			return errNotAccepted
		}
		return nil
	}
	return watchAndValidate(ctx, cmd.OutOrStdout(), []string{inWorkspace(valEvidence), inWorkspace(valArtifact)}, check)
}

// validateOnce prints a report and returns whether the mapping passed.
func validateOnce(ctx context.Context, w io.Writer, loop *feedback.Loop, evidencePath, component, artifactPath string, tier1Only bool) (bool, error) {
	ev, err := loadOneEvidence(evidencePath, component)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(inWorkspace(artifactPath))
	if err != nil {
		return false, fmt.Errorf("failed to read artifact: %w", err)
	}

	report, err := loop.ValidateArtifact(ctx, ev, string(data), tier1Only)
	if err != nil {
		return false, err
	}
	printReport(w, ev.ComponentName, report)
	return report.Valid(), nil
}

func printReport(w io.Writer, component string, report feedback.Report) {
	tier2 := "skipped"
	if report.Tier2 != nil {
		tier2 = verdict(*report.Tier2)
	}
	fmt.Fprintf(w, "%s: tier 1 %s, tier 2 %s\n", component, verdict(report.Tier1), tier2)
	for i, e := range report.Errors() {
		fmt.Fprintf(w, "  %d. %s\n", i+1, e)
	}
}

func verdict(r feedback.ValidationResult) string {
	if r.Valid {
		return "ok"
	}
	return fmt.Sprintf("failed (%d)", len(r.Errors))
}

// watchAndValidate runs check once, then again after every change to files,
// until ctx is done. Parent directories are watched so editors that replace
// files on save are still seen.
func watchAndValidate(ctx context.Context, w io.Writer, files []string, check func() (bool, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	targets := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	run := func() {
		if _, err := check(); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
	run()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(event.Name)
			if !targets[abs] || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			logger.Debug("change detected", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			debounce = time.After(watchDebounce)
		case <-debounce:
			debounce = nil
			fmt.Fprintln(w)
			run()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}
