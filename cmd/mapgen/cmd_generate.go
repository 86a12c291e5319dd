package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mapgen/internal/batch"
	"mapgen/internal/evidence"
	"mapgen/internal/mapping/feedback"
	"mapgen/internal/perception"
	"mapgen/internal/store"
)

var (
	genEvidence   []string
	genImport     string
	genProfile    string
	genWorkers    int
	genRetries    int
	genOutDir     string
	genNote       string
	genNoLedger   bool
	genComponents []string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate validated mappings for every component in the evidence",
	Long: `Runs the generation, validation and repair loop for each component found in
the evidence files. Components run concurrently; one component's failure never
stops the others. Accepted mappings are written to --out when set, and every
attempt is recorded in the ledger.

Example:
  mapgen generate --evidence 'design/**/*.yaml' --component @acme/ui --workers 4 --retries 3`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringSliceVarP(&genEvidence, "evidence", "e", nil, "Evidence file globs (doublestar syntax, repeatable)")
	generateCmd.Flags().StringVar(&genImport, "component", "", "Import path of the implementation components")
	generateCmd.Flags().StringSliceVar(&genComponents, "only", nil, "Restrict to these component names or IDs")
	generateCmd.Flags().StringVar(&genProfile, "profile", "", "Target profile: react or html (default from config)")
	generateCmd.Flags().IntVar(&genWorkers, "workers", 0, "Components in flight (default from config)")
	generateCmd.Flags().IntVar(&genRetries, "retries", -1, "Repair attempts beyond the first (default from config)")
	generateCmd.Flags().StringVarP(&genOutDir, "out", "o", "", "Directory for accepted mapping files")
	generateCmd.Flags().StringVar(&genNote, "note", "", "Free-form note stored with the run")
	generateCmd.Flags().BoolVar(&genNoLedger, "no-ledger", false, "Do not record the run")
	_ = generateCmd.MarkFlagRequired("evidence")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if genWorkers > 0 {
		cfg.Limits.Workers = genWorkers
	}
	if genRetries >= 0 {
		cfg.Validation.Retries = genRetries
	}
	if genProfile != "" {
		cfg.Validation.Profile = strings.ToLower(genProfile)
	}
	if genNoLedger {
		cfg.Store.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	profile, err := resolveProfile("")
	if err != nil {
		return err
	}

	files, err := expandEvidence(genEvidence)
	if err != nil {
		return err
	}
	evs, err := loadAllEvidence(files)
	if err != nil {
		return err
	}
	jobs := buildJobs(evs, genComponents)
	if len(jobs) == 0 {
		return fmt.Errorf("no components selected from %d evidence file(s)", len(files))
	}

	gen, err := perception.NewGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	structural, err := newStructuralChecker(cfg)
	if err != nil {
		return err
	}
	loop := feedback.NewLoop(profile, structural, logger)

	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer closeLedger(ledger)

	opts := batch.Options{
		Workers: cfg.Limits.Workers,
		Budget:  cfg.Validation.Retries,
		OnOutcome: func(_ int, out feedback.Outcome) {
			fmt.Fprintln(cmd.OutOrStdout(), out.Summary())
			if out.Accepted && genOutDir != "" {
				if err := writeArtifact(genOutDir, out, profile); err != nil {
					logger.Warn("failed to write artifact", zap.String("component", out.ComponentName), zap.Error(err))
				}
			}
		},
	}
	if ledger != nil {
		run, err := ledger.BeginRun(ctx, store.Run{
			Profile:  string(profile),
			Provider: cfg.Generator.Provider,
			Model:    cfg.Generator.Model,
			Budget:   cfg.Validation.Retries,
			Workers:  cfg.Limits.Workers,
			Note:     genNote,
		})
		if err != nil {
			return err
		}
		opts.RunID = run.ID
		opts.Recorder = ledger
		defer func() {
			// ctx may already be cancelled
			if err := ledger.FinishRun(context.Background(), run.ID); err != nil {
				logger.Warn("failed to finish run", zap.Error(err))
			}
		}()
	}

	outcomes, recErr := batch.NewRunner(loop, gen, opts, logger).Run(ctx, jobs)
	if recErr != nil {
		logger.Warn("some outcomes were not recorded", zap.Error(recErr))
	}

	sum := batch.Summarize(outcomes)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d accepted, %d exhausted, %d failed, %d cancelled (mean attempts %.2f)\n",
		sum.Accepted, sum.Total, sum.Exhausted, sum.Failed, sum.Cancelled, sum.MeanAttempts)
	if opts.RunID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", opts.RunID)
	}
	if sum.Accepted < sum.Total {
		return errNotAccepted
	}
	return nil
}

// buildJobs turns evidence into batch jobs, keeping only the components named
// in only when it is non-empty.
func buildJobs(evs []*evidence.Evidence, only []string) []batch.Job {
	keep := make(map[string]bool, len(only))
	for _, name := range only {
		keep[strings.ToLower(name)] = true
	}
	var jobs []batch.Job
	for _, ev := range evs {
		if len(keep) > 0 && !keep[strings.ToLower(ev.ComponentName)] && !keep[strings.ToLower(ev.ComponentID)] {
			continue
		}
		jobs = append(jobs, batch.Job{
			Evidence: ev,
			Hint:     feedback.ImplementationHint{Name: implementationName(ev.ComponentName), ImportPath: genImport},
		})
	}
	return jobs
}

// implementationName derives an identifier from a design component name:
// "Primary button" becomes "PrimaryButton".
func implementationName(name string) string {
	var sb strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if upper {
				r = unicode.ToUpper(r)
				upper = false
			}
			sb.WriteRune(r)
		default:
			upper = true
		}
	}
	out := sb.String()
	if out == "" || unicode.IsDigit(rune(out[0])) {
		out = "Component" + out
	}
	return out
}

func writeArtifact(dir string, out feedback.Outcome, profile feedback.TargetProfile) error {
	dir = inWorkspace(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := implementationName(out.ComponentName) + profile.Extension()
	return os.WriteFile(filepath.Join(dir, name), []byte(out.FinalArtifact), 0o644)
}
