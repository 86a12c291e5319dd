package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyRun       string
	historyComponent string
	historyLimit     int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs, outcomes and attempts",
	Long: `Without flags, lists recent runs. With --run, shows the run's summary and
per-component outcomes. Adding --name shows every attempt of one component.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Run ID")
	historyCmd.Flags().StringVar(&historyComponent, "name", "", "Component name or ID (requires --run)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyComponent != "" && historyRun == "" {
		return fmt.Errorf("--name requires --run")
	}
	cfg.Store.Enabled = true
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer closeLedger(ledger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer tw.Flush()

	switch {
	case historyRun == "":
		runs, err := ledger.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "RUN\tSTARTED\tPROFILE\tMODEL\tACCEPTED\tNOTE")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
				r.ID, r.StartedAt.Local().Format(time.DateTime), r.Profile, r.Model, r.Accepted, r.Components, r.Note)
		}

	case historyComponent == "":
		sum, err := ledger.Summary(ctx, historyRun)
		if err != nil {
			return err
		}
		outcomes, err := ledger.Outcomes(ctx, historyRun)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "run %s: %d/%d accepted, %d exhausted, %d failed, %d cancelled\n",
			sum.RunID, sum.Accepted, sum.Components, sum.Exhausted, sum.Failed, sum.Cancelled)
		fmt.Fprintf(tw, "attempts %d, generator failures %d, content failures %d, mean attempts to success %.2f, tokens %d in / %d out\n\n",
			sum.Attempts, sum.GeneratorFailures, sum.ContentFailures, sum.MeanAttemptsToSuccess, sum.InputTokens, sum.OutputTokens)
		fmt.Fprintln(tw, "COMPONENT\tSTATE\tATTEMPTS\tERRORS")
		for _, o := range outcomes {
			detail := fmt.Sprintf("%d", len(o.Errors))
			if o.Fatal != "" {
				detail = o.Fatal
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", o.ComponentName, o.State, o.AttemptCount, detail)
		}

	default:
		attempts, err := ledger.Attempts(ctx, historyRun, historyComponent)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			return fmt.Errorf("no attempts for %q in run %s", historyComponent, historyRun)
		}
		fmt.Fprintln(tw, "#\tVALID\tFAILURE\tTIER\tTOKENS\tDURATION\tERRORS")
		for _, a := range attempts {
			fmt.Fprintf(tw, "%d\t%t\t%s\t%d\t%d\t%s\t%s\n",
				a.Number, a.Valid, a.Failure, a.Tier, a.InputTokens+a.OutputTokens,
				a.Duration.Round(time.Millisecond), strings.Join(a.Errors, " | "))
		}
	}
	return nil
}
