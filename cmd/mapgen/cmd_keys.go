package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mapgen/internal/mapping/feedback"
)

var (
	keysEvidence  string
	keysComponent string
	keysJSON      bool
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Print the names each figma helper may reference",
	RunE:  runKeys,
}

func init() {
	keysCmd.Flags().StringVarP(&keysEvidence, "evidence", "e", "", "Evidence file")
	keysCmd.Flags().StringVar(&keysComponent, "name", "", "Component name or ID when the evidence holds several")
	keysCmd.Flags().BoolVar(&keysJSON, "json", false, "Print as JSON")
	_ = keysCmd.MarkFlagRequired("evidence")
}

func runKeys(cmd *cobra.Command, args []string) error {
	ev, err := loadOneEvidence(keysEvidence, keysComponent)
	if err != nil {
		return err
	}
	ks := feedback.BuildKeySets(ev)
	out := cmd.OutOrStdout()

	if keysJSON {
		byMethod := make(map[string][]string, len(feedback.CheckedHelperKinds))
		for _, kind := range feedback.CheckedHelperKinds {
			set, _ := ks.Allowed(kind)
			byMethod[kind.Method()] = set.Names()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"component":   ev.ComponentName,
			"fingerprint": ev.Fingerprint(),
			"keys":        byMethod,
		})
	}

	fmt.Fprintf(out, "%s (%s)\n", ev.ComponentName, ev.Fingerprint())
	fmt.Fprint(out, ks.Describe())
	return nil
}
