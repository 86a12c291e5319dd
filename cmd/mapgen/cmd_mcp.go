package main

import (
	"github.com/spf13/cobra"

	"mapgen/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve validate_mapping and list_keys over MCP stdio",
	Long: `Starts an MCP server on stdin/stdout so an external agent can act as the
generator and check its own mappings. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		profile, err := resolveProfile("")
		if err != nil {
			return err
		}
		structural, err := newStructuralChecker(cfg)
		if err != nil {
			return err
		}
		return mcpserver.NewServer(version, workspace, structural, profile, logger).Run(ctx)
	},
}
