package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mapgen/internal/config"
	"mapgen/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	cfg    *config.Config
	logger *zap.Logger
)

// errNotAccepted is returned when a command ran but its verdict is negative,
// so the process exits non-zero without printing a second message.
var errNotAccepted = errors.New("not accepted")

var rootCmd = &cobra.Command{
	Use:   "mapgen",
	Short: "Generate and validate Figma Code Connect mappings",
	Long: `mapgen drives a generator through a generation, validation and repair loop
until each component's Code Connect mapping only references names the design
actually exposes and parses cleanly with the figma CLI.

Tier 1 checks every figma.* helper key against the component evidence.
Tier 2 runs "figma connect parse" on the candidate in an isolated workspace.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws, err := resolveWorkspace(workspace)
		if err != nil {
			return err
		}
		workspace = ws

		path := configPath
		if path == "" {
			path = filepath.Join(workspace, config.DefaultPath)
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}

		logger, err = logging.New(logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			Categories: cfg.Logging.Categories,
		}, verbose)
		if err != nil {
			return err
		}
		logging.For(logger, logging.CategoryBoot).Debug("configuration loaded",
			zap.String("workspace", workspace),
			zap.String("config", path),
			zap.String("provider", cfg.Generator.Provider))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.mapgen/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errNotAccepted) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
