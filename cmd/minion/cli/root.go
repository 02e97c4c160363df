// Package cli implements the minion command-line interface using Cobra.
package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autominion/minion/internal/config"
	"github.com/autominion/minion/internal/log"
)

var (
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "minion",
	Short: "Minion - run an AI agent against your local repository",
	Long: `Minion runs a disposable agent container against a local git
repository. The agent works on its own branch, all of its LLM traffic is
routed through minion, and clarifying questions reach you in the terminal.
When the agent reports success, its changes land unstaged in your working
tree for review.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonOut,
			DebugDir:   filepath.Join(config.Dir(), "debug"),
		}); err != nil {
			// Non-fatal: the default logger still works.
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "log in JSON format")
}
