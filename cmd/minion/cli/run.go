package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autominion/minion/internal/editor"
	"github.com/autominion/minion/internal/log"
	"github.com/autominion/minion/internal/run"
	"github.com/autominion/minion/internal/ui"
)

var (
	taskFlag   string
	imageFlag  string
	buildFlag  string
	nestedFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Run an agent task against a local repository",
	Long: `Run an agent task against a local git repository.

The agent works on a fresh fork branch inside a disposable container. On
success its changes are applied, unstaged, to your current branch.

Arguments:
  [path]    Path to the repository (default: current directory)

The task description is taken from --task, or composed in $EDITOR when the
flag is omitted.

Examples:
  minion run --task "add a --version flag"
  minion run ~/src/service --image ghcr.io/autominion/default-minion:x86-64-latest
  minion run --dockerfile ./agent`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath := "."
		if len(args) == 1 {
			repoPath = args[0]
		}
		repoPath, err := filepath.Abs(repoPath)
		if err != nil {
			return fmt.Errorf("resolving repository path: %w", err)
		}

		task := taskFlag
		if task == "" {
			task, err = editor.ComposeTask()
			if err != nil {
				return err
			}
		}
		if task == "" {
			return fmt.Errorf("no task description given")
		}

		// The container run has no hard timeout; Ctrl+C cancels
		// cooperatively.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		coord := run.New(run.Options{
			RepoPath:     repoPath,
			Task:         task,
			Image:        imageFlag,
			BuildContext: buildFlag,
			Nested:       nestedFlag,
		})
		result, err := coord.Execute(ctx)
		if err != nil {
			ui.Errorf("%v", err)
			return err
		}

		log.Info("run finished", "id", result.ID, "outcome", string(result.Outcome.Status), "merged", result.Merged)
		result.Report()
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&taskFlag, "task", "t", "", "task description (default: compose in $EDITOR)")
	runCmd.Flags().StringVar(&imageFlag, "image", "", "agent container image to run")
	runCmd.Flags().StringVar(&buildFlag, "dockerfile", "", "directory with a Dockerfile to build the agent image from")
	runCmd.Flags().BoolVar(&nestedFlag, "nested", false, "allow the agent to run containers (sysbox-runc)")
	runCmd.SilenceErrors = true
	rootCmd.AddCommand(runCmd)
}
