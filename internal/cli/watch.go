package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of the job queue",
	Long: `Show a live dashboard of the automation: progress through the queue,
the counters and the job being processed. Prints a single status report
when stdout is not a terminal.

Examples:
  jobpilot watch`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		snap, err := apiClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		printStatus(cmd.OutOrStdout(), snap)
		return nil
	}
	return runDashboard(apiClient)
}
