package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start processing the job queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start automation: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Automation started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop processing and close the job tabs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("stop automation: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Automation stopped")
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Open search result tabs for every configured query",
	Long: `Open one search result tab per configured query on each enabled platform.
The finder adapters queue the postings they see.

Examples:
  jobpilot config set --query "golang developer@Berlin"
  jobpilot fetch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.FetchJobs(cmd.Context()); err != nil {
			return fmt.Errorf("fetch jobs: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Search tabs opened")
		return nil
	},
}

var clearForce bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the job queue and reset the counters",
	Long: `Empty the job queue and reset the counters. Settings are kept.
Requires confirmation unless --force is used.

Examples:
  jobpilot clear
  jobpilot clear --force`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearForce, "force", "f", false, "skip confirmation")
}

func runClear(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !clearForce {
		fmt.Fprintf(out, "About to drop every queued job and reset the counters.\n")
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := apiClient.ClearCache(cmd.Context()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Fprintln(out, "Job queue cleared")
	return nil
}
