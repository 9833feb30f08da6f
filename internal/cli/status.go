package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

var statusRuntime bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show automation state and counters",
	Long: `Show whether automation is running, the job counters, the current job
and the registered tabs.

Examples:
  jobpilot status
  jobpilot status --runtime`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusRuntime, "runtime", false, "show daemon timing statistics")
}

func runStatus(cmd *cobra.Command, args []string) error {
	snap, err := apiClient.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	printStatus(out, snap)
	if statusRuntime {
		fmt.Fprintln(out)
		printRuntimeStats(out, snap.Runtime)
	}
	return nil
}

// printStatus displays the automation state and counters.
func printStatus(w io.Writer, snap *models.StatsSnapshot) {
	state := "stopped"
	if snap.IsRunning {
		state = "running"
	}
	fmt.Fprintf(w, "Automation: %s\n", state)
	fmt.Fprintf(w, "Queue:      %d jobs, %d pending\n", snap.QueueSize, snap.Pending)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Found:     %d\n", snap.TotalFound)
	fmt.Fprintf(w, "  Analyzed:  %d\n", snap.Analyzed)
	fmt.Fprintf(w, "  Skipped:   %d\n", snap.Skipped)
	fmt.Fprintf(w, "  Applying:  %d\n", snap.Applying)
	fmt.Fprintf(w, "  Completed: %d\n", snap.Completed)
	fmt.Fprintf(w, "  Failed:    %d\n", snap.Failed)

	if snap.CurrentJob != nil {
		fmt.Fprintf(w, "\nCurrent job: %s [%s]\n", snap.CurrentJob.Title, snap.CurrentJob.Status)
		fmt.Fprintf(w, "  %s\n", snap.CurrentJob.URL)
	}

	if len(snap.Tabs) > 0 {
		fmt.Fprintf(w, "\nTabs:\n")
		for _, t := range snap.Tabs {
			platform := string(t.Platform)
			if platform == "" {
				platform = "-"
			}
			fmt.Fprintf(w, "  %-12s %-12s %s\n", t.TabID, t.Role, platform)
		}
	}
}

// printRuntimeStats displays daemon uptime and per-operation timings.
func printRuntimeStats(w io.Writer, rt models.RuntimeStats) {
	fmt.Fprintf(w, "Daemon Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", rt.UptimeSeconds)

	names := make([]string, 0, len(rt.Operations))
	for name := range rt.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "\n%s:\n", name)
		printOpStats(w, rt.Operations[name])
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op models.OperationTiming) {
	if op.Errors > 0 {
		fmt.Fprintf(w, "  Calls: %d (%d failed)\n", op.Count, op.Errors)
	} else {
		fmt.Fprintf(w, "  Calls: %d\n", op.Count)
	}
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
