package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

var (
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect queued jobs",
	Long: `List the job queue or inspect a single job by ID.

Examples:
  jobpilot jobs                    # List all jobs
  jobpilot jobs --status failed    # Only failed jobs
  jobpilot jobs 5f2a9c1e           # Show details for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVarP(&jobsStatus, "status", "s", "", "filter by status (pending, analyzing, applying, completed, skipped, failed)")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 0, "max jobs to list (0 = all)")
}

func runJobs(cmd *cobra.Command, args []string) error {
	var filter models.JobStatus
	if jobsStatus != "" {
		st, ok := models.ParseJobStatus(jobsStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", jobsStatus)
		}
		filter = st
	}

	snap, err := apiClient.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		job, ok := findJob(snap.JobQueue, args[0])
		if !ok {
			return fmt.Errorf("job not found: %s", args[0])
		}
		showJob(out, job)
		return nil
	}

	listJobs(out, filterJobs(snap.JobQueue, filter, jobsLimit))
	return nil
}

// filterJobs keeps jobs with the given status, all when status is empty,
// and caps the result at limit when limit is positive.
func filterJobs(jobs []models.JobRecord, status models.JobStatus, limit int) []models.JobRecord {
	var out []models.JobRecord
	for _, j := range jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func findJob(jobs []models.JobRecord, id string) (models.JobRecord, bool) {
	for _, j := range jobs {
		if j.ID == id {
			return j, true
		}
	}
	return models.JobRecord{}, false
}

func listJobs(w io.Writer, jobs []models.JobRecord) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-16s %-10s %-16s %s\n", "ID", "STATUS", "UPDATED", "TITLE")
	fmt.Fprintln(w, "------------------------------------------------------------------------")

	for _, job := range jobs {
		fmt.Fprintf(w, "%-16s %-10s %-16s %s\n",
			shorten(job.ID, 16), job.Status, job.UpdatedAt.Local().Format("01-02 15:04:05"), shorten(job.Title, 48))
	}
}

func showJob(w io.Writer, job models.JobRecord) {
	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "  Title: %s\n", job.Title)
	fmt.Fprintf(w, "  URL: %s\n", job.URL)
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	fmt.Fprintf(w, "  Discovered: %s\n", job.DiscoveredAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Updated: %s\n", job.UpdatedAt.Format(time.RFC3339))
	if job.Message != "" {
		fmt.Fprintf(w, "  Message: %s\n", job.Message)
	}
}

// shorten cuts s to at most n runes, marking the cut with "…".
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
