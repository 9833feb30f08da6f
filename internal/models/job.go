// Package models defines data structures shared by the jobpilot coordinator,
// its adapters and its transports.
package models

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a JobRecord.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusAnalyzing JobStatus = "analyzing"
	JobStatusApplying  JobStatus = "applying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusSkipped   JobStatus = "skipped"
	JobStatusFailed    JobStatus = "failed"
)

// AllJobStatuses lists statuses in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusAnalyzing,
	JobStatusApplying,
	JobStatusCompleted,
	JobStatusSkipped,
	JobStatusFailed,
}

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status ends a processing attempt.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusSkipped, JobStatusFailed:
		return true
	}
	return false
}

// IsActive reports whether a job in this status is the current job.
func (s JobStatus) IsActive() bool {
	return s == JobStatusAnalyzing || s == JobStatusApplying
}

// IsReportable reports whether adapters may send this status.
// Pending is assigned by the queue only.
func (s JobStatus) IsReportable() bool {
	return s == JobStatusAnalyzing || s == JobStatusApplying || s.IsTerminal()
}

// ParseJobStatus converts a wire value into a JobStatus.
func ParseJobStatus(s string) (JobStatus, bool) {
	for _, st := range AllJobStatuses {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// JobRecord is one queued job posting.
type JobRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Status       JobStatus `json:"status"`
	Message      string    `json:"message,omitempty"`
	DiscoveredAt time.Time `json:"discoveredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RawJob is a posting as reported by a finder adapter.
type RawJob struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	JobURL string `json:"jobUrl"`
}

// DedupID returns the queue key for a discovered job: the site job key when
// present, otherwise the posting URL.
func (r RawJob) DedupID() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return strings.TrimSpace(r.JobURL)
}
