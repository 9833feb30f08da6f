package models

// Stats are the aggregate counters. They only change together with a status
// transition and can be recomputed from the queue.
type Stats struct {
	TotalFound int `json:"totalFound"`
	Analyzed   int `json:"analyzed"`
	Skipped    int `json:"skipped"`
	Applying   int `json:"applying"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Record increments the counter that matches a status transition.
func (s *Stats) Record(status JobStatus) {
	switch status {
	case JobStatusAnalyzing:
		s.Analyzed++
	case JobStatusApplying:
		s.Applying++
	case JobStatusCompleted:
		s.Completed++
	case JobStatusSkipped:
		s.Skipped++
	case JobStatusFailed:
		s.Failed++
	}
}

// RecomputeStats derives counters from a restored queue. Every record past
// pending was analyzed, and completed records went through applying.
func RecomputeStats(records []JobRecord) Stats {
	s := Stats{TotalFound: len(records)}
	for _, r := range records {
		if r.Status != JobStatusPending {
			s.Analyzed++
		}
		switch r.Status {
		case JobStatusApplying:
			s.Applying++
		case JobStatusCompleted:
			s.Applying++
			s.Completed++
		case JobStatusSkipped:
			s.Skipped++
		case JobStatusFailed:
			s.Failed++
		}
	}
	return s
}

// OperationTiming is a point-in-time view of one timed operation.
type OperationTiming struct {
	Count     int64   `json:"count"`
	Errors    int64   `json:"errors,omitempty"`
	AvgTimeMs float64 `json:"avgTimeMs"`
	MinTimeMs int64   `json:"minTimeMs"`
	MaxTimeMs int64   `json:"maxTimeMs"`
}

// RuntimeStats describes the daemon itself.
type RuntimeStats struct {
	UptimeSeconds float64                    `json:"uptimeSeconds"`
	Operations    map[string]OperationTiming `json:"operations,omitempty"`
}

// StatsSnapshot is the GET_STATS payload.
type StatsSnapshot struct {
	Stats
	QueueSize  int               `json:"queueSize"`
	Pending    int               `json:"pending"`
	IsRunning  bool              `json:"isRunning"`
	CurrentJob *JobRecord        `json:"currentJob"`
	JobQueue   []JobRecord       `json:"jobQueue"`
	Tabs       []TabRegistration `json:"tabs"`
	Runtime    RuntimeStats      `json:"runtime"`
}
