package service

import (
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// JobQueue is the ordered, deduplicated job list plus its counters.
// It is not safe for concurrent use; the Coordinator guards it.
type JobQueue struct {
	records []models.JobRecord
	index   map[string]int
	urls    map[string]int
	stats   models.Stats
	now     func() time.Time
}

// NewJobQueue creates an empty queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{
		index: make(map[string]int),
		urls:  make(map[string]int),
		now:   time.Now,
	}
}

// EnqueueDiscovered appends jobs whose dedup id (and url) is not yet
// known. Returns how many were inserted.
func (q *JobQueue) EnqueueDiscovered(jobs []models.RawJob) int {
	inserted := 0
	for _, raw := range jobs {
		id := raw.DedupID()
		if id == "" {
			continue
		}
		if _, ok := q.index[id]; ok {
			continue
		}
		if raw.JobURL != "" {
			if _, ok := q.urls[raw.JobURL]; ok {
				continue
			}
		}

		now := q.now()
		q.append(models.JobRecord{
			ID:           id,
			Title:        raw.Title,
			URL:          raw.JobURL,
			Status:       models.JobStatusPending,
			DiscoveredAt: now,
			UpdatedAt:    now,
		})
		q.stats.TotalFound++
		inserted++
	}
	return inserted
}

func (q *JobQueue) append(r models.JobRecord) {
	q.index[r.ID] = len(q.records)
	if r.URL != "" {
		q.urls[r.URL] = len(q.records)
	}
	q.records = append(q.records, r)
}

// NextPending returns the first pending record in insertion order.
func (q *JobQueue) NextPending() (models.JobRecord, bool) {
	for _, r := range q.records {
		if r.Status == models.JobStatusPending {
			return r, true
		}
	}
	return models.JobRecord{}, false
}

// Get returns the record with the given dedup id.
func (q *JobQueue) Get(id string) (models.JobRecord, bool) {
	i, ok := q.index[id]
	if !ok {
		return models.JobRecord{}, false
	}
	return q.records[i], true
}

// Begin moves a pending record to analyzing. Counters are left alone; the
// analyzer's own report counts the analysis.
func (q *JobQueue) Begin(id string) (models.JobRecord, bool) {
	i, ok := q.index[id]
	if !ok {
		return models.JobRecord{}, false
	}
	q.set(i, models.JobStatusAnalyzing, "")
	return q.records[i], true
}

// UpdateStatus writes status and message on the record with the given id
// and increments the matching counter.
func (q *JobQueue) UpdateStatus(id string, status models.JobStatus, message string) (models.JobRecord, bool) {
	i, ok := q.index[id]
	if !ok {
		return models.JobRecord{}, false
	}
	q.set(i, status, message)
	q.stats.Record(status)
	return q.records[i], true
}

// Requeue puts a record back to pending without touching counters.
func (q *JobQueue) Requeue(id, message string) bool {
	i, ok := q.index[id]
	if !ok {
		return false
	}
	q.set(i, models.JobStatusPending, message)
	return true
}

// CountAnalyzed increments the analyzed counter.
func (q *JobQueue) CountAnalyzed() {
	q.stats.Analyzed++
}

func (q *JobQueue) set(i int, status models.JobStatus, message string) {
	q.records[i].Status = status
	q.records[i].Message = message
	q.records[i].UpdatedAt = q.now()
}

// ResetFailed moves every failed record back to pending.
func (q *JobQueue) ResetFailed() int {
	n := 0
	for i := range q.records {
		if q.records[i].Status == models.JobStatusFailed {
			q.set(i, models.JobStatusPending, "")
			n++
		}
	}
	return n
}

// Clear empties the queue and zeroes the counters.
func (q *JobQueue) Clear() {
	q.records = nil
	q.index = make(map[string]int)
	q.urls = make(map[string]int)
	q.stats = models.Stats{}
}

// Restore replaces the queue with persisted records and recomputes the
// counters. Records repeating an earlier id are dropped.
func (q *JobQueue) Restore(records []models.JobRecord) {
	q.Clear()
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if _, ok := q.index[r.ID]; ok {
			continue
		}
		q.append(r)
	}
	q.stats = models.RecomputeStats(q.records)
}

// Records returns a copy of the queue.
func (q *JobQueue) Records() []models.JobRecord {
	out := make([]models.JobRecord, len(q.records))
	copy(out, q.records)
	return out
}

// Stats returns the counters.
func (q *JobQueue) Stats() models.Stats {
	return q.stats
}

// Len returns the number of records.
func (q *JobQueue) Len() int {
	return len(q.records)
}

// PendingCount returns the number of pending records.
func (q *JobQueue) PendingCount() int {
	n := 0
	for _, r := range q.records {
		if r.Status == models.JobStatusPending {
			n++
		}
	}
	return n
}

// CountStatus returns how many records hold the given status.
func (q *JobQueue) CountStatus(status models.JobStatus) int {
	n := 0
	for _, r := range q.records {
		if r.Status == status {
			n++
		}
	}
	return n
}
