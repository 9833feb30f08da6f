// Package service implements the job application orchestrator: the job
// queue, the tab registry, the assistant gateway, the settings store and the
// coordinator that drives each job through its lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/raphaelgruber/jobpilot/internal/metrics"
	"github.com/raphaelgruber/jobpilot/internal/models"
)

// DefaultJobTimeout bounds how long one job may stay current.
const DefaultJobTimeout = 2 * time.Minute

// Messages attached to jobs failed by the coordinator itself.
const (
	MsgTimeout     = "timeout"
	MsgTabClosed   = "tab closed"
	MsgInterrupted = "interrupted"
)

var errJobFailed = errors.New("job failed")

// Browser opens, closes and focuses tabs.
type Browser interface {
	OpenTab(ctx context.Context, url string, active bool) (models.TabID, error)
	CloseTab(ctx context.Context, tab models.TabID) error
	ActivateTab(ctx context.Context, tab models.TabID) error
}

// StatePersister accepts state snapshots for durable writing.
type StatePersister interface {
	Schedule(state models.PersistedState)
}

// StateLoader reads the durable state.
type StateLoader interface {
	Load(ctx context.Context) (*models.PersistedState, error)
}

// CoordinatorDeps are the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Browser    Browser
	Tabs       *TabRegistry
	Settings   *SettingsStore
	Persister  StatePersister
	Metrics    *metrics.Collector
	Logger     *slog.Logger
	JobTimeout time.Duration
}

// Coordinator owns the job queue and drives the current job through
// pending → analyzing → applying → completed/skipped/failed. It is the only
// writer of the queue, the current job pointer and the persisted state.
type Coordinator struct {
	browser   Browser
	tabs      *TabRegistry
	settings  *SettingsStore
	persister StatePersister
	metrics   *metrics.Collector
	logger    *slog.Logger
	timeout   time.Duration

	// slot admits one ProcessNext cycle at a time; rerun records calls that
	// arrived while the slot was taken.
	slot  *semaphore.Weighted
	rerun atomic.Bool

	mu         sync.Mutex
	queue      *JobQueue
	running    bool
	current    string // dedup id of the current job, "" when idle
	jobSeq     uint64
	activeTab  models.TabID
	jobStarted time.Time
	timer      *time.Timer
	timerGen   uint64

	// helperTabs are the non-active tabs, such as application forms, that
	// reported for the current job. Once the job finishes they move to
	// retired and their reports are dropped until they unregister.
	helperTabs []models.TabID
	retired    map[models.TabID]struct{}

	// halted is why automation paused itself, nil otherwise.
	halted error
}

// NewCoordinator creates an idle coordinator with an empty queue.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	tabs := deps.Tabs
	if tabs == nil {
		tabs = NewTabRegistry()
	}
	settings := deps.Settings
	if settings == nil {
		settings = NewSettingsStore()
	}

	c := &Coordinator{
		browser:   deps.Browser,
		tabs:      tabs,
		settings:  settings,
		persister: deps.Persister,
		metrics:   deps.Metrics,
		logger:    logger,
		timeout:   timeout,
		slot:      semaphore.NewWeighted(1),
		queue:     NewJobQueue(),
		retired:   make(map[models.TabID]struct{}),
	}
	settings.setOnChange(c.persist)
	return c
}

// Tabs returns the tab registry.
func (c *Coordinator) Tabs() *TabRegistry {
	return c.tabs
}

// Settings returns the settings store.
func (c *Coordinator) Settings() *SettingsStore {
	return c.settings
}

// Load restores the durable state. Jobs a crash left analyzing or applying
// are marked failed so the next start retries them. seed, when non-nil, is
// used as settings if nothing was persisted.
func (c *Coordinator) Load(ctx context.Context, loader StateLoader, seed *models.Settings) error {
	state, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dirty := false
	switch {
	case state != nil && state.Config != nil:
		c.settings.Restore(*state.Config)
	case seed != nil:
		c.settings.Restore(*seed)
		dirty = true
	}

	if state == nil {
		if dirty {
			c.persistLocked()
		}
		return nil
	}

	records := append([]models.JobRecord(nil), state.JobQueue...)
	interrupted := 0
	for i := range records {
		if records[i].Status.IsActive() {
			records[i].Status = models.JobStatusFailed
			records[i].Message = MsgInterrupted
			interrupted++
		}
	}
	c.queue.Restore(records)
	c.current = ""
	c.activeTab = ""

	c.logger.Info("restored automation state", "jobs", c.queue.Len(), "pending", c.queue.PendingCount(), "interrupted", interrupted)
	if dirty || interrupted > 0 {
		c.persistLocked()
	}
	return nil
}

// RegisterTab records the role a tab announced.
func (c *Coordinator) RegisterTab(tab models.TabID, role models.Role, platform models.Platform) bool {
	ok := c.tabs.Register(tab, role, platform)
	if ok {
		c.logger.Info("registered tab", "tab_id", tab, "role", role, "platform", platform)
	}
	return ok
}

// UnregisterTab handles a closed tab. When it was the active job tab and the
// current job is still analyzing or applying, the job is failed.
func (c *Coordinator) UnregisterTab(ctx context.Context, tab models.TabID) bool {
	reg, known := c.tabs.Remove(tab)
	if known {
		c.logger.Info("unregistered tab", "tab_id", tab, "role", reg.Role)
	}

	c.mu.Lock()
	delete(c.retired, tab)
	if tab == "" || c.activeTab != tab {
		c.mu.Unlock()
		return known
	}
	c.activeTab = ""
	jobID := c.current
	inProgress := false
	if jobID != "" {
		if rec, ok := c.queue.Get(jobID); ok {
			inProgress = rec.Status.IsActive()
		}
	}
	c.mu.Unlock()

	c.logger.Info("active job tab closed", "tab_id", tab, "job_id", jobID)
	if inProgress {
		_ = c.report(ctx, statusReport{
			status:  models.JobStatusFailed,
			message: MsgTabClosed,
			jobID:   jobID,
		})
	}
	return true
}

// StartAutomation resumes queue processing. Failed jobs are reset to pending
// and the assistant tab is opened when the hosted assistant has no tab yet.
// It returns ErrBrowserUnavailable when the first job could not get a tab;
// automation is stopped again in that case and the job stays pending.
func (c *Coordinator) StartAutomation(ctx context.Context) error {
	c.mu.Lock()
	c.running = true
	c.halted = nil
	c.clearTimeoutLocked()

	var stale []models.TabID
	if c.current != "" {
		if rec, ok := c.queue.Get(c.current); ok && rec.Status.IsActive() {
			c.queue.Requeue(c.current, MsgInterrupted)
		}
		c.current = ""
		if c.activeTab != "" {
			stale = append(stale, c.activeTab)
		}
		stale = append(stale, c.retireHelpersLocked()...)
		c.activeTab = ""
	}

	retried := c.queue.ResetFailed()
	settings := c.settings.Get()
	c.persistLocked()
	c.mu.Unlock()

	c.logger.Info("automation started", "retried", retried)

	for _, tab := range stale {
		c.closeTab(ctx, tab)
	}

	if settings.Assistant.Mode == models.AssistantHosted || settings.Assistant.Mode == "" {
		if _, ok := c.tabs.AssistantTab(); !ok {
			target := settings.Assistant.URL
			if target == "" {
				target = models.DefaultAssistantURL
			}
			if _, err := c.browser.OpenTab(ctx, target, !settings.RunInBackground); err != nil {
				c.logger.Warn("failed to open assistant tab", "url", target, "error", err)
			}
		}
	}

	c.ProcessNext(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// StopAutomation stops queue processing and closes every known tab. It does
// not abort work already running inside a tab.
func (c *Coordinator) StopAutomation(ctx context.Context) {
	c.mu.Lock()
	c.running = false
	c.clearTimeoutLocked()
	active := c.activeTab
	c.mu.Unlock()

	c.logger.Info("automation stopped")

	closed := make(map[models.TabID]bool)
	for _, reg := range c.tabs.List() {
		c.closeTab(ctx, reg.TabID)
		closed[reg.TabID] = true
	}
	if active != "" && !closed[active] {
		c.closeTab(ctx, active)
	}
}

// IsRunning reports whether automation is on.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ProcessNext starts the next pending job when automation runs and no job
// is current. Only one cycle runs at a time; a call made while a cycle is
// in flight makes that cycle run once more.
func (c *Coordinator) ProcessNext(ctx context.Context) {
	for {
		if !c.slot.TryAcquire(1) {
			c.rerun.Store(true)
			if !c.slot.TryAcquire(1) {
				// the holder sees rerun before it returns
				return
			}
		}
		c.rerun.Store(false)
		c.processOnce(ctx)
		c.slot.Release(1)

		if !c.rerun.Load() {
			return
		}
	}
}

func (c *Coordinator) processOnce(ctx context.Context) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.logger.Debug("automation stopped, not dequeuing")
		return
	}
	if current := c.current; current != "" {
		c.mu.Unlock()
		c.logger.Debug("job already in progress", "job_id", current)
		return
	}

	next, ok := c.queue.NextPending()
	if !ok {
		c.mu.Unlock()
		c.logger.Info("no pending jobs in queue")
		return
	}

	rec, _ := c.queue.Begin(next.ID)
	c.current = rec.ID
	c.activeTab = ""
	c.jobSeq++
	seq := c.jobSeq
	c.jobStarted = time.Now()
	c.armTimeoutLocked(rec.ID)
	settings := c.settings.Get()
	c.persistLocked()
	c.mu.Unlock()

	c.logger.Info("starting job", "job_id", rec.ID, "title", rec.Title, "url", rec.URL)

	tab, err := c.browser.OpenTab(ctx, rec.URL, !settings.RunInBackground)
	if errors.Is(err, ErrBrowserUnavailable) {
		c.haltNoBrowser(rec.ID, seq, err)
		return
	}
	if err != nil {
		c.logger.Error("failed to open job tab", "job_id", rec.ID, "url", rec.URL, "error", err)
		_ = c.report(ctx, statusReport{
			status:  models.JobStatusFailed,
			message: err.Error(),
			jobID:   rec.ID,
		})
		return
	}

	c.mu.Lock()
	if c.current == rec.ID && c.jobSeq == seq {
		c.activeTab = tab
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info("job finished while its tab was opening, closing tab", "job_id", rec.ID, "tab_id", tab)
	c.closeTab(ctx, tab)
}

// haltNoBrowser puts the job that could not get a tab back to pending and
// stops automation, so one missing browser does not fail the whole queue.
func (c *Coordinator) haltNoBrowser(jobID string, seq uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != jobID || c.jobSeq != seq {
		return
	}
	c.queue.Requeue(jobID, err.Error())
	c.clearTimeoutLocked()
	c.current = ""
	c.activeTab = ""
	c.running = false
	c.halted = err
	c.persistLocked()
	c.logger.Error("cannot open job tabs, automation stopped", "job_id", jobID, "error", err)
}

// ReportStatus applies a status report from reporter (empty when the
// sender is not a tab). Reports from tabs other than the active job tab
// are accepted only from analyzer and form-filler tabs; others return
// ErrForeignReport and change nothing.
func (c *Coordinator) ReportStatus(ctx context.Context, status models.JobStatus, reporter models.TabID, message string) error {
	if !status.IsReportable() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return c.report(ctx, statusReport{status: status, reporter: reporter, message: message})
}

type statusReport struct {
	status   models.JobStatus
	reporter models.TabID
	message  string

	// jobID scopes internal reports to the job they were raised for.
	jobID string
	// timer marks timeout reports; timerGen must still be current.
	timer    bool
	timerGen uint64
}

func (c *Coordinator) report(ctx context.Context, r statusReport) error {
	c.mu.Lock()
	if _, ok := c.retired[r.reporter]; ok {
		c.mu.Unlock()
		c.logger.Debug("ignoring status report from tab of a finished job", "status", r.status, "tab_id", r.reporter)
		return nil
	}
	if c.current == "" {
		c.mu.Unlock()
		c.logger.Debug("status report without current job", "status", r.status, "tab_id", r.reporter)
		return nil
	}
	if r.jobID != "" && r.jobID != c.current {
		c.mu.Unlock()
		return nil
	}
	if r.timer && r.timerGen != c.timerGen {
		c.mu.Unlock()
		return nil
	}

	if r.reporter != "" && r.reporter != c.activeTab {
		reg, ok := c.tabs.Get(r.reporter)
		if !ok || !reg.Role.ReportsJobStatus() {
			active := c.activeTab
			c.mu.Unlock()
			c.logger.Warn("ignoring status report from non-job tab", "status", r.status, "tab_id", r.reporter, "active_tab", active)
			return ErrForeignReport
		}
		c.logger.Debug("status report from non-active job tab", "status", r.status, "tab_id", r.reporter, "role", reg.Role, "active_tab", c.activeTab)
		if !slices.Contains(c.helperTabs, r.reporter) {
			c.helperTabs = append(c.helperTabs, r.reporter)
		}
	}

	if r.timer {
		c.logger.Warn("job timeout reached", "job_id", c.current, "timeout", c.timeout)
	}
	c.logger.Info("job status reported", "job_id", c.current, "status", r.status, "tab_id", r.reporter, "message", r.message)

	if r.status == models.JobStatusAnalyzing {
		c.queue.CountAnalyzed()
		c.mu.Unlock()
		return nil
	}

	closeTabs, advance := c.finishCurrentJobLocked(r.status, r.message)
	c.mu.Unlock()

	for _, tab := range closeTabs {
		c.closeTab(ctx, tab)
	}
	if advance {
		c.ProcessNext(ctx)
	}
	return nil
}

// finishCurrentJobLocked records the outcome on the current job's queue
// slot. applying keeps the job current; terminal statuses release it and
// return the job tab and helper tabs to close. Caller must hold c.mu.
func (c *Coordinator) finishCurrentJobLocked(status models.JobStatus, message string) ([]models.TabID, bool) {
	jobID := c.current
	if _, ok := c.queue.UpdateStatus(jobID, status, message); !ok {
		c.logger.Warn("current job missing from queue", "job_id", jobID)
	}

	if status == models.JobStatusApplying {
		c.persistLocked()
		c.logger.Info("job applying, waiting for form completion", "job_id", jobID)
		return nil, false
	}

	c.clearTimeoutLocked()

	var outcome error
	if status == models.JobStatusFailed {
		outcome = errJobFailed
	}
	c.metrics.Record(metrics.OpJobProcessing, time.Since(c.jobStarted), outcome)

	var tabs []models.TabID
	if c.activeTab != "" {
		tabs = append(tabs, c.activeTab)
	}
	tabs = append(tabs, c.retireHelpersLocked()...)
	c.activeTab = ""
	c.current = ""
	c.persistLocked()

	c.logger.Info("job finished", "job_id", jobID, "status", status)
	return tabs, true
}

// retireHelpersLocked moves the helper tabs of the current job to retired
// and returns them. Caller must hold c.mu.
func (c *Coordinator) retireHelpersLocked() []models.TabID {
	helpers := c.helperTabs
	for _, tab := range helpers {
		c.retired[tab] = struct{}{}
	}
	c.helperTabs = nil
	return helpers
}

// HandleJobListFound enqueues discovered jobs and advances the queue.
func (c *Coordinator) HandleJobListFound(ctx context.Context, jobs []models.RawJob) int {
	c.mu.Lock()
	inserted := c.queue.EnqueueDiscovered(jobs)
	c.persistLocked()
	c.mu.Unlock()

	c.logger.Info("jobs found", "received", len(jobs), "queued", inserted)

	c.ProcessNext(ctx)
	return inserted
}

// FetchJobs opens one search result tab per query, enabled platform and
// page. Open failures are collected and the remaining tabs still open.
func (c *Coordinator) FetchJobs(ctx context.Context) error {
	s := c.settings.Get()
	pages := max(s.MaxSearchPages, 1)

	var errs []error
	opened := 0
	for _, q := range s.Queries {
		if strings.TrimSpace(q.Search) == "" {
			continue
		}
		for _, platform := range []models.Platform{models.PlatformIndeed, models.PlatformLinkedIn} {
			if !s.Platforms.Enabled(platform) {
				continue
			}
			for page := 0; page < pages; page++ {
				target := SearchURL(platform, q, page)
				if _, err := c.browser.OpenTab(ctx, target, !s.RunInBackground); err != nil {
					errs = append(errs, fmt.Errorf("open %s: %w", target, err))
					continue
				}
				opened++
			}
		}
	}

	c.logger.Info("fetching jobs", "queries", len(s.Queries), "tabs_opened", opened, "errors", len(errs))
	return errors.Join(errs...)
}

// SearchURL builds the search result URL for one query page.
func SearchURL(platform models.Platform, q models.SearchQuery, page int) string {
	search := url.QueryEscape(strings.TrimSpace(q.Search))
	location := url.QueryEscape(strings.TrimSpace(q.Location))
	switch platform {
	case models.PlatformLinkedIn:
		return fmt.Sprintf("https://www.linkedin.com/jobs/search/?keywords=%s&location=%s&start=%d&bot=true", search, location, page*25)
	default:
		return fmt.Sprintf("https://www.indeed.com/jobs?q=%s&l=%s&start=%d&bot=true", search, location, page*10)
	}
}

// ClearCache empties the queue, drops the current job and zeroes the
// counters. Settings are kept.
func (c *Coordinator) ClearCache(_ context.Context) bool {
	c.mu.Lock()
	c.clearTimeoutLocked()
	c.queue.Clear()
	c.retireHelpersLocked()
	c.current = ""
	c.activeTab = ""
	c.persistLocked()
	c.mu.Unlock()

	c.logger.Info("cleared job queue and stats")
	return true
}

// Stats returns the counters, queue and tab snapshot.
func (c *Coordinator) Stats() models.StatsSnapshot {
	c.mu.Lock()
	snap := models.StatsSnapshot{
		Stats:     c.queue.Stats(),
		QueueSize: c.queue.Len(),
		Pending:   c.queue.PendingCount(),
		IsRunning: c.running,
		JobQueue:  c.queue.Records(),
	}
	if c.current != "" {
		if rec, ok := c.queue.Get(c.current); ok {
			snap.CurrentJob = &rec
		}
	}
	c.mu.Unlock()

	snap.Tabs = c.tabs.List()

	snap.Runtime = c.metrics.Snapshot()
	return snap
}

// CurrentJob returns the job being processed.
func (c *Coordinator) CurrentJob() (models.JobRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return models.JobRecord{}, false
	}
	return c.queue.Get(c.current)
}

// ActiveTab returns the tab responsible for the current job.
func (c *Coordinator) ActiveTab() models.TabID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTab
}

// Close stops the job timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearTimeoutLocked()
}

// armTimeoutLocked replaces the job timer. Caller must hold c.mu.
func (c *Coordinator) armTimeoutLocked(jobID string) {
	c.clearTimeoutLocked()
	gen := c.timerGen
	c.timer = time.AfterFunc(c.timeout, func() {
		_ = c.report(context.Background(), statusReport{
			status:   models.JobStatusFailed,
			message:  MsgTimeout,
			jobID:    jobID,
			timer:    true,
			timerGen: gen,
		})
	})
}

// clearTimeoutLocked stops the job timer and invalidates any fire already
// in flight. Caller must hold c.mu.
func (c *Coordinator) clearTimeoutLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Coordinator) closeTab(ctx context.Context, tab models.TabID) {
	if err := c.browser.CloseTab(ctx, tab); err != nil {
		c.logger.Warn("failed to close tab", "tab_id", tab, "error", err)
	}
}

func (c *Coordinator) persist() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistLocked()
}

// persistLocked schedules a write of the full state. Caller must hold c.mu.
func (c *Coordinator) persistLocked() {
	if c.persister == nil {
		return
	}
	settings := c.settings.Get()
	state := models.PersistedState{
		JobQueue: c.queue.Records(),
		Config:   &settings,
	}
	if c.current != "" {
		if rec, ok := c.queue.Get(c.current); ok {
			state.CurrentJob = &rec
		}
	}
	c.persister.Schedule(state)
}
