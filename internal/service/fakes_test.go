package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/metrics"
	"github.com/raphaelgruber/jobpilot/internal/models"
)

type openCall struct {
	URL    string
	Active bool
	Tab    models.TabID
}

type fakeBrowser struct {
	mu        sync.Mutex
	next      int
	opened    []openCall
	closed    []models.TabID
	activated []models.TabID
	openErr   error
	onOpen    func(tab models.TabID)
}

func (b *fakeBrowser) OpenTab(_ context.Context, url string, active bool) (models.TabID, error) {
	b.mu.Lock()
	if b.openErr != nil {
		err := b.openErr
		b.mu.Unlock()
		return "", err
	}
	b.next++
	tab := models.TabID(fmt.Sprintf("tab-%d", b.next))
	b.opened = append(b.opened, openCall{URL: url, Active: active, Tab: tab})
	hook := b.onOpen
	b.mu.Unlock()

	if hook != nil {
		hook(tab)
	}
	return tab, nil
}

func (b *fakeBrowser) CloseTab(_ context.Context, tab models.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, tab)
	return nil
}

func (b *fakeBrowser) ActivateTab(_ context.Context, tab models.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activated = append(b.activated, tab)
	return nil
}

func (b *fakeBrowser) Opened() []openCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]openCall(nil), b.opened...)
}

func (b *fakeBrowser) Closed() []models.TabID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.TabID(nil), b.closed...)
}

func (b *fakeBrowser) Activated() []models.TabID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.TabID(nil), b.activated...)
}

func (b *fakeBrowser) LastOpened() openCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.opened) == 0 {
		return openCall{}
	}
	return b.opened[len(b.opened)-1]
}

// recordingPersister keeps every scheduled snapshot.
type recordingPersister struct {
	mu     sync.Mutex
	states []models.PersistedState
}

func (p *recordingPersister) Schedule(state models.PersistedState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *recordingPersister) Last() (models.PersistedState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return models.PersistedState{}, false
	}
	return p.states[len(p.states)-1], true
}

func (p *recordingPersister) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

type staticLoader struct {
	state *models.PersistedState
	err   error
}

func (l staticLoader) Load(context.Context) (*models.PersistedState, error) {
	return l.state, l.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	c         *Coordinator
	browser   *fakeBrowser
	persister *recordingPersister
	metrics   *metrics.Collector
}

// newHarness builds a coordinator using the local assistant mode so that
// starting automation does not open an assistant tab.
func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	browser := &fakeBrowser{}
	persister := &recordingPersister{}
	mc := metrics.NewCollector()
	settings := NewSettingsStore()
	settings.Restore(withMode(models.DefaultSettings(), models.AssistantLocal))

	c := NewCoordinator(CoordinatorDeps{
		Browser:    browser,
		Tabs:       NewTabRegistry(),
		Settings:   settings,
		Persister:  persister,
		Metrics:    mc,
		Logger:     testLogger(),
		JobTimeout: timeout,
	})
	t.Cleanup(c.Close)

	return &harness{c: c, browser: browser, persister: persister, metrics: mc}
}

func withMode(s models.Settings, mode models.AssistantMode) models.Settings {
	s.Assistant.Mode = mode
	return s
}

func rawJobs(ids ...string) []models.RawJob {
	jobs := make([]models.RawJob, len(ids))
	for i, id := range ids {
		jobs[i] = models.RawJob{ID: id, Title: "Job " + id, JobURL: "https://www.indeed.com/viewjob?jk=" + id}
	}
	return jobs
}

func statusOf(t *testing.T, c *Coordinator, id string) models.JobStatus {
	t.Helper()
	for _, r := range c.Stats().JobQueue {
		if r.ID == id {
			return r.Status
		}
	}
	t.Fatalf("job %s not in queue", id)
	return ""
}

func activeCount(c *Coordinator) int {
	n := 0
	for _, r := range c.Stats().JobQueue {
		if r.Status.IsActive() {
			n++
		}
	}
	return n
}
