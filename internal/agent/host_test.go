package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/jobpilot/internal/browser"
	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/service"
)

type fakePages struct {
	mu       sync.Mutex
	events   chan browser.Event
	attached map[models.TabID]int
	released map[models.TabID]int
}

func newFakePages() *fakePages {
	return &fakePages{
		events:   make(chan browser.Event, 16),
		attached: make(map[models.TabID]int),
		released: make(map[models.TabID]int),
	}
}

func (p *fakePages) Attach(tab models.TabID) (context.Context, context.CancelFunc) {
	p.mu.Lock()
	p.attached[tab]++
	p.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	return ctx, func() {
		cancel()
		p.mu.Lock()
		p.released[tab]++
		p.mu.Unlock()
	}
}

func (p *fakePages) Events() <-chan browser.Event { return p.events }

func (p *fakePages) counts(tab models.TabID) (attached, released int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached[tab], p.released[tab]
}

// recordingAdapter records runs and blocks until canceled when block is set.
type recordingAdapter struct {
	mu    sync.Mutex
	runs  []Env
	ended []error
	block bool
}

func (a *recordingAdapter) Run(ctx context.Context, env Env) error {
	a.mu.Lock()
	a.runs = append(a.runs, env)
	a.mu.Unlock()
	var err error
	if a.block {
		<-ctx.Done()
		err = ctx.Err()
	}
	a.mu.Lock()
	a.ended = append(a.ended, err)
	a.mu.Unlock()
	return err
}

func (a *recordingAdapter) Runs() []Env {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Env(nil), a.runs...)
}

func (a *recordingAdapter) Ended() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.ended...)
}

type hostHarness struct {
	host  *Host
	pages *fakePages
	bus   *fakeBus
	page  *fakePage
}

func newHostHarness(t *testing.T) *hostHarness {
	t.Helper()
	pages := newFakePages()
	bus := newFakeBus()
	page := &fakePage{}
	host := NewHost(pages, page, bus, discardLogger())
	t.Cleanup(host.Close)
	return &hostHarness{host: host, pages: pages, bus: bus, page: page}
}

func (h *hostHarness) update(tab models.TabID, url string) {
	h.host.Handle(context.Background(), browser.Event{Kind: browser.PageUpdated, Tab: tab, URL: url})
}

func TestHostRegistersAndRunsAdapter(t *testing.T) {
	h := newHostHarness(t)
	finder := &recordingAdapter{}
	h.host.SetAdapter(models.RoleFinder, models.PlatformIndeed, finder)

	h.update("t1", "https://www.indeed.com/jobs?q=go&start=0&bot=true")

	sent := h.bus.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.MsgRegisterTab, sent[0].Type)
	assert.Equal(t, models.TabID("t1"), sent[0].From)
	assert.Equal(t, models.RegisterTabPayload{Role: "FINDER", Platform: models.PlatformIndeed}, sent[0].Payload)

	require.Eventually(t, func() bool { return len(finder.Runs()) == 1 }, time.Second, 5*time.Millisecond)
	env := finder.Runs()[0]
	assert.Equal(t, 1, env.Step)
	assert.Equal(t, models.PlatformIndeed, env.Platform)
	assert.True(t, h.host.Has("t1"))
}

func TestHostNavigationRestartsAdapter(t *testing.T) {
	h := newHostHarness(t)
	analyzer := &recordingAdapter{block: true}
	filler := &recordingAdapter{}
	h.host.SetAdapter(models.RoleAnalyzer, models.PlatformIndeed, analyzer)
	h.host.SetAdapter(models.RoleFormFiller, models.PlatformIndeed, filler)

	h.update("t1", "https://www.indeed.com/viewjob?jk=a")
	require.Eventually(t, func() bool { return len(analyzer.Runs()) == 1 }, time.Second, 5*time.Millisecond)

	h.update("t1", "https://smartapply.indeed.com/beta/indeedapply/form/contact-info")

	require.Eventually(t, func() bool { return len(analyzer.Ended()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, analyzer.Ended()[0], context.Canceled)
	require.Eventually(t, func() bool { return len(filler.Runs()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, h.bus.count(models.MsgRegisterTab), "role change registers again")
	attached, _ := h.pages.counts("t1")
	assert.Equal(t, 1, attached, "tab attached once")
}

func TestHostSameRoleCountsSteps(t *testing.T) {
	h := newHostHarness(t)
	filler := &recordingAdapter{}
	h.host.SetAdapter(models.RoleFormFiller, models.PlatformIndeed, filler)

	h.update("t1", "https://smartapply.indeed.com/beta/indeedapply/form/contact-info")
	h.update("t1", "https://smartapply.indeed.com/beta/indeedapply/form/questions/1")
	h.update("t1", "https://smartapply.indeed.com/beta/indeedapply/form/questions/1")
	h.update("t1", "https://smartapply.indeed.com/beta/indeedapply/form/review-module")

	require.Eventually(t, func() bool { return len(filler.Runs()) == 3 }, time.Second, 5*time.Millisecond)
	var steps []int
	for _, env := range filler.Runs() {
		steps = append(steps, env.Step)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, steps)
	assert.Equal(t, 1, h.bus.count(models.MsgRegisterTab))
}

func TestHostUnknownPageKeepsTabOpen(t *testing.T) {
	h := newHostHarness(t)
	analyzer := &recordingAdapter{block: true}
	h.host.SetAdapter(models.RoleAnalyzer, models.PlatformIndeed, analyzer)

	h.update("t1", "https://example.com/")
	assert.False(t, h.host.Has("t1"))
	assert.Empty(t, h.bus.Sent())
	attached, _ := h.pages.counts("t1")
	assert.Zero(t, attached, "pages without a role are not attached")

	h.update("t1", "https://www.indeed.com/viewjob?jk=a")
	require.Eventually(t, func() bool { return len(analyzer.Runs()) == 1 }, time.Second, 5*time.Millisecond)

	// an employer login page interrupts the job
	h.update("t1", "https://careers.example.com/login")
	require.Eventually(t, func() bool { return len(analyzer.Ended()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.host.Has("t1"))
	attached, released := h.pages.counts("t1")
	assert.Equal(t, 1, attached)
	assert.Zero(t, released, "the tab stays attached and open")

	h.update("t1", "https://www.indeed.com/viewjob?jk=a")
	require.Eventually(t, func() bool { return len(analyzer.Runs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.bus.count(models.MsgRegisterTab))
	attached, _ = h.pages.counts("t1")
	assert.Equal(t, 1, attached)
}

func TestHostFormTabReportsCompletedOnce(t *testing.T) {
	h := newHostHarness(t)
	h.bus.on(models.MsgGetConfig, configWithResume(""))
	h.page.eval = func(string) (any, error) {
		return ParsedForm{Continue: `button[data-testid="submit-application-button"]`}, nil
	}
	h.host.SetAdapter(models.RoleFormFiller, models.PlatformIndeed, IndeedFormFiller{})

	h.update("form", "https://smartapply.indeed.com/beta/indeedapply/form/review-module")
	require.Eventually(t, func() bool { return len(h.bus.statuses()) == 1 }, time.Second, 5*time.Millisecond)

	h.update("form", "https://smartapply.indeed.com/beta/indeedapply/form/post-apply")
	// the post-apply run ends without sending anything
	require.Never(t, func() bool { return len(h.bus.statuses()) > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{"completed"}, h.bus.statuses())
}

func TestHostAssistantTabRegistersWithoutAdapter(t *testing.T) {
	h := newHostHarness(t)

	h.update("chat", "https://chatgpt.com/?temporary-chat=true&bot=true")

	sent := h.bus.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.RegisterTabPayload{Role: "ASSISTANT"}, sent[0].Payload)
	assert.True(t, h.host.Has("chat"))
}

func TestHostPageClosed(t *testing.T) {
	h := newHostHarness(t)
	analyzer := &recordingAdapter{block: true}
	h.host.SetAdapter(models.RoleAnalyzer, models.PlatformIndeed, analyzer)

	h.update("t1", "https://www.indeed.com/viewjob?jk=a")
	require.Eventually(t, func() bool { return len(analyzer.Runs()) == 1 }, time.Second, 5*time.Millisecond)

	h.host.Handle(context.Background(), browser.Event{Kind: browser.PageClosed, Tab: "t1"})
	h.host.Handle(context.Background(), browser.Event{Kind: browser.PageClosed, Tab: "unknown"})

	require.Eventually(t, func() bool { return len(analyzer.Ended()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.host.Has("t1"))
	assert.Equal(t, 2, h.bus.count(models.MsgTabClosed), "every destroyed page is reported")
	_, released := h.pages.counts("t1")
	assert.Equal(t, 1, released)
}

func TestHostPrompt(t *testing.T) {
	h := newHostHarness(t)
	h.host.SetChat(ChatAssistant{ReadAttempts: 1})
	h.page.eval = func(js string) (any, error) {
		if js == chatLastAnswerJS {
			return `{"match": true}`, nil
		}
		return true, nil
	}

	h.update("chat", "https://chatgpt.com/")
	h.update("t1", "https://www.indeed.com/viewjob?jk=a")

	answer, err := h.host.Prompt(context.Background(), "chat", "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"match": true}`, answer)

	tests := []struct {
		name string
		tab  models.TabID
	}{
		{"not an assistant", "t1"},
		{"unknown", "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.host.Prompt(context.Background(), tt.tab, "hello")
			assert.ErrorIs(t, err, service.ErrTabNotFound)
		})
	}
}

func TestHostPromptCanceled(t *testing.T) {
	h := newHostHarness(t)
	h.page.eval = func(string) (any, error) { return true, nil }
	h.update("chat", "https://chatgpt.com/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.host.Prompt(ctx, "chat", "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHostRunStopsOnClosedStream(t *testing.T) {
	h := newHostHarness(t)
	finder := &recordingAdapter{}
	h.host.SetAdapter(models.RoleFinder, models.PlatformIndeed, finder)

	h.pages.events <- browser.Event{Kind: browser.PageUpdated, Tab: "t1", URL: "https://www.indeed.com/jobs?q=go"}
	close(h.pages.events)

	require.NoError(t, h.host.Run(context.Background()))
	assert.Len(t, finder.Runs(), 1)
	assert.False(t, h.host.Has("t1"), "run closes the host")
}
