package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/metrics"
	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessenger answers prompts and tracks how many are in flight.
type fakeMessenger struct {
	mu       sync.Mutex
	browser  *fakeBrowser
	prompts  []string
	events   []string
	answer   string
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (m *fakeMessenger) Prompt(ctx context.Context, tab models.TabID, prompt string) (string, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	if m.browser != nil {
		m.events = append(m.events, "activated:"+joinTabs(m.browser.Activated()))
	}
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.err != nil {
		return "", m.err
	}
	if m.answer != "" {
		return m.answer, nil
	}
	return "answer to " + prompt, nil
}

func (m *fakeMessenger) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func joinTabs(tabs []models.TabID) string {
	s := ""
	for i, t := range tabs {
		if i > 0 {
			s += ","
		}
		s += string(t)
	}
	return s
}

type fakeLocal struct {
	endpoint, model, prompt string
	answer                  string
	err                     error
}

func (l *fakeLocal) Generate(_ context.Context, endpoint, model, prompt string) (string, error) {
	l.endpoint, l.model, l.prompt = endpoint, model, prompt
	return l.answer, l.err
}

type fakeGenerator struct {
	answer string
}

func (g fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return g.answer, nil
}

type gatewayHarness struct {
	g         *AssistantGateway
	tabs      *TabRegistry
	settings  *SettingsStore
	browser   *fakeBrowser
	messenger *fakeMessenger
	local     *fakeLocal
	metrics   *metrics.Collector
}

func newGatewayHarness(t *testing.T, mode models.AssistantMode) *gatewayHarness {
	t.Helper()
	browser := &fakeBrowser{}
	h := &gatewayHarness{
		tabs:      NewTabRegistry(),
		settings:  NewSettingsStore(),
		browser:   browser,
		messenger: &fakeMessenger{browser: browser},
		local:     &fakeLocal{answer: "local answer"},
		metrics:   metrics.NewCollector(),
	}
	h.settings.Restore(withMode(models.DefaultSettings(), mode))
	h.g = NewAssistantGateway(GatewayDeps{
		Tabs:      h.tabs,
		Settings:  h.settings,
		Browser:   browser,
		Messenger: h.messenger,
		Local:     h.local,
		Provider:  fakeGenerator{answer: "provider answer"},
		Metrics:   h.metrics,
		Logger:    testLogger(),
	})
	return h
}

func TestAskHostedWithoutAssistantTab(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)

	_, err := h.g.Ask(context.Background(), "hello", "")
	assert.ErrorIs(t, err, ErrNoAssistantTab)
	assert.Empty(t, h.messenger.Prompts())
	assert.Equal(t, int64(1), h.metrics.Snapshot().Operations[metrics.OpAssistantAsk].Errors)
}

func TestAskHostedFocusesAndRestores(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)
	h.tabs.Register("gpt", models.RoleAssistant, "")
	h.tabs.Register("job", models.RoleAnalyzer, models.PlatformIndeed)

	answer, err := h.g.Ask(context.Background(), "rate this job", "job")
	require.NoError(t, err)
	assert.Equal(t, "answer to rate this job", answer)

	assert.Equal(t, []models.TabID{"gpt", "job"}, h.browser.Activated())
	assert.Equal(t, []string{"activated:gpt"}, h.messenger.events, "assistant focused before the prompt")
}

func TestAskHostedCallerNotRestored(t *testing.T) {
	tests := []struct {
		name   string
		caller models.TabID
	}{
		{name: "no caller", caller: ""},
		{name: "caller is the assistant", caller: "gpt"},
		{name: "caller closed meanwhile", caller: "gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newGatewayHarness(t, models.AssistantHosted)
			h.tabs.Register("gpt", models.RoleAssistant, "")

			_, err := h.g.Ask(context.Background(), "p", tt.caller)
			require.NoError(t, err)
			assert.Equal(t, []models.TabID{"gpt"}, h.browser.Activated())
		})
	}
}

func TestAskHostedInBackground(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)
	background := true
	h.settings.Update(models.SettingsPatch{RunInBackground: &background})
	h.tabs.Register("gpt", models.RoleAssistant, "")
	h.tabs.Register("job", models.RoleAnalyzer, models.PlatformIndeed)

	_, err := h.g.Ask(context.Background(), "p", "job")
	require.NoError(t, err)
	assert.Empty(t, h.browser.Activated())
}

func TestAskHostedMessengerError(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)
	h.tabs.Register("gpt", models.RoleAssistant, "")
	h.tabs.Register("job", models.RoleAnalyzer, models.PlatformIndeed)
	h.messenger.err = errors.New("page crashed")

	_, err := h.g.Ask(context.Background(), "p", "job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page crashed")
	assert.Equal(t, []models.TabID{"gpt", "job"}, h.browser.Activated(), "caller restored on error")
}

func TestAskEmptyAnswer(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)
	h.tabs.Register("gpt", models.RoleAssistant, "")
	h.messenger.answer = "   \n"

	_, err := h.g.Ask(context.Background(), "p", "")
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestAskLocalMode(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantLocal)

	answer, err := h.g.Ask(context.Background(), "summarize", "")
	require.NoError(t, err)
	assert.Equal(t, "local answer", answer)
	assert.Equal(t, models.DefaultLocalEndpoint, h.local.endpoint)
	assert.Equal(t, models.DefaultLocalModel, h.local.model)
	assert.Equal(t, "summarize", h.local.prompt)
	assert.Empty(t, h.browser.Activated())
}

func TestAskLocalModeError(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantLocal)
	h.local.err = errors.New("connection refused")

	_, err := h.g.Ask(context.Background(), "p", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAskProviderMode(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantProvider)

	answer, err := h.g.Ask(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, "provider answer", answer)
}

func TestAskProviderNotConfigured(t *testing.T) {
	settings := NewSettingsStore()
	settings.Restore(withMode(models.DefaultSettings(), models.AssistantProvider))
	g := NewAssistantGateway(GatewayDeps{Tabs: NewTabRegistry(), Settings: settings, Logger: testLogger()})

	_, err := g.Ask(context.Background(), "p", "")
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestAskSerializesPrompts(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)
	h.tabs.Register("gpt", models.RoleAssistant, "")
	h.messenger.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.g.Ask(context.Background(), "p", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.messenger.Prompts(), 5)
	assert.Equal(t, int32(1), h.messenger.maxSeen.Load(), "never more than one prompt in flight")
}

func TestAskServesWaitersInOrder(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)
	h.tabs.Register("gpt", models.RoleAssistant, "")
	h.messenger.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for _, p := range []string{"first", "second", "third"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.g.Ask(context.Background(), p, "")
		}()
		// let each caller queue up before the next arrives
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []string{"first", "second", "third"}, h.messenger.Prompts())
}

func TestAskCanceledWhileWaiting(t *testing.T) {
	h := newGatewayHarness(t, models.AssistantHosted)
	h.tabs.Register("gpt", models.RoleAssistant, "")
	h.messenger.delay = 200 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.g.Ask(context.Background(), "slow", "")
	}()
	require.Eventually(t, func() bool { return len(h.messenger.Prompts()) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.g.Ask(ctx, "impatient", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	<-done
	assert.Equal(t, []string{"slow"}, h.messenger.Prompts())
}
