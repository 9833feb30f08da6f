package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/browser"
	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/service"
)

// Pages is the browser surface the host needs. The func returned by Attach
// releases the tab and must leave it open.
type Pages interface {
	Attach(tab models.TabID) (context.Context, context.CancelFunc)
	Events() <-chan browser.Event
}

type adapterKey struct {
	role     models.Role
	platform models.Platform
}

type hostedTab struct {
	role     models.Role
	platform models.Platform
	url      string
	step     int

	ctx       context.Context
	release   context.CancelFunc
	cancelRun context.CancelFunc

	submitted atomic.Bool
	promptMu  sync.Mutex
}

// Host gives every page tab its role: it registers the tab and runs the
// matching adapter, restarting it when the tab navigates.
type Host struct {
	pages    Pages
	page     Page
	bus      Bus
	chat     ChatAssistant
	adapters map[adapterKey]Adapter
	logger   *slog.Logger

	mu   sync.Mutex
	tabs map[models.TabID]*hostedTab
	wg   sync.WaitGroup
}

// NewHost creates a host with the Indeed adapters.
func NewHost(pages Pages, page Page, bus Bus, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		pages: pages,
		page:  page,
		bus:   bus,
		chat:  NewChatAssistant(),
		adapters: map[adapterKey]Adapter{
			{models.RoleFinder, models.PlatformIndeed}:     IndeedFinder{Settle: 3 * time.Second},
			{models.RoleAnalyzer, models.PlatformIndeed}:   IndeedAnalyzer{Settle: 3 * time.Second},
			{models.RoleFormFiller, models.PlatformIndeed}: IndeedFormFiller{Settle: 2 * time.Second},
		},
		logger: logger,
		tabs:   make(map[models.TabID]*hostedTab),
	}
}

// SetAdapter installs the adapter run for role on platform.
func (h *Host) SetAdapter(role models.Role, platform models.Platform, a Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[adapterKey{role, platform}] = a
}

// SetChat replaces the chat page driver.
func (h *Host) SetChat(chat ChatAssistant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chat = chat
}

// Run consumes browser events until ctx is done or the stream ends.
func (h *Host) Run(ctx context.Context) error {
	defer h.Close()
	events := h.pages.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.Handle(ctx, ev)
		}
	}
}

// Handle applies one browser event.
func (h *Host) Handle(ctx context.Context, ev browser.Event) {
	switch ev.Kind {
	case browser.PageUpdated:
		h.pageUpdated(ctx, ev.Tab, ev.URL)
	case browser.PageClosed:
		h.pageClosed(ctx, ev.Tab)
	}
}

func (h *Host) pageUpdated(ctx context.Context, tab models.TabID, url string) {
	role, platform, ok := DetectRole(url)

	h.mu.Lock()
	t := h.tabs[tab]
	if t != nil && t.url == url {
		h.mu.Unlock()
		return
	}
	if !ok {
		// the tab left the automated pages; it stays open and attached
		// in case it comes back
		if t != nil {
			t.stopRun()
			t.role, t.platform, t.url = "", "", url
		}
		h.mu.Unlock()
		return
	}
	if t == nil {
		tctx, release := h.pages.Attach(tab)
		t = &hostedTab{ctx: tctx, release: release}
		h.tabs[tab] = t
	}

	t.stopRun()
	sameRole := t.role == role && t.platform == platform
	if sameRole {
		t.step++
	} else {
		t.step = 1
		t.submitted.Store(false)
	}
	t.role, t.platform, t.url = role, platform, url
	step := t.step
	adapter, hasAdapter := h.adapters[adapterKey{role, platform}]

	var runCtx context.Context
	if role != models.RoleAssistant && hasAdapter {
		runCtx, t.cancelRun = context.WithCancel(t.ctx)
	}
	h.mu.Unlock()

	if !sameRole {
		var registered bool
		err := h.bus.Send(ctx, tab, models.MsgRegisterTab, models.RegisterTabPayload{
			Role:     string(role),
			Platform: platform,
		}, &registered)
		if err != nil {
			h.logger.Warn("failed to register tab", "tab_id", tab, "role", role, "error", err)
		}
	}

	if runCtx == nil {
		if role != models.RoleAssistant {
			h.logger.Debug("no adapter for page", "tab_id", tab, "role", role, "platform", platform)
		}
		return
	}

	env := Env{
		Tab:      tab,
		URL:      url,
		Platform: platform,
		Step:     step,
		Page:     h.page,
		Bus:      h.bus,
		Logger:   h.logger.With("role", string(role)),
	}
	if role == models.RoleFormFiller {
		env.Submitted = &t.submitted
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := adapter.Run(runCtx, env); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("adapter finished with error", "tab_id", tab, "role", role, "error", err)
		}
	}()
}

func (h *Host) pageClosed(ctx context.Context, tab models.TabID) {
	h.mu.Lock()
	t := h.tabs[tab]
	delete(h.tabs, tab)
	if t != nil {
		t.stop()
	}
	h.mu.Unlock()

	if err := h.bus.Send(ctx, tab, models.MsgTabClosed, nil, nil); err != nil {
		h.logger.Warn("failed to report closed tab", "tab_id", tab, "error", err)
	}
}

// stopRun cancels the running adapter, if any. Caller must hold h.mu.
func (t *hostedTab) stopRun() {
	if t.cancelRun != nil {
		t.cancelRun()
		t.cancelRun = nil
	}
}

// stop cancels the adapter and releases the tab without closing it.
// Caller must hold h.mu.
func (t *hostedTab) stop() {
	t.stopRun()
	t.release()
}

// Prompt sends prompt to the chat page in an assistant tab. Prompts to the
// same tab are serialized.
func (h *Host) Prompt(ctx context.Context, tab models.TabID, prompt string) (string, error) {
	h.mu.Lock()
	t := h.tabs[tab]
	isAssistant := t != nil && t.role == models.RoleAssistant
	chat := h.chat
	h.mu.Unlock()
	if !isAssistant {
		return "", fmt.Errorf("assistant tab %s: %w", tab, service.ErrTabNotFound)
	}

	t.promptMu.Lock()
	defer t.promptMu.Unlock()

	pctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	answer, err := chat.Ask(pctx, h.page, prompt, h.logger.With("tab_id", string(tab)))
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	return answer, err
}

// Has reports whether the host drives tab.
func (h *Host) Has(tab models.TabID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[tab]
	return ok && t.role != ""
}

// Close stops every adapter and waits for them to return.
func (h *Host) Close() {
	h.mu.Lock()
	for id, t := range h.tabs {
		t.stop()
		delete(h.tabs, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
