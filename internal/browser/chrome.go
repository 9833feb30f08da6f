// Package browser drives Chrome over the DevTools protocol: it opens,
// closes and focuses tabs and streams page lifecycle events.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/service"
)

// Options select how Chrome is reached.
type Options struct {
	// RemoteURL is a DevTools websocket URL of a running Chrome. When empty
	// a local Chrome is launched.
	RemoteURL   string
	Headless    bool
	UserDataDir string
}

const releaseTimeout = time.Second

// EventKind distinguishes page events.
type EventKind int

const (
	// PageUpdated is sent when a page tab is created or navigates.
	PageUpdated EventKind = iota
	// PageClosed is sent when a page tab goes away.
	PageClosed
)

// Event is a page lifecycle notification.
type Event struct {
	Kind EventKind
	Tab  models.TabID
	URL  string
}

// Chrome is a connected browser.
type Chrome struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	events        chan Event
	logger        *slog.Logger
}

// New connects to (or launches) Chrome and starts watching targets.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Chrome, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		events:        make(chan Event, 256),
		logger:        logger,
	}

	if err := chromedp.Run(browserCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	chromedp.ListenBrowser(browserCtx, func(ev any) {
		e, ok := translate(ev)
		if !ok {
			return
		}
		select {
		case c.events <- e:
		default:
			c.logger.Warn("dropping browser event, consumer too slow", "tab_id", e.Tab, "kind", e.Kind)
		}
	})

	if err := c.browserDo(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(ctx)
	}); err != nil {
		c.Close()
		return nil, fmt.Errorf("discover targets: %w", err)
	}

	logger.Info("browser connected", "remote", opts.RemoteURL != "", "headless", opts.Headless)
	return c, nil
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out, chromedp.Flag("headless", opts.Headless))
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}
	return out
}

// translate maps target events of page targets to Events.
func translate(ev any) (Event, bool) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo == nil || e.TargetInfo.Type != "page" {
			return Event{}, false
		}
		return Event{Kind: PageUpdated, Tab: models.TabID(e.TargetInfo.TargetID), URL: e.TargetInfo.URL}, true
	case *target.EventTargetInfoChanged:
		if e.TargetInfo == nil || e.TargetInfo.Type != "page" {
			return Event{}, false
		}
		return Event{Kind: PageUpdated, Tab: models.TabID(e.TargetInfo.TargetID), URL: e.TargetInfo.URL}, true
	case *target.EventTargetDestroyed:
		return Event{Kind: PageClosed, Tab: models.TabID(e.TargetID)}, true
	}
	return Event{}, false
}

// browserDo runs fn against the browser-level executor.
func (c *Chrome) browserDo(fn func(ctx context.Context) error) error {
	return chromedp.Run(c.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return fn(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
	}))
}

// OpenTab creates a tab at url. active=false opens it in the background.
func (c *Chrome) OpenTab(ctx context.Context, url string, active bool) (models.TabID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var id target.ID
	err := c.browserDo(func(ctx context.Context) error {
		var err error
		id, err = target.CreateTarget(url).WithBackground(!active).Do(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create tab: %w", err)
	}
	c.logger.Debug("opened tab", "tab_id", id, "url", url, "active", active)
	return models.TabID(id), nil
}

// CloseTab closes the tab.
func (c *Chrome) CloseTab(ctx context.Context, tab models.TabID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.browserDo(func(ctx context.Context) error {
		return target.CloseTarget(target.ID(tab)).Do(ctx)
	})
	return tabError("close tab", tab, err)
}

// ActivateTab brings the tab to the foreground.
func (c *Chrome) ActivateTab(ctx context.Context, tab models.TabID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.browserDo(func(ctx context.Context) error {
		return target.ActivateTarget(target.ID(tab)).Do(ctx)
	})
	return tabError("activate tab", tab, err)
}

func tabError(op string, tab models.TabID, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "no target with given id") {
		return fmt.Errorf("%s %s: %w", op, tab, service.ErrTabNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, tab, err)
}

// Attach returns a chromedp context bound to an existing tab and a func
// that releases it. Releasing leaves the tab open.
func (c *Chrome) Attach(tab models.TabID) (context.Context, context.CancelFunc) {
	ctx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(target.ID(tab)))
	return ctx, func() { c.release(ctx, cancel) }
}

// release detaches the session of an attached context, then cancels it.
// chromedp closes the target of a canceled context unless the target is
// cleared first.
func (c *Chrome) release(ctx context.Context, cancel context.CancelFunc) {
	if cc := chromedp.FromContext(ctx); cc != nil && cc.Target != nil {
		if id := cc.Target.SessionID; id != "" && cc.Browser != nil {
			dctx, done := context.WithTimeout(context.Background(), releaseTimeout)
			if err := target.DetachFromTarget().WithSessionID(id).Do(cdp.WithExecutor(dctx, cc.Browser)); err != nil {
				c.logger.Debug("detach from tab failed", "tab_id", cc.Target.TargetID, "error", err)
			}
			done()
		}
		cc.Target = nil
	}
	cancel()
}

// Events streams page lifecycle events.
func (c *Chrome) Events() <-chan Event {
	return c.events
}

// Close disconnects from the browser. A launched browser is shut down.
func (c *Chrome) Close() {
	c.browserCancel()
	c.allocCancel()
}
