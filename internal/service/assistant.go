package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/raphaelgruber/jobpilot/internal/metrics"
	"github.com/raphaelgruber/jobpilot/internal/models"
)

// TabMessenger delivers a prompt to the page running in an assistant tab
// and returns the answer text.
type TabMessenger interface {
	Prompt(ctx context.Context, tab models.TabID, prompt string) (string, error)
}

// LocalGenerator calls a local generate endpoint.
type LocalGenerator interface {
	Generate(ctx context.Context, endpoint, model, prompt string) (string, error)
}

// Generator answers a prompt with a configured LLM provider.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AssistantGateway serializes prompts to the assistant. One request is in
// flight at a time; waiters are served in arrival order.
type AssistantGateway struct {
	slot      *semaphore.Weighted
	tabs      *TabRegistry
	settings  *SettingsStore
	browser   Browser
	messenger TabMessenger
	local     LocalGenerator
	provider  Generator
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// GatewayDeps are the collaborators of an AssistantGateway. Provider may be nil.
type GatewayDeps struct {
	Tabs      *TabRegistry
	Settings  *SettingsStore
	Browser   Browser
	Messenger TabMessenger
	Local     LocalGenerator
	Provider  Generator
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// NewAssistantGateway creates a gateway.
func NewAssistantGateway(deps GatewayDeps) *AssistantGateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistantGateway{
		slot:      semaphore.NewWeighted(1),
		tabs:      deps.Tabs,
		settings:  deps.Settings,
		browser:   deps.Browser,
		messenger: deps.Messenger,
		local:     deps.Local,
		provider:  deps.Provider,
		metrics:   deps.Metrics,
		logger:    logger,
	}
}

// Ask sends prompt to the configured assistant and returns its answer.
// callerTab, when set and still registered, is brought back to the
// foreground after a hosted prompt.
func (g *AssistantGateway) Ask(ctx context.Context, prompt string, callerTab models.TabID) (answer string, err error) {
	if err := g.slot.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for assistant: %w", err)
	}
	defer g.slot.Release(1)

	finish := g.metrics.Time(metrics.OpAssistantAsk)
	defer func() { finish(err) }()

	s := g.settings.Get()
	g.logger.Debug("assistant prompt", "mode", s.Assistant.Mode, "caller_tab", callerTab, "prompt_len", len(prompt))

	switch s.Assistant.Mode {
	case models.AssistantLocal:
		if g.local == nil {
			return "", fmt.Errorf("local assistant: %w", ErrProviderNotConfigured)
		}
		answer, err = g.local.Generate(ctx, s.Assistant.LocalEndpoint, s.Assistant.LocalModel, prompt)
		if err != nil {
			return "", fmt.Errorf("local assistant: %w", err)
		}

	case models.AssistantProvider:
		if g.provider == nil {
			return "", ErrProviderNotConfigured
		}
		answer, err = g.provider.Generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("provider assistant: %w", err)
		}

	default:
		answer, err = g.askHosted(ctx, s, prompt, callerTab)
		if err != nil {
			return "", err
		}
	}

	if strings.TrimSpace(answer) == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

func (g *AssistantGateway) askHosted(ctx context.Context, s models.Settings, prompt string, callerTab models.TabID) (string, error) {
	reg, ok := g.tabs.AssistantTab()
	if !ok {
		return "", ErrNoAssistantTab
	}
	if g.messenger == nil {
		return "", fmt.Errorf("hosted assistant: no tab messenger")
	}

	foreground := !s.RunInBackground && g.browser != nil
	if foreground {
		if err := g.browser.ActivateTab(ctx, reg.TabID); err != nil {
			g.logger.Warn("failed to focus assistant tab", "tab_id", reg.TabID, "error", err)
		}
	}

	answer, err := g.messenger.Prompt(ctx, reg.TabID, prompt)

	if foreground && callerTab != "" && callerTab != reg.TabID {
		if _, ok := g.tabs.Get(callerTab); ok {
			if aerr := g.browser.ActivateTab(ctx, callerTab); aerr != nil {
				g.logger.Warn("failed to restore caller tab", "tab_id", callerTab, "error", aerr)
			}
		}
	}

	if err != nil {
		return "", fmt.Errorf("hosted assistant: %w", err)
	}
	return answer, nil
}
