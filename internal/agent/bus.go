package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// Bus sends one message to the orchestrator on behalf of a tab and decodes
// the response data into out (may be nil).
type Bus interface {
	Send(ctx context.Context, from models.TabID, t models.MessageType, payload, out any) error
}

// Page is the DOM surface adapters drive. Every call acts on the tab
// carried by ctx.
type Page interface {
	WaitVisible(ctx context.Context, sel string) error
	Text(ctx context.Context, sel string) (string, error)
	Click(ctx context.Context, sel string) error
	SetValue(ctx context.Context, sel, value string) error
	Evaluate(ctx context.Context, js string, out any) error
}

// Env is what an adapter run gets to work with.
type Env struct {
	Tab      models.TabID
	URL      string
	Platform models.Platform
	// Step counts consecutive runs of the same role in this tab, from 1.
	Step   int
	Page   Page
	Bus    Bus
	Logger *slog.Logger
	// Submitted is shared by the runs of one form in one tab and set once
	// the application was reported completed. Nil means untracked.
	Submitted *atomic.Bool
}

// Adapter runs the automation for one page load.
type Adapter interface {
	Run(ctx context.Context, env Env) error
}

const answerAttempts = 3

func (e Env) reportStatus(ctx context.Context, status models.JobStatus, message string) error {
	return e.Bus.Send(ctx, e.Tab, models.MsgReportJobStatus, models.ReportStatusPayload{
		Status:  string(status),
		Message: message,
	}, nil)
}

// reportFailure reports failed with err as the message. It uses a fresh
// context so a canceled adapter can still report.
func (e Env) reportFailure(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if rerr := e.reportStatus(rctx, models.JobStatusFailed, err.Error()); rerr != nil {
		e.Logger.Warn("failed to report job failure", "tab_id", e.Tab, "error", rerr)
	}
}

func (e Env) settings(ctx context.Context) (models.Settings, error) {
	var s models.Settings
	if err := e.Bus.Send(ctx, e.Tab, models.MsgGetConfig, nil, &s); err != nil {
		return models.Settings{}, fmt.Errorf("get config: %w", err)
	}
	return s, nil
}

func (e Env) ask(ctx context.Context, prompt string) (string, error) {
	var answer string
	if err := e.Bus.Send(ctx, e.Tab, models.MsgProxyPrompt, models.PromptPayload{Prompt: prompt}, &answer); err != nil {
		return "", fmt.Errorf("ask assistant: %w", err)
	}
	return answer, nil
}

// askJSON asks until the answer decodes into out, at most answerAttempts
// times. Only malformed answers are retried.
func (e Env) askJSON(ctx context.Context, prompt string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= answerAttempts; attempt++ {
		answer, err := e.ask(ctx, prompt)
		if err != nil {
			return err
		}
		lastErr = DecodeAnswer(answer, out)
		if lastErr == nil {
			return nil
		}
		e.Logger.Warn("malformed assistant answer", "tab_id", e.Tab, "attempt", attempt, "error", lastErr)
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
