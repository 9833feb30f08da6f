package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const (
	indeedDescription   = "#jobDescriptionText"
	indeedApplyButtonJS = `(() => { const b = document.querySelector("#indeedApplyButton") || document.querySelector("#applyButtonLinkContainer button"); if (!b) return false; b.click(); return true; })()`
	maxDescriptionRunes = 2000
)

// IndeedAnalyzer decides whether to apply to the job on an Indeed job page.
type IndeedAnalyzer struct {
	Settle time.Duration
}

// Run reports analyzing, asks the assistant for a decision and reports
// applying (then clicks apply) or skipped. Any error reports failed.
func (a IndeedAnalyzer) Run(ctx context.Context, env Env) error {
	if err := sleep(ctx, a.Settle); err != nil {
		return err
	}
	err := a.analyze(ctx, env)
	if err != nil {
		env.Logger.Error("failed to analyze job", "tab_id", env.Tab, "error", err)
		env.reportFailure(ctx, err)
	}
	return err
}

func (a IndeedAnalyzer) analyze(ctx context.Context, env Env) error {
	env.Logger.Info("analyzing job", "tab_id", env.Tab, "url", env.URL)
	if err := env.reportStatus(ctx, models.JobStatusAnalyzing, ""); err != nil {
		return fmt.Errorf("report analyzing: %w", err)
	}

	settings, err := env.settings(ctx)
	if err != nil {
		return err
	}

	if err := env.Page.WaitVisible(ctx, indeedDescription); err != nil {
		return fmt.Errorf("wait for description: %w", err)
	}
	description, err := env.Page.Text(ctx, indeedDescription)
	if err != nil {
		return fmt.Errorf("read description: %w", err)
	}

	var decision Decision
	if err := env.askJSON(ctx, analyzePrompt(settings.ResumeText, description), &decision); err != nil {
		return err
	}

	if !decision.Match {
		env.Logger.Info("decided not to apply", "tab_id", env.Tab, "reason", decision.Reason)
		return env.reportStatus(ctx, models.JobStatusSkipped, decision.Reason)
	}

	env.Logger.Info("applying for job", "tab_id", env.Tab, "reason", decision.Reason)
	if err := env.reportStatus(ctx, models.JobStatusApplying, decision.Reason); err != nil {
		return fmt.Errorf("report applying: %w", err)
	}

	var clicked bool
	if err := env.Page.Evaluate(ctx, indeedApplyButtonJS, &clicked); err != nil {
		return fmt.Errorf("click apply: %w", err)
	}
	if !clicked {
		return fmt.Errorf("no apply button on page")
	}
	return nil
}

func analyzePrompt(resume, description string) string {
	return fmt.Sprintf(`My resume:
%s

Analyze this job description:
%s

Should I apply? Return strictly JSON: {"match": true/false, "reason": "small reason"} in a code block.`,
		resume, truncateRunes(description, maxDescriptionRunes))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "... (truncated)"
}
