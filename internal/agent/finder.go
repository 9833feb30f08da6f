package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const indeedJobCards = "#mosaic-provider-jobcards"

const indeedJobCardsJS = `Array.from(document.querySelectorAll("#mosaic-provider-jobcards ul li"))
  .map(li => {
    const title = li.querySelector("h2.jobTitle span");
    const link = li.querySelector("a.jcs-JobTitle");
    if (!title || !link) return null;
    return {title: title.innerText, jobUrl: link.href, id: link.getAttribute("data-jk") || ""};
  })
  .filter(Boolean)`

// IndeedFinder collects the job cards of an Indeed search result page.
type IndeedFinder struct {
	// Settle is waited before scanning so late cards render.
	Settle time.Duration
}

// Run scans the job cards and sends them as JOB_LIST_FOUND.
func (f IndeedFinder) Run(ctx context.Context, env Env) error {
	if err := sleep(ctx, f.Settle); err != nil {
		return err
	}
	env.Logger.Info("scanning for jobs", "tab_id", env.Tab, "url", env.URL)

	if err := env.Page.WaitVisible(ctx, indeedJobCards); err != nil {
		return fmt.Errorf("wait for job cards: %w", err)
	}

	var jobs []models.RawJob
	if err := env.Page.Evaluate(ctx, indeedJobCardsJS, &jobs); err != nil {
		return fmt.Errorf("read job cards: %w", err)
	}
	env.Logger.Info("found jobs", "tab_id", env.Tab, "count", len(jobs))

	if err := env.Bus.Send(ctx, env.Tab, models.MsgJobListFound, models.JobListPayload{Jobs: jobs}, nil); err != nil {
		return fmt.Errorf("send job list: %w", err)
	}
	return nil
}
