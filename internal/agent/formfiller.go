package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const (
	indeedFormRoot = "#ia-container"
	// MaxFormSteps bounds how many form pages one application may take.
	MaxFormSteps = 15
)

// Form pages that need no answers.
var skipAnswerPages = []string{"resume-selection-module", "form/review-module"}

// FormField is one control of an application form step.
type FormField struct {
	Selector string   `json:"selector"`
	Type     string   `json:"type"`
	Label    string   `json:"label,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// ParsedForm is the result of scanning a form step.
type ParsedForm struct {
	Fields   []FormField `json:"fields"`
	Continue string      `json:"continue"`
}

const parseFormJS = `(() => {
  const root = document.querySelector("#ia-container");
  if (!root) return {fields: [], continue: ""};
  const label = el => {
    const id = el.getAttribute("id");
    if (id) { const l = root.querySelector('label[for="' + id + '"]'); if (l && l.textContent.trim()) return l.textContent.trim(); }
    return el.getAttribute("aria-label") || el.getAttribute("placeholder") ||
      (el.closest("label") ? el.closest("label").textContent.trim() : "");
  };
  const selector = el => {
    const tag = el.tagName.toLowerCase();
    if (el.id) return tag + "#" + CSS.escape(el.id);
    if (el.name) return tag + '[name="' + el.name + '"]';
    return "";
  };
  const fields = [];
  root.querySelectorAll("input, textarea, select").forEach(el => {
    const t = el.tagName.toLowerCase() === "input" ? (el.type || "text") : el.tagName.toLowerCase();
    if (t === "hidden" || t === "submit" || t === "file") return;
    const sel = t === "radio" ? "" : selector(el);
    if (!sel && t !== "radio") return;
    if (t === "radio") {
      const s = 'input[name="' + el.name + '"][value="' + el.value + '"]';
      fields.push({selector: s, type: t, label: label(el)});
      return;
    }
    const f = {selector: sel, type: t === "select" ? "select" : (t === "textarea" ? "textarea" : (t === "checkbox" ? "checkbox" : "input")), label: label(el)};
    if (t === "select") f.options = Array.from(el.options).map(o => o.value).filter(Boolean);
    fields.push(f);
  });
  const words = ["continue", "apply anyway", "submit your application", "submit application", "review", "next"];
  let cont = "";
  root.querySelectorAll("button").forEach(b => {
    if (cont) return;
    const txt = (b.textContent || "").trim().toLowerCase();
    const style = window.getComputedStyle(b);
    if (style.display === "none" || style.visibility === "hidden") return;
    if (b.dataset.testid) { if (words.some(w => txt.includes(w))) cont = 'button[data-testid="' + b.dataset.testid + '"]'; return; }
    if (b.id && words.some(w => txt.includes(w))) cont = "button#" + CSS.escape(b.id);
  });
  return {fields, continue: cont};
})()`

// IndeedFormFiller answers one step of an Indeed application form.
type IndeedFormFiller struct {
	Settle time.Duration
}

// Run fills the current step and clicks continue. The submit on the review
// page and the post-apply page both mean completed; whichever comes first
// reports it and the other is silent.
func (f IndeedFormFiller) Run(ctx context.Context, env Env) error {
	if err := sleep(ctx, f.Settle); err != nil {
		return err
	}
	done, err := f.step(ctx, env)
	if err != nil {
		env.Logger.Error("error processing form", "tab_id", env.Tab, "step", env.Step, "error", err)
		env.reportFailure(ctx, err)
		return err
	}
	if !done {
		return nil
	}
	if env.Submitted != nil && !env.Submitted.CompareAndSwap(false, true) {
		env.Logger.Debug("application already reported", "tab_id", env.Tab, "url", env.URL)
		return nil
	}
	env.Logger.Info("application submitted", "tab_id", env.Tab)
	return env.reportStatus(ctx, models.JobStatusCompleted, "")
}

func (f IndeedFormFiller) step(ctx context.Context, env Env) (bool, error) {
	if strings.Contains(env.URL, "form/post-apply") {
		return true, nil
	}
	if env.Step > MaxFormSteps {
		return false, fmt.Errorf("application form exceeded %d steps", MaxFormSteps)
	}

	settings, err := env.settings(ctx)
	if err != nil {
		return false, err
	}

	if err := env.Page.WaitVisible(ctx, indeedFormRoot); err != nil {
		return false, fmt.Errorf("wait for form: %w", err)
	}

	var form ParsedForm
	if err := env.Page.Evaluate(ctx, parseFormJS, &form); err != nil {
		return false, fmt.Errorf("parse form: %w", err)
	}
	env.Logger.Info("form parsed", "tab_id", env.Tab, "step", env.Step, "fields", len(form.Fields), "has_continue", form.Continue != "")

	switch {
	case skipsAnswers(env.URL):
		env.Logger.Debug("form page needs no answers", "tab_id", env.Tab)
	case len(form.Fields) == 0:
		env.Logger.Debug("no fields to fill", "tab_id", env.Tab)
	default:
		answers := map[string]any{}
		if err := env.askJSON(ctx, formPrompt(form.Fields, settings.ResumeText), &answers); err != nil {
			return false, err
		}
		if err := fill(ctx, env, form.Fields, answers); err != nil {
			return false, err
		}
	}

	if form.Continue == "" {
		env.Logger.Warn("no continue button found", "tab_id", env.Tab)
		return false, nil
	}
	if err := env.Page.Click(ctx, form.Continue); err != nil {
		return false, fmt.Errorf("click continue: %w", err)
	}
	return strings.Contains(env.URL, "form/review-module"), nil
}

func skipsAnswers(url string) bool {
	for _, p := range skipAnswerPages {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

func formPrompt(fields []FormField, resume string) string {
	data, _ := json.MarshalIndent(fields, "", "  ")
	return fmt.Sprintf(`I am applying for a job. Here are the form fields I need to fill:
%s

My details:
%s

Generate a JSON object whose keys are the field selectors and whose values are the answers. Use true/false for checkboxes and radio buttons. Return strictly JSON in a code block.`,
		data, resume)
}

// fill applies the answers to the fields. Unanswered fields are left as
// they are.
func fill(ctx context.Context, env Env, fields []FormField, answers map[string]any) error {
	for _, field := range fields {
		v, ok := answers[field.Selector]
		if !ok || v == nil {
			continue
		}
		switch field.Type {
		case "checkbox", "radio":
			if on, _ := v.(bool); on {
				if err := env.Page.Click(ctx, field.Selector); err != nil {
					return fmt.Errorf("click %s: %w", field.Selector, err)
				}
			}
		default:
			if err := env.Page.SetValue(ctx, field.Selector, answerString(v)); err != nil {
				return fmt.Errorf("fill %s: %w", field.Selector, err)
			}
		}
	}
	return nil
}

func answerString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
