package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	chatInput      = "#prompt-textarea"
	chatSubmit     = "#composer-submit-button"
	chatSendButton = `#composer-submit-button[data-testid="send-button"]`

	chatLastAnswerJS = `(() => {
  const code = document.querySelector("article[data-turn='assistant']:last-of-type pre:last-of-type code");
  if (code) return code.textContent;
  const turn = document.querySelector("article[data-turn='assistant']:last-of-type");
  return turn ? turn.innerText : "";
})()`
)

// ChatAssistant drives the chat page in the assistant tab.
type ChatAssistant struct {
	// SubmitDelay is waited between typing the prompt and submitting.
	SubmitDelay time.Duration
	// GenerationStart is waited before polling for the end of generation.
	GenerationStart time.Duration
	// GenerationTimeout bounds the wait for the answer to finish.
	GenerationTimeout time.Duration
	// PollInterval is the generation polling interval.
	PollInterval time.Duration
	// ReadAttempts and ReadInterval control re-reading an answer that is
	// not valid JSON yet.
	ReadAttempts int
	ReadInterval time.Duration
}

// NewChatAssistant returns a driver with the page timings.
func NewChatAssistant() ChatAssistant {
	return ChatAssistant{
		SubmitDelay:       500 * time.Millisecond,
		GenerationStart:   2 * time.Second,
		GenerationTimeout: 60 * time.Second,
		PollInterval:      time.Second,
		ReadAttempts:      3,
		ReadInterval:      2 * time.Second,
	}
}

// Ask types prompt, submits it and returns the last answer on the page.
func (a ChatAssistant) Ask(ctx context.Context, page Page, prompt string, logger *slog.Logger) (string, error) {
	if err := a.setPrompt(ctx, page, prompt); err != nil {
		return "", err
	}
	if err := sleep(ctx, a.SubmitDelay); err != nil {
		return "", err
	}

	var submitted bool
	if err := page.Evaluate(ctx, fmt.Sprintf(`(() => { const b = document.querySelector(%q); if (!b || b.disabled) return false; b.click(); return true; })()`, chatSubmit), &submitted); err != nil {
		return "", fmt.Errorf("submit prompt: %w", err)
	}
	if !submitted {
		return "", fmt.Errorf("submit prompt: button missing or disabled")
	}

	if !a.waitForGeneration(ctx, page) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		logger.Warn("timeout waiting for chat generation", "timeout", a.GenerationTimeout)
	}

	var answer string
	attempts := max(a.ReadAttempts, 1)
	for i := 0; i < attempts; i++ {
		if err := page.Evaluate(ctx, chatLastAnswerJS, &answer); err != nil {
			return "", fmt.Errorf("read answer: %w", err)
		}
		if IsJSON(answer) {
			break
		}
		logger.Debug("answer not valid JSON yet", "attempt", i+1)
		if i < attempts-1 {
			if err := sleep(ctx, a.ReadInterval); err != nil {
				return "", err
			}
		}
	}
	return answer, nil
}

func (a ChatAssistant) setPrompt(ctx context.Context, page Page, prompt string) error {
	quoted, err := json.Marshal(prompt)
	if err != nil {
		return fmt.Errorf("encode prompt: %w", err)
	}
	js := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  const p = document.createElement("p");
  p.textContent = %s;
  el.replaceChildren(p);
  el.dispatchEvent(new Event("input", {bubbles: true}));
  return true;
})()`, chatInput, quoted)

	var ok bool
	if err := page.Evaluate(ctx, js, &ok); err != nil {
		return fmt.Errorf("set prompt: %w", err)
	}
	if !ok {
		return fmt.Errorf("set prompt: input %s not found", chatInput)
	}
	return nil
}

// waitForGeneration polls for the send button, which returns once the
// answer is complete.
func (a ChatAssistant) waitForGeneration(ctx context.Context, page Page) bool {
	if sleep(ctx, a.GenerationStart) != nil {
		return false
	}
	deadline := time.Now().Add(a.GenerationTimeout)
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, chatSendButton)
	for time.Now().Before(deadline) {
		var ready bool
		if err := page.Evaluate(ctx, js, &ready); err == nil && ready {
			return true
		}
		if sleep(ctx, a.PollInterval) != nil {
			return false
		}
	}
	return false
}
