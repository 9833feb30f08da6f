package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

type sentMessage struct {
	From    models.TabID
	Type    models.MessageType
	Payload any
}

// fakeBus records messages and answers them from handlers.
type fakeBus struct {
	mu       sync.Mutex
	sent     []sentMessage
	handlers map[models.MessageType]func(payload any) (any, error)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[models.MessageType]func(any) (any, error))}
}

func (b *fakeBus) on(t models.MessageType, fn func(payload any) (any, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = fn
}

func (b *fakeBus) Send(_ context.Context, from models.TabID, t models.MessageType, payload, out any) error {
	b.mu.Lock()
	b.sent = append(b.sent, sentMessage{From: from, Type: t, Payload: payload})
	h := b.handlers[t]
	b.mu.Unlock()

	if h == nil {
		return nil
	}
	data, err := h(payload)
	if err != nil {
		return err
	}
	return decodeInto(data, out)
}

func (b *fakeBus) Sent() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

func (b *fakeBus) types() []models.MessageType {
	var out []models.MessageType
	for _, m := range b.Sent() {
		out = append(out, m.Type)
	}
	return out
}

// statuses returns the reported job statuses in order.
func (b *fakeBus) statuses() []string {
	var out []string
	for _, m := range b.Sent() {
		if m.Type == models.MsgReportJobStatus {
			out = append(out, m.Payload.(models.ReportStatusPayload).Status)
		}
	}
	return out
}

func (b *fakeBus) count(t models.MessageType) int {
	n := 0
	for _, m := range b.Sent() {
		if m.Type == t {
			n++
		}
	}
	return n
}

func decodeInto(v, out any) error {
	if out == nil || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// fakePage scripts DOM calls.
type fakePage struct {
	mu        sync.Mutex
	waitErr   error
	texts     map[string]string
	eval      func(js string) (any, error)
	clicks    []string
	values    map[string]string
	evaluated []string
	clickErr  error
}

func (p *fakePage) WaitVisible(ctx context.Context, sel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.waitErr
}

func (p *fakePage) Text(_ context.Context, sel string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.texts[sel]
	if !ok {
		return "", fmt.Errorf("no node %s", sel)
	}
	return t, nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicks = append(p.clicks, sel)
	return nil
}

func (p *fakePage) SetValue(_ context.Context, sel, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[sel] = value
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, js string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.evaluated = append(p.evaluated, js)
	eval := p.eval
	p.mu.Unlock()
	if eval == nil {
		return fmt.Errorf("unexpected evaluate")
	}
	v, err := eval(js)
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

func (p *fakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnv(tab models.TabID, url string, page Page, bus Bus) Env {
	return Env{
		Tab:      tab,
		URL:      url,
		Platform: models.PlatformIndeed,
		Step:     1,
		Page:     page,
		Bus:      bus,
		Logger:   discardLogger(),
	}
}

// promptReplies returns a PROXY_PROMPT_GPT handler replying with the given
// answers in turn, repeating the last one.
func promptReplies(replies ...string) func(any) (any, error) {
	var mu sync.Mutex
	i := 0
	return func(any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		r := replies[min(i, len(replies)-1)]
		i++
		return r, nil
	}
}

func configWithResume(resume string) func(any) (any, error) {
	return func(any) (any, error) {
		s := models.DefaultSettings()
		s.ResumeText = resume
		return s, nil
	}
}
