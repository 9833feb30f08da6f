package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/service"
)

// LocalBus is the in-process transport for adapters driven by the daemon
// itself.
type LocalBus struct {
	dispatch Handler
}

// NewLocalBus returns a bus that hands messages straight to dispatch,
// usually (*Dispatcher).Dispatch.
func NewLocalBus(dispatch Handler) *LocalBus {
	return &LocalBus{dispatch: dispatch}
}

// Send dispatches one message from tab and decodes the reply data into out.
func (b *LocalBus) Send(ctx context.Context, from models.TabID, t models.MessageType, payload, out any) error {
	msg, err := models.NewMessage(uuid.NewString(), t, from, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	return b.dispatch(ctx, msg).DecodeData(out)
}

// Messengers tries each messenger in turn, moving on while the tab is
// unknown to it.
type Messengers []service.TabMessenger

// Prompt implements service.TabMessenger.
func (m Messengers) Prompt(ctx context.Context, tab models.TabID, prompt string) (string, error) {
	err := fmt.Errorf("tab %s: %w", tab, service.ErrTabNotFound)
	for _, messenger := range m {
		var answer string
		answer, err = messenger.Prompt(ctx, tab, prompt)
		if !errors.Is(err, service.ErrTabNotFound) {
			return answer, err
		}
	}
	return "", err
}
