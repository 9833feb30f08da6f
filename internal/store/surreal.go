package store

import (
	"context"
	"errors"

	"github.com/raphaelgruber/jobpilot/internal/db"
	"github.com/raphaelgruber/jobpilot/internal/models"
)

// Surreal stores the state in the SurrealDB automation_state table.
type Surreal struct {
	client *db.Client
}

var _ Store = (*Surreal)(nil)

// NewSurreal returns a store on a connected client. The client's table is
// defined by db.NewClient.
func NewSurreal(client *db.Client) *Surreal {
	return &Surreal{client: client}
}

func (s *Surreal) Load(ctx context.Context) (*models.PersistedState, error) {
	state, err := s.client.LoadState(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return state, err
}

func (s *Surreal) Save(ctx context.Context, state models.PersistedState) error {
	return s.client.SaveState(ctx, state)
}

func (s *Surreal) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
