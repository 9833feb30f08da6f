package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// SchemaSQL contains the database schema initialization SQL.
// The state is kept as one JSON document so the record shape stays the same
// across every store backend.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS automation_state SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS payload ON automation_state TYPE string;
    DEFINE FIELD IF NOT EXISTS queue_size ON automation_state TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated_at ON automation_state TYPE datetime DEFAULT time::now();
`

type stateRow struct {
	Payload string `json:"payload"`
}

// SaveState upserts the automation state record.
func (c *Client) SaveState(ctx context.Context, state models.PersistedState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		UPSERT type::thing("automation_state", "current") SET
			payload = $payload,
			queue_size = $queue_size,
			updated_at = time::now()
	`, map[string]any{
		"payload":    string(payload),
		"queue_size": len(state.JobQueue),
	})
	if err != nil {
		return fmt.Errorf("save state: %w", wrapQueryError(err))
	}
	return nil
}

// LoadState reads the automation state record.
// Returns ErrNotFound when nothing was saved yet.
func (c *Client) LoadState(ctx context.Context) (*models.PersistedState, error) {
	results, err := surrealdb.Query[[]stateRow](ctx, c.db,
		`SELECT payload FROM type::thing("automation_state", "current")`, nil)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}

	var state models.PersistedState
	if err := json.Unmarshal([]byte((*results)[0].Result[0].Payload), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// DeleteState removes the state record. LoadState reports ErrNotFound
// afterwards.
func (c *Client) DeleteState(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, `DELETE type::thing("automation_state", "current")`, nil); err != nil {
		return fmt.Errorf("delete state: %w", wrapQueryError(err))
	}
	return nil
}
