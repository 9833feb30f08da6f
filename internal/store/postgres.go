package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const postgresSchema = `create table if not exists automation_state (
	id text primary key,
	payload jsonb not null,
	updated_at timestamptz not null default now()
)`

const postgresStateID = "current"

// Postgres stores the state as one jsonb row.
type Postgres struct {
	db *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects and creates the table when missing.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Postgres{db: pool}, nil
}

func (s *Postgres) Load(ctx context.Context) (*models.PersistedState, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `select payload from automation_state where id = $1`, postgresStateID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres load: %w", err)
	}

	var state models.PersistedState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func (s *Postgres) Save(ctx context.Context, state models.PersistedState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.Exec(ctx, `insert into automation_state (id, payload, updated_at)
values ($1, $2, now())
on conflict (id) do update set payload = excluded.payload, updated_at = now()`,
		postgresStateID, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres save: %w", err)
	}
	return nil
}

func (s *Postgres) Close(context.Context) error {
	s.db.Close()
	return nil
}
