// Package store persists the automation state record.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/jobpilot/internal/config"
	"github.com/raphaelgruber/jobpilot/internal/db"
	"github.com/raphaelgruber/jobpilot/internal/models"
)

// Store reads and writes the single durable state record.
type Store interface {
	// Load returns the saved state, or nil when nothing was saved yet.
	Load(ctx context.Context) (*models.PersistedState, error)
	// Save replaces the saved state.
	Save(ctx context.Context, state models.PersistedState) error
	Close(ctx context.Context) error
}

// Open creates the backend selected by cfg.Store.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store {
	case config.StoreFile, "":
		return NewFile(cfg.StateFile), nil

	case config.StoreMemory:
		return NewMemory(), nil

	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("surrealdb: %w", err)
		}
		return NewSurreal(client), nil

	case config.StoreRedis:
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKey)

	case config.StorePostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)

	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}
}

func cloneState(s models.PersistedState) models.PersistedState {
	out := models.PersistedState{
		JobQueue: append([]models.JobRecord(nil), s.JobQueue...),
	}
	if s.CurrentJob != nil {
		job := *s.CurrentJob
		out.CurrentJob = &job
	}
	if s.Config != nil {
		cfg := *s.Config
		cfg.Queries = append([]models.SearchQuery(nil), s.Config.Queries...)
		out.Config = &cfg
	}
	return out
}
