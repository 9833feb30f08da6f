package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	r "github.com/redis/go-redis/v9"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// Redis stores the state as a JSON string under one key.
type Redis struct {
	rdb *r.Client
	key string
}

var _ Store = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, addr, password, key string) (*Redis, error) {
	rdb := r.NewClient(&r.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, key: key}, nil
}

func (s *Redis) Load(ctx context.Context) (*models.PersistedState, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var state models.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func (s *Redis) Save(ctx context.Context, state models.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *Redis) Close(context.Context) error {
	return s.rdb.Close()
}
