package store

import (
	"context"
	"sync"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// Memory keeps the state in process. Used for tests and throwaway runs.
type Memory struct {
	mu    sync.Mutex
	state *models.PersistedState
	saves int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) (*models.PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	s := cloneState(*m.state)
	return &s, nil
}

func (m *Memory) Save(_ context.Context, state models.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := cloneState(state)
	m.state = &s
	m.saves++
	return nil
}

func (m *Memory) Close(context.Context) error {
	return nil
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
