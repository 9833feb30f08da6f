package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/config"
	"github.com/raphaelgruber/jobpilot/internal/metrics"
	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(n int) models.PersistedState {
	settings := models.DefaultSettings()
	state := models.PersistedState{Config: &settings}
	for i := 0; i < n; i++ {
		state.JobQueue = append(state.JobQueue, models.JobRecord{
			ID:     string(rune('a' + i)),
			Title:  "job",
			Status: models.JobStatusPending,
		})
	}
	return state
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFile(path)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "missing file loads as empty")

	require.NoError(t, s.Save(ctx, sampleState(2)))
	require.NoError(t, s.Save(ctx, sampleState(3)))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.JobQueue, 3)
	assert.Equal(t, models.DefaultAssistantURL, got.Config.Assistant.URL)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFile(path).Load(context.Background())
	assert.Error(t, err)
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	state := sampleState(1)
	require.NoError(t, m.Save(ctx, state))
	state.JobQueue[0].Status = models.JobStatusFailed

	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.JobQueue[0].Status)
	assert.Equal(t, 1, m.Saves())
}

func TestOpenMemoryAndUnknown(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.Config{Store: config.StoreMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.Config{Store: config.StoreFile, StateFile: "x.json"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	_, err = Open(ctx, config.Config{Store: "etcd"}, nil)
	assert.Error(t, err)
}

type slowStore struct {
	Memory
	mu      sync.Mutex
	sizes   []int
	release chan struct{}
	fail    error
}

func (s *slowStore) Save(ctx context.Context, state models.PersistedState) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.sizes = append(s.sizes, len(state.JobQueue))
	s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	return s.Memory.Save(ctx, state)
}

func TestPersisterWritesLatest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &slowStore{release: make(chan struct{})}
	mc := metrics.NewCollector()
	p := NewPersister(store, nil, mc)

	p.Schedule(sampleState(1))
	p.Schedule(sampleState(2))
	p.Schedule(sampleState(3))
	close(store.release)

	require.NoError(t, p.Flush(ctx))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.JobQueue, 3, "latest snapshot wins")

	store.mu.Lock()
	assert.LessOrEqual(t, len(store.sizes), 3)
	assert.Equal(t, 3, store.sizes[len(store.sizes)-1])
	store.mu.Unlock()

	assert.NotZero(t, mc.Snapshot().Operations[metrics.OpStoreWrite].Count)
	require.NoError(t, p.Close(ctx))
}

func TestPersisterFlushReportsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := errors.New("disk full")
	p := NewPersister(&slowStore{fail: boom}, nil, nil)
	p.Schedule(sampleState(1))

	assert.ErrorIs(t, p.Flush(ctx), boom)
	require.NoError(t, p.Close(ctx))
}

func TestPersisterFlushWithoutWrites(t *testing.T) {
	p := NewPersister(NewMemory(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, p.Flush(ctx))
	require.NoError(t, p.Close(ctx))

	// scheduling after close is dropped
	p.Schedule(sampleState(1))
}

func TestPersisterCloseDrains(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := NewMemory()
	p := NewPersister(m, nil, nil)
	p.Schedule(sampleState(2))
	require.NoError(t, p.Close(ctx))

	got, err := m.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.JobQueue, 2)
}
