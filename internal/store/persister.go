package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/metrics"
	"github.com/raphaelgruber/jobpilot/internal/models"
)

const writeTimeout = 10 * time.Second

// Persister writes state snapshots in the background. Schedule never blocks;
// when writes queue up only the latest snapshot is written.
type Persister struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	pending *models.PersistedState
	queued  uint64
	written uint64
	lastErr error
	changed chan struct{}
	closed  bool

	kick chan struct{}
	done chan struct{}
}

// NewPersister starts the writer goroutine.
func NewPersister(store Store, logger *slog.Logger, m *metrics.Collector) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persister{
		store:   store,
		logger:  logger,
		metrics: m,
		changed: make(chan struct{}),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Schedule queues a snapshot for writing. Callers pass a copy they no
// longer mutate.
func (p *Persister) Schedule(state models.PersistedState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = &state
	p.queued++
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Flush waits until every snapshot scheduled before the call is written.
// It returns the error of the last write, if any.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	target := p.queued
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.written >= target {
			err := p.lastErr
			p.mu.Unlock()
			return err
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close writes any outstanding snapshot and stops the writer.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.kick)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) run() {
	defer close(p.done)
	for range p.kick {
		p.drain()
	}
	p.drain()
}

func (p *Persister) drain() {
	for {
		p.mu.Lock()
		state, seq := p.pending, p.queued
		p.pending = nil
		p.mu.Unlock()

		if state == nil {
			return
		}

		finish := p.metrics.Time(metrics.OpStoreWrite)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.store.Save(ctx, *state)
		cancel()
		finish(err)

		if err != nil {
			p.logger.Warn("failed to persist automation state", "queue_size", len(state.JobQueue), "error", err)
		}

		p.mu.Lock()
		p.written = seq
		p.lastErr = err
		close(p.changed)
		p.changed = make(chan struct{})
		p.mu.Unlock()
	}
}
