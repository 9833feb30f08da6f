// Package scheduler triggers job discovery on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Target is what a scheduled run drives.
type Target interface {
	FetchJobs(ctx context.Context) error
	StartAutomation(ctx context.Context) error
}

// Scheduler runs FetchJobs, and optionally StartAutomation, on a cron
// schedule. A run still in progress makes the next one skip.
type Scheduler struct {
	cron      *cron.Cron
	entry     cron.EntryID
	target    Target
	autostart bool
	logger    *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec (five fields or a descriptor such as "@every 1h") and
// creates a stopped scheduler.
func New(spec string, target Target, autostart bool, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		target:    target,
		autostart: autostart,
		logger:    logger,
		ctx:       context.Background(),
	}

	clog := cronLogger{logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	id, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.context()) })
	if err != nil {
		return nil, fmt.Errorf("invalid fetch schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing. Runs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("fetch scheduler started", "next_run", s.Next())
}

// Stop stops firing and waits for a running fetch to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Next returns the next scheduled run, zero when stopped.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunOnce fetches jobs and, when autostart is on, starts automation. Start
// happens even after a partial fetch failure since the tabs that did open
// still report jobs.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Info("scheduled job fetch")
	if err := s.target.FetchJobs(ctx); err != nil {
		s.logger.Warn("scheduled fetch had errors", "error", err)
	}
	if s.autostart {
		if err := s.target.StartAutomation(ctx); err != nil {
			s.logger.Warn("scheduled start failed", "error", err)
		}
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
