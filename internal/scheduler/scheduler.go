// Package scheduler runs recurring background maintenance: mirror refresh,
// snapshot pruning, and export prewarming.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is a unit of scheduled work.
type JobFunc func(ctx context.Context) error

// jobEntry pairs a cron expression with the work it triggers.
type jobEntry struct {
	name     string
	cronExpr string
	run      JobFunc
	lastRun  time.Time
}

// Scheduler evaluates registered cron expressions on a fixed tick and runs
// due jobs. Jobs run sequentially within a tick; a slow job delays the rest
// rather than overlapping itself.
type Scheduler struct {
	mu sync.Mutex

	logger *slog.Logger
	parser cron.Parser
	jobs   []*jobEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	syncInterval time.Duration
}

// Config holds scheduler tuning.
type Config struct {
	// SyncInterval is how often due jobs are evaluated. Default: 1 minute.
	SyncInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{SyncInterval: time.Minute}
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:       logger,
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		syncInterval: DefaultConfig().SyncInterval,
	}
}

// WithConfig applies configuration to the scheduler.
func (s *Scheduler) WithConfig(config Config) *Scheduler {
	if config.SyncInterval > 0 {
		s.syncInterval = config.SyncInterval
	}
	return s
}

// Register adds a recurring job. An empty cron expression disables the job;
// an invalid one is an error.
func (s *Scheduler) Register(name, cronExpr string, run JobFunc) error {
	if cronExpr == "" {
		s.logger.Debug("scheduled job disabled", slog.String("job", name))
		return nil
	}
	if _, err := s.parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &jobEntry{name: name, cronExpr: cronExpr, run: run})
	return nil
}

// Start begins the background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	if len(s.jobs) == 0 {
		s.logger.Debug("scheduler has no jobs, not starting")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.Int("jobs", len(s.jobs)),
		slog.Duration("sync_interval", s.syncInterval))
	return nil
}

// Stop stops the scheduler and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	started := s.ctx != nil
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	if started {
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	// Run immediately on start.
	s.runDue(s.ctx)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue(s.ctx)
		}
	}
}

// runDue executes every job whose next run time fell inside the last tick.
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*jobEntry, 0, len(s.jobs))
	for _, j := range s.jobs {
		if s.isDue(j, now) {
			j.lastRun = now
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := j.run(ctx); err != nil {
			s.logger.Error("scheduled job failed",
				slog.String("job", j.name),
				slog.Any("error", err))
			continue
		}
		s.logger.Info("scheduled job completed",
			slog.String("job", j.name),
			slog.Duration("duration", time.Since(start)))
	}
}

// isDue checks whether the job's schedule fired since its last run, looking
// back at most one sync interval.
func (s *Scheduler) isDue(j *jobEntry, now time.Time) bool {
	schedule, err := s.parser.Parse(j.cronExpr)
	if err != nil {
		return false
	}

	from := now.Add(-s.syncInterval)
	if j.lastRun.After(from) {
		from = j.lastRun
	}
	next := schedule.Next(from)
	return !next.After(now)
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// NextRun returns the next execution time for a cron expression.
func (s *Scheduler) NextRun(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}
