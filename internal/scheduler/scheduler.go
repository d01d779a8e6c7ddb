// Package scheduler runs the background recurrence job: completed tasks
// with a recurrence pattern are rolled forward to their next occurrence.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskchat/internal/store"
	"github.com/basket/taskchat/internal/telemetry"
)

// cronParser parses standard 5-field cron expressions plus descriptors
// like "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Config holds the dependencies for the recurrence scheduler.
type Config struct {
	Store *store.Store
	// Spec is the cron expression for the roll job. Defaults to "@hourly".
	Spec    string
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	// Interval is the tick resolution; defaults to 1 minute.
	Interval time.Duration
}

// Scheduler ticks at a fixed resolution and fires the recurrence roll when
// the cron schedule comes due. Runs are sequential, never overlapping.
type Scheduler struct {
	store    *store.Store
	schedule cronlib.Schedule
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	interval time.Duration
	nextRun  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. An unparsable spec is an error.
func NewScheduler(cfg Config) (*Scheduler, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = "@hourly"
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		schedule: schedule,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: interval,
	}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.nextRun = s.schedule.Next(time.Now())
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("recurrence scheduler started", "next_run", s.nextRun)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("recurrence scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Roll once on startup to catch anything missed while down.
	s.roll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(s.nextRun) {
				continue
			}
			s.roll(ctx)
			s.nextRun = s.schedule.Next(now)
		}
	}
}

// roll advances completed recurring tasks to their next occurrence.
func (s *Scheduler) roll(ctx context.Context) {
	now := time.Now()
	rolled, err := s.store.RollRecurringTasks(ctx, now)
	if err != nil {
		s.logger.Error("recurrence roll failed", "error", err)
		return
	}
	if s.metrics != nil && rolled > 0 {
		s.metrics.TasksRolled.Add(ctx, rolled)
	}
	if rolled > 0 {
		s.logger.Info("recurrence roll complete", "tasks_rolled", rolled)
	}
}
