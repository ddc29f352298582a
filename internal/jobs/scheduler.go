// Package jobs runs the periodic ledger chores: the session heartbeat and
// the pending request reminder.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Scheduler wraps a gocron scheduler. Runs of the same job never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger
}

// New builds a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "jobs"),
	}
}

// Every registers task to run every interval, first run after one interval.
// A non-positive interval leaves the task disabled.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		s.logger.Info("job disabled", "job", name)
		return nil
	}
	_, err := s.scheduler.Every(interval).WaitForSchedule().Tag(name).Do(func() {
		if ctx.Err() != nil {
			return
		}
		if err := task(ctx); err != nil {
			s.logger.Warn("job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Debug("job scheduled", "job", name, "interval", interval)
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
