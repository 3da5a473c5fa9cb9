package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule maps job names to cron specs
type Schedule map[string]string

// DefaultSchedule runs reminders each morning and expires holds hourly
func DefaultSchedule() Schedule {
	return Schedule{
		JobOverdue:     "0 8 * * *",
		JobDueToday:    "0 7 * * *",
		JobExpireHolds: "@hourly",
	}
}

// Scheduler triggers sweeps on their cron schedules
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler registers every job of the schedule. Empty specs disable a job.
func NewScheduler(sweeper *Sweeper, schedule Schedule, logger *zap.Logger) (*Scheduler, error) {
	c := cron.New()
	for _, name := range sweeper.Jobs() {
		spec := schedule[name]
		if spec == "" {
			logger.Info("Job disabled", zap.String("job", name))
			continue
		}
		job := name
		_, err := c.AddFunc(spec, func() {
			n, err := sweeper.Run(context.Background(), job)
			if err != nil {
				logger.Error("Scheduled job failed", zap.String("job", job), zap.Error(err))
				return
			}
			logger.Info("Scheduled job finished", zap.String("job", job), zap.Int("items", n))
		})
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for job %s: %w", spec, job, err)
		}
		logger.Info("Job scheduled", zap.String("job", job), zap.String("spec", spec))
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for running jobs")
	}
}

// Entries is the number of scheduled jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
