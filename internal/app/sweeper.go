/**
 * @description
 * Cron scheduler for background maintenance. The only job today fails
 * generation jobs whose render never called back.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	staleSweepBatchSize  = 100
	limiterPruneSchedule = "@every 10m"
)

type windowPruner interface {
	Prune() int
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *JobTracker
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
	pruner   windowPruner
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *JobTracker, schedule string, staleAfter time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
		timeout:  staleAfter,
	}
}

// SetLimiterPruner schedules periodic cleanup of an in-process rate limiter.
func (s *Scheduler) SetLimiterPruner(p windowPruner) {
	s.pruner = p
}

// Start registers the jobs and starts the cron scheduler. A non-positive
// timeout disables the stale sweep.
func (s *Scheduler) Start() error {
	if s.timeout > 0 && s.schedule != "" {
		if _, err := s.cron.AddFunc(s.schedule, s.SweepStaleJobs); err != nil {
			s.logger.Error("failed to schedule stale job sweep", "error", err)
			return err
		}
		s.logger.Info("scheduled stale job sweep", "schedule", s.schedule, "timeout", s.timeout.String())
	}

	if s.pruner != nil {
		if _, err := s.cron.AddFunc(limiterPruneSchedule, s.pruneLimiter); err != nil {
			s.logger.Error("failed to schedule rate limiter prune", "error", err)
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepStaleJobs fails pending and processing jobs older than the timeout.
func (s *Scheduler) SweepStaleJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.timeout)
	swept, err := s.jobs.FailStale(ctx, cutoff, staleSweepBatchSize)
	if err != nil {
		s.logger.Error("stale job sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.logger.Info("stale job sweep finished", "failed_jobs", swept, "cutoff", cutoff)
	}
}

func (s *Scheduler) pruneLimiter() {
	if removed := s.pruner.Prune(); removed > 0 {
		s.logger.Debug("pruned rate limiter windows", "removed", removed)
	}
}
