// Package housekeeping runs the periodic maintenance jobs of the task
// engine, currently the retention sweep over terminal task records.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskCleaner is the registry operation the cleaner drives.
type TaskCleaner interface {
	CleanupOldTasks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Cleaner deletes terminal task records past the retention window on a cron
// schedule. Log entries cascade with their records.
type Cleaner struct {
	cleaner   TaskCleaner
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewCleaner creates a Cleaner with the given cron schedule and retention
// window.
func NewCleaner(
	cleaner TaskCleaner,
	schedule string,
	retention time.Duration,
	logger *slog.Logger,
) *Cleaner {
	return &Cleaner{
		cleaner:   cleaner,
		schedule:  schedule,
		retention: retention,
		cron:      cron.New(),
		logger:    logger.With("component", "housekeeping"),
	}
}

// Start schedules the retention sweep and starts the cron scheduler.
func (c *Cleaner) Start() error {
	_, err := c.cron.AddFunc(c.schedule, c.runOnce)
	if err != nil {
		return err
	}

	c.cron.Start()
	c.logger.Info("housekeeping started",
		"schedule", c.schedule,
		"retention", c.retention)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.logger.Info("housekeeping stopped")
}

// RunOnce performs one retention sweep immediately, outside the schedule.
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	return c.cleaner.CleanupOldTasks(ctx, c.retention)
}

func (c *Cleaner) runOnce() {
	deleted, err := c.cleaner.CleanupOldTasks(context.Background(), c.retention)
	if err != nil {
		c.logger.Error("retention sweep failed", "error", err)
		return
	}

	c.logger.Info("retention sweep finished", "deleted", deleted)
}
