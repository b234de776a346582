package scheduler

import (
	"context"
	"log/slog"
	"time"

	"video-autoposter/internal/telemetry"
)

// BatchRunner processes one batch of due posts.
type BatchRunner interface {
	RunDueBatch(ctx context.Context, now time.Time) (int, error)
}

// Trigger periodically feeds due posts to the lifecycle manager.
type Trigger struct {
	runner     BatchRunner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewTrigger(runner BatchRunner, interval time.Duration, logger *slog.Logger) *Trigger {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Trigger{
		runner:     runner,
		interval:   interval,
		runTimeout: 10 * time.Minute,
		logger:     logger,
	}
}

// Start runs immediately and then once per interval until the context is
// cancelled.
func (t *Trigger) Start(ctx context.Context) error {
	t.logger.Info("scheduler started", "interval", t.interval)

	t.runOnce(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Trigger) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, t.runTimeout)
	defer cancel()

	telemetry.SchedulerRuns.Inc()
	count, err := t.runner.RunDueBatch(runCtx, time.Now().UTC())
	if err != nil {
		t.logger.Error("batch run failed", "processed", count, "error", err)
		return
	}
	if count == 0 {
		t.logger.Info("no posts due")
		return
	}
	t.logger.Info("batch processed", "count", count)
}
