package background

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes expired rows and reports how many were deleted.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Reaper periodically deletes expired sessions and reset tokens. Cleanup is
// best-effort: expiry is enforced lazily wherever rows are read, so a missed
// sweep costs storage, never correctness.
type Reaper struct {
	sweepers map[string]Sweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewReaper creates a new reaper over the named sweepers.
func NewReaper(sweepers map[string]Sweeper, logger *slog.Logger, interval time.Duration) *Reaper {
	return &Reaper{
		sweepers: sweepers,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep loop. Blocks until Stop is called or the
// context is cancelled; run it in its own goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on startup
	r.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			r.runSweep(ctx)
		case <-r.stopCh:
			r.logger.Info("reaper stopped")
			return
		case <-ctx.Done():
			r.logger.Info("reaper context cancelled")
			return
		}
	}
}

func (r *Reaper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for name, sweeper := range r.sweepers {
		deleted, err := sweeper.SweepExpired(sweepCtx)
		if err != nil {
			r.logger.Error("sweep failed", slog.String("target", name), slog.Any("error", err))
			continue
		}
		if deleted > 0 {
			r.logger.Info("sweep completed", slog.String("target", name), slog.Int64("rows_deleted", deleted))
		}
	}
}

// Stop signals the reaper to stop
func (r *Reaper) Stop() {
	close(r.stopCh)
}
