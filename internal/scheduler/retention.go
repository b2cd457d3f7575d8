package scheduler

import (
	"context"
	"log/slog"
	"time"

	"hyperlocal/internal/types"
)

// Pruner deletes forecast samples older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// RetentionSweeper bounds forecast storage to a rolling window. The cutoff
// is computed from an injected clock so tests can pin it.
type RetentionSweeper struct {
	store     Pruner
	retention time.Duration
	clock     types.Clock
	logger    *slog.Logger
}

// NewRetentionSweeper creates a RetentionSweeper.
func NewRetentionSweeper(store Pruner, retention time.Duration, logger *slog.Logger) *RetentionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionSweeper{store: store, retention: retention, clock: types.RealClock{}, logger: logger}
}

// SetClock overrides the time source.
func (r *RetentionSweeper) SetClock(c types.Clock) {
	r.clock = c
}

// Sweep removes samples older than now minus the retention window.
func (r *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.retention)
	n, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "pruned forecast samples", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *RetentionSweeper) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, false, func(ctx context.Context) {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
		}
	})
}
