package lifecycle

import (
	"context"
	"time"

	"caredrop/pkg/requestcontext"
)

// StartSweeper expires overdue pending claims every interval until ctx is
// cancelled. A failed sweep is logged and retried on the next tick.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepOnce(ctx, time.Now())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sweepOnce runs one sweep pinned to now.
func (m *Manager) sweepOnce(ctx context.Context, now time.Time) int {
	count, err := m.SweepExpired(requestcontext.WithTime(ctx, now))
	if err != nil {
		m.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
		return 0
	}
	if count > 0 {
		m.logger.InfoContext(ctx, "expired pending claims", "count", count)
	}
	return count
}
