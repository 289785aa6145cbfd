package admission

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is implemented by stores that need periodic expiry sweeps.
// Redis expires keys itself; the in-memory store does not.
type Sweeper interface {
	Sweep() int
}

// StartBackgroundCleanup sweeps expired records on the given interval until
// ctx is cancelled. No-op for stores that do not implement Sweeper.
func StartBackgroundCleanup(ctx context.Context, store Store, interval time.Duration, logger *zap.Logger) {
	sweeper, swept := store.(Sweeper)
	if !swept {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	log := logger.Named("admission-cleanup")
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := sweeper.Sweep(); removed > 0 {
					log.Debug("swept expired admission records", zap.Int("removed", removed))
				}
			}
		}
	}()
}
