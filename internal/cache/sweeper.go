package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartSweeper periodically drops expired entries until ctx is cancelled.
// It returns a channel that is closed once the goroutine has exited.
// A non-positive interval disables the sweeper; the returned channel is
// already closed in that case.
func StartSweeper(ctx context.Context, p Purger, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 || p == nil {
		close(done)
		return done
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cache_sweeper")

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := p.PurgeExpired(ctx)
				if err != nil {
					logger.Warn("purge expired failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Debug("purged expired entries", zap.Int("removed", n))
				}
			}
		}
	}()

	return done
}
