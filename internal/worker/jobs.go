package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/service"
	"github.com/spec-kit/ticket-intake/internal/tracker"
)

// SessionSweepJob deletes sessions idle past the timeout.
func SessionSweepJob(sessions *service.SessionManager, logger *zap.Logger) Job {
	return func(ctx context.Context) error {
		removed, err := sessions.Sweep(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("session sweep", zap.Int("removed", removed))
		}
		return nil
	}
}

// RateResetJob zeroes every rate counter.
func RateResetJob(limiter *service.RateLimiter) Job {
	return limiter.ResetAll
}

// CatalogRefreshJob reloads tracker lookups.
func CatalogRefreshJob(catalog *tracker.Catalog, source tracker.Source) Job {
	return func(ctx context.Context) error {
		return catalog.Refresh(ctx, source)
	}
}
