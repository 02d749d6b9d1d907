package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/repository"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

// RateLimiter caps successful submissions per user per day.
type RateLimiter struct {
	counters  repository.RateCounterRepository
	maxPerDay int
	logger    *zap.Logger
}

// NewRateLimiter constructs a RateLimiter. maxPerDay <= 0 falls back to 5.
func NewRateLimiter(counters repository.RateCounterRepository, maxPerDay int, logger *zap.Logger) *RateLimiter {
	if maxPerDay <= 0 {
		maxPerDay = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{counters: counters, maxPerDay: maxPerDay, logger: logger}
}

// Max returns the configured daily limit.
func (r *RateLimiter) Max() int {
	return r.maxPerDay
}

// CountToday returns the user's successful submissions since the last reset.
func (r *RateLimiter) CountToday(ctx context.Context, userID string) (int, error) {
	count, err := r.counters.Get(ctx, userID)
	if err != nil {
		return 0, apperrors.NewStorageFailure("rate.get", err)
	}
	return count, nil
}

// Allow returns RATE_LIMIT_EXCEEDED once the user reached the daily maximum.
func (r *RateLimiter) Allow(ctx context.Context, userID string) error {
	count, err := r.CountToday(ctx, userID)
	if err != nil {
		return err
	}
	if count >= r.maxPerDay {
		return apperrors.NewRateLimitExceeded(userID, r.maxPerDay)
	}
	return nil
}

// Increment records one successful submission.
func (r *RateLimiter) Increment(ctx context.Context, userID string) (int, error) {
	count, err := r.counters.Increment(ctx, userID)
	if err != nil {
		return 0, apperrors.NewStorageFailure("rate.increment", err)
	}
	return count, nil
}

// ResetAll zeroes every user's counter.
func (r *RateLimiter) ResetAll(ctx context.Context) error {
	if err := r.counters.ResetAll(ctx); err != nil {
		return apperrors.NewStorageFailure("rate.reset", err)
	}
	r.logger.Info("rate counters reset")
	return nil
}
