package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const rateCountersKey = "intake:rate_counters"

type redisRateCounterRepository struct {
	client *redis.Client
}

// NewRedisRateCounterRepository keeps every user's counter in one hash so a
// reset is a single DEL.
func NewRedisRateCounterRepository(client *redis.Client) RateCounterRepository {
	return &redisRateCounterRepository{client: client}
}

func (r *redisRateCounterRepository) Get(ctx context.Context, userID string) (int, error) {
	count, err := r.client.HGet(ctx, rateCountersKey, userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *redisRateCounterRepository) Increment(ctx context.Context, userID string) (int, error) {
	count, err := r.client.HIncrBy(ctx, rateCountersKey, userID, 1).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *redisRateCounterRepository) ResetAll(ctx context.Context) error {
	return r.client.Del(ctx, rateCountersKey).Err()
}
