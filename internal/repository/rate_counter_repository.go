package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateCounterRepository stores per-user daily submission counters.
type RateCounterRepository interface {
	Get(ctx context.Context, userID string) (int, error)
	Increment(ctx context.Context, userID string) (int, error)
	ResetAll(ctx context.Context) error
}

type rateCounterRepository struct {
	pool *pgxpool.Pool
}

// NewRateCounterRepository instantiates the Postgres-backed counters.
func NewRateCounterRepository(pool *pgxpool.Pool) RateCounterRepository {
	return &rateCounterRepository{pool: pool}
}

func (r *rateCounterRepository) Get(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count FROM rate_counters WHERE user_id=$1`, userID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *rateCounterRepository) Increment(ctx context.Context, userID string) (int, error) {
	const query = `
        INSERT INTO rate_counters (user_id, count, updated_at) VALUES ($1, 1, NOW())
        ON CONFLICT (user_id) DO UPDATE SET count=rate_counters.count + 1, updated_at=NOW()
        RETURNING count`
	var count int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *rateCounterRepository) ResetAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM rate_counters`)
	return err
}
