package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

const (
	sessionKeyPrefix   = "intake:session:"
	sessionActivityKey = "intake:sessions:activity"
)

// redisSession is the JSON layout stored under intake:session:<user>.
type redisSession struct {
	UserID         string            `json:"user_id"`
	State          string            `json:"state"`
	Draft          domain.Draft      `json:"draft"`
	Operation      *domain.Operation `json:"operation,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

type redisSessionRepository struct {
	client *redis.Client
}

// NewRedisSessionRepository stores sessions as JSON strings plus an
// activity sorted set used by the expiry sweep.
func NewRedisSessionRepository(client *redis.Client) SessionRepository {
	return &redisSessionRepository{client: client}
}

func (r *redisSessionRepository) Get(ctx context.Context, userID string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalRedisSession(data)
}

func (r *redisSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	data, err := marshalRedisSession(session)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKeyPrefix+session.UserID, data, 0)
		p.ZAdd(ctx, sessionActivityKey, redis.Z{
			Score:  float64(session.LastActivityAt.UnixMilli()),
			Member: session.UserID,
		})
		return nil
	})
	return err
}

func (r *redisSessionRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKeyPrefix+userID)
		p.ZRem(ctx, sessionActivityKey, userID)
		return nil
	})
	return err
}

func (r *redisSessionRepository) DeleteIfIdle(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	key := sessionKeyPrefix + userID
	deleted := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return tx.ZRem(ctx, sessionActivityKey, userID).Err()
		}
		if err != nil {
			return err
		}
		session, err := unmarshalRedisSession(data)
		if err != nil {
			return err
		}
		if !session.LastActivityAt.Before(cutoff) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			p.ZRem(ctx, sessionActivityKey, userID)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// touched while we were looking at it, so it is not idle
		return false, nil
	}
	return deleted, err
}

func (r *redisSessionRepository) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.client.ZRangeByScore(ctx, sessionActivityKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
}

func marshalRedisSession(session *domain.Session) ([]byte, error) {
	return json.Marshal(redisSession{
		UserID:         session.UserID,
		State:          string(session.State),
		Draft:          session.Draft,
		Operation:      session.Operation,
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
	})
}

func unmarshalRedisSession(data []byte) (*domain.Session, error) {
	var stored redisSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	state, err := domain.ParseState(stored.State)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		UserID:         stored.UserID,
		State:          state,
		Draft:          stored.Draft,
		Operation:      stored.Operation,
		CreatedAt:      stored.CreatedAt,
		LastActivityAt: stored.LastActivityAt,
	}, nil
}
