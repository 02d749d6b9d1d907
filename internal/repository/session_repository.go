package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// SessionRepository persists one conversational session per user.
type SessionRepository interface {
	Get(ctx context.Context, userID string) (*domain.Session, error)
	// Save replaces the whole record in a single write.
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, userID string) error
	// DeleteIfIdle removes the session only if its last activity is before cutoff.
	DeleteIfIdle(ctx context.Context, userID string, cutoff time.Time) (bool, error)
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository instantiates the Postgres-backed repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) Get(ctx context.Context, userID string) (*domain.Session, error) {
	const query = `
        SELECT user_id, state, draft, operation, created_at, last_activity_at
        FROM intake_sessions WHERE user_id=$1`
	var (
		session   domain.Session
		state     string
		draft     []byte
		operation []byte
	)
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&session.UserID,
		&state,
		&draft,
		&operation,
		&session.CreatedAt,
		&session.LastActivityAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeSession(&session, state, draft, operation); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) Save(ctx context.Context, session *domain.Session) error {
	draft, operation, err := encodeSession(session)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO intake_sessions (user_id, state, draft, operation, created_at, last_activity_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (user_id) DO UPDATE SET
            state=EXCLUDED.state,
            draft=EXCLUDED.draft,
            operation=EXCLUDED.operation,
            created_at=EXCLUDED.created_at,
            last_activity_at=EXCLUDED.last_activity_at`
	_, err = r.pool.Exec(ctx, query,
		session.UserID,
		string(session.State),
		draft,
		operation,
		session.CreatedAt,
		session.LastActivityAt,
	)
	return err
}

func (r *sessionRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM intake_sessions WHERE user_id=$1`, userID)
	return err
}

func (r *sessionRepository) DeleteIfIdle(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	cmd, err := r.pool.Exec(ctx,
		`DELETE FROM intake_sessions WHERE user_id=$1 AND last_activity_at < $2`, userID, cutoff)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM intake_sessions WHERE last_activity_at < $1 ORDER BY last_activity_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		result = append(result, userID)
	}
	return result, rows.Err()
}

func encodeSession(session *domain.Session) (draft []byte, operation []byte, err error) {
	draft, err = json.Marshal(session.Draft)
	if err != nil {
		return nil, nil, fmt.Errorf("encode draft: %w", err)
	}
	if session.Operation != nil {
		operation, err = json.Marshal(session.Operation)
		if err != nil {
			return nil, nil, fmt.Errorf("encode operation: %w", err)
		}
	}
	return draft, operation, nil
}

func decodeSession(session *domain.Session, state string, draft, operation []byte) error {
	parsed, err := domain.ParseState(state)
	if err != nil {
		return err
	}
	session.State = parsed
	if len(draft) > 0 {
		if err := json.Unmarshal(draft, &session.Draft); err != nil {
			return fmt.Errorf("decode draft: %w", err)
		}
	}
	if len(operation) > 0 && string(operation) != "null" {
		var op domain.Operation
		if err := json.Unmarshal(operation, &op); err != nil {
			return fmt.Errorf("decode operation: %w", err)
		}
		session.Operation = &op
	}
	return nil
}
