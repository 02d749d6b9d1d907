package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/observability"
	"github.com/spec-kit/ticket-intake/internal/repository"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

const (
	sweepBatchSize = 500
	// bounds one sweep when sessions keep turning idle while it runs
	maxSweepRounds = 100
)

// Expiry reasons recorded in logs and metrics.
const (
	ExpiryReasonLazy  = "lazy"
	ExpiryReasonSweep = "sweep"
)

// SessionManager owns session durability and the per-user serialization lock.
type SessionManager struct {
	sessions repository.SessionRepository
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// SessionManagerDependencies bundles the session manager collaborators.
type SessionManagerDependencies struct {
	Sessions repository.SessionRepository
	Timeout  time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// SessionPatch is a partial session update. Draft fields are shallow-merged.
type SessionPatch struct {
	State          *domain.State
	Draft          domain.DraftPatch
	Operation      *domain.Operation
	ClearOperation bool
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(deps SessionManagerDependencies) *SessionManager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionManager{
		sessions: deps.Sessions,
		timeout:  timeout,
		now:      now,
		logger:   logger,
		metrics:  deps.Metrics,
		locks:    make(map[string]*userLock),
	}
}

// Timeout returns the configured inactivity timeout.
func (m *SessionManager) Timeout() time.Duration {
	return m.timeout
}

// Lock serializes work for one user. The returned func releases the lock.
func (m *SessionManager) Lock(userID string) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// Create stores a fresh idle session, replacing any existing one.
func (m *SessionManager) Create(ctx context.Context, userID string) (*domain.Session, error) {
	session := domain.NewSession(userID, m.now())
	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, apperrors.NewStorageFailure("session.create", err)
	}
	m.logger.Info("session_created", zap.String("user_id", userID))
	return session, nil
}

// Get returns the live session for userID. An expired session is deleted
// and reported as SESSION_EXPIRED. Reading never refreshes activity.
func (m *SessionManager) Get(ctx context.Context, userID string) (*domain.Session, error) {
	session, err := m.sessions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewSessionNotFound(userID)
		}
		return nil, apperrors.NewStorageFailure("session.get", err)
	}

	now := m.now()
	if session.Expired(now, m.timeout) {
		if _, err := m.expire(ctx, userID, now, ExpiryReasonLazy); err != nil {
			return nil, err
		}
		return nil, apperrors.NewSessionExpired(userID)
	}
	return session, nil
}

// Update merges patch into the live session, refreshes its activity
// timestamp and persists it in a single write.
func (m *SessionManager) Update(ctx context.Context, userID string, patch SessionPatch) (*domain.Session, error) {
	session, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if patch.State != nil {
		session.State = *patch.State
	}
	session.Draft = session.Draft.Merge(patch.Draft)
	switch {
	case patch.ClearOperation:
		session.Operation = nil
	case patch.Operation != nil:
		op := *patch.Operation
		session.Operation = &op
	}
	session.LastActivityAt = m.now()

	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, apperrors.NewStorageFailure("session.update", err)
	}
	return session, nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (m *SessionManager) Delete(ctx context.Context, userID string) error {
	if err := m.sessions.Delete(ctx, userID); err != nil {
		return apperrors.NewStorageFailure("session.delete", err)
	}
	m.logger.Info("session_deleted", zap.String("user_id", userID))
	return nil
}

// Sweep deletes every session idle longer than the timeout and returns how
// many were removed. Each deletion runs under the user's lock.
func (m *SessionManager) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for round := 1; ; round++ {
		now := m.now()
		ids, err := m.sessions.ListIdle(ctx, now.Add(-m.timeout), sweepBatchSize)
		if err != nil {
			return removed, apperrors.NewStorageFailure("session.sweep", err)
		}

		batchRemoved := 0
		for _, userID := range ids {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			unlock := m.Lock(userID)
			deleted, err := m.expire(ctx, userID, m.now(), ExpiryReasonSweep)
			unlock()
			if err != nil {
				return removed, err
			}
			if deleted {
				batchRemoved++
			}
		}
		removed += batchRemoved

		// A full batch may be all stale index entries, which expire drops,
		// so keep going until a short batch comes back.
		if len(ids) < sweepBatchSize || round >= maxSweepRounds {
			return removed, nil
		}
	}
}

func (m *SessionManager) expire(ctx context.Context, userID string, now time.Time, reason string) (bool, error) {
	deleted, err := m.sessions.DeleteIfIdle(ctx, userID, now.Add(-m.timeout))
	if err != nil {
		return false, apperrors.NewStorageFailure("session.expire", err)
	}
	if deleted {
		m.metrics.RecordSessionExpired(reason)
		m.logger.Info("session_expired", zap.String("user_id", userID), zap.String("reason", reason))
	}
	return deleted, nil
}
