package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

// MemorySessionRepository keeps sessions in process memory. Records are
// copied on the way in and out.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemorySessionRepository builds an empty store.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemorySessionRepository) Get(_ context.Context, userID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (r *MemorySessionRepository) Save(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.UserID] = session.Clone()
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	return nil
}

func (r *MemorySessionRepository) DeleteIfIdle(_ context.Context, userID string, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[userID]
	if !ok || !session.LastActivityAt.Before(cutoff) {
		return false, nil
	}
	delete(r.sessions, userID)
	return true, nil
}

func (r *MemorySessionRepository) ListIdle(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []*domain.Session
	for _, session := range r.sessions {
		if session.LastActivityAt.Before(cutoff) {
			idle = append(idle, session)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastActivityAt.Before(idle[j].LastActivityAt)
	})
	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}
	ids := make([]string, len(idle))
	for i, session := range idle {
		ids[i] = session.UserID
	}
	return ids, nil
}

// MemoryTicketRecordRepository keeps ticket records in process memory.
type MemoryTicketRecordRepository struct {
	mu      sync.Mutex
	records map[string]domain.TicketRecord
}

// NewMemoryTicketRecordRepository builds an empty store.
func NewMemoryTicketRecordRepository() *MemoryTicketRecordRepository {
	return &MemoryTicketRecordRepository{records: make(map[string]domain.TicketRecord)}
}

func (r *MemoryTicketRecordRepository) Create(_ context.Context, record *domain.TicketRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = *record
	return nil
}

func (r *MemoryTicketRecordRepository) Update(_ context.Context, record *domain.TicketRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.ID]; !ok {
		return ErrNotFound
	}
	r.records[record.ID] = *record
	return nil
}

func (r *MemoryTicketRecordRepository) GetByID(_ context.Context, id string) (*domain.TicketRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (r *MemoryTicketRecordRepository) ExistsWithTitle(_ context.Context, title string, since time.Time, statuses []domain.TicketStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.Title != title || record.CreatedAt.Before(since) {
			continue
		}
		for _, status := range statuses {
			if record.Status == status {
				return true, nil
			}
		}
	}
	return false, nil
}

// All returns a snapshot of every record.
func (r *MemoryTicketRecordRepository) All() []domain.TicketRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TicketRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record)
	}
	return out
}

// MemoryRateCounterRepository keeps counters in process memory.
type MemoryRateCounterRepository struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryRateCounterRepository builds an empty store.
func NewMemoryRateCounterRepository() *MemoryRateCounterRepository {
	return &MemoryRateCounterRepository{counts: make(map[string]int)}
}

func (r *MemoryRateCounterRepository) Get(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[userID], nil
}

func (r *MemoryRateCounterRepository) Increment(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[userID]++
	return r.counts[userID], nil
}

func (r *MemoryRateCounterRepository) ResetAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = make(map[string]int)
	return nil
}
