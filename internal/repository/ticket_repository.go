package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

// TicketRecordRepository encapsulates ticket record persistence.
type TicketRecordRepository interface {
	Create(ctx context.Context, record *domain.TicketRecord) error
	Update(ctx context.Context, record *domain.TicketRecord) error
	GetByID(ctx context.Context, id string) (*domain.TicketRecord, error)
	// ExistsWithTitle reports whether a record with exactly this title and
	// one of the statuses was created at or after since.
	ExistsWithTitle(ctx context.Context, title string, since time.Time, statuses []domain.TicketStatus) (bool, error)
}

type ticketRecordRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRecordRepository instantiates repository.
func NewTicketRecordRepository(pool *pgxpool.Pool) TicketRecordRepository {
	return &ticketRecordRepository{pool: pool}
}

func (r *ticketRecordRepository) Create(ctx context.Context, record *domain.TicketRecord) error {
	const query = `
        INSERT INTO ticket_records (id, requester_id, title, description, label, priority, status,
            external_id, external_identifier, external_url, created_at, submitted_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.RequesterID,
		record.Title,
		record.Description,
		record.Label,
		record.Priority,
		record.Status,
		record.ExternalID,
		record.ExternalIdentifier,
		record.ExternalURL,
		record.CreatedAt,
		record.SubmittedAt,
		record.UpdatedAt,
	)
	return err
}

func (r *ticketRecordRepository) Update(ctx context.Context, record *domain.TicketRecord) error {
	const query = `
        UPDATE ticket_records SET status=$1, external_id=$2, external_identifier=$3, external_url=$4,
            submitted_at=$5, updated_at=$6
        WHERE id=$7`
	cmd, err := r.pool.Exec(ctx, query,
		record.Status,
		record.ExternalID,
		record.ExternalIdentifier,
		record.ExternalURL,
		record.SubmittedAt,
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRecordRepository) GetByID(ctx context.Context, id string) (*domain.TicketRecord, error) {
	// ids are UUIDs; anything else cannot match a row
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	const query = `
        SELECT id, requester_id, title, description, label, priority, status,
               external_id, external_identifier, external_url, created_at, submitted_at, updated_at
        FROM ticket_records WHERE id=$1`
	var record domain.TicketRecord
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&record.ID,
		&record.RequesterID,
		&record.Title,
		&record.Description,
		&record.Label,
		&record.Priority,
		&record.Status,
		&record.ExternalID,
		&record.ExternalIdentifier,
		&record.ExternalURL,
		&record.CreatedAt,
		&record.SubmittedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ticketRecordRepository) ExistsWithTitle(ctx context.Context, title string, since time.Time, statuses []domain.TicketStatus) (bool, error) {
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM ticket_records
            WHERE title=$1 AND created_at >= $2 AND status = ANY($3)
        )`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, title, since, names).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
