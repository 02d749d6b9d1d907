package service

import (
	"context"
	"time"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/repository"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

// blockingStatuses are the record states that count as an existing ticket.
// Failed records never block a resubmission.
var blockingStatuses = []domain.TicketStatus{domain.TicketStatusSubmitted, domain.TicketStatusCreated}

// DuplicateDetector reports whether a title was already used recently, by
// any requester.
type DuplicateDetector struct {
	records repository.TicketRecordRepository
	window  time.Duration
	now     func() time.Time
}

// NewDuplicateDetector constructs a DuplicateDetector.
func NewDuplicateDetector(records repository.TicketRecordRepository, window time.Duration, now func() time.Time) *DuplicateDetector {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &DuplicateDetector{records: records, window: window, now: now}
}

// IsDuplicate expects an already sanitized title.
func (d *DuplicateDetector) IsDuplicate(ctx context.Context, title string) (bool, error) {
	exists, err := d.records.ExistsWithTitle(ctx, title, d.now().Add(-d.window), blockingStatuses)
	if err != nil {
		return false, apperrors.NewStorageFailure("ticket.duplicate_check", err)
	}
	return exists, nil
}
