// Package tracker is the boundary to the external issue tracker.
package tracker

import (
	"context"
	"errors"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

var (
	// ErrUnavailable marks transport failures, timeouts and 5xx answers.
	ErrUnavailable = errors.New("tracker unavailable")
	// ErrRejected marks requests the tracker understood and refused.
	ErrRejected = errors.New("tracker rejected request")
)

// Comment is a comment created on a tracker issue.
type Comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
	URL  string `json:"url"`
}

// Gateway is everything the intake workflow needs from the tracker. Each
// call is a single attempt.
type Gateway interface {
	CreateTicket(ctx context.Context, draft domain.Draft) (domain.ExternalTicket, error)
	UpdateStatus(ctx context.Context, ticketID, statusID string) (bool, error)
	UpdateAssignee(ctx context.Context, ticketID, assigneeID string) (bool, error)
	AddComment(ctx context.Context, ticketID, text string) (*Comment, error)
}
