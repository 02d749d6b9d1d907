package events

import (
	"time"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketFailed        EventType = "ticket_failed"
	EventTicketCommented     EventType = "ticket_commented"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
)

// AllEventTypes lists every event the intake workflow publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketFailed,
	EventTicketCommented,
	EventTicketStatusChanged,
	EventTicketAssigned,
}

// Event represents a domain event emitted by services. TicketID is the
// local record id for creation events and the tracker id for operations.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title      string                `json:"title"`
	Label      domain.TicketLabel    `json:"label,omitempty"`
	Priority   domain.TicketPriority `json:"priority"`
	Identifier string                `json:"identifier"`
	URL        string                `json:"url"`
	Retried    bool                  `json:"retried,omitempty"`
}

// TicketFailedPayload payload.
type TicketFailedPayload struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// TicketCommentedPayload payload.
type TicketCommentedPayload struct {
	CommentID   string `json:"comment_id"`
	BodyPreview string `json:"body_preview"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	StatusID   string `json:"status_id"`
	StatusName string `json:"status_name,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID   string `json:"assignee_id"`
	AssigneeName string `json:"assignee_name,omitempty"`
}
