package dto

import (
	"time"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

// EventRequest is one inbound event delivered by a chat transport.
type EventRequest struct {
	Kind           string `json:"kind"`
	UserID         string `json:"user_id"`
	Text           string `json:"text,omitempty"`
	Action         string `json:"action,omitempty"`
	Value          string `json:"value,omitempty"`
	Operation      string `json:"operation,omitempty"`
	TargetTicketID string `json:"target_ticket_id,omitempty"`
}

// OptionResponse is one button the transport should render.
type OptionResponse struct {
	Action string `json:"action"`
	Value  string `json:"value"`
	Label  string `json:"label"`
}

// PromptResponse asks the user for the next input.
type PromptResponse struct {
	Text    string           `json:"text"`
	Expect  string           `json:"expect"`
	Options []OptionResponse `json:"options,omitempty"`
}

// NotificationResponse is a message for a channel other than the user.
type NotificationResponse struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// EventResponse is the workflow's answer to an event.
type EventResponse struct {
	UserID        string                 `json:"user_id"`
	Outcome       string                 `json:"outcome"`
	State         domain.State           `json:"state"`
	Reason        string                 `json:"reason,omitempty"`
	Prompt        *PromptResponse        `json:"prompt,omitempty"`
	Notifications []NotificationResponse `json:"notifications,omitempty"`
	Ticket        *TicketRecordResponse  `json:"ticket,omitempty"`
}

// TicketRecordResponse describes a local ticket record.
type TicketRecordResponse struct {
	ID                 string                `json:"id"`
	RequesterID        string                `json:"requester_id"`
	Title              string                `json:"title"`
	Label              domain.TicketLabel    `json:"label,omitempty"`
	Priority           domain.TicketPriority `json:"priority"`
	Status             domain.TicketStatus   `json:"status"`
	ExternalID         *string               `json:"external_id,omitempty"`
	ExternalIdentifier *string               `json:"external_identifier,omitempty"`
	ExternalURL        *string               `json:"external_url,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	SubmittedAt        *time.Time            `json:"submitted_at,omitempty"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// NewTicketRecordResponse maps a record to its response shape.
func NewTicketRecordResponse(r *domain.TicketRecord) *TicketRecordResponse {
	if r == nil {
		return nil
	}
	return &TicketRecordResponse{
		ID:                 r.ID,
		RequesterID:        r.RequesterID,
		Title:              r.Title,
		Label:              r.Label,
		Priority:           r.Priority,
		Status:             r.Status,
		ExternalID:         r.ExternalID,
		ExternalIdentifier: r.ExternalIdentifier,
		ExternalURL:        r.ExternalURL,
		CreatedAt:          r.CreatedAt,
		SubmittedAt:        r.SubmittedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
