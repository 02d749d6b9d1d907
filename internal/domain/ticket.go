package domain

import (
	"errors"
	"fmt"
	"time"
)

// TicketStatus enumerates lifecycle states of a ticket record.
type TicketStatus string

const (
	TicketStatusDraft     TicketStatus = "draft"
	TicketStatusSubmitted TicketStatus = "submitted"
	TicketStatusCreated   TicketStatus = "created"
	TicketStatusFailed    TicketStatus = "failed"
)

// TicketLabel enumerates request categories understood by the tracker.
type TicketLabel string

const (
	LabelBug         TicketLabel = "bug"
	LabelImprovement TicketLabel = "improvement"
	LabelRequest     TicketLabel = "request"
)

// Labels lists selectable labels in display order.
var Labels = []TicketLabel{LabelBug, LabelImprovement, LabelRequest}

// ParseLabel validates a label selection.
func ParseLabel(raw string) (TicketLabel, bool) {
	for _, l := range Labels {
		if string(l) == raw {
			return l, true
		}
	}
	return "", false
}

// OffersTemplate reports whether a filled-in template is offered for the label.
func (l TicketLabel) OffersTemplate() bool {
	return l == LabelBug
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityUrgent TicketPriority = "URGENT"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityLow    TicketPriority = "LOW"
)

// DefaultPriority is assigned in streamlined flows.
const DefaultPriority = TicketPriorityMedium

// Priorities lists selectable priorities from most to least urgent.
var Priorities = []TicketPriority{TicketPriorityUrgent, TicketPriorityHigh, TicketPriorityMedium, TicketPriorityLow}

// ParsePriority validates a priority selection.
func ParsePriority(raw string) (TicketPriority, bool) {
	for _, p := range Priorities {
		if string(p) == raw {
			return p, true
		}
	}
	return "", false
}

// TrackerValue maps the priority onto the tracker's 1 (urgent) .. 4 (low) scale.
func (p TicketPriority) TrackerValue() int {
	switch p {
	case TicketPriorityUrgent:
		return 1
	case TicketPriorityHigh:
		return 2
	case TicketPriorityMedium:
		return 3
	case TicketPriorityLow:
		return 4
	}
	return 0
}

// ExternalTicket identifies a ticket inside the tracker.
type ExternalTicket struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
}

// ErrInvalidTransition is returned when a record status would move backwards.
var ErrInvalidTransition = errors.New("invalid ticket status transition")

// TicketRecord is the local audit of a confirmed draft.
type TicketRecord struct {
	ID                 string
	RequesterID        string
	Title              string
	Description        string
	Label              TicketLabel
	Priority           TicketPriority
	Status             TicketStatus
	ExternalID         *string
	ExternalIdentifier *string
	ExternalURL        *string
	CreatedAt          time.Time
	SubmittedAt        *time.Time
	UpdatedAt          time.Time
}

// NewTicketRecord builds a draft-status record from a confirmed draft.
func NewTicketRecord(id, requesterID string, draft Draft, now time.Time) *TicketRecord {
	return &TicketRecord{
		ID:          id,
		RequesterID: requesterID,
		Title:       draft.Title,
		Description: draft.Description,
		Label:       draft.Label,
		Priority:    draft.Priority,
		Status:      TicketStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Draft rebuilds the ticket payload from the record, used when retrying.
func (t *TicketRecord) Draft() Draft {
	return Draft{
		Title:       t.Title,
		Description: t.Description,
		Label:       t.Label,
		Priority:    t.Priority,
	}
}

// Submit moves draft -> submitted.
func (t *TicketRecord) Submit(now time.Time) error {
	if t.Status != TicketStatusDraft {
		return transitionError(t.Status, TicketStatusSubmitted)
	}
	t.Status = TicketStatusSubmitted
	t.SubmittedAt = &now
	t.UpdatedAt = now
	return nil
}

// MarkCreated moves submitted -> created and stores the tracker identity.
func (t *TicketRecord) MarkCreated(ext ExternalTicket, now time.Time) error {
	if t.Status != TicketStatusSubmitted {
		return transitionError(t.Status, TicketStatusCreated)
	}
	t.setCreated(ext, now)
	return nil
}

// MarkFailed moves submitted -> failed.
func (t *TicketRecord) MarkFailed(now time.Time) error {
	if t.Status != TicketStatusSubmitted {
		return transitionError(t.Status, TicketStatusFailed)
	}
	t.Status = TicketStatusFailed
	t.UpdatedAt = now
	return nil
}

// MarkRetried is the explicit retry path: failed -> created.
func (t *TicketRecord) MarkRetried(ext ExternalTicket, now time.Time) error {
	if t.Status != TicketStatusFailed {
		return transitionError(t.Status, TicketStatusCreated)
	}
	t.setCreated(ext, now)
	return nil
}

func (t *TicketRecord) setCreated(ext ExternalTicket, now time.Time) {
	t.Status = TicketStatusCreated
	t.ExternalID = &ext.ID
	t.ExternalIdentifier = &ext.Identifier
	t.ExternalURL = &ext.URL
	t.UpdatedAt = now
}

func transitionError(from, to TicketStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
