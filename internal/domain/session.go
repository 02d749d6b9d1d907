package domain

import (
	"fmt"
	"time"
)

// State tags where a user is in the conversation. The set is closed;
// values read back from storage go through ParseState.
type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingCategory       State = "awaiting_category"
	StateAwaitingTitle          State = "awaiting_title"
	StateAwaitingDescription    State = "awaiting_description"
	StateAwaitingLabel          State = "awaiting_label"
	StateAwaitingTemplateChoice State = "awaiting_template_choice"
	StateAwaitingPriority       State = "awaiting_priority"
	StateAwaitingConfirmation   State = "awaiting_confirmation"
	StateSelectingEditField     State = "selecting_edit_field"

	StateAddingComment  State = "adding_comment"
	StateUpdatingStatus State = "updating_status"
	StateAssigningIssue State = "assigning_issue"
)

var knownStates = map[State]struct{}{
	StateIdle:                   {},
	StateAwaitingCategory:       {},
	StateAwaitingTitle:          {},
	StateAwaitingDescription:    {},
	StateAwaitingLabel:          {},
	StateAwaitingTemplateChoice: {},
	StateAwaitingPriority:       {},
	StateAwaitingConfirmation:   {},
	StateSelectingEditField:     {},
	StateAddingComment:          {},
	StateUpdatingStatus:         {},
	StateAssigningIssue:         {},
}

// ParseState validates a stored state tag.
func ParseState(raw string) (State, error) {
	state := State(raw)
	if _, ok := knownStates[state]; !ok {
		return "", fmt.Errorf("unknown session state %q", raw)
	}
	return state, nil
}

// IsOperation reports whether the state acts on an existing ticket.
func (s State) IsOperation() bool {
	switch s {
	case StateAddingComment, StateUpdatingStatus, StateAssigningIssue:
		return true
	}
	return false
}

// OperationKind names an ad-hoc action on an existing ticket.
type OperationKind string

const (
	OperationAddComment   OperationKind = "add_comment"
	OperationUpdateStatus OperationKind = "update_status"
	OperationAssign       OperationKind = "assign"
)

// State returns the workflow state that collects input for the operation.
func (k OperationKind) State() (State, bool) {
	switch k {
	case OperationAddComment:
		return StateAddingComment, true
	case OperationUpdateStatus:
		return StateUpdatingStatus, true
	case OperationAssign:
		return StateAssigningIssue, true
	}
	return "", false
}

// Operation is the scratch space of an operation state.
type Operation struct {
	Kind           OperationKind `json:"kind"`
	TargetTicketID string        `json:"target_ticket_id"`
}

// Category is the first choice of the creation flow.
type Category string

const (
	CategoryBug         Category = "bug"
	CategoryImprovement Category = "improvement"
	CategoryRequest     Category = "request"
	CategoryGeneral     Category = "general"
)

// Categories lists the selectable categories in display order.
var Categories = []Category{CategoryBug, CategoryImprovement, CategoryRequest, CategoryGeneral}

// ParseCategory validates a category selection.
func ParseCategory(raw string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == raw {
			return c, true
		}
	}
	return "", false
}

// Label returns the ticket label implied by the category, if any.
func (c Category) Label() (TicketLabel, bool) {
	switch c {
	case CategoryBug:
		return LabelBug, true
	case CategoryImprovement:
		return LabelImprovement, true
	case CategoryRequest:
		return LabelRequest, true
	}
	return "", false
}

// Streamlined categories skip label and priority selection entirely.
func (c Category) Streamlined() bool {
	return c == CategoryImprovement || c == CategoryRequest
}

// Draft accumulates ticket fields while the user walks the creation flow.
// Empty values mean "not collected yet".
type Draft struct {
	Category    Category       `json:"category,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Label       TicketLabel    `json:"label,omitempty"`
	Priority    TicketPriority `json:"priority,omitempty"`

	AwaitingTemplate bool `json:"awaiting_template,omitempty"`
	TemplateOffered  bool `json:"template_offered,omitempty"`
	Editing          bool `json:"editing,omitempty"`
}

// DraftPatch carries a partial draft update. Nil fields are left alone.
type DraftPatch struct {
	Category    *Category
	Title       *string
	Description *string
	Label       *TicketLabel
	Priority    *TicketPriority

	AwaitingTemplate *bool
	TemplateOffered  *bool
	Editing          *bool
}

// Merge applies a shallow merge: set keys overwrite, unset keys are kept.
func (d Draft) Merge(p DraftPatch) Draft {
	if p.Category != nil {
		d.Category = *p.Category
	}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Label != nil {
		d.Label = *p.Label
	}
	if p.Priority != nil {
		d.Priority = *p.Priority
	}
	if p.AwaitingTemplate != nil {
		d.AwaitingTemplate = *p.AwaitingTemplate
	}
	if p.TemplateOffered != nil {
		d.TemplateOffered = *p.TemplateOffered
	}
	if p.Editing != nil {
		d.Editing = *p.Editing
	}
	return d
}

// Session is the per-user conversational record.
type Session struct {
	UserID         string
	State          State
	Draft          Draft
	Operation      *Operation
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// NewSession returns a fresh idle session.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:         userID,
		State:          StateIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivityAt) > timeout
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Operation != nil {
		op := *s.Operation
		out.Operation = &op
	}
	return &out
}
