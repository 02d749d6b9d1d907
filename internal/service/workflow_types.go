package service

import (
	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/events"
)

// EventKind identifies an inbound conversational event.
type EventKind string

const (
	EventTextInput      EventKind = "text_input"
	EventSelection      EventKind = "selection"
	EventStartCreation  EventKind = "start_creation"
	EventCancel         EventKind = "cancel"
	EventEnterOperation EventKind = "enter_operation"
)

// Selection actions. A selection is only accepted in the state that offered it.
const (
	ActionCategory  = "category"
	ActionLabel     = "label"
	ActionTemplate  = "template"
	ActionPriority  = "priority"
	ActionConfirm   = "confirm"
	ActionEditField = "edit_field"
	ActionStatus    = "status"
	ActionAssignee  = "assignee"
)

// Values of the template and confirm selections.
const (
	TemplateUse  = "use"
	TemplateSkip = "skip"

	ConfirmSubmit = "confirm"
	ConfirmEdit   = "edit"
	ConfirmCancel = "cancel"
)

// Editable draft fields offered in the edit menu.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldLabel       = "label"
	FieldPriority    = "priority"
)

// Event is one inbound message from the chat transport.
type Event struct {
	Kind   EventKind
	UserID string

	// TextInput
	Text string

	// Selection
	Action string
	Value  string

	// EnterOperation
	Operation      domain.OperationKind
	TargetTicketID string
}

// InputKind tells the transport what to render for the next step.
type InputKind string

const (
	InputNone      InputKind = "none"
	InputText      InputKind = "text"
	InputSelection InputKind = "selection"
)

// Option is one button of a selection prompt.
type Option struct {
	Action string `json:"action"`
	Value  string `json:"value"`
	Label  string `json:"label"`
}

// Prompt asks the user for the next input.
type Prompt struct {
	UserID  string    `json:"user_id"`
	Text    string    `json:"text"`
	Expect  InputKind `json:"expect"`
	Options []Option  `json:"options,omitempty"`
}

// Notification is an outbound message to a channel other than the user.
type Notification struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Outcome tags how an event was resolved.
type Outcome string

const (
	OutcomeAdvanced           Outcome = "advanced"
	OutcomeRejected           Outcome = "rejected"
	OutcomeInvalidAction      Outcome = "invalid_action"
	OutcomeSessionMissing     Outcome = "session_missing"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeCreated            Outcome = "created"
	OutcomeTrackerUnavailable Outcome = "tracker_unavailable"
	OutcomeTrackerRejected    Outcome = "tracker_rejected"
	OutcomeOperationSucceeded Outcome = "operation_succeeded"
	OutcomeOperationFailed    Outcome = "operation_failed"
)

// Result is everything the transport needs to answer an event.
type Result struct {
	UserID        string               `json:"user_id"`
	State         domain.State         `json:"state"`
	Outcome       Outcome              `json:"outcome"`
	Reason        string               `json:"reason,omitempty"`
	Prompt        *Prompt              `json:"prompt,omitempty"`
	Notifications []Notification       `json:"notifications,omitempty"`
	Ticket        *domain.TicketRecord `json:"-"`

	// published once the user's lock is released
	pending []events.Event
}
