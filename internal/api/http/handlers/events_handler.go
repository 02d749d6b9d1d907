package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-intake/internal/api/dto"
	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/service"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

// EventsHandler feeds transport events into the intake workflow.
type EventsHandler struct {
	workflow *service.Workflow
}

// NewEventsHandler constructs handler.
func NewEventsHandler(workflow *service.Workflow) *EventsHandler {
	return &EventsHandler{workflow: workflow}
}

// PostEvent POST /v1/events.
func (h *EventsHandler) PostEvent(c *fiber.Ctx) error {
	var req dto.EventRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.UserID) == "" || req.Kind == "" {
		return apperrors.NewValidationError("kind and user_id required", nil)
	}

	result, err := h.workflow.Handle(c.UserContext(), service.Event{
		Kind:           service.EventKind(req.Kind),
		UserID:         req.UserID,
		Text:           req.Text,
		Action:         req.Action,
		Value:          req.Value,
		Operation:      domain.OperationKind(req.Operation),
		TargetTicketID: req.TargetTicketID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": eventResponse(result)})
}

func eventResponse(r *service.Result) dto.EventResponse {
	resp := dto.EventResponse{
		UserID:  r.UserID,
		Outcome: string(r.Outcome),
		State:   r.State,
		Reason:  r.Reason,
		Ticket:  dto.NewTicketRecordResponse(r.Ticket),
	}
	if r.Prompt != nil {
		prompt := &dto.PromptResponse{Text: r.Prompt.Text, Expect: string(r.Prompt.Expect)}
		for _, opt := range r.Prompt.Options {
			prompt.Options = append(prompt.Options, dto.OptionResponse{Action: opt.Action, Value: opt.Value, Label: opt.Label})
		}
		resp.Prompt = prompt
	}
	for _, n := range r.Notifications {
		resp.Notifications = append(resp.Notifications, dto.NotificationResponse{Channel: n.Channel, Text: n.Text})
	}
	return resp
}
