package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/config"
	"github.com/spec-kit/ticket-intake/internal/events"
	"github.com/spec-kit/ticket-intake/internal/notify"
)

// NotificationService forwards domain events to the configured notifiers.
type NotificationService struct {
	dispatcher events.Dispatcher
	notifiers  []notify.Notifier
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, notifiers []notify.Notifier, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		notifiers:  notifiers,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	msg := notify.Message{
		Channel: n.cfg.ReviewerChannel,
		Text:    describeEvent(event),
		Event:   event,
	}

	var failed int
	for _, notifier := range n.notifiers {
		if err := notifier.Send(ctx, msg); err != nil {
			failed++
			n.logger.Warn("notifier failed",
				zap.String("notifier", notifier.Name()),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d notifiers failed", failed, len(n.notifiers))
	}
	return nil
}

func describeEvent(event events.Event) string {
	switch p := event.Payload.(type) {
	case events.TicketCreatedPayload:
		return fmt.Sprintf("New ticket %s (%s): %s %s", p.Identifier, p.Priority, p.Title, p.URL)
	case events.TicketFailedPayload:
		return fmt.Sprintf("Ticket %q could not be created: %s", p.Title, p.Reason)
	case events.TicketCommentedPayload:
		return fmt.Sprintf("Comment on %s: %s", event.TicketID, p.BodyPreview)
	case events.TicketStatusChangedPayload:
		return fmt.Sprintf("Status of %s changed to %s", event.TicketID, firstNonEmpty(p.StatusName, p.StatusID))
	case events.TicketAssignedPayload:
		return fmt.Sprintf("%s assigned to %s", event.TicketID, firstNonEmpty(p.AssigneeName, p.AssigneeID))
	}
	return string(event.Type)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
