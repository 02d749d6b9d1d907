package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/events"
	"github.com/spec-kit/ticket-intake/internal/validation"
)

const previewLength = 80

func (w *Workflow) onComment(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	input, ok := text(ev)
	if !ok || session.Operation == nil {
		return w.invalid(session), nil
	}
	body := validation.Sanitize(input)
	if failure := validation.ValidateComment(body); failure != nil {
		return w.rejectInput(session, failure.Reason), nil
	}

	ctx = context.WithoutCancel(ctx)
	target := session.Operation.TargetTicketID
	comment, err := w.gateway.AddComment(ctx, target, body)
	if err != nil {
		return w.finishOperation(ctx, session, err, "")
	}

	res, err := w.finishOperation(ctx, session, nil, fmt.Sprintf("Comment added to %s.", target))
	if err != nil {
		return nil, err
	}
	w.emit(res, events.EventTicketCommented, target, session.UserID, events.TicketCommentedPayload{
		CommentID:   comment.ID,
		BodyPreview: preview(body),
	})
	return res, nil
}

func (w *Workflow) onStatus(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionStatus)
	if !ok || session.Operation == nil {
		return w.invalid(session), nil
	}
	status, ok := w.catalog.Status(value)
	if !ok {
		return w.invalid(session), nil
	}

	ctx = context.WithoutCancel(ctx)
	target := session.Operation.TargetTicketID
	updated, err := w.gateway.UpdateStatus(ctx, target, status.ID)
	if err == nil && !updated {
		err = errNotApplied
	}
	if err != nil {
		return w.finishOperation(ctx, session, err, "")
	}

	res, err := w.finishOperation(ctx, session, nil, fmt.Sprintf("Status of %s changed to %s.", target, status.Name))
	if err != nil {
		return nil, err
	}
	w.emit(res, events.EventTicketStatusChanged, target, session.UserID, events.TicketStatusChangedPayload{
		StatusID:   status.ID,
		StatusName: status.Name,
	})
	return res, nil
}

func (w *Workflow) onAssignee(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionAssignee)
	if !ok || session.Operation == nil {
		return w.invalid(session), nil
	}
	assignee, ok := w.catalog.Assignee(value)
	if !ok {
		return w.invalid(session), nil
	}

	ctx = context.WithoutCancel(ctx)
	target := session.Operation.TargetTicketID
	updated, err := w.gateway.UpdateAssignee(ctx, target, assignee.ID)
	if err == nil && !updated {
		err = errNotApplied
	}
	if err != nil {
		return w.finishOperation(ctx, session, err, "")
	}

	res, err := w.finishOperation(ctx, session, nil, fmt.Sprintf("%s is now assigned to %s.", target, assignee.Name))
	if err != nil {
		return nil, err
	}
	w.emit(res, events.EventTicketAssigned, target, session.UserID, events.TicketAssignedPayload{
		AssigneeID:   assignee.ID,
		AssigneeName: assignee.Name,
	})
	return res, nil
}

// finishOperation returns the session to idle whatever the tracker answered.
func (w *Workflow) finishOperation(ctx context.Context, session *domain.Session, callErr error, successMsg string) (*Result, error) {
	idle := domain.StateIdle
	if _, err := w.sessions.Update(ctx, session.UserID, SessionPatch{State: &idle, ClearOperation: true}); err != nil {
		return nil, err
	}

	if callErr != nil {
		kind := domain.OperationKind("")
		if session.Operation != nil {
			kind = session.Operation.Kind
		}
		w.logger.Warn("ticket operation failed",
			zap.String("user_id", session.UserID),
			zap.String("operation", string(kind)),
			zap.String("target", targetOf(session)),
			zap.Error(callErr))
		reason := "The tracker could not apply the change. Please try again later."
		return &Result{
			UserID:  session.UserID,
			State:   domain.StateIdle,
			Outcome: OutcomeOperationFailed,
			Reason:  reason,
			Prompt:  idlePrompt(session.UserID, reason),
		}, nil
	}

	return &Result{
		UserID:  session.UserID,
		State:   domain.StateIdle,
		Outcome: OutcomeOperationSucceeded,
		Prompt:  idlePrompt(session.UserID, successMsg),
	}, nil
}

func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLength {
		return body
	}
	return string(runes[:previewLength]) + "..."
}
