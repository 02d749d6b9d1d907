package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/events"
	"github.com/spec-kit/ticket-intake/internal/validation"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

func (w *Workflow) onCategory(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionCategory)
	if !ok {
		return w.invalid(session), nil
	}
	category, ok := domain.ParseCategory(value)
	if !ok {
		return w.invalid(session), nil
	}

	patch := SessionPatch{
		State: ptr(domain.StateAwaitingTitle),
		Draft: domain.DraftPatch{Category: &category},
	}
	if label, ok := category.Label(); ok {
		patch.Draft.Label = &label
	}
	return w.step(ctx, session.UserID, patch)
}

func (w *Workflow) onTitle(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	input, ok := text(ev)
	if !ok {
		return w.invalid(session), nil
	}
	title := validation.Sanitize(input)
	if failure := validation.ValidateTitle(title); failure != nil {
		return w.rejectInput(session, failure.Reason), nil
	}
	duplicate, err := w.duplicates.IsDuplicate(ctx, title)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return w.rejectInput(session, "A ticket with this title was submitted recently. Please choose a different title."), nil
	}

	patch := SessionPatch{Draft: domain.DraftPatch{Title: &title}}
	if session.Draft.Editing {
		backToConfirmation(&patch)
	} else {
		patch.State = ptr(domain.StateAwaitingDescription)
	}
	return w.step(ctx, session.UserID, patch)
}

func (w *Workflow) onDescription(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	input, ok := text(ev)
	if !ok {
		return w.invalid(session), nil
	}
	draft := session.Draft

	// A filled-in template is taken verbatim, but never empty.
	if draft.AwaitingTemplate {
		if strings.TrimSpace(input) == "" {
			return w.rejectInput(session, msgEmptyTemplate), nil
		}
		return w.step(ctx, session.UserID, SessionPatch{
			State: ptr(domain.StateAwaitingPriority),
			Draft: domain.DraftPatch{Description: &input, AwaitingTemplate: ptr(false)},
		})
	}

	description := validation.Sanitize(input)
	if failure := validation.ValidateDescription(description); failure != nil {
		return w.rejectInput(session, failure.Reason), nil
	}

	patch := SessionPatch{Draft: domain.DraftPatch{Description: &description}}
	switch {
	case draft.Editing:
		backToConfirmation(&patch)
	case draft.Label == "":
		patch.State = ptr(domain.StateAwaitingLabel)
	case draft.Category.Streamlined():
		patch.State = ptr(domain.StateAwaitingConfirmation)
		patch.Draft.Priority = ptr(domain.DefaultPriority)
	default:
		w.afterLabel(&patch, draft, draft.Label)
	}
	return w.step(ctx, session.UserID, patch)
}

func (w *Workflow) onLabel(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionLabel)
	if !ok {
		return w.invalid(session), nil
	}
	label, ok := domain.ParseLabel(value)
	if !ok {
		return w.invalid(session), nil
	}

	patch := SessionPatch{Draft: domain.DraftPatch{Label: &label}}
	if session.Draft.Editing {
		backToConfirmation(&patch)
	} else {
		w.afterLabel(&patch, session.Draft, label)
	}
	return w.step(ctx, session.UserID, patch)
}

// afterLabel offers the description template once for labels that have
// one, otherwise moves on to priority.
func (w *Workflow) afterLabel(patch *SessionPatch, draft domain.Draft, label domain.TicketLabel) {
	if label.OffersTemplate() && !draft.TemplateOffered {
		patch.State = ptr(domain.StateAwaitingTemplateChoice)
		patch.Draft.TemplateOffered = ptr(true)
		return
	}
	patch.State = ptr(domain.StateAwaitingPriority)
}

func (w *Workflow) onTemplateChoice(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionTemplate)
	if !ok {
		return w.invalid(session), nil
	}
	switch value {
	case TemplateUse:
		return w.step(ctx, session.UserID, SessionPatch{
			State: ptr(domain.StateAwaitingDescription),
			Draft: domain.DraftPatch{AwaitingTemplate: ptr(true)},
		})
	case TemplateSkip:
		return w.step(ctx, session.UserID, SessionPatch{State: ptr(domain.StateAwaitingPriority)})
	}
	return w.invalid(session), nil
}

func (w *Workflow) onPriority(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionPriority)
	if !ok {
		return w.invalid(session), nil
	}
	priority, ok := domain.ParsePriority(value)
	if !ok {
		return w.invalid(session), nil
	}
	patch := SessionPatch{Draft: domain.DraftPatch{Priority: &priority}}
	backToConfirmation(&patch)
	return w.step(ctx, session.UserID, patch)
}

func (w *Workflow) onConfirmation(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionConfirm)
	if !ok {
		return w.invalid(session), nil
	}
	switch value {
	case ConfirmSubmit:
		return w.submit(ctx, session)
	case ConfirmEdit:
		return w.step(ctx, session.UserID, SessionPatch{State: ptr(domain.StateSelectingEditField)})
	case ConfirmCancel:
		return w.cancel(ctx, Event{Kind: EventCancel, UserID: session.UserID})
	}
	return w.invalid(session), nil
}

var editStates = map[string]domain.State{
	FieldTitle:       domain.StateAwaitingTitle,
	FieldDescription: domain.StateAwaitingDescription,
	FieldLabel:       domain.StateAwaitingLabel,
	FieldPriority:    domain.StateAwaitingPriority,
}

func (w *Workflow) onEditField(ctx context.Context, session *domain.Session, ev Event) (*Result, error) {
	value, ok := selection(ev, ActionEditField)
	if !ok {
		return w.invalid(session), nil
	}
	state, ok := editStates[value]
	if !ok {
		return w.invalid(session), nil
	}
	return w.step(ctx, session.UserID, SessionPatch{
		State: &state,
		Draft: domain.DraftPatch{Editing: ptr(true)},
	})
}

func backToConfirmation(patch *SessionPatch) {
	patch.State = ptr(domain.StateAwaitingConfirmation)
	patch.Draft.Editing = ptr(false)
}

// step persists patch and prompts for the resulting state.
func (w *Workflow) step(ctx context.Context, userID string, patch SessionPatch) (*Result, error) {
	session, err := w.sessions.Update(ctx, userID, patch)
	if err != nil {
		return nil, err
	}
	return w.advanced(session), nil
}

// submit turns a confirmed draft into a ticket record and makes at most one
// tracker call. Once the call has been made the session is cleared first,
// so a repeated confirm can never reach the tracker again.
func (w *Workflow) submit(ctx context.Context, session *domain.Session) (*Result, error) {
	userID := session.UserID
	draft := session.Draft
	if field, missing := missingField(draft); missing {
		return w.needsEdit(ctx, session, fmt.Sprintf("The %s is missing. Choose it below to fill it in.", field))
	}

	if err := w.limiter.Allow(ctx, userID); err != nil {
		if !isRateLimited(err) {
			return nil, err
		}
		if err := w.sessions.Delete(ctx, userID); err != nil {
			return nil, err
		}
		return w.rateLimited(userID, domain.StateIdle), nil
	}

	// A submitted or created record with this title, including one left by
	// an earlier confirm of this very draft, blocks a second tracker call.
	duplicate, err := w.duplicates.IsDuplicate(ctx, draft.Title)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return w.needsEdit(ctx, session, "A ticket with this title was submitted recently. Choose the title to change it.")
	}

	ctx = context.WithoutCancel(ctx)
	now := w.now()
	record := domain.NewTicketRecord(w.newID(), userID, draft, now)
	if err := w.records.Create(ctx, record); err != nil {
		return nil, storageFailure("ticket.create", err)
	}
	if err := record.Submit(now); err != nil {
		return nil, err
	}
	if err := w.records.Update(ctx, record); err != nil {
		return nil, storageFailure("ticket.submit", err)
	}

	ext, callErr := w.gateway.CreateTicket(ctx, draft)
	sessionErr := w.sessions.Delete(ctx, userID)
	if sessionErr != nil {
		w.logger.Error("session not cleared after tracker call",
			zap.String("user_id", userID),
			zap.String("record_id", record.ID),
			zap.Error(sessionErr))
	}
	if callErr != nil {
		return w.submissionFailed(ctx, record, callErr)
	}

	if err := record.MarkCreated(ext, w.now()); err != nil {
		return nil, err
	}
	if err := w.records.Update(ctx, record); err != nil {
		w.logger.Error("ticket created but not recorded",
			zap.String("record_id", record.ID),
			zap.String("identifier", ext.Identifier),
			zap.Error(err))
		return nil, apperrors.WithDetails(storageFailure("ticket.created", err), map[string]any{
			"record_id":           record.ID,
			"external_id":         ext.ID,
			"external_identifier": ext.Identifier,
			"external_url":        ext.URL,
		})
	}
	if _, err := w.limiter.Increment(ctx, userID); err != nil {
		w.logger.Warn("rate counter not incremented", zap.String("user_id", userID), zap.Error(err))
	}

	w.logger.Info("ticket created",
		zap.String("record_id", record.ID),
		zap.String("user_id", userID),
		zap.String("identifier", ext.Identifier))

	msg := fmt.Sprintf("Ticket %s created: %s", ext.Identifier, ext.URL)
	res := &Result{
		UserID:  userID,
		State:   domain.StateIdle,
		Outcome: OutcomeCreated,
		Prompt:  idlePrompt(userID, msg),
		Notifications: []Notification{{
			Channel: w.reviewerChannel,
			Text:    fmt.Sprintf("New ticket %s from %s: %s %s", ext.Identifier, userID, draft.Title, ext.URL),
		}},
		Ticket: record,
	}
	w.emit(res, events.EventTicketCreated, record.ID, userID, createdPayload(record, false))
	return res, nil
}

// submissionFailed records a failed tracker call. The session is already gone.
func (w *Workflow) submissionFailed(ctx context.Context, record *domain.TicketRecord, callErr error) (*Result, error) {
	userID := record.RequesterID
	if err := record.MarkFailed(w.now()); err != nil {
		return nil, err
	}
	if err := w.records.Update(ctx, record); err != nil {
		return nil, storageFailure("ticket.failed", err)
	}

	outcome, reason := trackerOutcome(callErr)
	w.logger.Warn("ticket submission failed",
		zap.String("record_id", record.ID),
		zap.String("user_id", userID),
		zap.String("outcome", string(outcome)),
		zap.Error(callErr))

	res := &Result{
		UserID:  userID,
		State:   domain.StateIdle,
		Outcome: outcome,
		Reason:  reason,
		Prompt:  idlePrompt(userID, reason),
		Ticket:  record,
	}
	w.emit(res, events.EventTicketFailed, record.ID, userID, events.TicketFailedPayload{
		Title:  record.Title,
		Reason: callErr.Error(),
	})
	return res, nil
}

// missingField names the first draft field a submission still needs.
func missingField(draft domain.Draft) (string, bool) {
	switch {
	case draft.Title == "":
		return FieldTitle, true
	case draft.Description == "":
		return FieldDescription, true
	case draft.Priority == "":
		return FieldPriority, true
	}
	return "", false
}

// needsEdit sends the user to the edit menu with reason.
func (w *Workflow) needsEdit(ctx context.Context, session *domain.Session, reason string) (*Result, error) {
	updated, err := w.sessions.Update(ctx, session.UserID, SessionPatch{State: ptr(domain.StateSelectingEditField)})
	if err != nil {
		return nil, err
	}
	return w.reject(updated.UserID, updated.State, OutcomeRejected, reason, w.promptFor(updated)), nil
}

func createdPayload(record *domain.TicketRecord, retried bool) events.TicketCreatedPayload {
	p := events.TicketCreatedPayload{
		Title:    record.Title,
		Label:    record.Label,
		Priority: record.Priority,
		Retried:  retried,
	}
	if record.ExternalIdentifier != nil {
		p.Identifier = *record.ExternalIdentifier
	}
	if record.ExternalURL != nil {
		p.URL = *record.ExternalURL
	}
	return p
}

// RetryTicket re-submits a failed ticket record to the tracker. It refuses
// when the title has since been submitted again.
func (w *Workflow) RetryTicket(ctx context.Context, recordID string) (*domain.TicketRecord, error) {
	record, pending, err := w.retryLocked(ctx, recordID)
	if err != nil {
		return nil, err
	}
	w.publish(context.WithoutCancel(ctx), pending)
	return record, nil
}

func (w *Workflow) retryLocked(ctx context.Context, recordID string) (*domain.TicketRecord, []events.Event, error) {
	unlock := w.sessions.Lock("record:" + recordID)
	defer unlock()

	record, err := w.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, nil, recordLookupError(recordID, err)
	}
	if record.Status != domain.TicketStatusFailed {
		return nil, nil, conflict("only failed ticket records can be retried", record)
	}
	duplicate, err := w.duplicates.IsDuplicate(ctx, record.Title)
	if err != nil {
		return nil, nil, err
	}
	if duplicate {
		return nil, nil, conflict("a ticket with this title was submitted since", record)
	}

	ctx = context.WithoutCancel(ctx)
	ext, callErr := w.gateway.CreateTicket(ctx, record.Draft())
	if callErr != nil {
		w.logger.Warn("ticket retry failed", zap.String("record_id", recordID), zap.Error(callErr))
		return nil, nil, trackerError(callErr)
	}

	if err := record.MarkRetried(ext, w.now()); err != nil {
		return nil, nil, err
	}
	if err := w.records.Update(ctx, record); err != nil {
		return nil, nil, apperrors.WithDetails(storageFailure("ticket.retry", err), map[string]any{
			"record_id":           record.ID,
			"external_identifier": ext.Identifier,
		})
	}
	if _, err := w.limiter.Increment(ctx, record.RequesterID); err != nil {
		w.logger.Warn("rate counter not incremented", zap.String("user_id", record.RequesterID), zap.Error(err))
	}

	w.logger.Info("ticket retried", zap.String("record_id", recordID), zap.String("identifier", ext.Identifier))
	return record, []events.Event{w.newEvent(events.EventTicketCreated, record.ID, record.RequesterID, createdPayload(record, true))}, nil
}
