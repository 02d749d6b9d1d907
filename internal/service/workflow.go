package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/events"
	"github.com/spec-kit/ticket-intake/internal/observability"
	"github.com/spec-kit/ticket-intake/internal/repository"
	"github.com/spec-kit/ticket-intake/internal/tracker"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

// Workflow is the intake state machine. It maps (state, event) to the next
// state and its side effects, one user at a time.
type Workflow struct {
	sessions        *SessionManager
	limiter         *RateLimiter
	duplicates      *DuplicateDetector
	records         repository.TicketRecordRepository
	gateway         tracker.Gateway
	catalog         *tracker.Catalog
	dispatcher      events.Dispatcher
	reviewerChannel string
	now             func() time.Time
	newID           func() string
	logger          *zap.Logger
	metrics         *observability.Metrics
}

// WorkflowDependencies bundles the workflow collaborators.
type WorkflowDependencies struct {
	Sessions        *SessionManager
	RateLimiter     *RateLimiter
	Duplicates      *DuplicateDetector
	Records         repository.TicketRecordRepository
	Gateway         tracker.Gateway
	Catalog         *tracker.Catalog
	Dispatcher      events.Dispatcher
	ReviewerChannel string
	Now             func() time.Time
	NewID           func() string
	Logger          *zap.Logger
	Metrics         *observability.Metrics
}

// NewWorkflow constructs the workflow.
func NewWorkflow(deps WorkflowDependencies) *Workflow {
	w := &Workflow{
		sessions:        deps.Sessions,
		limiter:         deps.RateLimiter,
		duplicates:      deps.Duplicates,
		records:         deps.Records,
		gateway:         deps.Gateway,
		catalog:         deps.Catalog,
		dispatcher:      deps.Dispatcher,
		reviewerChannel: deps.ReviewerChannel,
		now:             deps.Now,
		newID:           deps.NewID,
		logger:          deps.Logger,
		metrics:         deps.Metrics,
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.newID == nil {
		w.newID = func() string { return uuid.NewString() }
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.catalog == nil {
		w.catalog, _ = tracker.NewCatalog(tracker.CatalogFile{})
	}
	return w
}

// Handle processes one event. Business rejections come back as a Result
// with a tagged outcome; only storage failures and malformed events are
// returned as errors. Events raised by the step are published after the
// user's lock is released.
func (w *Workflow) Handle(ctx context.Context, ev Event) (*Result, error) {
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.UserID == "" {
		return nil, apperrors.NewValidationError("user_id is required", nil)
	}
	switch ev.Kind {
	case EventStartCreation, EventEnterOperation, EventCancel, EventTextInput, EventSelection:
	default:
		return nil, apperrors.NewValidationError("unknown event kind", map[string]any{"kind": string(ev.Kind)})
	}

	res, err := w.handleLocked(ctx, ev)
	if err != nil {
		w.logger.Error("workflow step failed",
			zap.String("user_id", ev.UserID),
			zap.String("event", string(ev.Kind)),
			zap.Error(err))
		return nil, err
	}

	w.metrics.RecordOutcome(string(res.Outcome))
	w.publish(context.WithoutCancel(ctx), res.pending)
	return res, nil
}

func (w *Workflow) handleLocked(ctx context.Context, ev Event) (*Result, error) {
	unlock := w.sessions.Lock(ev.UserID)
	defer unlock()

	// the caller may have given up while another step held the lock
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch ev.Kind {
	case EventStartCreation:
		return w.startCreation(ctx, ev)
	case EventEnterOperation:
		return w.enterOperation(ctx, ev)
	case EventCancel:
		return w.cancel(ctx, ev)
	default:
		return w.handleInput(ctx, ev)
	}
}

func (w *Workflow) startCreation(ctx context.Context, ev Event) (*Result, error) {
	if err := w.limiter.Allow(ctx, ev.UserID); err != nil {
		if isRateLimited(err) {
			return w.rateLimited(ev.UserID, domain.StateIdle), nil
		}
		return nil, err
	}

	if _, err := w.sessions.Create(ctx, ev.UserID); err != nil {
		return nil, err
	}
	state := domain.StateAwaitingCategory
	session, err := w.sessions.Update(ctx, ev.UserID, SessionPatch{State: &state})
	if err != nil {
		return nil, err
	}
	return w.advanced(session), nil
}

func (w *Workflow) enterOperation(ctx context.Context, ev Event) (*Result, error) {
	state, ok := ev.Operation.State()
	if !ok {
		return w.reject(ev.UserID, domain.StateIdle, OutcomeInvalidAction, msgUseControls, idlePrompt(ev.UserID, msgMainMenu)), nil
	}
	target := strings.TrimSpace(ev.TargetTicketID)
	if target == "" {
		return w.reject(ev.UserID, domain.StateIdle, OutcomeRejected, "A target ticket is required.", idlePrompt(ev.UserID, msgMainMenu)), nil
	}
	switch {
	case state == domain.StateUpdatingStatus && len(w.catalog.Statuses()) == 0:
		return w.reject(ev.UserID, domain.StateIdle, OutcomeOperationFailed, "No statuses are available right now. Please try again later.", idlePrompt(ev.UserID, msgMainMenu)), nil
	case state == domain.StateAssigningIssue && len(w.catalog.Assignees()) == 0:
		return w.reject(ev.UserID, domain.StateIdle, OutcomeOperationFailed, "No assignees are available right now. Please try again later.", idlePrompt(ev.UserID, msgMainMenu)), nil
	}

	if _, err := w.sessions.Create(ctx, ev.UserID); err != nil {
		return nil, err
	}
	session, err := w.sessions.Update(ctx, ev.UserID, SessionPatch{
		State:     &state,
		Operation: &domain.Operation{Kind: ev.Operation, TargetTicketID: target},
	})
	if err != nil {
		return nil, err
	}
	return w.advanced(session), nil
}

func (w *Workflow) cancel(ctx context.Context, ev Event) (*Result, error) {
	if err := w.sessions.Delete(ctx, ev.UserID); err != nil {
		return nil, err
	}
	return &Result{
		UserID:  ev.UserID,
		State:   domain.StateIdle,
		Outcome: OutcomeCancelled,
		Prompt:  idlePrompt(ev.UserID, msgCancelled),
	}, nil
}

func (w *Workflow) handleInput(ctx context.Context, ev Event) (*Result, error) {
	session, err := w.sessions.Get(ctx, ev.UserID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeSessionNotFound) || apperrors.HasCode(err, apperrors.CodeSessionExpired) {
			return &Result{
				UserID:  ev.UserID,
				State:   domain.StateIdle,
				Outcome: OutcomeSessionMissing,
				Reason:  msgRestart,
				Prompt:  idlePrompt(ev.UserID, msgRestart),
			}, nil
		}
		return nil, err
	}

	switch session.State {
	case domain.StateAwaitingCategory:
		return w.onCategory(ctx, session, ev)
	case domain.StateAwaitingTitle:
		return w.onTitle(ctx, session, ev)
	case domain.StateAwaitingDescription:
		return w.onDescription(ctx, session, ev)
	case domain.StateAwaitingLabel:
		return w.onLabel(ctx, session, ev)
	case domain.StateAwaitingTemplateChoice:
		return w.onTemplateChoice(ctx, session, ev)
	case domain.StateAwaitingPriority:
		return w.onPriority(ctx, session, ev)
	case domain.StateAwaitingConfirmation:
		return w.onConfirmation(ctx, session, ev)
	case domain.StateSelectingEditField:
		return w.onEditField(ctx, session, ev)
	case domain.StateAddingComment:
		return w.onComment(ctx, session, ev)
	case domain.StateUpdatingStatus:
		return w.onStatus(ctx, session, ev)
	case domain.StateAssigningIssue:
		return w.onAssignee(ctx, session, ev)
	}
	return w.invalid(session), nil
}

// selection returns the selected value when ev is a selection of action.
func selection(ev Event, action string) (string, bool) {
	if ev.Kind != EventSelection || ev.Action != action {
		return "", false
	}
	return ev.Value, true
}

// text returns the raw text when ev is a text input.
func text(ev Event) (string, bool) {
	if ev.Kind != EventTextInput {
		return "", false
	}
	return ev.Text, true
}

func (w *Workflow) advanced(session *domain.Session) *Result {
	return &Result{
		UserID:  session.UserID,
		State:   session.State,
		Outcome: OutcomeAdvanced,
		Prompt:  w.promptFor(session),
	}
}

// invalid rejects an event the current state does not accept and repeats
// the current prompt. Nothing is written.
func (w *Workflow) invalid(session *domain.Session) *Result {
	return w.reject(session.UserID, session.State, OutcomeInvalidAction, msgUseControls, w.promptFor(session))
}

// rejectInput re-prompts the current state with a specific reason.
func (w *Workflow) rejectInput(session *domain.Session, reason string) *Result {
	return w.reject(session.UserID, session.State, OutcomeRejected, reason, w.promptFor(session))
}

func (w *Workflow) reject(userID string, state domain.State, outcome Outcome, reason string, prompt *Prompt) *Result {
	return &Result{UserID: userID, State: state, Outcome: outcome, Reason: reason, Prompt: prompt}
}

func (w *Workflow) rateLimited(userID string, state domain.State) *Result {
	reason := fmt.Sprintf("You reached the daily limit of %d tickets. Please try again tomorrow.", w.limiter.Max())
	return w.reject(userID, state, OutcomeRateLimited, reason, idlePrompt(userID, reason))
}

func (w *Workflow) newEvent(eventType events.EventType, ticketID, userID string, payload any) events.Event {
	return events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		UserID:    userID,
		Timestamp: w.now().UTC(),
		Payload:   payload,
	}
}

// emit queues an event on res for publication after the step.
func (w *Workflow) emit(res *Result, eventType events.EventType, ticketID, userID string, payload any) {
	res.pending = append(res.pending, w.newEvent(eventType, ticketID, userID, payload))
}

func (w *Workflow) publish(ctx context.Context, pending []events.Event) {
	if w.dispatcher == nil {
		return
	}
	for _, event := range pending {
		if err := w.dispatcher.Publish(ctx, event); err != nil {
			w.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}
}

func trackerOutcome(err error) (Outcome, string) {
	if errors.Is(err, tracker.ErrRejected) {
		return OutcomeTrackerRejected, msgRejectedLate
	}
	return OutcomeTrackerUnavailable, msgTryLater
}

var errNotApplied = errors.New("tracker did not apply the change")

func trackerError(err error) error {
	if errors.Is(err, tracker.ErrRejected) {
		return apperrors.NewTrackerRejected("", err)
	}
	return apperrors.NewTrackerUnavailable(err)
}

func isRateLimited(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeRateLimitExceeded)
}

func storageFailure(op string, err error) error {
	return apperrors.NewStorageFailure(op, err)
}

func recordLookupError(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("ticket record", map[string]any{"id": id})
	}
	return storageFailure("ticket.get", err)
}

func conflict(message string, record *domain.TicketRecord) error {
	return apperrors.NewConflict(message, map[string]any{"id": record.ID, "status": string(record.Status)})
}

func ptr[T any](v T) *T {
	return &v
}
