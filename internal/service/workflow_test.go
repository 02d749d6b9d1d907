package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/events"
	"github.com/spec-kit/ticket-intake/internal/repository"
	"github.com/spec-kit/ticket-intake/internal/tracker"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

const (
	validTitle       = "Fix login crash on startup"
	validDescription = "The app crashes right after tapping the login button on Android 14."
)

type fakeGateway struct {
	mu        sync.Mutex
	createErr error
	ext       domain.ExternalTicket
	created   []domain.Draft
	ctxErrs   []error
	onCreate  func()
	comments  []string
	statusOK  bool
	statuses  []string
	assignees []string
}

func (g *fakeGateway) CreateTicket(ctx context.Context, draft domain.Draft) (domain.ExternalTicket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onCreate != nil {
		g.onCreate()
	}
	g.created = append(g.created, draft)
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	if g.createErr != nil {
		return domain.ExternalTicket{}, g.createErr
	}
	return g.ext, nil
}

func (g *fakeGateway) UpdateStatus(_ context.Context, ticketID, statusID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = append(g.statuses, ticketID+"="+statusID)
	return g.statusOK, nil
}

func (g *fakeGateway) UpdateAssignee(_ context.Context, ticketID, assigneeID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.assignees = append(g.assignees, ticketID+"="+assigneeID)
	return true, nil
}

func (g *fakeGateway) AddComment(_ context.Context, ticketID, text string) (*tracker.Comment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.comments = append(g.comments, ticketID+":"+text)
	return &tracker.Comment{ID: "c-1", Body: text}, nil
}

type harness struct {
	wf         *Workflow
	sessions   *repository.MemorySessionRepository
	records    *repository.MemoryTicketRecordRepository
	counters   *repository.MemoryRateCounterRepository
	gateway    *fakeGateway
	clock      *fakeClock
	dispatcher events.Dispatcher

	mu        sync.Mutex
	published []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRecords(t, nil)
}

// newHarnessWithRecords lets a test put its own store in front of
// h.records. A nil wrap uses h.records directly.
func newHarnessWithRecords(t *testing.T, wrap func(*repository.MemoryTicketRecordRepository) repository.TicketRecordRepository) *harness {
	t.Helper()
	h := &harness{
		sessions: repository.NewMemorySessionRepository(),
		records:  repository.NewMemoryTicketRecordRepository(),
		counters: repository.NewMemoryRateCounterRepository(),
		gateway: &fakeGateway{
			ext:      domain.ExternalTicket{ID: "abc", Identifier: "FAL-42", URL: "https://tracker.example/FAL-42"},
			statusOK: true,
		},
		clock: newFakeClock(),
	}

	catalog, err := tracker.NewCatalog(tracker.CatalogFile{
		Statuses:  []tracker.Option{{ID: "st-done", Name: "Done"}},
		Assignees: []tracker.Option{{ID: "m-1", Name: "Alex"}},
		Templates: map[string]string{"bug": "Steps to reproduce:"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	h.dispatcher = events.NewInMemoryDispatcher(nil)
	for _, et := range events.AllEventTypes {
		h.dispatcher.Subscribe(et, func(_ context.Context, e events.Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.published = append(h.published, e)
			return nil
		})
	}

	var records repository.TicketRecordRepository = h.records
	if wrap != nil {
		records = wrap(h.records)
	}

	var seq int
	h.wf = NewWorkflow(WorkflowDependencies{
		Sessions: NewSessionManager(SessionManagerDependencies{
			Sessions: h.sessions,
			Timeout:  30 * time.Minute,
			Now:      h.clock.Now,
		}),
		RateLimiter:     NewRateLimiter(h.counters, 5, nil),
		Duplicates:      NewDuplicateDetector(records, 30*24*time.Hour, h.clock.Now),
		Records:         records,
		Gateway:         h.gateway,
		Catalog:         catalog,
		Dispatcher:      h.dispatcher,
		ReviewerChannel: "reviewers",
		Now:             h.clock.Now,
		NewID: func() string {
			seq++
			return "rec-" + strconv.Itoa(seq)
		},
	})
	return h
}

func (h *harness) send(t *testing.T, ev Event) *Result {
	t.Helper()
	res, err := h.wf.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle %s: %v", ev.Kind, err)
	}
	return res
}

func (h *harness) expect(t *testing.T, res *Result, outcome Outcome, state domain.State) {
	t.Helper()
	if res.Outcome != outcome || res.State != state {
		t.Fatalf("got outcome=%s state=%s (reason %q), want outcome=%s state=%s",
			res.Outcome, res.State, res.Reason, outcome, state)
	}
}

func (h *harness) session(t *testing.T, userID string) *domain.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("load session %s: %v", userID, err)
	}
	return s
}

func (h *harness) eventTypes() []events.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.EventType, len(h.published))
	for i, e := range h.published {
		out[i] = e.Type
	}
	return out
}

func start(user string) Event { return Event{Kind: EventStartCreation, UserID: user} }
func say(user, text string) Event {
	return Event{Kind: EventTextInput, UserID: user, Text: text}
}
func pick(user, action, value string) Event {
	return Event{Kind: EventSelection, UserID: user, Action: action, Value: value}
}

// toConfirmation walks the bug path to the confirmation step.
func (h *harness) toConfirmation(t *testing.T, user string) {
	t.Helper()
	h.expect(t, h.send(t, start(user)), OutcomeAdvanced, domain.StateAwaitingCategory)
	h.expect(t, h.send(t, pick(user, ActionCategory, "bug")), OutcomeAdvanced, domain.StateAwaitingTitle)
	h.expect(t, h.send(t, say(user, validTitle)), OutcomeAdvanced, domain.StateAwaitingDescription)
	h.expect(t, h.send(t, say(user, validDescription)), OutcomeAdvanced, domain.StateAwaitingTemplateChoice)
	h.expect(t, h.send(t, pick(user, ActionTemplate, TemplateSkip)), OutcomeAdvanced, domain.StateAwaitingPriority)
	h.expect(t, h.send(t, pick(user, ActionPriority, "HIGH")), OutcomeAdvanced, domain.StateAwaitingConfirmation)
}

func TestBugTicketHappyPath(t *testing.T) {
	h := newHarness(t)
	h.toConfirmation(t, "u1")

	res := h.send(t, pick("u1", ActionConfirm, ConfirmSubmit))
	h.expect(t, res, OutcomeCreated, domain.StateIdle)

	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("session should be cleared after submission")
	}
	records := h.records.All()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != domain.TicketStatusCreated || *rec.ExternalIdentifier != "FAL-42" || *rec.ExternalID != "abc" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Label != domain.LabelBug || rec.Priority != domain.TicketPriorityHigh || rec.Title != validTitle {
		t.Fatalf("draft fields not carried: %+v", rec)
	}
	if count, _ := h.counters.Get(context.Background(), "u1"); count != 1 {
		t.Fatalf("rate counter = %d, want 1", count)
	}
	if len(h.gateway.created) != 1 {
		t.Fatalf("gateway called %d times", len(h.gateway.created))
	}
	if len(res.Notifications) != 1 || res.Notifications[0].Channel != "reviewers" {
		t.Fatalf("missing reviewer notification: %+v", res.Notifications)
	}
	if got := h.eventTypes(); len(got) != 1 || got[0] != events.EventTicketCreated {
		t.Fatalf("events = %v", got)
	}
}

func TestShortTitleIsRejectedWithoutStateChange(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "bug"))

	res := h.send(t, say("u1", "short"))
	h.expect(t, res, OutcomeRejected, domain.StateAwaitingTitle)
	if res.Reason == "" {
		t.Fatal("rejection should carry a reason")
	}
	s := h.session(t, "u1")
	if s.State != domain.StateAwaitingTitle || s.Draft.Title != "" {
		t.Fatalf("session mutated on rejection: %+v", s)
	}
}

func TestTrackerUnavailableMarksRecordFailed(t *testing.T) {
	h := newHarness(t)
	h.gateway.createErr = fmt.Errorf("%w: timeout", tracker.ErrUnavailable)
	h.toConfirmation(t, "u1")

	res := h.send(t, pick("u1", ActionConfirm, ConfirmSubmit))
	h.expect(t, res, OutcomeTrackerUnavailable, domain.StateIdle)

	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("session should be cleared after a failed submission")
	}
	records := h.records.All()
	if len(records) != 1 || records[0].Status != domain.TicketStatusFailed {
		t.Fatalf("expected one failed record, got %+v", records)
	}
	if count, _ := h.counters.Get(context.Background(), "u1"); count != 0 {
		t.Fatalf("rate counter = %d, want 0", count)
	}
	if got := h.eventTypes(); len(got) != 1 || got[0] != events.EventTicketFailed {
		t.Fatalf("events = %v", got)
	}
}

func TestTrackerRejectionIsTagged(t *testing.T) {
	h := newHarness(t)
	h.gateway.createErr = fmt.Errorf("%w: bad team", tracker.ErrRejected)
	h.toConfirmation(t, "u1")
	h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmSubmit)), OutcomeTrackerRejected, domain.StateIdle)
}

func TestConcurrentStartCreationLeavesOneSession(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.wf.Handle(context.Background(), start("u1")); err != nil {
				t.Errorf("start: %v", err)
			}
		}()
	}
	wg.Wait()

	if storedSessions(t, h.sessions) != 1 {
		t.Fatalf("expected a single session, got %d", storedSessions(t, h.sessions))
	}
	s := h.session(t, "u1")
	if s.State != domain.StateAwaitingCategory || s.Draft != (domain.Draft{}) {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestAddCommentOperation(t *testing.T) {
	h := newHarness(t)
	res := h.send(t, Event{Kind: EventEnterOperation, UserID: "u1", Operation: domain.OperationAddComment, TargetTicketID: "xyz"})
	h.expect(t, res, OutcomeAdvanced, domain.StateAddingComment)

	res = h.send(t, say("u1", "Fixed in latest build"))
	h.expect(t, res, OutcomeOperationSucceeded, domain.StateIdle)

	s := h.session(t, "u1")
	if s.State != domain.StateIdle || s.Operation != nil {
		t.Fatalf("session not returned to idle: %+v", s)
	}
	if len(h.gateway.comments) != 1 || h.gateway.comments[0] != "xyz:Fixed in latest build" {
		t.Fatalf("comments = %v", h.gateway.comments)
	}
	if got := h.eventTypes(); len(got) != 1 || got[0] != events.EventTicketCommented {
		t.Fatalf("events = %v", got)
	}
}

func TestStatusOperationFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.gateway.statusOK = false
	h.send(t, Event{Kind: EventEnterOperation, UserID: "u1", Operation: domain.OperationUpdateStatus, TargetTicketID: "xyz"})

	stale := h.send(t, pick("u1", ActionStatus, "unknown"))
	h.expect(t, stale, OutcomeInvalidAction, domain.StateUpdatingStatus)

	res := h.send(t, pick("u1", ActionStatus, "st-done"))
	h.expect(t, res, OutcomeOperationFailed, domain.StateIdle)
	if s := h.session(t, "u1"); s.State != domain.StateIdle || s.Operation != nil {
		t.Fatalf("session not returned to idle: %+v", s)
	}
}

func TestAssignOperation(t *testing.T) {
	h := newHarness(t)
	h.send(t, Event{Kind: EventEnterOperation, UserID: "u1", Operation: domain.OperationAssign, TargetTicketID: "xyz"})
	h.expect(t, h.send(t, pick("u1", ActionAssignee, "m-1")), OutcomeOperationSucceeded, domain.StateIdle)
	if len(h.gateway.assignees) != 1 || h.gateway.assignees[0] != "xyz=m-1" {
		t.Fatalf("assignees = %v", h.gateway.assignees)
	}
}

func TestRateLimitBlocksStartWithoutTouchingSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "bug"))
	for i := 0; i < 5; i++ {
		if _, err := h.counters.Increment(ctx, "u1"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	before := h.session(t, "u1")

	res := h.send(t, start("u1"))
	h.expect(t, res, OutcomeRateLimited, domain.StateIdle)

	after := h.session(t, "u1")
	if after.State != before.State || !after.LastActivityAt.Equal(before.LastActivityAt) || after.Draft != before.Draft {
		t.Fatalf("rate-limited start changed the session: %+v -> %+v", before, after)
	}
}

func TestRateLimitAfterSuccessfulSubmissions(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.expect(t, h.send(t, start("u1")), OutcomeAdvanced, domain.StateAwaitingCategory)
		h.send(t, pick("u1", ActionCategory, "improvement"))
		h.expect(t, h.send(t, say("u1", fmt.Sprintf("Improve export number %d", i))), OutcomeAdvanced, domain.StateAwaitingDescription)
		h.expect(t, h.send(t, say("u1", validDescription)), OutcomeAdvanced, domain.StateAwaitingConfirmation)
		h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmSubmit)), OutcomeCreated, domain.StateIdle)
	}

	res := h.send(t, start("u1"))
	h.expect(t, res, OutcomeRateLimited, domain.StateIdle)
	if !strings.Contains(res.Reason, "limit of 5 tickets") {
		t.Fatalf("reason should state the configured limit, got %q", res.Reason)
	}
	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("rate-limited start must not create a session")
	}
}

func TestRateLimitRecheckedAtConfirmation(t *testing.T) {
	h := newHarness(t)
	h.toConfirmation(t, "u1")
	for i := 0; i < 5; i++ {
		_, _ = h.counters.Increment(context.Background(), "u1")
	}
	h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmSubmit)), OutcomeRateLimited, domain.StateIdle)
	if len(h.gateway.created) != 0 || len(h.records.All()) != 0 {
		t.Fatal("no record or tracker call expected when rate limited")
	}
}

func TestDuplicateTitleWindow(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		outcome Outcome
		state   domain.State
	}{
		{"ten days old", 10 * 24 * time.Hour, OutcomeRejected, domain.StateAwaitingTitle},
		{"thirty one days old", 31 * 24 * time.Hour, OutcomeAdvanced, domain.StateAwaitingDescription},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			prior := domain.NewTicketRecord("old", "someone", domain.Draft{Title: validTitle}, h.clock.Now().Add(-tc.age))
			prior.Status = domain.TicketStatusCreated
			if err := h.records.Create(context.Background(), prior); err != nil {
				t.Fatalf("seed: %v", err)
			}
			h.send(t, start("u1"))
			h.send(t, pick("u1", ActionCategory, "bug"))
			h.expect(t, h.send(t, say("u1", "  "+validTitle+"\x07 ")), tc.outcome, tc.state)
		})
	}
}

func TestStreamlinedCategorySkipsLabelAndPriority(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "request"))
	h.send(t, say("u1", "Access to the billing dashboard"))
	h.expect(t, h.send(t, say("u1", validDescription)), OutcomeAdvanced, domain.StateAwaitingConfirmation)

	s := h.session(t, "u1")
	if s.Draft.Priority != domain.DefaultPriority || s.Draft.Label != domain.LabelRequest {
		t.Fatalf("unexpected draft %+v", s.Draft)
	}
}

func TestGeneralCategoryAsksForLabel(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "general"))
	h.send(t, say("u1", "Something about the app"))
	h.expect(t, h.send(t, say("u1", validDescription)), OutcomeAdvanced, domain.StateAwaitingLabel)
	h.expect(t, h.send(t, pick("u1", ActionLabel, "improvement")), OutcomeAdvanced, domain.StateAwaitingPriority)
	h.expect(t, h.send(t, pick("u1", ActionPriority, "LOW")), OutcomeAdvanced, domain.StateAwaitingConfirmation)
}

func TestBugTemplateIsAcceptedVerbatim(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "general"))
	h.send(t, say("u1", validTitle))
	h.send(t, say("u1", validDescription))
	h.expect(t, h.send(t, pick("u1", ActionLabel, "bug")), OutcomeAdvanced, domain.StateAwaitingTemplateChoice)

	res := h.send(t, pick("u1", ActionTemplate, TemplateUse))
	h.expect(t, res, OutcomeAdvanced, domain.StateAwaitingDescription)
	if res.Prompt == nil || res.Prompt.Expect != InputText {
		t.Fatalf("expected a text prompt with the template, got %+v", res.Prompt)
	}

	h.expect(t, h.send(t, say("u1", "Steps:\x01 x")), OutcomeAdvanced, domain.StateAwaitingPriority)
	s := h.session(t, "u1")
	if s.Draft.Description != "Steps:\x01 x" || s.Draft.AwaitingTemplate {
		t.Fatalf("template answer not stored verbatim: %+v", s.Draft)
	}
}

func TestEditKeepsOtherFields(t *testing.T) {
	h := newHarness(t)
	h.toConfirmation(t, "u1")

	h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmEdit)), OutcomeAdvanced, domain.StateSelectingEditField)
	h.expect(t, h.send(t, pick("u1", ActionEditField, FieldTitle)), OutcomeAdvanced, domain.StateAwaitingTitle)
	h.expect(t, h.send(t, say("u1", "Login crash on cold start")), OutcomeAdvanced, domain.StateAwaitingConfirmation)

	s := h.session(t, "u1")
	if s.Draft.Title != "Login crash on cold start" || s.Draft.Description != validDescription ||
		s.Draft.Priority != domain.TicketPriorityHigh || s.Draft.Editing {
		t.Fatalf("edit lost fields: %+v", s.Draft)
	}
}

func TestInvalidActionsDoNotMutate(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	before := h.session(t, "u1")

	h.expect(t, h.send(t, say("u1", "bug please")), OutcomeInvalidAction, domain.StateAwaitingCategory)
	h.expect(t, h.send(t, pick("u1", ActionPriority, "HIGH")), OutcomeInvalidAction, domain.StateAwaitingCategory)
	h.expect(t, h.send(t, pick("u1", ActionCategory, "nonsense")), OutcomeInvalidAction, domain.StateAwaitingCategory)

	after := h.session(t, "u1")
	if !after.LastActivityAt.Equal(before.LastActivityAt) || after.Draft != before.Draft {
		t.Fatal("invalid actions must not write the session")
	}
}

func TestInputWithoutSession(t *testing.T) {
	h := newHarness(t)
	res := h.send(t, say("u1", validTitle))
	h.expect(t, res, OutcomeSessionMissing, domain.StateIdle)
	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("a non-start event must not create a session")
	}
}

func TestExpiredSessionAsksToRestart(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	h.clock.Advance(31 * time.Minute)

	h.expect(t, h.send(t, pick("u1", ActionCategory, "bug")), OutcomeSessionMissing, domain.StateIdle)
	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("expired session should be deleted")
	}
}

func TestCancelDeletesSession(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "bug"))
	h.expect(t, h.send(t, Event{Kind: EventCancel, UserID: "u1"}), OutcomeCancelled, domain.StateIdle)
	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("cancel should delete the session")
	}

	h.toConfirmation(t, "u1")
	h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmCancel)), OutcomeCancelled, domain.StateIdle)
	if storedSessions(t, h.sessions) != 0 || len(h.records.All()) != 0 {
		t.Fatal("cancel at confirmation must not submit")
	}
}

func TestHandleRejectsMalformedEvents(t *testing.T) {
	h := newHarness(t)
	if _, err := h.wf.Handle(context.Background(), Event{Kind: EventStartCreation}); !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("expected validation error for missing user, got %v", err)
	}
	if _, err := h.wf.Handle(context.Background(), Event{Kind: "poke", UserID: "u1"}); !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}
}

func TestRetryTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.createErr = fmt.Errorf("%w: down", tracker.ErrUnavailable)
	h.toConfirmation(t, "u1")
	res := h.send(t, pick("u1", ActionConfirm, ConfirmSubmit))
	recordID := res.Ticket.ID

	if _, err := h.wf.RetryTicket(ctx, recordID); !apperrors.HasCode(err, apperrors.CodeTrackerUnavailable) {
		t.Fatalf("expected tracker unavailable while still down, got %v", err)
	}

	h.gateway.createErr = nil
	rec, err := h.wf.RetryTicket(ctx, recordID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.Status != domain.TicketStatusCreated || *rec.ExternalIdentifier != "FAL-42" {
		t.Fatalf("unexpected record after retry %+v", rec)
	}
	if count, _ := h.counters.Get(ctx, "u1"); count != 1 {
		t.Fatalf("rate counter = %d, want 1", count)
	}

	if _, err := h.wf.RetryTicket(ctx, recordID); !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict on created record, got %v", err)
	}
	if _, err := h.wf.RetryTicket(ctx, "missing"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// failingCreatedRecords loses the write that marks a record created.
type failingCreatedRecords struct {
	*repository.MemoryTicketRecordRepository
}

func (r failingCreatedRecords) Update(ctx context.Context, record *domain.TicketRecord) error {
	if record.Status == domain.TicketStatusCreated {
		return errors.New("connection reset")
	}
	return r.MemoryTicketRecordRepository.Update(ctx, record)
}

func TestSubmitStorageFailureAfterTrackerCallClearsSession(t *testing.T) {
	h := newHarnessWithRecords(t, func(m *repository.MemoryTicketRecordRepository) repository.TicketRecordRepository {
		return failingCreatedRecords{m}
	})
	h.toConfirmation(t, "u1")

	_, err := h.wf.Handle(context.Background(), pick("u1", ActionConfirm, ConfirmSubmit))
	if !apperrors.HasCode(err, apperrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	details := apperrors.ToDomainError(err).Details
	if details["external_identifier"] != "FAL-42" || details["record_id"] != "rec-1" {
		t.Fatalf("error should name the created ticket, details = %v", details)
	}
	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("session must be cleared once the tracker was called")
	}

	h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmSubmit)), OutcomeSessionMissing, domain.StateIdle)
	if len(h.gateway.created) != 1 {
		t.Fatalf("gateway called %d times, want 1", len(h.gateway.created))
	}
	records := h.records.All()
	if len(records) != 1 || records[0].Status != domain.TicketStatusSubmitted {
		t.Fatalf("expected the record to stay submitted, got %+v", records)
	}
	if got := h.eventTypes(); len(got) != 0 {
		t.Fatalf("no event expected for an unrecorded ticket, got %v", got)
	}

	// the submitted record still counts against the title
	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "bug"))
	h.expect(t, h.send(t, say("u1", validTitle)), OutcomeRejected, domain.StateAwaitingTitle)
}

func TestConfirmRefusesDraftAlreadySubmitted(t *testing.T) {
	h := newHarness(t)
	h.toConfirmation(t, "u1")

	earlier := domain.NewTicketRecord("earlier", "u1", h.session(t, "u1").Draft, h.clock.Now())
	if err := earlier.Submit(h.clock.Now()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.records.Create(context.Background(), earlier); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := h.send(t, pick("u1", ActionConfirm, ConfirmSubmit))
	h.expect(t, res, OutcomeRejected, domain.StateSelectingEditField)
	if !strings.Contains(res.Reason, "title") {
		t.Fatalf("reason should point at the title, got %q", res.Reason)
	}
	if len(h.gateway.created) != 0 || len(h.records.All()) != 1 {
		t.Fatal("a draft already submitted must not reach the tracker again")
	}
	if s := h.session(t, "u1"); s.Draft.Title != validTitle {
		t.Fatalf("draft lost on rejection: %+v", s.Draft)
	}
}

func TestConfirmWithIncompleteDraftAsksForMissingField(t *testing.T) {
	h := newHarness(t)
	session := domain.NewSession("u1", h.clock.Now())
	session.State = domain.StateAwaitingConfirmation
	session.Draft = domain.Draft{
		Category:    domain.CategoryBug,
		Label:       domain.LabelBug,
		Title:       validTitle,
		Description: validDescription,
	}
	if err := h.sessions.Save(context.Background(), session); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := h.send(t, pick("u1", ActionConfirm, ConfirmSubmit))
	h.expect(t, res, OutcomeRejected, domain.StateSelectingEditField)
	if !strings.Contains(res.Reason, FieldPriority) {
		t.Fatalf("reason should name the missing field, got %q", res.Reason)
	}
	if len(h.gateway.created) != 0 || len(h.records.All()) != 0 {
		t.Fatal("an incomplete draft must not be submitted")
	}

	h.expect(t, h.send(t, pick("u1", ActionEditField, FieldPriority)), OutcomeAdvanced, domain.StateAwaitingPriority)
	h.expect(t, h.send(t, pick("u1", ActionPriority, "LOW")), OutcomeAdvanced, domain.StateAwaitingConfirmation)
	h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmSubmit)), OutcomeCreated, domain.StateIdle)
}

func TestEmptyTemplateAnswerIsRejected(t *testing.T) {
	h := newHarness(t)
	h.send(t, start("u1"))
	h.send(t, pick("u1", ActionCategory, "general"))
	h.send(t, say("u1", validTitle))
	h.send(t, say("u1", validDescription))
	h.send(t, pick("u1", ActionLabel, "bug"))
	h.expect(t, h.send(t, pick("u1", ActionTemplate, TemplateUse)), OutcomeAdvanced, domain.StateAwaitingDescription)

	for _, input := range []string{"", "  \n\t "} {
		res := h.send(t, say("u1", input))
		h.expect(t, res, OutcomeRejected, domain.StateAwaitingDescription)
		if res.Reason != msgEmptyTemplate {
			t.Fatalf("input %q: reason = %q", input, res.Reason)
		}
	}
	if s := h.session(t, "u1"); s.Draft.Description != validDescription || !s.Draft.AwaitingTemplate {
		t.Fatalf("rejected template answer changed the draft: %+v", s.Draft)
	}
}

func TestHandleWithCancelledContextChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.wf.Handle(ctx, start("u1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("a cancelled request must not create a session")
	}
}

func TestSubmitCompletesWhenCallerGoesAway(t *testing.T) {
	h := newHarness(t)
	h.toConfirmation(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.gateway.onCreate = cancel

	res, err := h.wf.Handle(ctx, pick("u1", ActionConfirm, ConfirmSubmit))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	h.expect(t, res, OutcomeCreated, domain.StateIdle)
	if len(h.gateway.ctxErrs) != 1 || h.gateway.ctxErrs[0] != nil {
		t.Fatalf("tracker call should not see the caller's cancellation: %v", h.gateway.ctxErrs)
	}
	records := h.records.All()
	if len(records) != 1 || records[0].Status != domain.TicketStatusCreated {
		t.Fatalf("expected a created record, got %+v", records)
	}
	if storedSessions(t, h.sessions) != 0 {
		t.Fatal("session should be cleared after submission")
	}
}

func TestEventsPublishedAfterUserLockReleased(t *testing.T) {
	h := newHarness(t)
	acquired := make(chan bool, 1)
	h.dispatcher.Subscribe(events.EventTicketCreated, func(_ context.Context, e events.Event) error {
		done := make(chan struct{})
		go func() {
			unlock := h.wf.sessions.Lock(e.UserID)
			unlock()
			close(done)
		}()
		select {
		case <-done:
			acquired <- true
		case <-time.After(2 * time.Second):
			acquired <- false
		}
		return nil
	})

	h.toConfirmation(t, "u1")
	h.expect(t, h.send(t, pick("u1", ActionConfirm, ConfirmSubmit)), OutcomeCreated, domain.StateIdle)
	if !<-acquired {
		t.Fatal("ticket_created was delivered while the user's lock was held")
	}
}

func TestRetryRefusesTitleSubmittedSince(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.createErr = fmt.Errorf("%w: down", tracker.ErrUnavailable)
	h.toConfirmation(t, "u1")
	failed := h.send(t, pick("u1", ActionConfirm, ConfirmSubmit)).Ticket

	later := domain.NewTicketRecord("later", "u2", domain.Draft{Title: validTitle}, h.clock.Now())
	later.Status = domain.TicketStatusCreated
	if err := h.records.Create(ctx, later); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h.gateway.createErr = nil
	if _, err := h.wf.RetryTicket(ctx, failed.ID); !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(h.gateway.created) != 1 {
		t.Fatalf("retry must not call the tracker, calls = %d", len(h.gateway.created))
	}
	rec, err := h.records.GetByID(ctx, failed.ID)
	if err != nil || rec.Status != domain.TicketStatusFailed {
		t.Fatalf("record should stay failed: %+v %v", rec, err)
	}
}
