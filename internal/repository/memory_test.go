package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

func TestMemorySessionRepositoryCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	session := domain.NewSession("u1", now)
	session.Operation = &domain.Operation{Kind: domain.OperationAddComment, TargetTicketID: "xyz"}
	if err := repo.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	session.State = domain.StateAwaitingTitle
	session.Operation.TargetTicketID = "mutated"

	stored, err := repo.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != domain.StateIdle || stored.Operation.TargetTicketID != "xyz" {
		t.Fatalf("store shares memory with caller: %+v", stored)
	}
}

func TestMemorySessionRepositoryIdle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "older", "fresh"} {
		s := domain.NewSession(id, base)
		switch id {
		case "old":
			s.LastActivityAt = base.Add(-40 * time.Minute)
		case "older":
			s.LastActivityAt = base.Add(-50 * time.Minute)
		}
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	cutoff := base.Add(-30 * time.Minute)
	ids, err := repo.ListIdle(ctx, cutoff, 0)
	if err != nil {
		t.Fatalf("list idle: %v", err)
	}
	if len(ids) != 2 || ids[0] != "older" || ids[1] != "old" {
		t.Fatalf("idle ids = %v", ids)
	}

	deleted, err := repo.DeleteIfIdle(ctx, "fresh", cutoff)
	if err != nil || deleted {
		t.Fatalf("fresh session deleted=%v err=%v", deleted, err)
	}
	deleted, err = repo.DeleteIfIdle(ctx, "old", cutoff)
	if err != nil || !deleted {
		t.Fatalf("idle session deleted=%v err=%v", deleted, err)
	}
	if _, err := repo.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMemoryTicketRecordExistsWithTitle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRecordRepository()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	rec := domain.NewTicketRecord("r1", "u1", domain.Draft{Title: "Fix login crash on startup"}, now.Add(-48*time.Hour))
	rec.Status = domain.TicketStatusCreated
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	statuses := []domain.TicketStatus{domain.TicketStatusSubmitted, domain.TicketStatusCreated}
	found, _ := repo.ExistsWithTitle(ctx, "Fix login crash on startup", now.Add(-72*time.Hour), statuses)
	if !found {
		t.Fatalf("expected title inside window")
	}
	found, _ = repo.ExistsWithTitle(ctx, "Fix login crash on startup", now.Add(-24*time.Hour), statuses)
	if found {
		t.Fatalf("record outside window matched")
	}
	found, _ = repo.ExistsWithTitle(ctx, "Fix login crash on startup", now.Add(-72*time.Hour), []domain.TicketStatus{domain.TicketStatusFailed})
	if found {
		t.Fatalf("status filter ignored")
	}
}

func TestMemoryRateCounters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRateCounterRepository()
	for i := 0; i < 3; i++ {
		if _, err := repo.Increment(ctx, "u1"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if n, _ := repo.Get(ctx, "u1"); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	if err := repo.ResetAll(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := repo.Get(ctx, "u1"); n != 0 {
		t.Fatalf("count after reset = %d", n)
	}
}
