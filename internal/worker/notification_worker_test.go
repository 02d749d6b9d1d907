package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/config"
	"github.com/spec-kit/ticket-intake/internal/events"
)

func TestNotificationWorkerDeliversToWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	closeFn, err := StartNotificationWorker(dispatcher, config.NotificationConfig{WebhookURL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer closeFn()

	for _, eventType := range []events.EventType{events.EventTicketCreated, events.EventTicketCommented} {
		if err := dispatcher.Publish(context.Background(), events.Event{ID: "e", Type: eventType}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 webhook deliveries, got %d", got)
	}
}
