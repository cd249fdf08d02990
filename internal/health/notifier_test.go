package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
)

func TestWebhookNotifier_PostsAlert(t *testing.T) {
	var received domain.Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode alert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second)
	alert := domain.Alert{
		ID:        "a1",
		Condition: domain.ConditionWatcherStale,
		Severity:  domain.SeverityCritical,
		Message:   "cursor is 900 blocks behind head",
	}

	if err := notifier.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if received.ID != "a1" || received.Condition != domain.ConditionWatcherStale {
		t.Errorf("webhook received wrong alert: %+v", received)
	}
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second)
	if err := notifier.Notify(context.Background(), domain.Alert{}); err == nil {
		t.Error("expected error for non-2xx webhook response")
	}
}

func TestLogNotifier_NeverFails(t *testing.T) {
	notifier := NewLogNotifier()
	if err := notifier.Notify(context.Background(), domain.Alert{
		Condition: domain.ConditionRPCDegraded,
		Recovered: true,
	}); err != nil {
		t.Errorf("LogNotifier must not fail: %v", err)
	}
}
