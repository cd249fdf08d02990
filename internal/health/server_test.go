package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newServerFixture(t *testing.T, client *mockChainClient) *Server {
	t.Helper()
	monitor, _ := newTestMonitor(t, Config{StalenessBlocks: 100}, client, 100)
	monitor.Tick(context.Background())
	return NewServer(monitor, 0)
}

func TestHandleHealth_OKWhenHealthy(t *testing.T) {
	server := newServerFixture(t, &mockChainClient{head: 120})

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != string(StatusHealthy) {
		t.Errorf("expected healthy, got %s", body["status"])
	}
}

func TestHandleHealth_UnavailableWhenCritical(t *testing.T) {
	// Lag 900 over a 100-block budget: watcher_stale is critical.
	server := newServerFixture(t, &mockChainClient{head: 1000})

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandleHealth_OKWhenMerelyDegraded(t *testing.T) {
	server := newServerFixture(t, &mockChainClient{headErr: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	// Degraded still serves traffic; only critical flips the probe.
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 while degraded, got %d", rec.Code)
	}
}

func TestHandleDetailed_ReturnsReport(t *testing.T) {
	server := newServerFixture(t, &mockChainClient{head: 1000})

	rec := httptest.NewRecorder()
	server.handleDetailed(rec, httptest.NewRequest("GET", "/health/detailed", nil))

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Status != StatusCritical {
		t.Errorf("expected critical report, got %s", report.Status)
	}
	if report.Snapshot.LatestChainBlock != 1000 {
		t.Errorf("expected snapshot head 1000, got %d", report.Snapshot.LatestChainBlock)
	}
	if len(report.Conditions) == 0 {
		t.Error("expected active conditions listed")
	}
}
