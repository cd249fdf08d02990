package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
)

// WebhookNotifier posts alerts to a configured HTTP endpoint.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

// NewWebhookNotifier creates a webhook alert sink.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        slog.Default().With("component", "health.webhook"),
	}
}

// Notify posts one alert. A non-2xx response is an error; the monitor
// logs it and moves on, alerting is best effort.
func (n *WebhookNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned http %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the log only. Used when no webhook is
// configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-only alert sink.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "health.alerts")}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	level := slog.LevelWarn
	if alert.Recovered {
		level = slog.LevelInfo
	}
	n.log.Log(ctx, level, "Health alert",
		"condition", string(alert.Condition),
		"severity", string(alert.Severity),
		"recovered", alert.Recovered,
		"message", alert.Message,
	)
	return nil
}
