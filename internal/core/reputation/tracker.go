// Package reputation tracks per-worker delivery reliability and applies
// cooldown/slash accounting when deadlines are missed repeatedly.
//
// Slash amounts are advisory: the tracker accrues them in the worker
// ledger and hands a slash-intent record to the settlement collaborator,
// which owns the actual on-chain penalty.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/storage"
	"github.com/vietddude/mechwatch/internal/metrics"
)

// Config holds slashing and cooldown policy.
type Config struct {
	TimeoutLimit     int           `yaml:"timeout_limit"`
	SlashCooldown    time.Duration `yaml:"slash_cooldown"`
	LightSlashUnit   uint64        `yaml:"light_slash_unit"`
	SeriousSlashUnit uint64        `yaml:"serious_slash_unit"`
	SlashThreshold   uint64        `yaml:"slash_threshold"`
}

// SlashNotifier receives slash-intent records for external settlement.
type SlashNotifier interface {
	NotifySlash(ctx context.Context, intent domain.SlashIntent) error
}

// Tracker records dispatch outcomes and answers cooldown queries.
type Tracker interface {
	// Record updates the worker ledger with a dispatch outcome.
	Record(ctx context.Context, worker string, outcome domain.ResultStatus, duration time.Duration) error

	// InCooldown reports whether a worker is ineligible for new dispatch.
	InCooldown(ctx context.Context, worker string) (bool, error)
}

// DefaultTracker implements Tracker over a WorkerRepository. It is the
// single writer of worker records.
type DefaultTracker struct {
	cfg      Config
	repo     storage.WorkerRepository
	notifier SlashNotifier
	log      *slog.Logger

	// Serializes read-modify-write cycles on the ledger.
	mu sync.Mutex
}

// NewTracker creates a reputation tracker. notifier may be nil, in which
// case slash intents are only logged.
func NewTracker(cfg Config, repo storage.WorkerRepository, notifier SlashNotifier) *DefaultTracker {
	if cfg.TimeoutLimit <= 0 {
		cfg.TimeoutLimit = 3
	}
	if cfg.SlashCooldown <= 0 {
		cfg.SlashCooldown = 24 * time.Hour
	}
	return &DefaultTracker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		log:      slog.Default().With("component", "reputation"),
	}
}

// Record updates the worker ledger with a dispatch outcome.
func (t *DefaultTracker) Record(
	ctx context.Context,
	worker string,
	outcome domain.ResultStatus,
	duration time.Duration,
) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.repo.Get(ctx, worker)
	if err != nil {
		return fmt.Errorf("failed to load worker record: %w", err)
	}
	if record == nil {
		record = &domain.WorkerRecord{Address: worker}
	}

	switch outcome {
	case domain.ResultTimeout:
		record.ConsecutiveTimeouts++
		if record.ConsecutiveTimeouts >= t.cfg.TimeoutLimit {
			t.applyCooldown(ctx, record)
		}
	case domain.ResultSuccess:
		record.ConsecutiveTimeouts = 0
	}

	if err := t.repo.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save worker record: %w", err)
	}

	t.log.Debug("Recorded dispatch outcome",
		"worker", worker,
		"outcome", string(outcome),
		"duration_ms", duration.Milliseconds(),
		"consecutive_timeouts", record.ConsecutiveTimeouts,
	)
	return nil
}

// InCooldown reports whether a worker is ineligible for new dispatch.
func (t *DefaultTracker) InCooldown(ctx context.Context, worker string) (bool, error) {
	record, err := t.repo.Get(ctx, worker)
	if err != nil {
		return false, fmt.Errorf("failed to load worker record: %w", err)
	}
	if record == nil {
		return false, nil
	}
	return record.InCooldown(time.Now()), nil
}

// applyCooldown sets the cooldown window and accrues slash units, capped
// by the slash threshold. Called with t.mu held.
func (t *DefaultTracker) applyCooldown(ctx context.Context, record *domain.WorkerRecord) {
	now := time.Now()
	record.CooldownUntil = now.Add(t.cfg.SlashCooldown)
	metrics.CooldownsTriggered.Inc()

	severity := "light"
	amount := t.cfg.LightSlashUnit
	if record.ConsecutiveTimeouts >= 2*t.cfg.TimeoutLimit {
		severity = "serious"
		amount = t.cfg.SeriousSlashUnit
	}

	if t.cfg.SlashThreshold > 0 && record.TotalSlashed+amount > t.cfg.SlashThreshold {
		amount = t.cfg.SlashThreshold - record.TotalSlashed
	}
	if amount == 0 {
		t.log.Warn("Slash threshold reached, no further accrual",
			"worker", record.Address, "total_slashed", record.TotalSlashed)
		return
	}

	record.TotalSlashed += amount
	metrics.SlashAccrued.WithLabelValues(severity).Add(float64(amount))

	intent := domain.SlashIntent{
		ID:        uuid.New().String(),
		Worker:    record.Address,
		Amount:    amount,
		Severity:  severity,
		Reason:    fmt.Sprintf("%d consecutive timeouts", record.ConsecutiveTimeouts),
		CreatedAt: now,
	}

	t.log.Warn("Worker entered cooldown",
		"worker", record.Address,
		"cooldown_until", record.CooldownUntil,
		"severity", severity,
		"slash_amount", amount,
		"total_slashed", record.TotalSlashed,
	)

	if t.notifier != nil {
		if err := t.notifier.NotifySlash(ctx, intent); err != nil {
			t.log.Error("Failed to notify slash intent", "intent", intent.ID, "error", err)
		}
	}
}
