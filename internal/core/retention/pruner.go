// Package retention deletes aged delivery records. Terminal deliveries
// are append-only audit data; without pruning the table grows without
// bound on a busy registry.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/mechwatch/internal/infra/storage"
)

// Pruner removes terminal delivery records past the retention period.
// Pending and publish_failed records are never touched.
type Pruner struct {
	retention  time.Duration
	deliveries storage.DeliveryRepository
	log        *slog.Logger
}

// NewPruner creates a pruner. A zero retention disables it.
func NewPruner(retention time.Duration, deliveries storage.DeliveryRepository) *Pruner {
	return &Pruner{
		retention:  retention,
		deliveries: deliveries,
		log:        slog.Default().With("component", "retention"),
	}
}

// Start runs the prune loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	// Check at a tenth of the retention period, clamped to [1m, 1h].
	interval := min(p.retention/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	deleted, err := p.deliveries.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune deliveries", "error", err)
		return
	}
	if deleted > 0 {
		p.log.Info("Pruned terminal deliveries", "deleted", deleted, "cutoff", cutoff)
	}
}
