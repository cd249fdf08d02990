package retention

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/storage/memory"
)

func TestPrune_RemovesOnlyAgedTerminalRecords(t *testing.T) {
	deliveries := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	ctx := context.Background()

	seed := []*domain.Delivery{
		{RequestID: "old-confirmed", State: domain.DeliveryStateConfirmed},
		{RequestID: "old-abandoned", State: domain.DeliveryStateAbandoned},
		{RequestID: "old-failed", State: domain.DeliveryStatePublishFailed},
		{RequestID: "fresh-confirmed", State: domain.DeliveryStateConfirmed},
	}
	for _, d := range seed {
		if err := deliveries.Save(ctx, d); err != nil {
			t.Fatalf("failed to seed delivery: %v", err)
		}
	}

	pruner := NewPruner(time.Hour, deliveries)

	// Nothing is an hour old yet.
	pruner.prune(ctx)
	for _, d := range seed {
		if _, err := deliveries.Get(ctx, d.RequestID); err != nil {
			t.Errorf("fresh record %s pruned too early", d.RequestID)
		}
	}

	// Shrink retention so every seeded record falls past the cutoff.
	pruner.retention = -time.Second
	pruner.prune(ctx)

	for _, id := range []string{"old-confirmed", "old-abandoned", "fresh-confirmed"} {
		if _, err := deliveries.Get(ctx, id); err == nil {
			t.Errorf("expected terminal record %s to be pruned", id)
		}
	}
	// In-progress records survive regardless of age.
	if _, err := deliveries.Get(ctx, "old-failed"); err != nil {
		t.Error("publish_failed record must never be pruned")
	}
}

func TestStart_DisabledWithoutRetention(t *testing.T) {
	pruner := NewPruner(0, memory.NewDeliveryRepo(memory.NewMemoryStorage()))

	done := make(chan struct{})
	go func() {
		pruner.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner with zero retention must return immediately")
	}
}
