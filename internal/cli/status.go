package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/mechwatch/internal/core/config"
	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cursor, delivery backlog and worker cooldowns",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	cursorRepo := postgres.NewCursorRepo(db)
	cur, err := cursorRepo.Get(ctx, cfg.Watcher.RegistryAddress)
	if err != nil {
		fmt.Printf("No cursor for %s yet\n", cfg.Watcher.RegistryAddress)
	} else {
		fmt.Printf("Cursor: block %d, log %d, state %s, updated %s\n",
			cur.LastBlock, cur.LastLogIndex, cur.State,
			cur.UpdatedAt.Format(time.RFC3339))
	}

	deliveryRepo := postgres.NewDeliveryRepo(db)
	fmt.Println("\nDeliveries:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATE\tCOUNT")
	for _, state := range []domain.DeliveryState{
		domain.DeliveryStatePending,
		domain.DeliveryStateConfirmed,
		domain.DeliveryStatePublishFailed,
		domain.DeliveryStateAbandoned,
	} {
		count, err := deliveryRepo.CountByState(ctx, state)
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", state, count)
	}
	_ = w.Flush()

	workerRepo := postgres.NewWorkerRepo(db)
	workers, err := workerRepo.GetAll(ctx)
	if err != nil || len(workers) == 0 {
		return
	}
	fmt.Println("\nWorkers:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ADDRESS\tTIMEOUT STREAK\tCOOLDOWN UNTIL\tSLASHED")
	now := time.Now()
	for _, record := range workers {
		cooldown := "-"
		if record.InCooldown(now) {
			cooldown = record.CooldownUntil.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\n",
			record.Address, record.ConsecutiveTimeouts, cooldown, record.TotalSlashed)
	}
	_ = w.Flush()
}
