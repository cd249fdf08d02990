package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/mechwatch/internal/core/config"
	"github.com/vietddude/mechwatch/internal/infra/storage/postgres"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [block_height]",
	Short: "Reset the registry cursor to a given block height",
	Long:  `Forces the next scan to start from the given block. Already-delivered requests are skipped on rescan, so rewinding is safe.`,
	Args:  cobra.ExactArgs(1),
	Run:   runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	height, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block height: %v\n", err)
		os.Exit(1)
	}

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

	// Direct SQL is cleaner than the repo for a manual override: the hash
	// is blanked so the next tick skips the reorg check and the state goes
	// back to scanning.
	query := `INSERT INTO cursors (contract, last_block, last_log_index, last_block_hash, state, updated_at)
	          VALUES ($1, $2, 0, '', 'scanning', now())
	          ON CONFLICT (contract) DO UPDATE SET
	            last_block = EXCLUDED.last_block,
	            last_log_index = 0,
	            last_block_hash = '',
	            state = 'scanning',
	            updated_at = now()`
	_, err = db.ExecContext(ctx, query, cfg.Watcher.RegistryAddress, height)
	if err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset cursor for %s to block %d\n", cfg.Watcher.RegistryAddress, height)
}
