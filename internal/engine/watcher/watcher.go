// Package watcher polls the task registry contract for Request and
// Deliver logs and feeds new requests into dispatch.
//
// # Key Properties
//
//   - Windows are bounded: at most MaxBlockWindow blocks per tick, never
//     past head minus ConfirmationDepth.
//   - The cursor advances exactly once per successful tick, even when the
//     window held no logs. A failed tick leaves the cursor untouched.
//   - Requests already in a terminal delivery state are skipped, so a
//     rewound cursor never causes duplicate work.
//   - A block-hash mismatch at the cursor position triggers a bounded
//     rewind below the fork point before scanning continues.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/mechwatch/internal/core/cursor"
	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/chain"
	"github.com/vietddude/mechwatch/internal/infra/storage"
	"github.com/vietddude/mechwatch/internal/metrics"
)

// Config holds watcher settings.
type Config struct {
	RegistryAddress   string        `yaml:"registry_address"`
	StartBlock        uint64        `yaml:"start_block"`
	PollingInterval   time.Duration `yaml:"polling_interval"`
	MaxBlockWindow    uint64        `yaml:"max_block_window"`
	ConfirmationDepth uint64        `yaml:"confirmation_depth"`
	ReorgSafetyMargin uint64        `yaml:"reorg_safety_margin"`
}

// RequestSink receives newly observed task requests. Submit must not
// block for the duration of the task; dispatch runs elsewhere.
type RequestSink interface {
	Submit(ctx context.Context, req domain.TaskRequest) error
}

// Watcher scans the registry contract and emits task requests.
type Watcher struct {
	cfg        Config
	client     chain.Client
	cursor     cursor.Manager
	deliveries storage.DeliveryRepository
	sink       RequestSink
	log        *slog.Logger

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Highest block in which a Request log was seen, for staleness checks.
	lastRequestBlock atomic.Uint64
}

// New creates a watcher.
func New(
	cfg Config,
	client chain.Client,
	cursorMgr cursor.Manager,
	deliveries storage.DeliveryRepository,
	sink RequestSink,
) *Watcher {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 10 * time.Second
	}
	if cfg.MaxBlockWindow == 0 {
		cfg.MaxBlockWindow = 1000
	}
	return &Watcher{
		cfg:        cfg,
		client:     client,
		cursor:     cursorMgr,
		deliveries: deliveries,
		sink:       sink,
		log:        slog.Default().With("component", "watcher"),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("watcher already running")
	}

	w.log.Info("Starting watcher",
		"registry", w.cfg.RegistryAddress,
		"interval", w.cfg.PollingInterval,
		"window", w.cfg.MaxBlockWindow,
		"confirmation_depth", w.cfg.ConfirmationDepth,
	)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it.
func (w *Watcher) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Watcher stopped")
}

// LastRequestBlock returns the highest block a Request log was seen in.
func (w *Watcher) LastRequestBlock() uint64 {
	return w.lastRequestBlock.Load()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil {
			w.log.Error("Poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Poll runs a single scan tick. On any RPC failure the cursor is left
// unchanged and the same window is retried next tick.
func (w *Watcher) Poll(ctx context.Context) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch chain head: %w", err)
	}
	metrics.ChainHead.Set(float64(head))

	cur, err := w.cursor.Get(ctx)
	if errors.Is(err, cursor.ErrCursorNotFound) {
		cur, err = w.cursor.Initialize(ctx, w.startingBlock(head))
		if err != nil {
			return fmt.Errorf("failed to initialize cursor: %w", err)
		}
		w.log.Info("Initialized cursor", "block", cur.LastBlock)
	} else if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}

	if cur.State == domain.CursorStatePaused {
		return nil
	}

	if rewound, err := w.checkReorg(ctx, cur); err != nil {
		return err
	} else if rewound {
		// Scan from the rewound position next tick.
		return nil
	}

	if cur.State != domain.CursorStateScanning {
		if err := w.cursor.SetState(ctx, cursor.StateScanning, "scan start"); err != nil {
			return fmt.Errorf("failed to enter scanning state: %w", err)
		}
	}

	if head < w.cfg.ConfirmationDepth {
		return nil
	}
	safeHead := head - w.cfg.ConfirmationDepth
	if safeHead <= cur.LastBlock {
		return nil
	}

	from := cur.LastBlock + 1
	to := min(safeHead, cur.LastBlock+w.cfg.MaxBlockWindow)

	logs, err := w.client.FilterLogs(ctx, chain.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Address:   w.cfg.RegistryAddress,
		Topics:    []string{chain.TopicRequest, chain.TopicDeliver},
	})
	if err != nil {
		return fmt.Errorf("failed to fetch logs [%d, %d]: %w", from, to, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})

	var lastIndex uint
	for _, entry := range logs {
		if entry.BlockNumber == to {
			lastIndex = entry.LogIndex
		}
		w.processLog(ctx, entry)
	}

	endHash, err := w.client.BlockHash(ctx, to)
	if err != nil {
		return fmt.Errorf("failed to fetch window end hash: %w", err)
	}

	if err := w.cursor.Advance(ctx, to, lastIndex, endHash); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}

	if len(logs) > 0 {
		w.log.Debug("Scanned window", "from", from, "to", to, "logs", len(logs))
	}
	return nil
}

// checkReorg verifies the cursor's stored block hash against the chain.
// On mismatch the cursor is rewound below the fork point.
func (w *Watcher) checkReorg(ctx context.Context, cur *domain.Cursor) (bool, error) {
	if cur.LastBlockHash == "" {
		return false, nil
	}

	onChain, err := w.client.BlockHash(ctx, cur.LastBlock)
	if err != nil {
		return false, fmt.Errorf("failed to verify cursor block hash: %w", err)
	}
	if onChain == cur.LastBlockHash {
		return false, nil
	}

	w.log.Warn("Reorg detected",
		"block", cur.LastBlock,
		"stored_hash", cur.LastBlockHash,
		"chain_hash", onChain,
	)
	if err := w.cursor.Rewind(ctx, cur.LastBlock, w.cfg.ReorgSafetyMargin); err != nil {
		return false, fmt.Errorf("failed to rewind cursor: %w", err)
	}
	if err := w.cursor.SetState(ctx, cursor.StateScanning, "reorg rewind complete"); err != nil {
		return false, fmt.Errorf("failed to resume after rewind: %w", err)
	}
	return true, nil
}

// processLog routes one registry log. Decode failures are logged and
// skipped; they must not stall the window.
func (w *Watcher) processLog(ctx context.Context, entry chain.Log) {
	if len(entry.Topics) == 0 {
		return
	}

	switch entry.Topics[0] {
	case chain.TopicRequest:
		req, err := decodeRequest(entry)
		if err != nil {
			w.log.Error("Skipping undecodable request log",
				"block", entry.BlockNumber, "tx", entry.TxHash, "error", err)
			return
		}
		w.lastRequestBlock.Store(max(w.lastRequestBlock.Load(), entry.BlockNumber))
		metrics.RequestsObserved.Inc()

		terminal, err := w.deliveries.IsTerminal(ctx, req.RequestID)
		if err != nil {
			w.log.Error("Failed to check delivery state", "request", req.RequestID, "error", err)
			return
		}
		if terminal {
			return
		}

		if err := w.sink.Submit(ctx, req); err != nil {
			w.log.Error("Failed to submit request", "request", req.RequestID, "error", err)
		}

	case chain.TopicDeliver:
		ev, err := decodeDeliver(entry)
		if err != nil {
			w.log.Error("Skipping undecodable deliver log",
				"block", entry.BlockNumber, "tx", entry.TxHash, "error", err)
			return
		}
		w.confirmDelivery(ctx, ev)
	}
}

// confirmDelivery marks a request delivered once its Deliver log lands
// inside the confirmed window. This also covers deliveries published by
// other workers.
func (w *Watcher) confirmDelivery(ctx context.Context, ev deliverEvent) {
	delivery, err := w.deliveries.Get(ctx, ev.RequestID)
	if errors.Is(err, storage.ErrDeliveryNotFound) {
		delivery = &domain.Delivery{RequestID: ev.RequestID}
	} else if err != nil {
		w.log.Error("Failed to load delivery", "request", ev.RequestID, "error", err)
		return
	}

	if delivery.State == domain.DeliveryStateConfirmed {
		return
	}

	delivery.ResponseHash = ev.ResponseHash
	delivery.TxHash = ev.TxHash
	delivery.State = domain.DeliveryStateConfirmed
	if err := w.deliveries.Save(ctx, delivery); err != nil {
		w.log.Error("Failed to confirm delivery", "request", ev.RequestID, "error", err)
		return
	}

	w.log.Info("Delivery confirmed",
		"request", ev.RequestID, "worker", ev.Worker, "tx", ev.TxHash)
}

// startingBlock picks the first block to scan when no cursor exists.
func (w *Watcher) startingBlock(head uint64) uint64 {
	if w.cfg.StartBlock > 0 {
		return w.cfg.StartBlock
	}
	return head
}
