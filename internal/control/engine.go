// Package control wires the engine together and manages its lifecycle:
// storage, chain client, object store, dispatch pipeline, publisher and
// the independent health monitor.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/mechwatch/internal/core/config"
	"github.com/vietddude/mechwatch/internal/core/cursor"
	"github.com/vietddude/mechwatch/internal/core/reputation"
	"github.com/vietddude/mechwatch/internal/core/retention"
	"github.com/vietddude/mechwatch/internal/engine/dispatch"
	"github.com/vietddude/mechwatch/internal/engine/handler"
	"github.com/vietddude/mechwatch/internal/engine/inflight"
	"github.com/vietddude/mechwatch/internal/engine/publish"
	"github.com/vietddude/mechwatch/internal/engine/watcher"
	"github.com/vietddude/mechwatch/internal/health"
	"github.com/vietddude/mechwatch/internal/infra/chain"
	"github.com/vietddude/mechwatch/internal/infra/objectstore"
	redisclient "github.com/vietddude/mechwatch/internal/infra/redis"
	"github.com/vietddude/mechwatch/internal/infra/storage"
	"github.com/vietddude/mechwatch/internal/infra/storage/memory"
	"github.com/vietddude/mechwatch/internal/infra/storage/postgres"
)

// retrySweepInterval spaces out publisher retries of failed deliveries.
const retrySweepInterval = 2 * time.Minute

// Engine is the top-level application object.
type Engine struct {
	cfg *config.AppConfig

	watcher      *watcher.Watcher
	dispatcher   *dispatch.Dispatcher
	publisher    *publish.Publisher
	pruner       *retention.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger

	cancelSweep context.CancelFunc
}

// NewEngine creates an engine with all dependencies initialized. The
// handler registry must already hold every handler; it is sealed and
// validated against cfg.Tools here.
func NewEngine(ctx context.Context, cfg *config.AppConfig, registry *handler.Registry) (*Engine, error) {
	log := slog.Default().With("component", "engine")

	// 1. Handler registry: fail fast on missing tool bindings.
	registry.Seal()
	if err := registry.Validate(cfg.Tools); err != nil {
		return nil, fmt.Errorf("handler registry incomplete: %w", err)
	}
	log.Info("Handler registry ready", "tools", registry.Tools())

	// 2. Storage
	var (
		cursorRepo   storage.CursorRepository
		workerRepo   storage.WorkerRepository
		deliveryRepo storage.DeliveryRepository
		db           *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		cursorRepo = postgres.NewCursorRepo(db)
		workerRepo = postgres.NewWorkerRepo(db)
		deliveryRepo = postgres.NewDeliveryRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		cursorRepo = memory.NewCursorRepo(store)
		workerRepo = memory.NewWorkerRepo(store)
		deliveryRepo = memory.NewDeliveryRepo(store)
		log.Info("Using Memory storage")
	}

	// 3. Chain client and object store
	client := chain.NewHTTPClient(cfg.Chain.RPCURL, cfg.Chain.RPCTimeout)
	store := objectstore.NewHTTPStore(cfg.ObjectStore.GatewayURL, cfg.ObjectStore.Timeout)

	// 4. Optional distributed dispatch lease
	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("Distributed dispatch lease enabled")
	}
	inflightTracker := inflight.NewTracker(
		redisClient, cfg.Dispatch.WorkerAddress, cfg.Redis.LeaseTTL)

	// 5. Pipeline: reputation → publisher → dispatcher → watcher
	tracker := reputation.NewTracker(cfg.Reputation, workerRepo, nil)

	signer := publish.NewHTTPSigner(cfg.Signer.URL, cfg.Signer.Timeout)
	publisher := publish.New(cfg.Publish, store, client, signer, deliveryRepo)

	dispatcher := dispatch.New(
		cfg.Dispatch, registry, store, tracker, inflightTracker, publisher, cfg.Credentials)

	cursorMgr := cursor.NewManager(cursorRepo, cfg.Watcher.RegistryAddress)
	taskWatcher := watcher.New(cfg.Watcher, client, cursorMgr, deliveryRepo, dispatcher)

	pruner := retention.NewPruner(cfg.Publish.RetentionPeriod, deliveryRepo)

	// 6. Health monitor, fed by the cursor's reorg transitions
	var notifier health.Notifier
	if cfg.Health.WebhookURL != "" {
		notifier = health.NewWebhookNotifier(cfg.Health.WebhookURL, 10*time.Second)
	} else {
		notifier = health.NewLogNotifier()
	}
	healthMon := health.NewMonitor(cfg.Health, client, cursorMgr, taskWatcher, notifier)
	cursorMgr.SetStateChangeCallback(func(t cursor.Transition) {
		switch {
		case t.To == cursor.StateReorg:
			healthMon.SetDivergence(context.Background(), true, t.Reason)
		case t.From == cursor.StateReorg:
			healthMon.SetDivergence(context.Background(), false, t.Reason)
		}
	})

	healthServer := health.NewServer(healthMon, cfg.Server.Port)

	return &Engine{
		cfg:          cfg,
		watcher:      taskWatcher,
		dispatcher:   dispatcher,
		publisher:    publisher,
		pruner:       pruner,
		healthMon:    healthMon,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Start starts all components.
func (e *Engine) Start(ctx context.Context) error {
	go func() {
		if err := e.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("Health server failed", "error", err)
		}
	}()

	if err := e.healthMon.Start(ctx); err != nil {
		return err
	}

	if e.db != nil {
		e.db.StartMetricsCollector(ctx)
	}

	if err := e.watcher.Start(ctx); err != nil {
		return err
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	e.cancelSweep = cancel
	go e.runRetrySweep(sweepCtx)
	go e.pruner.Start(sweepCtx)

	e.log.Info("Engine started", "port", e.cfg.Server.Port)
	return nil
}

// Stop shuts the engine down in dependency order: no new requests, wait
// for in-flight tasks, then close the shared resources.
func (e *Engine) Stop(ctx context.Context) error {
	e.log.Info("Stopping engine...")

	e.watcher.Stop()
	if e.cancelSweep != nil {
		e.cancelSweep()
	}
	e.dispatcher.Wait()
	e.healthMon.Stop()

	if e.redisClient != nil {
		if err := e.redisClient.Close(); err != nil {
			e.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if e.db != nil {
		e.db.Close()
	}

	return e.healthServer.Stop(ctx)
}

// runRetrySweep periodically re-submits failed deliveries.
func (e *Engine) runRetrySweep(ctx context.Context) {
	ticker := time.NewTicker(retrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.publisher.RetrySweep(ctx); err != nil {
				e.log.Error("Delivery retry sweep failed", "error", err)
			}
		}
	}
}
