// Package dispatch executes observed task requests against registered
// handlers under a hard deadline and forwards the outcome to publishing.
//
// # Lifecycle
//
// Submit admits a request (local in-flight set plus the optional shared
// lease), acquires a worker slot and runs the pipeline:
//
//	cooldown check → payload fetch → handler lookup → bounded execution
//
// Every terminal outcome — success, handler error, timeout, missing
// handler, unavailable payload — produces a TaskResult handed to the
// result sink. A cooldown outcome leaves the request untouched for a
// later cycle.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/core/reputation"
	"github.com/vietddude/mechwatch/internal/engine/handler"
	"github.com/vietddude/mechwatch/internal/engine/inflight"
	"github.com/vietddude/mechwatch/internal/infra/objectstore"
	"github.com/vietddude/mechwatch/internal/metrics"
)

// Config holds dispatch settings.
type Config struct {
	// TaskDeadline is the hard per-task execution budget.
	TaskDeadline time.Duration `yaml:"task_deadline"`

	// Concurrency caps simultaneously executing handlers.
	Concurrency int `yaml:"concurrency"`

	// WorkerAddress identifies this worker in the reputation ledger and
	// in published deliveries.
	WorkerAddress string `yaml:"worker_address"`
}

// ResultSink consumes completed task results.
type ResultSink interface {
	Publish(ctx context.Context, req domain.TaskRequest, payload domain.RequestPayload, result domain.TaskResult) error
}

// Dispatcher runs the execute stage of the pipeline.
type Dispatcher struct {
	cfg      Config
	registry *handler.Registry
	store    objectstore.Store
	tracker  reputation.Tracker
	inflight *inflight.Tracker
	sink     ResultSink
	creds    map[string]map[string]string
	log      *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a dispatcher. credentials maps tool name to its secrets.
func New(
	cfg Config,
	registry *handler.Registry,
	store objectstore.Store,
	tracker reputation.Tracker,
	inflightTracker *inflight.Tracker,
	sink ResultSink,
	credentials map[string]map[string]string,
) *Dispatcher {
	if cfg.TaskDeadline <= 0 {
		cfg.TaskDeadline = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		store:    store,
		tracker:  tracker,
		inflight: inflightTracker,
		sink:     sink,
		creds:    credentials,
		log:      slog.Default().With("component", "dispatch"),
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// Submit admits a request for execution. Duplicate submissions of an
// in-flight request are dropped. Implements the watcher's request sink.
func (d *Dispatcher) Submit(ctx context.Context, req domain.TaskRequest) error {
	ok, err := d.inflight.TryAcquire(ctx, req.RequestID)
	if err != nil {
		return fmt.Errorf("failed to acquire dispatch slot: %w", err)
	}
	if !ok {
		d.log.Debug("Request already in flight", "request", req.RequestID)
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inflight.Release(ctx, req.RequestID)

		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			return
		}

		d.run(ctx, req)
	}()
	return nil
}

// Wait blocks until all in-flight executions finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, req domain.TaskRequest) {
	payload, result := d.execute(ctx, req)

	metrics.DispatchesTotal.WithLabelValues(string(result.Status)).Inc()

	if err := d.recordOutcome(ctx, result); err != nil {
		d.log.Error("Failed to record outcome", "request", req.RequestID, "error", err)
	}

	if !result.Status.Terminal() {
		d.log.Info("Request deferred", "request", req.RequestID, "status", string(result.Status))
		return
	}

	if err := d.sink.Publish(ctx, req, payload, result); err != nil {
		d.log.Error("Failed to hand result to publisher",
			"request", req.RequestID, "status", string(result.Status), "error", err)
	}
}

// execute runs the dispatch pipeline and classifies the outcome.
func (d *Dispatcher) execute(
	ctx context.Context,
	req domain.TaskRequest,
) (domain.RequestPayload, domain.TaskResult) {
	result := domain.TaskResult{RequestID: req.RequestID}
	var payload domain.RequestPayload

	// Cooldown is checked before any payload fetch so a benched worker
	// spends no bandwidth on requests it will not serve.
	cooling, err := d.tracker.InCooldown(ctx, d.cfg.WorkerAddress)
	if err != nil {
		d.log.Error("Cooldown check failed", "request", req.RequestID, "error", err)
	}
	if cooling {
		result.Status = domain.ResultWorkerCooldown
		result.Cause = "worker in cooldown"
		return payload, result
	}

	raw, err := d.store.Get(ctx, req.ContentHash)
	if err != nil {
		result.Status = domain.ResultPayloadMissing
		result.Cause = fmt.Sprintf("payload fetch: %v", err)
		return payload, result
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		result.Status = domain.ResultPayloadMissing
		result.Cause = fmt.Sprintf("payload decode: %v", err)
		return payload, result
	}

	h, err := d.registry.Get(payload.Tool)
	if err != nil {
		result.Status = domain.ResultHandlerNotFound
		result.Cause = fmt.Sprintf("tool %q has no handler", payload.Tool)
		return payload, result
	}

	start := time.Now()
	output, err := d.runHandler(ctx, h, payload)
	result.ComputeDuration = time.Since(start)
	metrics.DispatchDuration.WithLabelValues(payload.Tool).Observe(result.ComputeDuration.Seconds())

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// Partial output is discarded on deadline.
		result.Status = domain.ResultTimeout
		result.Cause = fmt.Sprintf("deadline %s exceeded", d.cfg.TaskDeadline)
	case err != nil:
		result.Status = domain.ResultHandlerError
		result.Cause = err.Error()
	default:
		result.Status = domain.ResultSuccess
		result.Output = output
	}
	return payload, result
}

// runHandler executes a handler under the task deadline with panic
// isolation. A panicking handler is an error, not a crashed engine.
func (d *Dispatcher) runHandler(
	ctx context.Context,
	h handler.Handler,
	payload domain.RequestPayload,
) (json.RawMessage, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskDeadline)
	defer cancel()

	type outcome struct {
		output json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := h.Execute(execCtx, payload, d.creds[h.Name()])
		done <- outcome{output: out, err: err}
	}()

	select {
	case <-execCtx.Done():
		return nil, execCtx.Err()
	case res := <-done:
		return res.output, res.err
	}
}

// recordOutcome feeds the reputation ledger. Timeout and success adjust
// the streak; other outcomes are recorded for visibility only.
func (d *Dispatcher) recordOutcome(ctx context.Context, result domain.TaskResult) error {
	if d.cfg.WorkerAddress == "" {
		return nil
	}
	return d.tracker.Record(ctx, d.cfg.WorkerAddress, result.Status, result.ComputeDuration)
}
