// Package publish turns completed task results into on-chain Deliver
// transactions.
//
// The response envelope is written to the object store first; only its
// content hash goes on chain. Publishing is idempotent: a request whose
// delivery is already terminal is never published again. A failed
// publish is recorded as PUBLISH_FAILED and retried on a later sweep,
// never dropped silently.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/chain"
	"github.com/vietddude/mechwatch/internal/infra/objectstore"
	"github.com/vietddude/mechwatch/internal/infra/storage"
	"github.com/vietddude/mechwatch/internal/metrics"
)

// Config holds publish settings.
type Config struct {
	// MaxAttempts bounds transaction submissions per publish call.
	MaxAttempts uint64 `yaml:"max_attempts"`

	// RetryInitial is the first backoff delay between submissions.
	RetryInitial time.Duration `yaml:"retry_initial"`

	// AbandonAfter caps total attempts across sweeps before a delivery is
	// marked abandoned.
	AbandonAfter int `yaml:"abandon_after"`

	// DeliverOnTimeout publishes an error envelope for timed-out tasks
	// instead of abandoning them. Off by default: a timeout usually means
	// another worker should take the request.
	DeliverOnTimeout bool `yaml:"deliver_on_timeout"`

	// RetentionPeriod bounds how long terminal delivery records are kept.
	// Zero keeps them forever.
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// TxSigner builds signed Deliver transactions for this worker's key.
type TxSigner interface {
	// SignDeliver returns a raw signed transaction delivering the
	// response hash for a request.
	SignDeliver(requestID string, responseHash string) (string, error)
}

// Publisher implements the dispatch result sink.
type Publisher struct {
	cfg        Config
	store      objectstore.Store
	client     chain.Client
	signer     TxSigner
	deliveries storage.DeliveryRepository
	log        *slog.Logger
}

// New creates a publisher.
func New(
	cfg Config,
	store objectstore.Store,
	client chain.Client,
	signer TxSigner,
	deliveries storage.DeliveryRepository,
) *Publisher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = time.Second
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 9
	}
	return &Publisher{
		cfg:        cfg,
		store:      store,
		client:     client,
		signer:     signer,
		deliveries: deliveries,
		log:        slog.Default().With("component", "publish"),
	}
}

// Publish delivers a terminal task result on chain.
func (p *Publisher) Publish(
	ctx context.Context,
	req domain.TaskRequest,
	payload domain.RequestPayload,
	result domain.TaskResult,
) error {
	terminal, err := p.deliveries.IsTerminal(ctx, req.RequestID)
	if err != nil {
		return fmt.Errorf("failed to check delivery state: %w", err)
	}
	if terminal {
		p.log.Debug("Delivery already terminal, skipping", "request", req.RequestID)
		return nil
	}

	if result.Status == domain.ResultTimeout && !p.cfg.DeliverOnTimeout {
		return p.abandon(ctx, req.RequestID, "timed out, left for another worker")
	}

	envelope := domain.ResponseEnvelope{
		RequestID: req.RequestID,
		Nonce:     payload.Nonce,
		Result:    result.Output,
	}
	if result.Status != domain.ResultSuccess {
		envelope.Error = result.Cause
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode response envelope: %w", err)
	}

	responseHash, err := p.store.Put(ctx, raw)
	if err != nil {
		return p.markFailed(ctx, req.RequestID, "", fmt.Errorf("failed to store response: %w", err))
	}

	return p.submit(ctx, req.RequestID, responseHash)
}

// RetrySweep re-submits deliveries stuck in PUBLISH_FAILED. Deliveries
// past the attempt cap are abandoned with an error log.
func (p *Publisher) RetrySweep(ctx context.Context) error {
	failed, err := p.deliveries.ListByState(ctx, domain.DeliveryStatePublishFailed)
	if err != nil {
		return fmt.Errorf("failed to list failed deliveries: %w", err)
	}

	for _, delivery := range failed {
		if delivery.Attempts >= p.cfg.AbandonAfter {
			if err := p.abandon(ctx, delivery.RequestID,
				fmt.Sprintf("gave up after %d attempts", delivery.Attempts)); err != nil {
				p.log.Error("Failed to abandon delivery", "request", delivery.RequestID, "error", err)
			}
			continue
		}
		if delivery.ResponseHash == "" {
			// The envelope never made it to the object store; nothing to
			// resubmit without re-running the task.
			continue
		}
		if err := p.submit(ctx, delivery.RequestID, delivery.ResponseHash); err != nil {
			p.log.Error("Retry publish failed", "request", delivery.RequestID, "error", err)
		}
	}
	return nil
}

// submit signs and sends the Deliver transaction with bounded retry.
func (p *Publisher) submit(ctx context.Context, requestID, responseHash string) error {
	rawTx, err := p.signer.SignDeliver(requestID, responseHash)
	if err != nil {
		return p.markFailed(ctx, requestID, responseHash, fmt.Errorf("failed to sign deliver tx: %w", err))
	}

	var txHash string
	backoff := retry.WithMaxRetries(p.cfg.MaxAttempts-1, retry.NewExponential(p.cfg.RetryInitial))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		metrics.PublishAttempts.Inc()
		hash, err := p.client.SendTransaction(ctx, rawTx)
		if err != nil {
			return retry.RetryableError(err)
		}
		txHash = hash
		return nil
	})
	if err != nil {
		return p.markFailed(ctx, requestID, responseHash, fmt.Errorf("failed to send deliver tx: %w", err))
	}

	delivery := &domain.Delivery{
		RequestID:    requestID,
		ResponseHash: responseHash,
		TxHash:       txHash,
		State:        domain.DeliveryStatePending,
		Attempts:     p.attempts(ctx, requestID) + 1,
	}
	if err := p.deliveries.Save(ctx, delivery); err != nil {
		return fmt.Errorf("failed to record pending delivery: %w", err)
	}

	p.log.Info("Deliver transaction submitted",
		"request", requestID, "tx", txHash, "response_hash", responseHash)
	return nil
}

// markFailed records a PUBLISH_FAILED delivery. The failure surfaces in
// logs, metrics and the delivery ledger.
func (p *Publisher) markFailed(ctx context.Context, requestID, responseHash string, cause error) error {
	metrics.PublishFailures.Inc()
	p.log.Error("Publish failed", "request", requestID, "error", cause)

	delivery := &domain.Delivery{
		RequestID:    requestID,
		ResponseHash: responseHash,
		State:        domain.DeliveryStatePublishFailed,
		Attempts:     p.attempts(ctx, requestID) + 1,
	}
	if err := p.deliveries.Save(ctx, delivery); err != nil {
		return fmt.Errorf("failed to record publish failure (%v): %w", cause, err)
	}
	return cause
}

func (p *Publisher) abandon(ctx context.Context, requestID, reason string) error {
	p.log.Warn("Abandoning delivery", "request", requestID, "reason", reason)

	delivery, err := p.deliveries.Get(ctx, requestID)
	if err != nil {
		if !errors.Is(err, storage.ErrDeliveryNotFound) {
			return fmt.Errorf("failed to load delivery for abandon: %w", err)
		}
		delivery = &domain.Delivery{RequestID: requestID}
	}
	delivery.State = domain.DeliveryStateAbandoned
	if err := p.deliveries.Save(ctx, delivery); err != nil {
		return fmt.Errorf("failed to record abandoned delivery: %w", err)
	}
	return nil
}

func (p *Publisher) attempts(ctx context.Context, requestID string) int {
	delivery, err := p.deliveries.Get(ctx, requestID)
	if err != nil {
		return 0
	}
	return delivery.Attempts
}
