package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/chain"
	"github.com/vietddude/mechwatch/internal/infra/objectstore"
	"github.com/vietddude/mechwatch/internal/infra/storage/memory"
)

// =============================================================================
// Mocks
// =============================================================================

type mockChainClient struct {
	mu      sync.Mutex
	sends   int
	sendErr error
}

func (c *mockChainClient) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }

func (c *mockChainClient) BlockHash(ctx context.Context, number uint64) (string, error) {
	return "0xhash", nil
}

func (c *mockChainClient) FilterLogs(ctx context.Context, q chain.FilterQuery) ([]chain.Log, error) {
	return nil, nil
}

func (c *mockChainClient) CallContract(ctx context.Context, to, data string) (string, error) {
	return "0x0", nil
}

func (c *mockChainClient) SendTransaction(ctx context.Context, rawTx string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return "0xtxhash", nil
}

func (c *mockChainClient) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

type mockSigner struct {
	err error
}

func (s *mockSigner) SignDeliver(requestID, responseHash string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "0xsigned:" + requestID + ":" + responseHash, nil
}

type testRig struct {
	publisher  *Publisher
	store      *objectstore.MemoryStore
	client     *mockChainClient
	deliveries *memory.DeliveryRepo
}

func newTestRig(cfg Config) *testRig {
	store := objectstore.NewMemoryStore()
	client := &mockChainClient{}
	deliveries := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = time.Millisecond
	}
	p := New(cfg, store, client, &mockSigner{}, deliveries)
	return &testRig{publisher: p, store: store, client: client, deliveries: deliveries}
}

func successResult(id string) (domain.TaskRequest, domain.RequestPayload, domain.TaskResult) {
	return domain.TaskRequest{RequestID: id},
		domain.RequestPayload{Nonce: 7},
		domain.TaskResult{RequestID: id, Status: domain.ResultSuccess, Output: json.RawMessage(`"ok"`)}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish_SubmitsEnvelope(t *testing.T) {
	rig := newTestRig(Config{})
	ctx := context.Background()
	req, payload, result := successResult("1")

	if err := rig.publisher.Publish(ctx, req, payload, result); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	delivery, err := rig.deliveries.Get(ctx, "1")
	if err != nil {
		t.Fatalf("expected delivery record: %v", err)
	}
	if delivery.State != domain.DeliveryStatePending {
		t.Errorf("expected pending, got %s", delivery.State)
	}
	if delivery.TxHash != "0xtxhash" {
		t.Errorf("unexpected tx hash %s", delivery.TxHash)
	}
	if delivery.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", delivery.Attempts)
	}

	// The envelope in the object store carries the nonce and the output.
	raw, err := rig.store.Get(ctx, delivery.ResponseHash)
	if err != nil {
		t.Fatalf("envelope missing from object store: %v", err)
	}
	var envelope domain.ResponseEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope.RequestID != "1" || envelope.Nonce != 7 {
		t.Errorf("unexpected envelope identity: %s/%d", envelope.RequestID, envelope.Nonce)
	}
	if string(envelope.Result) != `"ok"` {
		t.Errorf("unexpected envelope result: %s", envelope.Result)
	}
	if envelope.Error != "" {
		t.Errorf("success envelope must not carry an error, got %q", envelope.Error)
	}
}

func TestPublish_IdempotentOnTerminalDelivery(t *testing.T) {
	rig := newTestRig(Config{})
	ctx := context.Background()
	req, payload, result := successResult("1")

	_ = rig.deliveries.Save(ctx, &domain.Delivery{
		RequestID: "1",
		State:     domain.DeliveryStateConfirmed,
	})

	if err := rig.publisher.Publish(ctx, req, payload, result); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if rig.client.sendCount() != 0 {
		t.Errorf("terminal delivery must not be republished, got %d sends", rig.client.sendCount())
	}
}

func TestPublish_TimeoutAbandonedByDefault(t *testing.T) {
	rig := newTestRig(Config{})
	ctx := context.Background()

	req := domain.TaskRequest{RequestID: "1"}
	result := domain.TaskResult{RequestID: "1", Status: domain.ResultTimeout, Cause: "deadline exceeded"}

	if err := rig.publisher.Publish(ctx, req, domain.RequestPayload{}, result); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	delivery, err := rig.deliveries.Get(ctx, "1")
	if err != nil {
		t.Fatalf("expected delivery record: %v", err)
	}
	if delivery.State != domain.DeliveryStateAbandoned {
		t.Errorf("expected abandoned, got %s", delivery.State)
	}
	if rig.client.sendCount() != 0 {
		t.Errorf("timed-out task must not be delivered, got %d sends", rig.client.sendCount())
	}
}

func TestPublish_DeliverOnTimeoutPublishesErrorEnvelope(t *testing.T) {
	rig := newTestRig(Config{DeliverOnTimeout: true})
	ctx := context.Background()

	req := domain.TaskRequest{RequestID: "1"}
	result := domain.TaskResult{RequestID: "1", Status: domain.ResultTimeout, Cause: "deadline exceeded"}

	if err := rig.publisher.Publish(ctx, req, domain.RequestPayload{Nonce: 3}, result); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	delivery, _ := rig.deliveries.Get(ctx, "1")
	if delivery == nil || delivery.State != domain.DeliveryStatePending {
		t.Fatalf("expected pending delivery, got %+v", delivery)
	}

	raw, _ := rig.store.Get(ctx, delivery.ResponseHash)
	var envelope domain.ResponseEnvelope
	_ = json.Unmarshal(raw, &envelope)
	if envelope.Error != "deadline exceeded" {
		t.Errorf("expected error envelope, got %q", envelope.Error)
	}
}

func TestPublish_SendFailureRecordsPublishFailed(t *testing.T) {
	rig := newTestRig(Config{MaxAttempts: 2})
	rig.client.sendErr = errors.New("nonce too low")
	ctx := context.Background()
	req, payload, result := successResult("1")

	err := rig.publisher.Publish(ctx, req, payload, result)
	if err == nil {
		t.Fatal("expected publish error")
	}

	delivery, getErr := rig.deliveries.Get(ctx, "1")
	if getErr != nil {
		t.Fatalf("expected delivery record: %v", getErr)
	}
	if delivery.State != domain.DeliveryStatePublishFailed {
		t.Errorf("expected publish_failed, got %s", delivery.State)
	}
	if delivery.ResponseHash == "" {
		t.Error("failed delivery must keep its response hash for the sweep")
	}
	if rig.client.sendCount() != 2 {
		t.Errorf("expected 2 send attempts, got %d", rig.client.sendCount())
	}
}

// flakyDeliveryRepo injects read failures over a working backing repo.
type flakyDeliveryRepo struct {
	*memory.DeliveryRepo
	getErr error
}

func (r *flakyDeliveryRepo) Get(ctx context.Context, requestID string) (*domain.Delivery, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.DeliveryRepo.Get(ctx, requestID)
}

func TestPublish_AbandonKeepsLedgerOnTransientRepoError(t *testing.T) {
	backing := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	repo := &flakyDeliveryRepo{DeliveryRepo: backing, getErr: errors.New("connection reset")}
	publisher := New(Config{RetryInitial: time.Millisecond},
		objectstore.NewMemoryStore(), &mockChainClient{}, &mockSigner{}, repo)
	ctx := context.Background()

	_ = backing.Save(ctx, &domain.Delivery{
		RequestID:    "1",
		ResponseHash: "QmResp",
		State:        domain.DeliveryStatePublishFailed,
		Attempts:     2,
	})

	req := domain.TaskRequest{RequestID: "1"}
	result := domain.TaskResult{RequestID: "1", Status: domain.ResultTimeout, Cause: "deadline exceeded"}
	if err := publisher.Publish(ctx, req, domain.RequestPayload{}, result); err == nil {
		t.Fatal("expected error while the ledger read fails")
	}

	delivery, err := backing.Get(ctx, "1")
	if err != nil {
		t.Fatalf("expected delivery record: %v", err)
	}
	if delivery.State != domain.DeliveryStatePublishFailed {
		t.Errorf("transient read failure must not change state, got %s", delivery.State)
	}
	if delivery.ResponseHash != "QmResp" || delivery.Attempts != 2 {
		t.Errorf("ledger history lost: %+v", delivery)
	}

	// Once the repo recovers, abandoning keeps the recorded history.
	repo.getErr = nil
	if err := publisher.Publish(ctx, req, domain.RequestPayload{}, result); err != nil {
		t.Fatalf("Publish failed after repo recovery: %v", err)
	}
	delivery, _ = backing.Get(ctx, "1")
	if delivery.State != domain.DeliveryStateAbandoned {
		t.Errorf("expected abandoned, got %s", delivery.State)
	}
	if delivery.ResponseHash != "QmResp" || delivery.Attempts != 2 {
		t.Errorf("abandon must preserve ledger history: %+v", delivery)
	}
}

// =============================================================================
// Retry Sweep Tests
// =============================================================================

func TestRetrySweep_ResubmitsFailedDelivery(t *testing.T) {
	rig := newTestRig(Config{})
	ctx := context.Background()

	_ = rig.deliveries.Save(ctx, &domain.Delivery{
		RequestID:    "1",
		ResponseHash: "QmResp",
		State:        domain.DeliveryStatePublishFailed,
		Attempts:     2,
	})

	if err := rig.publisher.RetrySweep(ctx); err != nil {
		t.Fatalf("RetrySweep failed: %v", err)
	}

	delivery, _ := rig.deliveries.Get(ctx, "1")
	if delivery.State != domain.DeliveryStatePending {
		t.Errorf("expected pending after sweep, got %s", delivery.State)
	}
	if delivery.Attempts != 3 {
		t.Errorf("expected attempts carried to 3, got %d", delivery.Attempts)
	}
	if rig.client.sendCount() != 1 {
		t.Errorf("expected 1 resubmission, got %d", rig.client.sendCount())
	}
}

func TestRetrySweep_AbandonsPastAttemptCap(t *testing.T) {
	rig := newTestRig(Config{AbandonAfter: 3})
	ctx := context.Background()

	_ = rig.deliveries.Save(ctx, &domain.Delivery{
		RequestID:    "1",
		ResponseHash: "QmResp",
		State:        domain.DeliveryStatePublishFailed,
		Attempts:     3,
	})

	if err := rig.publisher.RetrySweep(ctx); err != nil {
		t.Fatalf("RetrySweep failed: %v", err)
	}

	delivery, _ := rig.deliveries.Get(ctx, "1")
	if delivery.State != domain.DeliveryStateAbandoned {
		t.Errorf("expected abandoned, got %s", delivery.State)
	}
	if rig.client.sendCount() != 0 {
		t.Errorf("abandoned delivery must not be resubmitted, got %d sends", rig.client.sendCount())
	}
}

func TestRetrySweep_SkipsDeliveryWithoutEnvelope(t *testing.T) {
	rig := newTestRig(Config{})
	ctx := context.Background()

	_ = rig.deliveries.Save(ctx, &domain.Delivery{
		RequestID: "1",
		State:     domain.DeliveryStatePublishFailed,
		Attempts:  1,
	})

	if err := rig.publisher.RetrySweep(ctx); err != nil {
		t.Fatalf("RetrySweep failed: %v", err)
	}
	if rig.client.sendCount() != 0 {
		t.Errorf("nothing to resubmit without a stored envelope, got %d sends", rig.client.sendCount())
	}

	delivery, _ := rig.deliveries.Get(ctx, "1")
	if delivery.State != domain.DeliveryStatePublishFailed {
		t.Errorf("expected delivery left as publish_failed, got %s", delivery.State)
	}
}
