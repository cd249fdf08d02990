// Package inflight enforces at-most-one in-flight execution per request.
//
// A local set guards against duplicate dispatch within this process. When
// a Redis client is configured, a distributed lease additionally guards
// against concurrent dispatch across replicas sharing one registry.
package inflight

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/mechwatch/internal/infra/redis"
	"github.com/vietddude/mechwatch/internal/metrics"
)

// Tracker admits requests into dispatch and releases them on completion.
type Tracker struct {
	mu     sync.Mutex
	active map[string]struct{}

	// nil when running without a shared lease.
	lease    *redis.Client
	holder   string
	leaseTTL time.Duration
}

// NewTracker creates an in-flight tracker. lease may be nil; holder
// identifies this process in the shared lease.
func NewTracker(lease *redis.Client, holder string, leaseTTL time.Duration) *Tracker {
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	return &Tracker{
		active:   make(map[string]struct{}),
		lease:    lease,
		holder:   holder,
		leaseTTL: leaseTTL,
	}
}

// TryAcquire admits a request for dispatch. Returns false when the
// request is already in flight here or leased by another replica.
func (t *Tracker) TryAcquire(ctx context.Context, requestID string) (bool, error) {
	t.mu.Lock()
	if _, exists := t.active[requestID]; exists {
		t.mu.Unlock()
		return false, nil
	}
	t.active[requestID] = struct{}{}
	t.mu.Unlock()

	if t.lease != nil {
		ok, err := t.lease.AcquireLease(ctx, requestID, t.holder, t.leaseTTL)
		if err != nil || !ok {
			t.mu.Lock()
			delete(t.active, requestID)
			t.mu.Unlock()
			return false, err
		}
	}

	metrics.TasksInFlight.Inc()
	return true, nil
}

// Release removes a request from the in-flight set and drops its lease.
func (t *Tracker) Release(ctx context.Context, requestID string) {
	t.mu.Lock()
	_, existed := t.active[requestID]
	delete(t.active, requestID)
	t.mu.Unlock()

	if !existed {
		return
	}
	if t.lease != nil {
		// Best effort: an unreleased lease expires with its TTL.
		_ = t.lease.ReleaseLease(ctx, requestID)
	}
	metrics.TasksInFlight.Dec()
}

// Active returns the number of requests currently in flight locally.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
