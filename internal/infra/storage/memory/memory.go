// Package memory provides in-memory repository implementations for tests
// and database-less runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/storage"
)

// MemoryStorage holds all in-memory state behind a single lock.
type MemoryStorage struct {
	mu         sync.RWMutex
	cursors    map[string]*domain.Cursor
	workers    map[string]*domain.WorkerRecord
	deliveries map[string]*domain.Delivery
}

// NewMemoryStorage creates empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		cursors:    make(map[string]*domain.Cursor),
		workers:    make(map[string]*domain.WorkerRecord),
		deliveries: make(map[string]*domain.Delivery),
	}
}

// =============================================================================
// CursorRepo
// =============================================================================

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context, contract string) (*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	cursor, ok := r.store.cursors[contract]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	c := *cursor
	return &c, nil
}

func (r *CursorRepo) Save(ctx context.Context, contract string, cursor *domain.Cursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	c := *cursor
	c.UpdatedAt = time.Now()
	r.store.cursors[contract] = &c
	return nil
}

func (r *CursorRepo) UpdatePosition(
	ctx context.Context,
	contract string,
	block uint64,
	logIndex uint,
	blockHash string,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cursor, ok := r.store.cursors[contract]
	if !ok {
		return storage.ErrCursorNotFound
	}
	cursor.LastBlock = block
	cursor.LastLogIndex = logIndex
	cursor.LastBlockHash = blockHash
	cursor.UpdatedAt = time.Now()
	return nil
}

func (r *CursorRepo) UpdateState(
	ctx context.Context,
	contract string,
	state domain.CursorState,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cursor, ok := r.store.cursors[contract]
	if !ok {
		return storage.ErrCursorNotFound
	}
	cursor.State = state
	cursor.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// WorkerRepo
// =============================================================================

type WorkerRepo struct {
	store *MemoryStorage
}

func NewWorkerRepo(store *MemoryStorage) *WorkerRepo {
	return &WorkerRepo{store: store}
}

func (r *WorkerRepo) Get(ctx context.Context, address string) (*domain.WorkerRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	record, ok := r.store.workers[address]
	if !ok {
		return nil, nil
	}
	rec := *record
	return &rec, nil
}

func (r *WorkerRepo) Save(ctx context.Context, record *domain.WorkerRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec := *record
	rec.UpdatedAt = time.Now()
	r.store.workers[record.Address] = &rec
	return nil
}

func (r *WorkerRepo) GetAll(ctx context.Context) ([]*domain.WorkerRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	records := make([]*domain.WorkerRecord, 0, len(r.store.workers))
	for _, record := range r.store.workers {
		rec := *record
		records = append(records, &rec)
	}
	return records, nil
}

// =============================================================================
// DeliveryRepo
// =============================================================================

type DeliveryRepo struct {
	store *MemoryStorage
}

func NewDeliveryRepo(store *MemoryStorage) *DeliveryRepo {
	return &DeliveryRepo{store: store}
}

func (r *DeliveryRepo) Get(ctx context.Context, requestID string) (*domain.Delivery, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	delivery, ok := r.store.deliveries[requestID]
	if !ok {
		return nil, storage.ErrDeliveryNotFound
	}
	d := *delivery
	return &d, nil
}

func (r *DeliveryRepo) Save(ctx context.Context, delivery *domain.Delivery) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	d := *delivery
	d.UpdatedAt = time.Now()
	r.store.deliveries[delivery.RequestID] = &d
	return nil
}

func (r *DeliveryRepo) IsTerminal(ctx context.Context, requestID string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	delivery, ok := r.store.deliveries[requestID]
	if !ok {
		return false, nil
	}
	return delivery.State.Terminal(), nil
}

func (r *DeliveryRepo) ListByState(
	ctx context.Context,
	state domain.DeliveryState,
) ([]*domain.Delivery, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var deliveries []*domain.Delivery
	for _, delivery := range r.store.deliveries {
		if delivery.State == state {
			d := *delivery
			deliveries = append(deliveries, &d)
		}
	}
	return deliveries, nil
}

func (r *DeliveryRepo) DeleteTerminalOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var deleted int64
	for id, delivery := range r.store.deliveries {
		if delivery.State.Terminal() && delivery.UpdatedAt.Before(cutoff) {
			delete(r.store.deliveries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *DeliveryRepo) CountByState(
	ctx context.Context,
	state domain.DeliveryState,
) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, delivery := range r.store.deliveries {
		if delivery.State == state {
			count++
		}
	}
	return count, nil
}
