package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when a cursor doesn't exist
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrDeliveryNotFound is returned when a delivery record doesn't exist
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// CursorRepository persists the watcher's scan position, keyed by the
// registry contract address.
type CursorRepository interface {
	// Get retrieves the cursor for a contract
	Get(ctx context.Context, contract string) (*domain.Cursor, error)

	// Save saves/updates the cursor
	Save(ctx context.Context, contract string, cursor *domain.Cursor) error

	// UpdatePosition moves the cursor to a new (block, logIndex) position
	UpdatePosition(ctx context.Context, contract string, block uint64, logIndex uint, blockHash string) error

	// UpdateState updates the cursor state
	UpdateState(ctx context.Context, contract string, state domain.CursorState) error
}

// WorkerRepository persists reputation ledger entries. Written only by
// the reputation tracker.
type WorkerRepository interface {
	// Get retrieves a worker record, nil when the worker is unknown
	Get(ctx context.Context, address string) (*domain.WorkerRecord, error)

	// Save saves/updates a worker record
	Save(ctx context.Context, record *domain.WorkerRecord) error

	// GetAll retrieves all worker records
	GetAll(ctx context.Context) ([]*domain.WorkerRecord, error)
}

// DeliveryRepository persists per-request publication state. Written only
// by the response publisher.
type DeliveryRepository interface {
	// Get retrieves a delivery record
	Get(ctx context.Context, requestID string) (*domain.Delivery, error)

	// Save saves/updates a delivery record
	Save(ctx context.Context, delivery *domain.Delivery) error

	// IsTerminal reports whether the request needs no further work
	IsTerminal(ctx context.Context, requestID string) (bool, error)

	// ListByState retrieves deliveries in a given state (re-publish tooling)
	ListByState(ctx context.Context, state domain.DeliveryState) ([]*domain.Delivery, error)

	// CountByState returns the number of deliveries in a given state
	CountByState(ctx context.Context, state domain.DeliveryState) (int, error)

	// DeleteTerminalOlderThan removes terminal delivery records last
	// touched before the cutoff, returning the number deleted
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
