package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/storage"
)

// DeliveryRepo implements storage.DeliveryRepository using PostgreSQL.
type DeliveryRepo struct {
	db *DB
}

// NewDeliveryRepo creates a new PostgreSQL delivery repository.
func NewDeliveryRepo(db *DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

type deliveryRow struct {
	RequestID    string    `db:"request_id"`
	ResponseHash string    `db:"response_hash"`
	TxHash       string    `db:"tx_hash"`
	State        string    `db:"state"`
	Attempts     int       `db:"attempts"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row deliveryRow) toDomain() *domain.Delivery {
	return &domain.Delivery{
		RequestID:    row.RequestID,
		ResponseHash: row.ResponseHash,
		TxHash:       row.TxHash,
		State:        domain.DeliveryState(row.State),
		Attempts:     row.Attempts,
		UpdatedAt:    row.UpdatedAt,
	}
}

// Get retrieves a delivery record.
func (r *DeliveryRepo) Get(ctx context.Context, requestID string) (*domain.Delivery, error) {
	var row deliveryRow
	err := r.db.GetContext(ctx, &row,
		`SELECT request_id, response_hash, tx_hash, state, attempts, updated_at
		 FROM deliveries WHERE request_id = $1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return row.toDomain(), nil
}

// Save saves/updates a delivery record.
func (r *DeliveryRepo) Save(ctx context.Context, delivery *domain.Delivery) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (request_id, response_hash, tx_hash, state, attempts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (request_id) DO UPDATE SET
		   response_hash = EXCLUDED.response_hash,
		   tx_hash = EXCLUDED.tx_hash,
		   state = EXCLUDED.state,
		   attempts = EXCLUDED.attempts,
		   updated_at = now()`,
		delivery.RequestID, delivery.ResponseHash, delivery.TxHash,
		string(delivery.State), delivery.Attempts)
	if err != nil {
		return fmt.Errorf("failed to save delivery: %w", err)
	}
	return nil
}

// IsTerminal reports whether the request needs no further work.
func (r *DeliveryRepo) IsTerminal(ctx context.Context, requestID string) (bool, error) {
	delivery, err := r.Get(ctx, requestID)
	if errors.Is(err, storage.ErrDeliveryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return delivery.State.Terminal(), nil
}

// ListByState retrieves deliveries in a given state.
func (r *DeliveryRepo) ListByState(
	ctx context.Context,
	state domain.DeliveryState,
) ([]*domain.Delivery, error) {
	var rows []deliveryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT request_id, response_hash, tx_hash, state, attempts, updated_at
		 FROM deliveries WHERE state = $1 ORDER BY updated_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	deliveries := make([]*domain.Delivery, 0, len(rows))
	for _, row := range rows {
		deliveries = append(deliveries, row.toDomain())
	}
	return deliveries, nil
}

// DeleteTerminalOlderThan removes confirmed and abandoned deliveries
// last touched before the cutoff.
func (r *DeliveryRepo) DeleteTerminalOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM deliveries
		 WHERE state IN ($1, $2) AND updated_at < $3`,
		string(domain.DeliveryStateConfirmed), string(domain.DeliveryStateAbandoned), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune deliveries: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned deliveries: %w", err)
	}
	return deleted, nil
}

// CountByState returns the number of deliveries in a given state.
func (r *DeliveryRepo) CountByState(
	ctx context.Context,
	state domain.DeliveryState,
) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM deliveries WHERE state = $1`, string(state))
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}
