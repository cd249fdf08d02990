package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
)

// WorkerRepo implements storage.WorkerRepository using PostgreSQL.
type WorkerRepo struct {
	db *DB
}

// NewWorkerRepo creates a new PostgreSQL worker repository.
func NewWorkerRepo(db *DB) *WorkerRepo {
	return &WorkerRepo{db: db}
}

type workerRow struct {
	Address             string    `db:"address"`
	ConsecutiveTimeouts int       `db:"consecutive_timeouts"`
	CooldownUntil       time.Time `db:"cooldown_until"`
	TotalSlashed        int64     `db:"total_slashed"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (row workerRow) toDomain() *domain.WorkerRecord {
	return &domain.WorkerRecord{
		Address:             row.Address,
		ConsecutiveTimeouts: row.ConsecutiveTimeouts,
		CooldownUntil:       row.CooldownUntil,
		TotalSlashed:        uint64(row.TotalSlashed),
		UpdatedAt:           row.UpdatedAt,
	}
}

// Get retrieves a worker record, nil when the worker is unknown.
func (r *WorkerRepo) Get(ctx context.Context, address string) (*domain.WorkerRecord, error) {
	var row workerRow
	err := r.db.GetContext(ctx, &row,
		`SELECT address, consecutive_timeouts, cooldown_until, total_slashed, updated_at
		 FROM workers WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return row.toDomain(), nil
}

// Save saves/updates a worker record.
func (r *WorkerRepo) Save(ctx context.Context, record *domain.WorkerRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workers (address, consecutive_timeouts, cooldown_until, total_slashed, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (address) DO UPDATE SET
		   consecutive_timeouts = EXCLUDED.consecutive_timeouts,
		   cooldown_until = EXCLUDED.cooldown_until,
		   total_slashed = EXCLUDED.total_slashed,
		   updated_at = now()`,
		record.Address, record.ConsecutiveTimeouts, record.CooldownUntil,
		int64(record.TotalSlashed))
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

// GetAll retrieves all worker records.
func (r *WorkerRepo) GetAll(ctx context.Context) ([]*domain.WorkerRecord, error) {
	var rows []workerRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT address, consecutive_timeouts, cooldown_until, total_slashed, updated_at
		 FROM workers ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	records := make([]*domain.WorkerRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}
