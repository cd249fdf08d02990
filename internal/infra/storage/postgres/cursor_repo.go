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

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

type cursorRow struct {
	Contract      string    `db:"contract"`
	LastBlock     int64     `db:"last_block"`
	LastLogIndex  int64     `db:"last_log_index"`
	LastBlockHash string    `db:"last_block_hash"`
	State         string    `db:"state"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Get retrieves the cursor for a contract.
func (r *CursorRepo) Get(ctx context.Context, contract string) (*domain.Cursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row,
		`SELECT contract, last_block, last_log_index, last_block_hash, state, updated_at
		 FROM cursors WHERE contract = $1`, contract)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	return &domain.Cursor{
		LastBlock:     uint64(row.LastBlock),
		LastLogIndex:  uint(row.LastLogIndex),
		LastBlockHash: row.LastBlockHash,
		State:         domain.CursorState(row.State),
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// Save saves/updates the cursor.
func (r *CursorRepo) Save(ctx context.Context, contract string, cursor *domain.Cursor) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cursors (contract, last_block, last_log_index, last_block_hash, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (contract) DO UPDATE SET
		   last_block = EXCLUDED.last_block,
		   last_log_index = EXCLUDED.last_log_index,
		   last_block_hash = EXCLUDED.last_block_hash,
		   state = EXCLUDED.state,
		   updated_at = now()`,
		contract, int64(cursor.LastBlock), int64(cursor.LastLogIndex),
		cursor.LastBlockHash, string(cursor.State))
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// UpdatePosition moves the cursor to a new (block, logIndex) position.
func (r *CursorRepo) UpdatePosition(
	ctx context.Context,
	contract string,
	block uint64,
	logIndex uint,
	blockHash string,
) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cursors
		 SET last_block = $2, last_log_index = $3, last_block_hash = $4, updated_at = now()
		 WHERE contract = $1`,
		contract, int64(block), int64(logIndex), blockHash)
	if err != nil {
		return fmt.Errorf("failed to update cursor position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrCursorNotFound
	}
	return nil
}

// UpdateState updates the cursor state.
func (r *CursorRepo) UpdateState(
	ctx context.Context,
	contract string,
	state domain.CursorState,
) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cursors SET state = $2, updated_at = now() WHERE contract = $1`,
		contract, string(state))
	if err != nil {
		return fmt.Errorf("failed to update cursor state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrCursorNotFound
	}
	return nil
}
