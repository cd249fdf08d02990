package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/storage"

	"github.com/vietddude/mechwatch/internal/metrics"
)

var (
	// ErrCursorNotFound is returned when a cursor doesn't exist.
	ErrCursorNotFound = storage.ErrCursorNotFound

	// ErrCursorRegression is returned when Advance targets a position at
	// or below the current one with a different identity.
	ErrCursorRegression = errors.New("cursor cannot move backwards")

	// ErrCursorPaused is returned when trying to advance a paused cursor.
	ErrCursorPaused = errors.New("cursor is paused")

	// ErrCursorInReorg is returned when trying to advance during reorg handling.
	ErrCursorInReorg = errors.New("cursor is in reorg state")
)

// Manager handles cursor operations with state machine enforcement.
type Manager interface {
	// Get retrieves the current cursor.
	Get(ctx context.Context) (*domain.Cursor, error)

	// Initialize creates a new cursor at the starting block.
	Initialize(ctx context.Context, startBlock uint64) (*domain.Cursor, error)

	// Advance moves the cursor forward to the end of a scanned window.
	Advance(ctx context.Context, block uint64, logIndex uint, blockHash string) error

	// SetState transitions the cursor to a new state (validates transition).
	SetState(ctx context.Context, newState State, reason string) error

	// Rewind moves the cursor back after a detected reorg, to a safety
	// margin below the fork point.
	Rewind(ctx context.Context, forkPoint uint64, safetyMargin uint64) error

	// Pause pauses scanning.
	Pause(ctx context.Context, reason string) error

	// Resume resumes scanning.
	Resume(ctx context.Context) error

	// Lag returns blocks behind the given chain head.
	Lag(ctx context.Context, head uint64) (int64, error)

	// SetStateChangeCallback registers a callback for state changes.
	SetStateChangeCallback(fn func(t Transition))
}

// DefaultManager implements Manager with state machine enforcement.
type DefaultManager struct {
	repo     storage.CursorRepository
	contract string

	mu            sync.Mutex
	stateCallback func(Transition)
}

// Get retrieves the current cursor.
func (m *DefaultManager) Get(ctx context.Context) (*domain.Cursor, error) {
	return m.repo.Get(ctx, m.contract)
}

// Initialize creates a new cursor at the starting block.
func (m *DefaultManager) Initialize(
	ctx context.Context,
	startBlock uint64,
) (*domain.Cursor, error) {
	cursor := &domain.Cursor{
		LastBlock: startBlock,
		State:     domain.CursorStateInit,
		UpdatedAt: time.Now(),
	}

	if err := m.repo.Save(ctx, m.contract, cursor); err != nil {
		return nil, fmt.Errorf("failed to save cursor: %w", err)
	}
	return cursor, nil
}

// Advance moves the cursor forward after a scanned window.
func (m *DefaultManager) Advance(
	ctx context.Context,
	block uint64,
	logIndex uint,
	blockHash string,
) error {
	cursor, err := m.repo.Get(ctx, m.contract)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	switch cursor.State {
	case domain.CursorStatePaused:
		return ErrCursorPaused
	case domain.CursorStateReorg:
		return ErrCursorInReorg
	}

	// Idempotency: re-advancing to the exact current position is a no-op
	// (duplicate delivery / tick replay after a crash).
	if block == cursor.LastBlock && logIndex == cursor.LastLogIndex {
		if blockHash == cursor.LastBlockHash {
			return nil
		}
		return fmt.Errorf(
			"idempotency check failed: cursor at %d/%d with hash %s, got hash %s",
			cursor.LastBlock, cursor.LastLogIndex, cursor.LastBlockHash, blockHash,
		)
	}

	if block < cursor.LastBlock ||
		(block == cursor.LastBlock && logIndex < cursor.LastLogIndex) {
		return fmt.Errorf("%w: at %d/%d, got %d/%d",
			ErrCursorRegression, cursor.LastBlock, cursor.LastLogIndex, block, logIndex)
	}

	if err := m.repo.UpdatePosition(ctx, m.contract, block, logIndex, blockHash); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	metrics.CursorBlock.Set(float64(block))
	return nil
}

// SetState transitions the cursor to a new state.
func (m *DefaultManager) SetState(ctx context.Context, newState State, reason string) error {
	cursor, err := m.repo.Get(ctx, m.contract)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	if !CanTransition(cursor.State, newState) {
		return fmt.Errorf(
			"%w: cannot transition from %s to %s",
			ErrInvalidTransition, cursor.State, newState,
		)
	}

	transition := NewTransition(cursor.State, newState, reason)

	if err := m.repo.UpdateState(ctx, m.contract, newState); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	m.notify(transition)
	return nil
}

// Rewind moves the cursor back for reorg handling. The new position is
// safetyMargin blocks below the fork point, floored at block 0.
func (m *DefaultManager) Rewind(
	ctx context.Context,
	forkPoint uint64,
	safetyMargin uint64,
) error {
	cursor, err := m.repo.Get(ctx, m.contract)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	var target uint64
	if forkPoint > safetyMargin {
		target = forkPoint - safetyMargin
	}

	if cursor.State != domain.CursorStateReorg {
		transition := NewTransition(
			cursor.State,
			domain.CursorStateReorg,
			fmt.Sprintf("rewind to block %d", target),
		)
		if err := m.repo.UpdateState(ctx, m.contract, domain.CursorStateReorg); err != nil {
			return fmt.Errorf("failed to set reorg state: %w", err)
		}
		m.notify(transition)
	}

	// Block hash is unknown below the fork point; the next scan refreshes it.
	if err := m.repo.UpdatePosition(ctx, m.contract, target, 0, ""); err != nil {
		return fmt.Errorf("failed to rewind cursor: %w", err)
	}

	metrics.CursorBlock.Set(float64(target))
	return nil
}

// Pause pauses scanning.
func (m *DefaultManager) Pause(ctx context.Context, reason string) error {
	return m.SetState(ctx, domain.CursorStatePaused, reason)
}

// Resume resumes scanning from the paused state.
func (m *DefaultManager) Resume(ctx context.Context) error {
	cursor, err := m.repo.Get(ctx, m.contract)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	if cursor.State != domain.CursorStatePaused {
		return fmt.Errorf("cursor is not paused, current state: %s", cursor.State)
	}
	return m.SetState(ctx, domain.CursorStateScanning, "manual resume")
}

// Lag returns how many blocks behind the chain head the cursor is.
func (m *DefaultManager) Lag(ctx context.Context, head uint64) (int64, error) {
	cursor, err := m.repo.Get(ctx, m.contract)
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return int64(head) - int64(cursor.LastBlock), nil
}

// SetStateChangeCallback registers a callback for state changes.
func (m *DefaultManager) SetStateChangeCallback(fn func(t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

func (m *DefaultManager) notify(t Transition) {
	m.mu.Lock()
	fn := m.stateCallback
	m.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}
