// Package cursor tracks the watcher's position on the task-registry event
// stream.
//
// # Purpose
//
// The cursor is the bookmark that remembers how far the engine has scanned:
//   - Last processed block and log index: where the next window starts
//   - Block hash: detect chain reorganizations (hash change = reorg)
//   - State: control behavior (scanning, paused, handling reorg)
//
// # Key Properties
//
// Monotonic - Advance only moves forward; re-advancing to the current
// position is an idempotent no-op, moving backwards is rejected.
//
// Bounded Rewind - On a detected reorganization the cursor rewinds to a
// configured safety margin below the fork point, never further than
// block 0, and records a state transition to REORG.
//
// State Machine - Only valid transitions are allowed:
//
//	INIT → SCANNING → REORG → SCANNING (valid)
//	PAUSED → REORG (invalid)
//
// # Quick Start
//
//	manager := cursor.NewManager(repo, registryAddr)
//	c, _ := manager.Initialize(ctx, 1000)
//	manager.SetState(ctx, cursor.StateScanning, "engine started")
//	manager.Advance(ctx, 1010, 3, "0xabc...")
//	manager.Rewind(ctx, 1005, 25) // reorg at 1005, safety margin 25
package cursor

import (
	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/storage"
)

// Cursor re-exports the domain cursor for convenience.
type Cursor = domain.Cursor

// NewManager creates a cursor manager bound to one registry contract.
func NewManager(repo storage.CursorRepository, contract string) *DefaultManager {
	return &DefaultManager{
		repo:     repo,
		contract: contract,
	}
}
