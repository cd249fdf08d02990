package domain

import "time"

// Cursor represents the watcher's scan position: the last fully processed
// block and the last log index within it. Persisted so a restart resumes
// without re-processing or skipping events.
type Cursor struct {
	LastBlock    uint64
	LastLogIndex uint
	// LastBlockHash is the hash of LastBlock, kept for reorg detection.
	LastBlockHash string
	State         CursorState
	UpdatedAt     time.Time
}

type CursorState string

const (
	CursorStateInit     CursorState = "init"
	CursorStateScanning CursorState = "scanning"
	CursorStatePaused   CursorState = "paused"
	CursorStateReorg    CursorState = "reorg"
)
