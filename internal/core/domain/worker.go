package domain

import "time"

// WorkerRecord is the reputation ledger entry for a worker address.
// Mutated only by the reputation tracker.
type WorkerRecord struct {
	Address             string
	ConsecutiveTimeouts int
	CooldownUntil       time.Time
	TotalSlashed        uint64
	UpdatedAt           time.Time
}

// InCooldown reports whether the worker is ineligible for new dispatch.
func (w *WorkerRecord) InCooldown(now time.Time) bool {
	return now.Before(w.CooldownUntil)
}

// SlashIntent is an advisory penalty record handed to the external
// transaction-settlement collaborator. The engine never applies the
// on-chain penalty itself.
type SlashIntent struct {
	ID        string    `json:"id"`
	Worker    string    `json:"worker"`
	Amount    uint64    `json:"amount"`
	Severity  string    `json:"severity"` // "light" or "serious"
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
