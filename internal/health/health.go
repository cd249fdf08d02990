// Package health provides the independent liveness monitor: a periodic
// probe of the chain, the marketplace and the watcher's own progress,
// with edge-triggered webhook alerts and HTTP health endpoints.
package health

import (
	"github.com/vietddude/mechwatch/internal/core/domain"
)

// Status is the aggregate health of the engine.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Report is the answer served on the detailed health endpoint.
type Report struct {
	Status     Status                  `json:"status"`
	Snapshot   domain.HealthSnapshot   `json:"snapshot"`
	Conditions []domain.AlertCondition `json:"active_conditions,omitempty"`
}

// conditionSeverity grades each monitored condition.
var conditionSeverity = map[domain.AlertCondition]domain.AlertSeverity{
	domain.ConditionWatcherStale:    domain.SeverityCritical,
	domain.ConditionRPCDegraded:     domain.SeverityWarning,
	domain.ConditionChainDivergence: domain.SeverityCritical,
	domain.ConditionUnfulfilled:     domain.SeverityWarning,
}
