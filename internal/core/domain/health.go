package domain

import "time"

// HealthSnapshot is recomputed on every monitor tick. Not persisted.
type HealthSnapshot struct {
	ObservedAt           time.Time     `json:"observed_at"`
	LatestChainBlock     uint64        `json:"latest_chain_block"`
	LastRequestBlockSeen uint64        `json:"last_request_block_seen"`
	BlockLag             uint64        `json:"block_lag"`
	RPCLatency           time.Duration `json:"rpc_latency_ms"`
	RPCError             string        `json:"rpc_error,omitempty"`
	MarketplaceNonce     int64         `json:"marketplace_nonce"`
	OldestUnfulfilledAge time.Duration `json:"oldest_unfulfilled_age,omitempty"`
}

// AlertSeverity grades an alert for the notification sink.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
	SeverityInfo     AlertSeverity = "info"
)

// AlertCondition names a monitored fault condition. Alerts are
// edge-triggered per condition: one on entry, one on recovery.
type AlertCondition string

const (
	ConditionWatcherStale    AlertCondition = "watcher_stale"
	ConditionRPCDegraded     AlertCondition = "rpc_degraded"
	ConditionChainDivergence AlertCondition = "chain_divergence"
	ConditionUnfulfilled     AlertCondition = "unfulfilled_requests"
)

// Alert is sent to the outbound webhook on a condition transition.
type Alert struct {
	ID        string         `json:"id"`
	Condition AlertCondition `json:"condition"`
	Severity  AlertSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Recovered bool           `json:"recovered"`
	Snapshot  HealthSnapshot `json:"snapshot"`
}
