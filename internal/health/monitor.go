package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/mechwatch/internal/core/cursor"
	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/chain"
	"github.com/vietddude/mechwatch/internal/metrics"
)

// nonceSelector is the 4-byte selector of the marketplace nonce() view.
// A moving nonce proves the marketplace is taking requests.
const nonceSelector = "0xaffed0e0"

// Config holds monitor settings.
type Config struct {
	Interval time.Duration `yaml:"interval"`

	// StalenessBlocks is the cursor lag above which the watcher counts
	// as stale.
	StalenessBlocks uint64 `yaml:"staleness_blocks"`

	// RPCLatencyWarn flags the endpoint as degraded above this latency.
	RPCLatencyWarn time.Duration `yaml:"rpc_latency_warn"`

	// UnfulfilledLookback is the block window scanned for requests that
	// never got a Deliver.
	UnfulfilledLookback uint64 `yaml:"unfulfilled_lookback"`

	// GracePeriod is how long a request may stay undelivered before it
	// counts as unfulfilled.
	GracePeriod time.Duration `yaml:"grace_period"`

	// SweepInterval spaces out the unfulfilled-request scans, which are
	// heavier than the per-tick probes.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	RegistryAddress    string `yaml:"registry_address"`
	MarketplaceAddress string `yaml:"marketplace_address"`

	// WebhookURL receives alert POSTs. Alerts go to the log when empty.
	WebhookURL string `yaml:"webhook_url"`

	// BlockTime approximates the chain's seconds-per-block for aging
	// unfulfilled requests.
	BlockTime time.Duration `yaml:"block_time"`
}

// ProgressSource reports the watcher's scan progress.
type ProgressSource interface {
	LastRequestBlock() uint64
}

// Notifier delivers alerts to the outside world.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// Monitor probes the chain and the engine on a fixed interval. It shares
// no state with the pipeline beyond read-only collaborators, so it keeps
// reporting while the pipeline is wedged.
type Monitor struct {
	cfg       Config
	client    chain.Client
	cursorMgr cursor.Manager
	progress  ProgressSource
	notifier  Notifier
	log       *slog.Logger

	mu        sync.RWMutex
	snapshot  domain.HealthSnapshot
	active    map[domain.AlertCondition]bool
	lastSweep time.Time
	sweepAge  time.Duration

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor creates a health monitor.
func NewMonitor(
	cfg Config,
	client chain.Client,
	cursorMgr cursor.Manager,
	progress ProgressSource,
	notifier Notifier,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.StalenessBlocks == 0 {
		cfg.StalenessBlocks = 100
	}
	if cfg.RPCLatencyWarn <= 0 {
		cfg.RPCLatencyWarn = 2 * time.Second
	}
	if cfg.UnfulfilledLookback == 0 {
		cfg.UnfulfilledLookback = 5000
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 12 * time.Second
	}
	return &Monitor{
		cfg:       cfg,
		client:    client,
		cursorMgr: cursorMgr,
		progress:  progress,
		notifier:  notifier,
		log:       slog.Default().With("component", "health"),
		active:    make(map[domain.AlertCondition]bool),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("monitor already running")
	}
	m.log.Info("Starting health monitor", "interval", m.cfg.Interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			m.Tick(ctx)
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Stop signals the loop to exit and waits for it.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info("Health monitor stopped")
}

// Tick runs one probe cycle and fires edge-triggered alerts.
func (m *Monitor) Tick(ctx context.Context) {
	snap := m.probe(ctx)

	m.mu.Lock()
	m.snapshot = snap
	transitions := m.evaluate(snap)
	m.mu.Unlock()

	for _, alert := range transitions {
		metrics.AlertsEmitted.WithLabelValues(string(alert.Condition)).Inc()
		if alert.Recovered {
			m.log.Info("Condition recovered", "condition", string(alert.Condition))
		} else {
			m.log.Warn("Condition entered",
				"condition", string(alert.Condition), "message", alert.Message)
		}
		if m.notifier == nil {
			continue
		}
		if err := m.notifier.Notify(ctx, alert); err != nil {
			m.log.Error("Failed to send alert",
				"condition", string(alert.Condition), "error", err)
		}
	}
}

// Snapshot returns the latest probe results.
func (m *Monitor) Snapshot() domain.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Report aggregates the current status for the HTTP endpoints.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := Report{Status: StatusHealthy, Snapshot: m.snapshot}
	for condition, on := range m.active {
		if !on {
			continue
		}
		report.Conditions = append(report.Conditions, condition)
		if conditionSeverity[condition] == domain.SeverityCritical {
			report.Status = StatusCritical
		} else if report.Status != StatusCritical {
			report.Status = StatusDegraded
		}
	}
	sort.Slice(report.Conditions, func(i, j int) bool {
		return report.Conditions[i] < report.Conditions[j]
	})
	return report
}

// probe collects one snapshot. Individual probe failures degrade the
// snapshot instead of aborting it.
func (m *Monitor) probe(ctx context.Context) domain.HealthSnapshot {
	snap := domain.HealthSnapshot{
		ObservedAt:       time.Now(),
		MarketplaceNonce: -1,
	}

	start := time.Now()
	head, err := m.client.BlockNumber(ctx)
	snap.RPCLatency = time.Since(start)
	if err != nil {
		snap.RPCError = err.Error()
		return snap
	}
	snap.LatestChainBlock = head

	if lag, err := m.cursorMgr.Lag(ctx, head); err == nil && lag > 0 {
		snap.BlockLag = uint64(lag)
	}

	if m.progress != nil {
		snap.LastRequestBlockSeen = m.progress.LastRequestBlock()
	}

	if m.cfg.MarketplaceAddress != "" {
		if nonce, err := m.probeNonce(ctx); err == nil {
			snap.MarketplaceNonce = nonce
		} else {
			m.log.Debug("Nonce probe failed", "error", err)
		}
	}

	if time.Since(m.lastSweep) >= m.cfg.SweepInterval {
		if age, err := m.sweepUnfulfilled(ctx, head); err == nil {
			m.lastSweep = time.Now()
			m.sweepAge = age
		} else {
			m.log.Debug("Unfulfilled sweep failed", "error", err)
		}
	}
	snap.OldestUnfulfilledAge = m.sweepAge

	return snap
}

// probeNonce reads the marketplace request counter.
func (m *Monitor) probeNonce(ctx context.Context) (int64, error) {
	out, err := m.client.CallContract(ctx, m.cfg.MarketplaceAddress, nonceSelector)
	if err != nil {
		return -1, err
	}
	trimmed := strings.TrimLeft(strings.TrimPrefix(out, "0x"), "0")
	if trimmed == "" {
		return 0, nil
	}
	nonce, err := strconv.ParseInt(trimmed, 16, 64)
	if err != nil {
		return -1, fmt.Errorf("bad nonce word %q: %w", out, err)
	}
	return nonce, nil
}

// sweepUnfulfilled scans the lookback window for Request logs with no
// matching Deliver and returns the age of the oldest one past grace.
func (m *Monitor) sweepUnfulfilled(ctx context.Context, head uint64) (time.Duration, error) {
	var from uint64
	if head > m.cfg.UnfulfilledLookback {
		from = head - m.cfg.UnfulfilledLookback
	}

	logs, err := m.client.FilterLogs(ctx, chain.FilterQuery{
		FromBlock: from,
		ToBlock:   head,
		Address:   m.cfg.RegistryAddress,
		Topics:    []string{chain.TopicRequest, chain.TopicDeliver},
	})
	if err != nil {
		return 0, err
	}

	requested := make(map[string]uint64)
	delivered := make(map[string]bool)
	for _, entry := range logs {
		if len(entry.Topics) < 3 {
			continue
		}
		id := entry.Topics[2]
		switch entry.Topics[0] {
		case chain.TopicRequest:
			if _, seen := requested[id]; !seen {
				requested[id] = entry.BlockNumber
			}
		case chain.TopicDeliver:
			delivered[id] = true
		}
	}

	var oldest time.Duration
	for id, block := range requested {
		if delivered[id] {
			continue
		}
		age := time.Duration(head-block) * m.cfg.BlockTime
		if age > oldest {
			oldest = age
		}
	}
	if oldest < m.cfg.GracePeriod {
		return 0, nil
	}
	return oldest, nil
}

// evaluate diffs the snapshot's conditions against the active set and
// returns the transition alerts. Called with m.mu held.
func (m *Monitor) evaluate(snap domain.HealthSnapshot) []domain.Alert {
	current := map[domain.AlertCondition]string{}

	if snap.RPCError != "" {
		current[domain.ConditionRPCDegraded] = fmt.Sprintf("rpc error: %s", snap.RPCError)
	} else if snap.RPCLatency > m.cfg.RPCLatencyWarn {
		current[domain.ConditionRPCDegraded] = fmt.Sprintf(
			"rpc latency %s above %s", snap.RPCLatency.Round(time.Millisecond), m.cfg.RPCLatencyWarn)
	}

	if snap.RPCError == "" && snap.BlockLag > m.cfg.StalenessBlocks {
		current[domain.ConditionWatcherStale] = fmt.Sprintf(
			"cursor is %d blocks behind head (limit %d)", snap.BlockLag, m.cfg.StalenessBlocks)
	}

	if snap.OldestUnfulfilledAge >= m.cfg.GracePeriod && snap.OldestUnfulfilledAge > 0 {
		current[domain.ConditionUnfulfilled] = fmt.Sprintf(
			"oldest unfulfilled request is %s old", snap.OldestUnfulfilledAge.Round(time.Second))
	}

	var transitions []domain.Alert
	for condition, message := range current {
		if m.active[condition] {
			continue
		}
		m.active[condition] = true
		transitions = append(transitions, domain.Alert{
			ID:        uuid.New().String(),
			Condition: condition,
			Severity:  conditionSeverity[condition],
			Message:   message,
			Snapshot:  snap,
		})
	}
	for condition := range m.active {
		if !m.active[condition] {
			continue
		}
		// Divergence is driven by the cursor callback, not by probes.
		if condition == domain.ConditionChainDivergence {
			continue
		}
		if _, still := current[condition]; still {
			continue
		}
		m.active[condition] = false
		transitions = append(transitions, domain.Alert{
			ID:        uuid.New().String(),
			Condition: condition,
			Severity:  domain.SeverityInfo,
			Message:   fmt.Sprintf("%s recovered", condition),
			Recovered: true,
			Snapshot:  snap,
		})
	}
	return transitions
}

// SetDivergence flags or clears the chain-divergence condition. Wired to
// the cursor state-change callback so reorg handling surfaces here.
func (m *Monitor) SetDivergence(ctx context.Context, inReorg bool, detail string) {
	m.mu.Lock()
	was := m.active[domain.ConditionChainDivergence]
	if was == inReorg {
		m.mu.Unlock()
		return
	}
	m.active[domain.ConditionChainDivergence] = inReorg
	snap := m.snapshot
	m.mu.Unlock()

	alert := domain.Alert{
		ID:        uuid.New().String(),
		Condition: domain.ConditionChainDivergence,
		Severity:  conditionSeverity[domain.ConditionChainDivergence],
		Message:   detail,
		Recovered: !inReorg,
		Snapshot:  snap,
	}
	metrics.AlertsEmitted.WithLabelValues(string(alert.Condition)).Inc()
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, alert); err != nil {
			m.log.Error("Failed to send divergence alert", "error", err)
		}
	}
}
