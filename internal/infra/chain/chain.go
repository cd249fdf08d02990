// Package chain provides a resilient JSON-RPC client for the task ledger.
//
// The client is a thin wrapper around a single RPC endpoint with:
//   - Bounded retry with exponential backoff
//   - Error classification (transient vs. fatal)
//   - Latency and error metrics
//
// # Quick Start
//
//	client := chain.NewHTTPClient(rpcURL, 10*time.Second)
//	head, err := client.BlockNumber(ctx)
//	logs, err := client.FilterLogs(ctx, chain.FilterQuery{
//	    FromBlock: 100, ToBlock: 200,
//	    Address: registryAddr,
//	    Topics:  []string{chain.TopicRequest},
//	})
package chain

import (
	"context"
	"errors"
)

// ErrNoResult is returned when the RPC node answers without a result field.
var ErrNoResult = errors.New("rpc response has no result")

// Log is a decoded contract log entry.
type Log struct {
	Address     string
	Topics      []string
	Data        string // 0x-prefixed hex
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}

// FilterQuery selects logs in a bounded block range.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Address   string
	Topics    []string // topic0 candidates; empty matches all
}

// Client is the ledger RPC boundary used by the watcher, publisher and
// health monitor. All methods respect context cancellation.
type Client interface {
	// BlockNumber returns the current chain head height.
	BlockNumber(ctx context.Context) (uint64, error)

	// BlockHash returns the hash of the block at the given height.
	BlockHash(ctx context.Context, number uint64) (string, error)

	// FilterLogs fetches logs matching the query. The range must be bounded.
	FilterLogs(ctx context.Context, q FilterQuery) ([]Log, error)

	// CallContract performs a read-only contract call.
	CallContract(ctx context.Context, to string, data string) (string, error)

	// SendTransaction submits a signed raw transaction and returns its hash.
	SendTransaction(ctx context.Context, rawTx string) (string, error)
}
