package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffMultiple: 2.0,
	}
}

func rpcServer(handler func(method string, params []json.RawMessage) (any, *int)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     any               `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		result, errCode := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if errCode != nil {
			resp["error"] = map[string]any{"code": *errCode, "message": "rpc failure"}
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestBlockNumber(t *testing.T) {
	server := rpcServer(func(method string, params []json.RawMessage) (any, *int) {
		if method != "eth_blockNumber" {
			t.Errorf("unexpected method %s", method)
		}
		return "0x4d2", nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	client.SetRetryConfig(fastRetry())

	head, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber failed: %v", err)
	}
	if head != 1234 {
		t.Errorf("expected head 1234, got %d", head)
	}
}

func TestFilterLogs_ParsesEntries(t *testing.T) {
	server := rpcServer(func(method string, params []json.RawMessage) (any, *int) {
		return []map[string]any{
			{
				"address":         "0xregistry",
				"topics":          []string{TopicRequest, "0xtopic1", "0xtopic2"},
				"data":            "0xdata",
				"blockNumber":     "0x420",
				"transactionHash": "0xtx",
				"logIndex":        "0x3",
			},
		}, nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	client.SetRetryConfig(fastRetry())

	logs, err := client.FilterLogs(context.Background(), FilterQuery{
		FromBlock: 1000, ToBlock: 1100, Address: "0xregistry",
	})
	if err != nil {
		t.Fatalf("FilterLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	entry := logs[0]
	if entry.BlockNumber != 0x420 || entry.LogIndex != 3 {
		t.Errorf("position not parsed: %d/%d", entry.BlockNumber, entry.LogIndex)
	}
	if entry.Topics[0] != TopicRequest {
		t.Errorf("unexpected topic0 %s", entry.Topics[0])
	}
}

func TestCall_RetriesTransientErrors(t *testing.T) {
	var hits atomic.Int32
	server := rpcServer(func(method string, params []json.RawMessage) (any, *int) {
		if hits.Add(1) < 3 {
			code := -32000 // generic server error, transient
			return nil, &code
		}
		return "0x64", nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	client.SetRetryConfig(fastRetry())

	head, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}
	if head != 100 {
		t.Errorf("expected head 100, got %d", head)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestCall_FatalErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := rpcServer(func(method string, params []json.RawMessage) (any, *int) {
		hits.Add(1)
		code := -32601 // method not found: fatal
		return nil, &code
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	client.SetRetryConfig(fastRetry())

	if _, err := client.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Errorf("fatal rpc error must not be retried, got %d attempts", hits.Load())
	}
}

func TestCall_NullResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	client.SetRetryConfig(RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 1})

	_, err := client.BlockHash(context.Background(), 42)
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("expected ErrNoResult, got: %v", err)
	}
}

// latencySampleCount reads the latency histogram's observation count for
// one method from the default registry.
func latencySampleCount(t *testing.T, method string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "mechwatch_rpc_latency_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "method" && label.GetValue() == method {
					return m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return 0
}

func TestSendTransaction_LatencyObservedOnFailure(t *testing.T) {
	before := latencySampleCount(t, "eth_sendRawTransaction")

	server := rpcServer(func(method string, params []json.RawMessage) (any, *int) {
		code := -32602 // invalid params: fatal, single attempt
		return nil, &code
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	client.SetRetryConfig(fastRetry())

	if _, err := client.SendTransaction(context.Background(), "0xsigned"); err == nil {
		t.Fatal("expected error")
	}

	after := latencySampleCount(t, "eth_sendRawTransaction")
	if after != before+1 {
		t.Errorf("failed call must record latency: got %d new observations", after-before)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err      error
		expected ErrorAction
	}{
		{errors.New("rpc error -32601: method not found"), ActionFatal},
		{errors.New("rpc error -32602: invalid params"), ActionFatal},
		{errors.New("rpc error -32000: server busy"), ActionRetry},
		{errors.New("connection refused"), ActionRetry},
		{errors.New("http 502: bad gateway"), ActionRetry},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expected {
			t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.expected)
		}
	}
}
