package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/mechwatch/internal/metrics"
)

// HTTPClient implements Client for JSON-RPC 2.0 over HTTP.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	retry      RetryConfig
}

// NewHTTPClient creates a new HTTP-based chain client.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: DefaultRetryConfig,
	}
}

// SetRetryConfig overrides the default retry policy.
func (c *HTTPClient) SetRetryConfig(cfg RetryConfig) {
	c.retry = cfg
}

// BlockNumber returns the current chain head height.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// BlockHash returns the hash of the block at the given height.
func (c *HTTPClient) BlockHash(ctx context.Context, number uint64) (string, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []any{hexUint(number), false})
	if err != nil {
		return "", err
	}

	var block struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return "", fmt.Errorf("parse block: %w", err)
	}
	if block.Hash == "" {
		return "", fmt.Errorf("block %d not found", number)
	}
	return block.Hash, nil
}

// FilterLogs fetches logs matching the query.
func (c *HTTPClient) FilterLogs(ctx context.Context, q FilterQuery) ([]Log, error) {
	filter := map[string]any{
		"fromBlock": hexUint(q.FromBlock),
		"toBlock":   hexUint(q.ToBlock),
	}
	if q.Address != "" {
		filter["address"] = q.Address
	}
	if len(q.Topics) > 0 {
		filter["topics"] = []any{q.Topics}
	}

	result, err := c.call(ctx, "eth_getLogs", []any{filter})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Address     string   `json:"address"`
		Topics      []string `json:"topics"`
		Data        string   `json:"data"`
		BlockNumber string   `json:"blockNumber"`
		TxHash      string   `json:"transactionHash"`
		LogIndex    string   `json:"logIndex"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("parse logs: %w", err)
	}

	logs := make([]Log, 0, len(raw))
	for _, r := range raw {
		blockNum, err := parseHexQuantity(r.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("parse log block number: %w", err)
		}
		logIdx, err := parseHexQuantity(r.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("parse log index: %w", err)
		}
		logs = append(logs, Log{
			Address:     r.Address,
			Topics:      r.Topics,
			Data:        r.Data,
			BlockNumber: blockNum,
			TxHash:      r.TxHash,
			LogIndex:    uint(logIdx),
		})
	}
	return logs, nil
}

// CallContract performs a read-only contract call.
func (c *HTTPClient) CallContract(ctx context.Context, to string, data string) (string, error) {
	result, err := c.call(ctx, "eth_call", []any{
		map[string]any{"to": to, "data": data},
		"latest",
	})
	if err != nil {
		return "", err
	}

	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("parse call result: %w", err)
	}
	return out, nil
}

// SendTransaction submits a signed raw transaction.
func (c *HTTPClient) SendTransaction(ctx context.Context, rawTx string) (string, error) {
	result, err := c.call(ctx, "eth_sendRawTransaction", []any{rawTx})
	if err != nil {
		return "", err
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("parse tx hash: %w", err)
	}
	return txHash, nil
}

// call executes one JSON-RPC method with bounded retry.
func (c *HTTPClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		result, err := c.doCall(ctx, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ClassifyError(err) == ActionFatal {
			return nil, err
		}
		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := calculateBackoff(attempt, c.retry)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *HTTPClient) doCall(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(method).Inc()
	// Failed calls count too: a degraded endpoint shows up as slow errors.
	defer func() {
		metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil || string(rpcResp.Result) == "null" {
		return nil, ErrNoResult
	}

	return rpcResp.Result, nil
}

// =============================================================================
// Hex helpers
// =============================================================================

func hexUint(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

func parseHexUint(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("parse quantity: %w", err)
	}
	return parseHexQuantity(s)
}

func parseHexQuantity(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}
