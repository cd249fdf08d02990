package watcher

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vietddude/mechwatch/internal/infra/chain"
)

// encodeBytesData ABI-encodes a single dynamic bytes argument.
func encodeBytesData(payload string) string {
	raw := hex.EncodeToString([]byte(payload))
	if pad := len(raw) % 64; pad != 0 {
		raw += strings.Repeat("0", 64-pad)
	}
	return fmt.Sprintf("0x%064x%064x%s", 32, len(payload), raw)
}

func requestTopic(id uint64) string {
	return fmt.Sprintf("0x%064x", id)
}

func addressTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(addr, "0x")
}

func TestDecodeRequest(t *testing.T) {
	log := chain.Log{
		Address: "0xregistry",
		Topics: []string{
			chain.TopicRequest,
			addressTopic("0x1111111111111111111111111111111111111111"),
			requestTopic(42),
		},
		Data:        encodeBytesData("QmPayloadHash"),
		BlockNumber: 1234,
		TxHash:      "0xtx",
		LogIndex:    7,
	}

	req, err := decodeRequest(log)
	if err != nil {
		t.Fatalf("decodeRequest failed: %v", err)
	}
	if req.RequestID != "42" {
		t.Errorf("expected request id 42, got %s", req.RequestID)
	}
	if req.Requester != "0x1111111111111111111111111111111111111111" {
		t.Errorf("unexpected requester %s", req.Requester)
	}
	if req.ContentHash != "QmPayloadHash" {
		t.Errorf("unexpected content hash %s", req.ContentHash)
	}
	if req.BlockNumber != 1234 || req.LogIndex != 7 {
		t.Errorf("position not carried over: %d/%d", req.BlockNumber, req.LogIndex)
	}
}

func TestDecodeDeliver(t *testing.T) {
	log := chain.Log{
		Topics: []string{
			chain.TopicDeliver,
			addressTopic("0x2222222222222222222222222222222222222222"),
			requestTopic(42),
		},
		Data:        encodeBytesData("QmResponseHash"),
		BlockNumber: 1300,
		TxHash:      "0xdeliver",
	}

	ev, err := decodeDeliver(log)
	if err != nil {
		t.Fatalf("decodeDeliver failed: %v", err)
	}
	if ev.RequestID != "42" {
		t.Errorf("expected request id 42, got %s", ev.RequestID)
	}
	if ev.Worker != "0x2222222222222222222222222222222222222222" {
		t.Errorf("unexpected worker %s", ev.Worker)
	}
	if ev.ResponseHash != "QmResponseHash" {
		t.Errorf("unexpected response hash %s", ev.ResponseHash)
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	tests := []struct {
		name string
		log  chain.Log
	}{
		{"missing topics", chain.Log{Topics: []string{chain.TopicRequest}}},
		{"short data", chain.Log{
			Topics: []string{chain.TopicRequest, addressTopic("0x11"), requestTopic(1)},
			Data:   "0x1234",
		}},
		{"truncated payload", chain.Log{
			Topics: []string{chain.TopicRequest, addressTopic("0x11"), requestTopic(1)},
			Data:   fmt.Sprintf("0x%064x%064x", 32, 1000),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeRequest(tt.log); !errors.Is(err, ErrMalformedLog) {
				t.Errorf("expected ErrMalformedLog, got: %v", err)
			}
		})
	}
}

func TestTopicToQuantity(t *testing.T) {
	tests := []struct {
		topic    string
		expected string
	}{
		{requestTopic(0), "0"},
		{requestTopic(42), "42"},
		{requestTopic(1 << 40), "1099511627776"},
		// Wider than uint64: kept as trimmed hex.
		{"0x" + strings.Repeat("f", 64), "0x" + strings.Repeat("f", 64)},
	}

	for _, tt := range tests {
		if got := topicToQuantity(tt.topic); got != tt.expected {
			t.Errorf("topicToQuantity(%s) = %s, want %s", tt.topic, got, tt.expected)
		}
	}
}
