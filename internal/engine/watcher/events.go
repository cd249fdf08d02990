package watcher

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/mechwatch/internal/core/domain"
	"github.com/vietddude/mechwatch/internal/infra/chain"
)

// ErrMalformedLog is returned when a registry log cannot be decoded.
var ErrMalformedLog = errors.New("malformed registry log")

// deliverEvent is a decoded Deliver log: a worker published a result hash
// for a request.
type deliverEvent struct {
	RequestID    string
	Worker       string
	ResponseHash string
	BlockNumber  uint64
	TxHash       string
}

// decodeRequest decodes a Request(address,uint256,bytes) log. The sender
// and request id are indexed; the payload content hash rides in data.
func decodeRequest(log chain.Log) (domain.TaskRequest, error) {
	if len(log.Topics) < 3 {
		return domain.TaskRequest{}, fmt.Errorf("%w: request log has %d topics", ErrMalformedLog, len(log.Topics))
	}
	contentHash, err := decodeBytesData(log.Data)
	if err != nil {
		return domain.TaskRequest{}, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	return domain.TaskRequest{
		RequestID:   topicToQuantity(log.Topics[2]),
		Requester:   topicToAddress(log.Topics[1]),
		ContentHash: contentHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.LogIndex,
	}, nil
}

// decodeDeliver decodes a Deliver(address,uint256,bytes) log.
func decodeDeliver(log chain.Log) (deliverEvent, error) {
	if len(log.Topics) < 3 {
		return deliverEvent{}, fmt.Errorf("%w: deliver log has %d topics", ErrMalformedLog, len(log.Topics))
	}
	responseHash, err := decodeBytesData(log.Data)
	if err != nil {
		return deliverEvent{}, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	return deliverEvent{
		RequestID:    topicToQuantity(log.Topics[2]),
		Worker:       topicToAddress(log.Topics[1]),
		ResponseHash: responseHash,
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash,
	}, nil
}

// topicToAddress extracts the 20-byte address from a 32-byte topic.
func topicToAddress(topic string) string {
	h := strings.TrimPrefix(topic, "0x")
	if len(h) != 64 {
		return topic
	}
	return "0x" + h[24:]
}

// topicToQuantity renders a 32-byte topic as a decimal quantity string.
// Request ids fit in uint64 for the registries this watcher serves; ids
// beyond that are kept as the raw hex topic.
func topicToQuantity(topic string) string {
	trimmed := strings.TrimLeft(strings.TrimPrefix(topic, "0x"), "0")
	if trimmed == "" {
		return "0"
	}
	if len(trimmed) <= 16 {
		if v, err := strconv.ParseUint(trimmed, 16, 64); err == nil {
			return strconv.FormatUint(v, 10)
		}
	}
	return "0x" + trimmed
}

// decodeBytesData unpacks a single dynamic `bytes` argument from log data
// and returns it as a UTF-8 string (the content hash).
func decodeBytesData(data string) (string, error) {
	h := strings.TrimPrefix(data, "0x")
	// offset word + length word
	if len(h) < 128 {
		return "", fmt.Errorf("data too short: %d hex chars", len(h))
	}
	length, err := strconv.ParseUint(h[64:128], 16, 64)
	if err != nil {
		return "", fmt.Errorf("bad length word: %w", err)
	}
	payload := h[128:]
	if uint64(len(payload)) < length*2 {
		return "", fmt.Errorf("data truncated: want %d bytes", length)
	}
	raw, err := hex.DecodeString(payload[:length*2])
	if err != nil {
		return "", fmt.Errorf("bad payload: %w", err)
	}
	return string(raw), nil
}
