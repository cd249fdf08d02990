package domain

import (
	"encoding/json"
	"time"
)

// ResultStatus classifies the outcome of a single dispatch.
type ResultStatus string

const (
	ResultSuccess         ResultStatus = "success"
	ResultHandlerError    ResultStatus = "handler_error"
	ResultTimeout         ResultStatus = "timeout"
	ResultHandlerNotFound ResultStatus = "handler_not_found"
	ResultPayloadMissing  ResultStatus = "payload_unavailable"
	ResultWorkerCooldown  ResultStatus = "worker_in_cooldown"
)

// Terminal reports whether this status ends the request's lifecycle for
// the current worker. WorkerInCooldown leaves the request pending for a
// later cycle or another worker.
func (s ResultStatus) Terminal() bool {
	return s != ResultWorkerCooldown
}

// TaskResult is produced by the dispatcher and consumed by the publisher.
// Immutable once created.
type TaskResult struct {
	RequestID       string          `json:"request_id"`
	Status          ResultStatus    `json:"status"`
	Output          json.RawMessage `json:"output,omitempty"`
	Cause           string          `json:"cause,omitempty"`
	ComputeDuration time.Duration   `json:"compute_duration_ms"`
}

// ResponseEnvelope is the JSON document published to the object store for
// successful (or handler-errored) dispatches. It echoes the request's
// nonce and id so the requester can bind the response on-chain.
type ResponseEnvelope struct {
	RequestID string          `json:"requestId"`
	Nonce     uint64          `json:"nonce"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}
