package handler

import (
	"context"
	"encoding/json"

	"github.com/vietddude/mechwatch/internal/core/domain"
)

// EchoHandler returns the prompt back unchanged. Useful for smoke tests
// and end-to-end verification of the request/deliver round trip.
type EchoHandler struct{}

// NewEchoHandler creates an echo handler.
func NewEchoHandler() *EchoHandler {
	return &EchoHandler{}
}

// Name returns the tool name this handler serves.
func (h *EchoHandler) Name() string { return "echo" }

// Execute returns the prompt as the result document.
func (h *EchoHandler) Execute(
	ctx context.Context,
	payload domain.RequestPayload,
	credentials map[string]string,
) (json.RawMessage, error) {
	out := struct {
		Echo string `json:"echo"`
	}{Echo: payload.Prompt}
	return json.Marshal(out)
}
