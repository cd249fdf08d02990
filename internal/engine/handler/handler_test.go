package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vietddude/mechwatch/internal/core/domain"
)

type stubHandler struct {
	name string
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Execute(
	ctx context.Context,
	payload domain.RequestPayload,
	credentials map[string]string,
) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&stubHandler{name: "search"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	h, err := registry.Get("search")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if h.Name() != "search" {
		t.Errorf("unexpected handler %s", h.Name())
	}

	if _, err := registry.Get("missing"); !errors.Is(err, ErrHandlerNotFound) {
		t.Errorf("expected ErrHandlerNotFound, got: %v", err)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(&stubHandler{name: "search"})

	err := registry.Register(&stubHandler{name: "search"})
	if !errors.Is(err, ErrDuplicateHandler) {
		t.Errorf("expected ErrDuplicateHandler, got: %v", err)
	}
}

func TestRegistry_EmptyNameRejected(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&stubHandler{name: ""}); err == nil {
		t.Error("expected error for empty tool name")
	}
}

func TestRegistry_SealedRejectsRegistration(t *testing.T) {
	registry := NewRegistry()
	registry.Seal()

	if err := registry.Register(&stubHandler{name: "late"}); err == nil {
		t.Error("expected error when registering after Seal")
	}
}

func TestRegistry_ToolsSorted(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(&stubHandler{name: "zeta"})
	_ = registry.Register(&stubHandler{name: "alpha"})
	_ = registry.Register(&stubHandler{name: "mid"})

	tools := registry.Tools()
	want := []string{"alpha", "mid", "zeta"}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for i := range want {
		if tools[i] != want[i] {
			t.Errorf("tools[%d] = %s, want %s", i, tools[i], want[i])
		}
	}
}

func TestRegistry_Validate(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(&stubHandler{name: "search"})

	if err := registry.Validate([]string{"search"}); err != nil {
		t.Errorf("expected validation to pass: %v", err)
	}
	if err := registry.Validate([]string{"search", "summarize"}); err == nil {
		t.Error("expected validation to fail for unbound tool")
	}
}

func TestEchoHandler(t *testing.T) {
	echo := NewEchoHandler()

	out, err := echo.Execute(context.Background(), domain.RequestPayload{Prompt: "hello"}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("failed to decode echo output: %v", err)
	}
	if decoded["echo"] != "hello" {
		t.Errorf("expected echoed prompt, got %q", decoded["echo"])
	}
}
