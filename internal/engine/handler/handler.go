// Package handler defines the task handler contract and the registry
// that maps tool names to handlers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vietddude/mechwatch/internal/core/domain"
)

var (
	// ErrHandlerNotFound is returned when no handler is registered for a tool.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrDuplicateHandler is returned when a tool name is registered twice.
	ErrDuplicateHandler = errors.New("handler already registered")
)

// Handler executes a single task payload. Implementations must respect
// ctx cancellation: when the deadline fires, partial output is discarded.
type Handler interface {
	// Name returns the tool name this handler serves.
	Name() string

	// Execute runs the task and returns the raw result document.
	// Credentials carry per-tool secrets provisioned at startup.
	Execute(ctx context.Context, payload domain.RequestPayload, credentials map[string]string) (json.RawMessage, error)
}

// Registry holds the immutable tool-name to handler mapping. It is
// populated at startup and read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Fails on duplicate names or after Seal.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.New("registry is sealed")
	}
	name := h.Name()
	if name == "" {
		return errors.New("handler has empty tool name")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
	}
	r.handlers[name] = h
	return nil
}

// Seal freezes the registry. Called once startup wiring is complete.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get resolves a tool name to its handler.
func (r *Registry) Get(tool string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, tool)
	}
	return h, nil
}

// Tools returns the registered tool names, sorted.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Validate checks that every expected tool has a handler. Startup fails
// fast on a missing binding rather than at first dispatch.
func (r *Registry) Validate(expected []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, tool := range expected {
		if _, ok := r.handlers[tool]; !ok {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handler registered for tools: %v", missing)
	}
	return nil
}
