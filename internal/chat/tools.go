// Package chat implements the bounded tool-calling conversation loop and
// its entity-name pre-pass.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quillhq/quill/internal/port/inference"
)

// Handler executes one tool call on behalf of a user.
type Handler func(ctx context.Context, userID string, args json.RawMessage) (any, error)

// toolResult is what one executed call feeds back to the model.
type toolResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "error"
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Tools is the registry of callable tools, keyed by name. Like the
// workflow registry it is populated at startup and read-only afterwards.
type Tools struct {
	defs     []inference.Tool
	handlers map[string]Handler
}

// NewTools creates an empty tool registry.
func NewTools() *Tools {
	return &Tools{handlers: make(map[string]Handler)}
}

// Register binds a handler to a tool declaration.
func (t *Tools) Register(def inference.Tool, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, exists := t.handlers[def.Name]; exists {
		return fmt.Errorf("register tool: %s already registered", def.Name)
	}
	t.defs = append(t.defs, def)
	t.handlers[def.Name] = h
	return nil
}

// Catalog returns the tool declarations sent to the model.
func (t *Tools) Catalog() []inference.Tool {
	return t.defs
}

// Execute runs one requested call. A missing or failing handler produces
// a status=error result fed back to the model, never an abort: partial
// tool failure is recoverable within the same turn.
func (t *Tools) Execute(ctx context.Context, userID string, call inference.ToolCall) toolResult {
	h, ok := t.handlers[call.Name]
	if !ok {
		slog.Warn("model requested unknown tool", "tool", call.Name)
		return toolResult{
			Name:   call.Name,
			Status: "error",
			Error:  fmt.Sprintf("unknown tool: %s", call.Name),
		}
	}

	out, err := h(ctx, userID, call.Arguments)
	if err != nil {
		slog.Warn("tool call failed", "tool", call.Name, "error", err)
		return toolResult{Name: call.Name, Status: "error", Error: err.Error()}
	}
	return toolResult{Name: call.Name, Status: "ok", Output: out}
}
