// Package inference defines the port for the language-model inference service.
package inference

import (
	"context"
	"encoding/json"
)

// Options tunes a single generation call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
}

// Message is one turn of a model conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Tool declares a callable tool to the model. Parameters is a JSON schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResponse is the model's reply to a tool-enabled call: either plain
// text (Text set, no calls) or one or more tool call requests.
type ToolResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// Client is the port interface for the inference service. All calls are
// opaque remote RPCs with no latency bound; callers own timeouts via ctx.
type Client interface {
	// GenerateText returns a plain text completion for the prompt.
	GenerateText(ctx context.Context, prompt string, opts Options) (string, error)

	// GenerateJSON asks the model for a JSON object and unmarshals the
	// validated response into target.
	GenerateJSON(ctx context.Context, prompt string, target any, opts Options) error

	// GenerateWithTools sends a transcript plus a tool catalog and returns
	// either plain text or the tool calls the model requested.
	GenerateWithTools(ctx context.Context, messages []Message, tools []Tool, opts Options) (*ToolResponse, error)

	// GenerateEmbeddings returns the embedding vector for the text.
	GenerateEmbeddings(ctx context.Context, text string) ([]float32, error)
}
