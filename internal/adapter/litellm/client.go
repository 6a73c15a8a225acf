// Package litellm implements the inference port against a LiteLLM Proxy
// exposing the OpenAI-compatible completion and embedding endpoints.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/port/inference"
	"github.com/quillhq/quill/internal/resilience"
)

// Client talks to the LiteLLM Proxy. It is safe for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	httpClient     *http.Client
	breaker        *resilience.Breaker
}

// NewClient creates an inference client from the LLM config section.
func NewClient(cfg config.LLM) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// chatRequest is the OpenAI-compatible /chat/completions request body.
type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature,omitempty"`
	Tools          []toolDecl          `json:"tools,omitempty"`
	ResponseFormat *responseFormatDecl `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []toolCallDecl `json:"tool_calls,omitempty"`
}

type toolDecl struct {
	Type     string       `json:"type"`
	Function functionDecl `json:"function"`
}

type functionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type toolCallDecl struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type responseFormatDecl struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []toolCallDecl `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateText returns a plain text completion for the prompt.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts inference.Options) (string, error) {
	req := chatRequest{
		Model:       c.resolveModel(opts),
		Messages:    promptMessages(prompt, opts),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	resp, err := c.completion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate text: %w", err)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateJSON asks the model for a JSON object and unmarshals it into
// target. Model output that is not valid JSON for target is an error.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, target any, opts inference.Options) error {
	req := chatRequest{
		Model:          c.resolveModel(opts),
		Messages:       promptMessages(prompt, opts),
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		ResponseFormat: &responseFormatDecl{Type: "json_object"},
	}

	resp, err := c.completion(ctx, req)
	if err != nil {
		return fmt.Errorf("generate json: %w", err)
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return fmt.Errorf("generate json: model returned invalid JSON: %w", err)
	}
	return nil
}

// GenerateWithTools sends a transcript plus a tool catalog and returns
// either plain text or the tool calls the model requested.
func (c *Client) GenerateWithTools(ctx context.Context, messages []inference.Message, tools []inference.Tool, opts inference.Options) (*inference.ToolResponse, error) {
	req := chatRequest{
		Model:       c.resolveModel(opts),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	if opts.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: opts.System})
	}
	for _, m := range messages {
		cm := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, encodeToolCall(tc))
		}
		req.Messages = append(req.Messages, cm)
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, toolDecl{
			Type: "function",
			Function: functionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.completion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate with tools: %w", err)
	}

	msg := resp.Choices[0].Message
	out := &inference.ToolResponse{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, inference.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// GenerateEmbeddings returns the embedding vector for the text.
func (c *Client) GenerateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": c.embeddingModel,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embeddings response has no data")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) resolveModel(opts inference.Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.model
}

func promptMessages(prompt string, opts inference.Options) []chatMessage {
	var msgs []chatMessage
	if opts.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: opts.System})
	}
	return append(msgs, chatMessage{Role: "user", Content: prompt})
}

func encodeToolCall(tc inference.ToolCall) toolCallDecl {
	var d toolCallDecl
	d.ID = tc.ID
	d.Type = "function"
	d.Function.Name = tc.Name
	d.Function.Arguments = string(tc.Arguments)
	return d
}

// completion posts a chat request and validates that at least one choice
// came back.
func (c *Client) completion(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				slog.Warn("inference call rejected", "breaker", c.breaker.State())
			}
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
