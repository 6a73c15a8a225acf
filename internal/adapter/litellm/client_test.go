package litellm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/port/inference"
	"github.com/quillhq/quill/internal/resilience"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLM{
		URL:            srv.URL,
		APIKey:         "test-key",
		Model:          "default-model",
		EmbeddingModel: "embed-model",
	})
}

func chatReply(t *testing.T, w http.ResponseWriter, message map[string]any) {
	t.Helper()
	err := json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": message}},
	})
	if err != nil {
		t.Errorf("encode reply: %v", err)
	}
}

func TestGenerateText(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		chatReply(t, w, map[string]any{"content": "hello back"})
	})

	got, err := c.GenerateText(context.Background(), "hello", inference.Options{
		System: "be brief",
	})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "hello back" {
		t.Errorf("got %q", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Model != "default-model" {
		t.Errorf("Model = %q, want default from config", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("unexpected messages %+v", gotReq.Messages)
	}
}

func TestGenerateText_ModelOverride(t *testing.T) {
	var gotReq chatRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		chatReply(t, w, map[string]any{"content": "ok"})
	})

	_, err := c.GenerateText(context.Background(), "p", inference.Options{Model: "special"})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if gotReq.Model != "special" {
		t.Errorf("Model = %q, want %q", gotReq.Model, "special")
	}
}

func TestGenerateJSON(t *testing.T) {
	var gotReq chatRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		chatReply(t, w, map[string]any{"content": `{"tags":["travel","family"]}`})
	})

	var target struct {
		Tags []string `json:"tags"`
	}
	if err := c.GenerateJSON(context.Background(), "tag this", &target, inference.Options{}); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if len(target.Tags) != 2 || target.Tags[0] != "travel" {
		t.Errorf("target = %+v", target)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("ResponseFormat = %+v, want json_object", gotReq.ResponseFormat)
	}
}

func TestGenerateJSON_InvalidModelOutput(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		chatReply(t, w, map[string]any{"content": "not json at all"})
	})

	var target map[string]any
	if err := c.GenerateJSON(context.Background(), "p", &target, inference.Options{}); err == nil {
		t.Error("expected error for non-JSON model output")
	}
}

func TestGenerateWithTools_ToolCallRoundTrip(t *testing.T) {
	var gotReq chatRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		chatReply(t, w, map[string]any{
			"content": "",
			"tool_calls": []map[string]any{{
				"id":   "call-1",
				"type": "function",
				"function": map[string]any{
					"name":      "search_entries",
					"arguments": `{"query":"beach"}`,
				},
			}},
		})
	})

	tools := []inference.Tool{{
		Name:        "search_entries",
		Description: "Search journal entries",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}}
	messages := []inference.Message{{Role: "user", Content: "find beach entries"}}

	resp, err := c.GenerateWithTools(context.Background(), messages, tools, inference.Options{System: "sys"})
	if err != nil {
		t.Fatalf("GenerateWithTools: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "search_entries" {
		t.Errorf("unexpected tool call %+v", tc)
	}
	if string(tc.Arguments) != `{"query":"beach"}` {
		t.Errorf("Arguments = %s", tc.Arguments)
	}

	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "search_entries" {
		t.Errorf("request tools = %+v", gotReq.Tools)
	}
	if gotReq.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", gotReq.Messages[0].Role)
	}
}

func TestGenerateWithTools_TextAnswer(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		chatReply(t, w, map[string]any{"content": "final answer"})
	})

	resp, err := c.GenerateWithTools(context.Background(),
		[]inference.Message{{Role: "user", Content: "hi"}}, nil, inference.Options{})
	if err != nil {
		t.Fatalf("GenerateWithTools: %v", err)
	}
	if resp.Text != "final answer" || len(resp.ToolCalls) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGenerateEmbeddings(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "embed-model" {
			t.Errorf("model = %v", req["model"])
		}
		err := json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
		if err != nil {
			t.Errorf("encode reply: %v", err)
		}
	})

	vec, err := c.GenerateEmbeddings(context.Background(), "some text")
	if err != nil {
		t.Fatalf("GenerateEmbeddings: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("vec = %v", vec)
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	if _, err := c.GenerateText(context.Background(), "p", inference.Options{}); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestBreakerOpensOnRepeatedFailure(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	c.SetBreaker(resilience.NewBreaker(2, time.Hour))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.GenerateText(ctx, "p", inference.Options{}); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := c.GenerateText(ctx, "p", inference.Options{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}
