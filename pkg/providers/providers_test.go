package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dotsetgreg/nanobot/pkg/config"
)

func TestCreateProvider_UnknownName(t *testing.T) {
	_, err := CreateProvider("does-not-exist", config.DefaultConfig())
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateProvider_NormalizesName(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "test-key"

	p, err := CreateProvider("  OpenRouter ", cfg)
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if p.GetDefaultModel() != cfg.Agents.Defaults.Model {
		t.Fatalf("expected default model %q, got %q", cfg.Agents.Defaults.Model, p.GetDefaultModel())
	}
}

func TestChat_ParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "read_file", "arguments": "{\"path\": \"notes.md\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, err := newChatCompletionsProvider("test", server.URL, "test-key", "test-model", "", nil)
	if err != nil {
		t.Fatalf("newChatCompletionsProvider: %v", err)
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.FinishReason != FinishToolCalls {
		t.Fatalf("expected finish reason %q, got %q", FinishToolCalls, resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "read_file" {
		t.Fatalf("expected tool name read_file, got %q", tc.Name)
	}
	if tc.Arguments["path"] != "notes.md" {
		t.Fatalf("expected path argument notes.md, got %v", tc.Arguments["path"])
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected usage total 15, got %+v", resp.Usage)
	}
}

func TestChat_APIErrorSurfacesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid api key", "type": "auth_error"}}`))
	}))
	defer server.Close()

	p, err := newChatCompletionsProvider("test", server.URL, "bad-key", "test-model", "", nil)
	if err != nil {
		t.Fatalf("newChatCompletionsProvider: %v", err)
	}

	_, err = p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "", nil)
	if err == nil {
		t.Fatalf("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected API error message in error, got %v", err)
	}
}

func TestMessage_MarshalMultipart(t *testing.T) {
	msg := Message{
		Role: "user",
		Parts: []ContentPart{
			{Type: "text", Text: "what is this"},
			{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,AAAA"}},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	parts, ok := decoded["content"].([]interface{})
	if !ok {
		t.Fatalf("expected multipart content array, got %T", decoded["content"])
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
}

func TestFlattenMessageContent(t *testing.T) {
	if got := flattenMessageContent("plain"); got != "plain" {
		t.Fatalf("expected plain, got %q", got)
	}
	multi := []interface{}{
		map[string]interface{}{"type": "text", "text": "a"},
		map[string]interface{}{"type": "text", "text": "b"},
	}
	if got := flattenMessageContent(multi); got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
	if got := flattenMessageContent(nil); got != "" {
		t.Fatalf("expected empty string for nil, got %q", got)
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(context.DeadlineExceeded)
	if resp.FinishReason != FinishError {
		t.Fatalf("expected finish reason error, got %q", resp.FinishReason)
	}
	if !strings.Contains(resp.Content, "deadline") {
		t.Fatalf("expected error text in content, got %q", resp.Content)
	}
}
