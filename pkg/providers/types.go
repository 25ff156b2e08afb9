package providers

import (
	"context"
	"encoding/json"
)

// Message is the provider-facing prompt message. Content carries plain text;
// Parts, when non-empty, replaces Content on the wire with a multipart body
// (text and image data URLs).
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"-"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of a multipart message body.
type ContentPart struct {
	Type     string    `json:"type"` // text | image_url
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// MarshalJSON emits the multipart form when Parts is set, otherwise the plain
// string content expected by chat-completions APIs.
func (m Message) MarshalJSON() ([]byte, error) {
	type wireMessage struct {
		Role       string      `json:"role"`
		Content    interface{} `json:"content"`
		ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
		ToolCallID string      `json:"tool_call_id,omitempty"`
	}
	wm := wireMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
	if len(m.Parts) > 0 {
		wm.Content = m.Parts
	}
	return json.Marshal(wm)
}

// ToolCall is a provider-requested tool invocation. Arguments holds the parsed
// argument map; Function carries the raw wire form for echoing back.
type ToolCall struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Name      string                 `json:"-"`
	Arguments map[string]interface{} `json:"-"`
	Function  *FunctionCall          `json:"function,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is the serialized tool descriptor sent to the provider.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo is the token-usage triple reported per call.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Finish reasons normalised across backends.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
	FinishError     = "error"
)

// LLMResponse is the normalised provider response: either terminal content or
// a non-empty tool-call list with FinishReason=tool_calls.
type LLMResponse struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// LLMProvider is the synchronous chat capability every backend implements.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// ErrorResponse wraps a transport failure as a terminal response so callers
// inside a turn never have to propagate the error further.
func ErrorResponse(err error) *LLMResponse {
	return &LLMResponse{
		Content:      "LLM request failed: " + err.Error(),
		FinishReason: FinishError,
	}
}
