package tools

import (
	"context"
	"sync/atomic"
)

// Tool is the interface every registered tool implements. Execute never
// panics and never returns nil; failures travel inside the ToolResult.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ContextualTool is an optional interface for tools that want the current
// message context (channel, chatID) set before execution.
type ContextualTool interface {
	Tool
	SetContext(channel, chatID string)
}

// AsyncCallback is invoked by async tools when their background work
// completes. It runs on the tool's goroutine.
type AsyncCallback func(ctx context.Context, result *ToolResult)

// AsyncTool is an optional interface for tools that return an AsyncResult
// immediately and report completion through the registered callback.
type AsyncTool interface {
	Tool
	SetCallback(cb AsyncCallback)
}

// ClosableTool is an optional interface for tools that hold runtime resources
// and require explicit teardown when the agent stops.
type ClosableTool interface {
	Tool
	Close() error
}

type toolExecutionContext struct {
	channel       string
	chatID        string
	senderID      string
	asyncCallback AsyncCallback
}

type toolExecutionContextKey struct{}

// withToolExecutionContext annotates a call context with per-execution
// metadata. Empty fields inherit from any context already present.
func withToolExecutionContext(ctx context.Context, channel, chatID, senderID string, asyncCallback AsyncCallback) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := toolExecutionContextFromContext(ctx); ok {
		if channel == "" {
			channel = existing.channel
		}
		if chatID == "" {
			chatID = existing.chatID
		}
		if senderID == "" {
			senderID = existing.senderID
		}
		if asyncCallback == nil {
			asyncCallback = existing.asyncCallback
		}
	}
	return context.WithValue(ctx, toolExecutionContextKey{}, toolExecutionContext{
		channel:       channel,
		chatID:        chatID,
		senderID:      senderID,
		asyncCallback: asyncCallback,
	})
}

func toolExecutionContextFromContext(ctx context.Context) (toolExecutionContext, bool) {
	if ctx == nil {
		return toolExecutionContext{}, false
	}
	execCtx, ok := ctx.Value(toolExecutionContextKey{}).(toolExecutionContext)
	return execCtx, ok
}

func channelChatFromContext(ctx context.Context) (string, string) {
	execCtx, ok := toolExecutionContextFromContext(ctx)
	if !ok {
		return "", ""
	}
	return execCtx.channel, execCtx.chatID
}

// SenderFromContext exposes the sender identity to tools that scope their
// effects per user.
func SenderFromContext(ctx context.Context) string {
	execCtx, ok := toolExecutionContextFromContext(ctx)
	if !ok {
		return ""
	}
	return execCtx.senderID
}

func asyncCallbackFromContext(ctx context.Context) AsyncCallback {
	execCtx, ok := toolExecutionContextFromContext(ctx)
	if !ok {
		return nil
	}
	return execCtx.asyncCallback
}

// ExecutionRoundState tracks whether a tool already delivered content to the
// user during the current agent round, so the loop can skip a duplicate
// final reply.
type ExecutionRoundState struct {
	messageSent atomic.Bool
}

func NewExecutionRoundState() *ExecutionRoundState {
	return &ExecutionRoundState{}
}

func (s *ExecutionRoundState) MarkMessageSent() {
	if s == nil {
		return
	}
	s.messageSent.Store(true)
}

func (s *ExecutionRoundState) MessageSent() bool {
	if s == nil {
		return false
	}
	return s.messageSent.Load()
}

type executionRoundStateKey struct{}

func WithExecutionRoundState(ctx context.Context, state *ExecutionRoundState) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if state == nil {
		return ctx
	}
	return context.WithValue(ctx, executionRoundStateKey{}, state)
}

func executionRoundStateFromContext(ctx context.Context) *ExecutionRoundState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(executionRoundStateKey{}).(*ExecutionRoundState)
	return state
}

func markMessageSentInContext(ctx context.Context) {
	if state := executionRoundStateFromContext(ctx); state != nil {
		state.MarkMessageSent()
	}
}

func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
