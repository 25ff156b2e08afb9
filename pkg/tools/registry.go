package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/providers"
)

// ToolEventSink receives execution progress notifications. status is one of
// "started", "completed", "error".
type ToolEventSink func(sessionKey, toolName, status string)

type ToolRegistry struct {
	tools     map[string]Tool
	eventSink ToolEventSink
	mu        sync.RWMutex
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// SetEventSink wires execution notifications to an observer, typically the
// message bus tool-event topic.
func (r *ToolRegistry) SetEventSink(sink ToolEventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventSink = sink
}

func (r *ToolRegistry) emitEvent(sessionKey, toolName, status string) {
	r.mu.RLock()
	sink := r.eventSink
	r.mu.RUnlock()
	if sink != nil {
		sink(sessionKey, toolName, status)
	}
}

// Close closes all registered tools that implement ClosableTool. It attempts
// all closes and returns an aggregated error if any fail.
func (r *ToolRegistry) Close() error {
	r.mu.RLock()
	closers := make([]ClosableTool, 0, len(r.tools))
	for _, tool := range r.tools {
		if closer, ok := tool.(ClosableTool); ok {
			closers = append(closers, closer)
		}
	}
	r.mu.RUnlock()

	var errs []string
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", closer.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("tool close failures: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Validate checks args against the named tool's parameter schema. An unknown
// tool name yields a single violation.
func (r *ToolRegistry) Validate(name string, args map[string]interface{}) []string {
	tool, ok := r.Get(name)
	if !ok {
		return []string{fmt.Sprintf("unknown tool %q", name)}
	}
	return ValidateArgs(tool.Parameters(), args)
}

func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	return r.ExecuteWithContext(ctx, name, args, "", "", "", nil)
}

// ExecuteWithContext validates arguments, then executes the tool with message
// context attached. Validation failures come back as normal results with the
// "Invalid parameters:" prefix so the model can self-correct.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID, senderID string, asyncCallback AsyncCallback) *ToolResult {
	sessionKey := channel + ":" + chatID
	sanitizedArgs := sanitizeToolArgs(args)
	logger.InfoCF("tool", "Tool execution started", map[string]interface{}{
		"tool": name,
		"args": sanitizedArgs,
	})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]interface{}{
			"tool": name,
		})
		r.emitEvent(sessionKey, name, "error")
		return ErrorResult(FormatValidationErrors([]string{fmt.Sprintf("unknown tool %q", name)})).WithError(fmt.Errorf("tool not found"))
	}

	if violations := ValidateArgs(tool.Parameters(), args); len(violations) > 0 {
		logger.WarnCF("tool", "Tool arguments rejected", map[string]interface{}{
			"tool":       name,
			"violations": len(violations),
		})
		r.emitEvent(sessionKey, name, "error")
		return ErrorResult(FormatValidationErrors(violations))
	}

	execCtx := withToolExecutionContext(ctx, channel, chatID, senderID, asyncCallback)
	r.emitEvent(sessionKey, name, "started")

	start := time.Now()
	result := tool.Execute(execCtx, args)
	duration := time.Since(start)
	if result == nil {
		err := fmt.Errorf("tool %q returned nil result", name)
		logger.ErrorCF("tool", "Tool returned nil result", map[string]interface{}{
			"tool": name,
		})
		r.emitEvent(sessionKey, name, "error")
		return ErrorResult(err.Error()).WithError(err)
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
		r.emitEvent(sessionKey, name, "error")
	} else if result.Async {
		logger.InfoCF("tool", "Tool started (async)", map[string]interface{}{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
		})
		r.emitEvent(sessionKey, name, "started")
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
			"tool":          name,
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
		r.emitEvent(sessionKey, name, "completed")
	}

	return result
}

func (r *ToolRegistry) GetDefinitions() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]map[string]interface{}, 0, len(r.tools))
	for _, tool := range r.tools {
		definitions = append(definitions, ToolToSchema(tool))
	}
	return definitions
}

// ToProviderDefs converts registered tools into the descriptor format the
// provider APIs expect.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	definitions := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		definitions = append(definitions, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}

// List returns the names of all registered tools, sorted.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// GetSummaries returns "- `name` - description" lines for all tools, sorted.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]string, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, fmt.Sprintf("- `%s` - %s", name, r.tools[name].Description()))
	}
	return summaries
}

var sensitiveArgKeyFragments = []string{
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"bearer",
	"client_secret",
	"cookie",
	"password",
	"private",
	"secret",
	"session",
	"token",
}

func sanitizeToolArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(args))
	for key, value := range args {
		sanitized[key] = sanitizeToolArgValue(key, value, 0)
	}
	return sanitized
}

func sanitizeToolArgValue(key string, value interface{}, depth int) interface{} {
	if depth > 6 {
		return "<omitted>"
	}
	if isSensitiveArgKey(key) {
		return "<redacted>"
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeToolArgValue(k, v, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeToolArgValue(key, item, depth+1))
		}
		return out
	case string:
		return truncateLogString(typed)
	default:
		return value
	}
}

func isSensitiveArgKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, fragment := range sensitiveArgKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func truncateLogString(value string) string {
	const maxLen = 256
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "...(truncated)"
}
