package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/nanobot/pkg/memory"
)

// MemorySaveTool writes an explicit memory through the file backend.
type MemorySaveTool struct {
	store *memory.FileStore
}

func NewMemorySaveTool(store *memory.FileStore) *MemorySaveTool {
	return &MemorySaveTool{store: store}
}

func (t *MemorySaveTool) Name() string {
	return "memory_save"
}

func (t *MemorySaveTool) Description() string {
	return "Save a durable memory. Use kind to classify it and scope=daily for things only relevant today."
}

func (t *MemorySaveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The memory to store, one self-contained sentence",
				"minLength":   3.0,
			},
			"kind": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"fact", "pref", "decision", "todo", "note"},
				"description": "Memory classification",
			},
			"scope": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"daily", "long"},
				"description": "daily goes to today's notes, long to curated memory (default long)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MemorySaveTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	content, _ := args["content"].(string)
	kind, _ := args["kind"].(string)
	scope, _ := args["scope"].(string)
	if kind == "" {
		kind = "note"
	}

	var err error
	if scope == "daily" {
		err = t.store.AppendDaily(kind, content)
	} else {
		err = t.store.AppendLongTerm(kind, content)
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("saving memory: %v", err)).WithError(err)
	}
	return UserResult(fmt.Sprintf("Saved %s memory: %s", kind, content))
}

// MemorySearchTool queries whichever memory backend is configured.
type MemorySearchTool struct {
	store memory.Store
}

func NewMemorySearchTool(store memory.Store) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string {
	return "memory_search"
}

func (t *MemorySearchTool) Description() string {
	return "Search stored memories. Supports kind:<fact|pref|decision|todo|note>, scope:<daily|long>, #tag, @person, and free text."
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
				"minLength":   1.0,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum results (default 8)",
				"minimum":     1.0,
				"maximum":     50.0,
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, _ := args["query"].(string)
	limit := 8
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	result, err := t.store.Search(ctx, query, SenderFromContext(ctx), limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("searching memories: %v", err)).WithError(err)
	}
	if len(result.Items) == 0 {
		return UserResult("No memories found for: " + query)
	}

	lines := make([]string, 0, len(result.Items)+1)
	lines = append(lines, fmt.Sprintf("Found %d memories:", len(result.Items)))
	for _, item := range result.Items {
		lines = append(lines, "- "+item.Content+" ("+item.ID+")")
	}
	return UserResult(strings.Join(lines, "\n"))
}

// MemoryForgetTool deletes a memory by id.
type MemoryForgetTool struct {
	store memory.Store
}

func NewMemoryForgetTool(store memory.Store) *MemoryForgetTool {
	return &MemoryForgetTool{store: store}
}

func (t *MemoryForgetTool) Name() string {
	return "memory_forget"
}

func (t *MemoryForgetTool) Description() string {
	return "Delete a stored memory by its id (as shown by memory_search)."
}

func (t *MemoryForgetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Memory id to delete",
				"minLength":   1.0,
			},
		},
		"required": []string{"id"},
	}
}

func (t *MemoryForgetTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	id, _ := args["id"].(string)
	ok, err := t.store.Delete(ctx, id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("deleting memory: %v", err)).WithError(err)
	}
	if !ok {
		return ErrorResult(fmt.Sprintf("memory %q not found", id))
	}
	return UserResult("Deleted memory " + id)
}
