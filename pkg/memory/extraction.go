package memory

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/providers"
)

const extractionSystemPrompt = `You extract long-term memories from a conversation.
Return a JSON array of strings. Each string is one self-contained memory.

Keep only:
- facts about the user or their environment
- stated preferences
- decisions that were made

Never store secrets, credentials, or ephemeral details (timestamps, one-off
errands, transient state). Return [] when nothing qualifies.`

// extractMemories asks a secondary model to distill durable memories from the
// turn's messages. Failures degrade to no memories, never to an error the
// caller must handle mid-turn.
func extractMemories(ctx context.Context, provider providers.LLMProvider, model string, messages []ConversationMessage) []string {
	if provider == nil || len(messages) == 0 {
		return nil
	}

	var transcript strings.Builder
	for _, m := range messages {
		transcript.WriteString(m.Role)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	resp, err := provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: transcript.String()},
	}, nil, model, map[string]interface{}{
		"max_tokens":  1024,
		"temperature": 0.0,
	})
	if err != nil {
		logger.WarnCF("memory", "Memory extraction call failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	if resp.FinishReason == providers.FinishError {
		logger.WarnCF("memory", "Memory extraction returned error response", map[string]interface{}{
			"content": resp.Content,
		})
		return nil
	}

	return parseExtractedMemories(resp.Content)
}

// parseExtractedMemories accepts either a bare JSON array or one wrapped in
// markdown code fences.
func parseExtractedMemories(content string) []string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			content = content[start : end+1]
		}
	}

	var raw []string
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil
	}

	memories := make([]string, 0, len(raw))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		if m != "" {
			memories = append(memories, m)
		}
	}
	return memories
}
