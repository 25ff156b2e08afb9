package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/providers"
	"github.com/dotsetgreg/nanobot/pkg/session"
)

const summarySeparator = "\n\n---\n\n"

const compactionSystemPrompt = `You summarise earlier conversation history so the assistant can continue with less context.
Preserve: decisions made, established facts, user constraints and preferences, and open questions.
Drop pleasantries and resolved back-and-forth. Return only the summary.`

// Compactor keeps session history within the token budget by pruning the
// oldest chunk and folding it into an accumulated summary.
type Compactor struct {
	provider        providers.LLMProvider
	model           string
	maxContextTok   int
	maxHistoryShare float64
	chunks          int
	summaryTimeout  time.Duration
}

func NewCompactor(provider providers.LLMProvider, model string, maxContextTokens int, maxHistoryShare float64) *Compactor {
	if maxContextTokens <= 0 {
		maxContextTokens = 128000
	}
	if maxHistoryShare <= 0 || maxHistoryShare > 1 {
		maxHistoryShare = 0.5
	}
	return &Compactor{
		provider:        provider,
		model:           model,
		maxContextTok:   maxContextTokens,
		maxHistoryShare: maxHistoryShare,
		chunks:          2,
		summaryTimeout:  60 * time.Second,
	}
}

// estimateTokens approximates the token cost of one message.
func estimateTokens(content string) int {
	n := len(content) / 4
	if n < 1 {
		n = 1
	}
	return n
}

func historyTokens(messages []session.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content)
	}
	return total
}

// Budget is the maximum token estimate history may occupy.
func (c *Compactor) Budget() int {
	return int(c.maxHistoryShare * float64(c.maxContextTok))
}

// MaybeCompact returns history unchanged while it fits the budget. Over
// budget, it repeatedly drops the oldest token-balanced chunk, summarising
// each dropped chunk into the accumulated summary. A lone message that
// alone exceeds the budget is folded into the summary as well.
func (c *Compactor) MaybeCompact(ctx context.Context, messages []session.Message, summary string) ([]session.Message, string) {
	budget := c.Budget()
	for historyTokens(messages) > budget && len(messages) > 0 {
		cut := c.splitPoint(messages)
		dropped := messages[:cut]
		messages = messages[cut:]

		chunkSummary := c.summarise(ctx, dropped)
		summary = appendSummary(summary, chunkSummary)

		logger.InfoCF("agent", "Compacted session history", map[string]interface{}{
			"dropped_messages": len(dropped),
			"kept_messages":    len(messages),
			"kept_tokens":      historyTokens(messages),
			"budget":           budget,
		})
	}
	return messages, summary
}

// ForceCompact discards all history, folding it into the summary.
func (c *Compactor) ForceCompact(ctx context.Context, messages []session.Message, summary string) ([]session.Message, string) {
	if len(messages) == 0 {
		return nil, summary
	}
	chunkSummary := c.summarise(ctx, messages)
	return nil, appendSummary(summary, chunkSummary)
}

// splitPoint finds the boundary that divides messages into c.chunks
// roughly token-equal parts and returns the end of the first part. The kept
// suffix never starts with a tool message, which would orphan its call id.
func (c *Compactor) splitPoint(messages []session.Message) int {
	target := historyTokens(messages) / c.chunks
	running := 0
	cut := 0
	for i, m := range messages {
		running += estimateTokens(m.Content)
		if running >= target {
			cut = i + 1
			break
		}
	}
	if cut == 0 || cut >= len(messages) {
		cut = len(messages) / c.chunks
		if cut == 0 {
			cut = 1
		}
	}
	for cut < len(messages) && messages[cut].Role == "tool" {
		cut++
	}
	return cut
}

// summarise asks the provider for a chunk summary. The provider's failure
// text becomes the summary so compaction never stalls.
func (c *Compactor) summarise(ctx context.Context, dropped []session.Message) string {
	transcript := renderTranscript(dropped)

	sctx, cancel := context.WithTimeout(ctx, c.summaryTimeout)
	defer cancel()

	resp, err := c.provider.Chat(sctx, []providers.Message{
		{Role: "system", Content: compactionSystemPrompt},
		{Role: "user", Content: transcript},
	}, nil, c.model, map[string]interface{}{
		"max_tokens":  1024,
		"temperature": 0.2,
	})
	if err != nil {
		logger.WarnCF("agent", "History summarisation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Sprintf("(summary unavailable: %v)", err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "(summary unavailable: empty response)"
	}
	return content
}

func renderTranscript(messages []session.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func appendSummary(existing, added string) string {
	added = strings.TrimSpace(added)
	if added == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return added
	}
	return existing + summarySeparator + added
}
