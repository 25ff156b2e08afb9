package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dotsetgreg/nanobot/pkg/providers"
	"github.com/dotsetgreg/nanobot/pkg/session"
)

type summariserProvider struct {
	summary string
	err     error
	calls   int
}

func (p *summariserProvider) Chat(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition, model string, opts map[string]interface{}) (*providers.LLMResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &providers.LLMResponse{Content: p.summary, FinishReason: providers.FinishStop}, nil
}

func (p *summariserProvider) GetDefaultModel() string { return "test-model" }

func longHistory(count, chars int) []session.Message {
	msgs := make([]session.Message, 0, count)
	filler := strings.Repeat("x", chars)
	for i := 0; i < count; i++ {
		msgs = append(msgs, session.Message{Role: "user", Content: filler})
	}
	return msgs
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 1 {
		t.Fatalf("empty content must cost 1 token, got %d", got)
	}
	if got := estimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Fatalf("expected 100 tokens for 400 chars, got %d", got)
	}
}

func TestMaybeCompact_UnderBudgetUntouched(t *testing.T) {
	c := NewCompactor(&summariserProvider{summary: "s"}, "m", 1000, 0.5)
	history := longHistory(3, 100)

	kept, summary := c.MaybeCompact(context.Background(), history, "")
	if len(kept) != 3 || summary != "" {
		t.Fatalf("under-budget history must be untouched, got %d messages, summary %q", len(kept), summary)
	}
}

func TestMaybeCompact_Boundary(t *testing.T) {
	provider := &summariserProvider{summary: "earlier conversation covered project setup"}
	c := NewCompactor(provider, "m", 1000, 0.5)

	// 30 messages of ~200 chars, roughly 1500 tokens against a 500 budget.
	history := longHistory(30, 200)

	kept, summary := c.MaybeCompact(context.Background(), history, "")
	if got := historyTokens(kept); got > c.Budget() {
		t.Fatalf("kept history %d tokens exceeds budget %d", got, c.Budget())
	}
	if strings.TrimSpace(summary) == "" {
		t.Fatalf("expected a non-empty accumulated summary")
	}
	if provider.calls == 0 {
		t.Fatalf("expected the summariser to be called")
	}
	if len(kept) == 0 {
		t.Fatalf("compaction must keep the newest chunk")
	}
}

func TestMaybeCompact_SingleOversizedMessage(t *testing.T) {
	provider := &summariserProvider{summary: "giant paste condensed"}
	c := NewCompactor(provider, "m", 1000, 0.5)

	// One ~1000-token message against a 500 budget.
	history := []session.Message{{Role: "user", Content: strings.Repeat("x", 4000)}}

	kept, summary := c.MaybeCompact(context.Background(), history, "")
	if len(kept) != 0 {
		t.Fatalf("a lone over-budget message must be dropped, kept %d", len(kept))
	}
	if !strings.Contains(summary, "giant paste condensed") {
		t.Fatalf("expected the dropped message summarised, got %q", summary)
	}
}

func TestMaybeCompact_AccumulatesSummaries(t *testing.T) {
	provider := &summariserProvider{summary: "second part"}
	c := NewCompactor(provider, "m", 1000, 0.5)

	_, summary := c.MaybeCompact(context.Background(), longHistory(30, 200), "first part")
	if !strings.Contains(summary, "first part") || !strings.Contains(summary, "second part") {
		t.Fatalf("expected both summaries accumulated, got %q", summary)
	}
	if !strings.Contains(summary, summarySeparator) {
		t.Fatalf("expected summaries joined with the separator, got %q", summary)
	}
}

func TestForceCompact(t *testing.T) {
	provider := &summariserProvider{summary: "everything so far"}
	c := NewCompactor(provider, "m", 128000, 0.5)

	kept, summary := c.ForceCompact(context.Background(), longHistory(5, 50), "")
	if len(kept) != 0 {
		t.Fatalf("forced compaction must drop all history, kept %d", len(kept))
	}
	if summary != "everything so far" {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestSummariserFailureBecomesSummary(t *testing.T) {
	provider := &summariserProvider{err: errors.New("model overloaded")}
	c := NewCompactor(provider, "m", 1000, 0.5)

	kept, summary := c.MaybeCompact(context.Background(), longHistory(30, 200), "")
	if got := historyTokens(kept); got > c.Budget() {
		t.Fatalf("kept history %d tokens exceeds budget %d", got, c.Budget())
	}
	if !strings.Contains(summary, "model overloaded") {
		t.Fatalf("expected failure text in summary, got %q", summary)
	}
}

func TestSplitPointSkipsLeadingToolMessage(t *testing.T) {
	c := NewCompactor(&summariserProvider{summary: "s"}, "m", 1000, 0.5)
	history := []session.Message{
		{Role: "user", Content: strings.Repeat("a", 400)},
		{Role: "assistant", Content: "calling", ToolCalls: []session.ToolCallRecord{{ID: "t1", Name: "echo"}}},
		{Role: "tool", Content: strings.Repeat("b", 400), ToolCallID: "t1"},
		{Role: "assistant", Content: strings.Repeat("c", 400)},
	}

	cut := c.splitPoint(history)
	if cut < len(history) && history[cut].Role == "tool" {
		t.Fatalf("split point %d would orphan a tool message", cut)
	}
}

func TestCompactorDefaults(t *testing.T) {
	c := NewCompactor(&summariserProvider{}, "m", 0, 0)
	if c.Budget() != 64000 {
		t.Fatalf("expected default budget 64000, got %d", c.Budget())
	}
}
