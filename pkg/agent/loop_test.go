package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/bus"
	"github.com/dotsetgreg/nanobot/pkg/config"
	"github.com/dotsetgreg/nanobot/pkg/providers"
	"github.com/dotsetgreg/nanobot/pkg/session"
	"github.com/dotsetgreg/nanobot/pkg/tools"
)

// scriptedProvider replays a fixed sequence of responses and records calls.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
	errs      []error
	calls     int
	lastMsgs  []providers.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition, model string, opts map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	p.lastMsgs = messages
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx < len(p.responses) {
		return p.responses[idx], nil
	}
	return &providers.LLMResponse{Content: "fallback", FinishReason: providers.FinishStop}, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) lastMessages() []providers.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMsgs
}

type echoTool struct{}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echo text back" }

func (t *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	text, _ := args["text"].(string)
	return tools.UserResult(text)
}

func testConfig(tb testing.TB) *config.Config {
	tb.Helper()
	return &config.Config{
		Agents: config.AgentsConfig{
			Defaults: config.AgentDefaults{
				Workspace:           tb.TempDir(),
				RestrictToWorkspace: true,
				Model:               "test-model",
				MaxTokens:           1024,
				MaxToolIterations:   5,
				MaxContextTokens:    128000,
				MaxHistoryShare:     0.5,
			},
		},
	}
}

func newTestLoop(tb testing.TB, provider providers.LLMProvider, msgBus *bus.MessageBus) (*AgentLoop, *session.Store) {
	tb.Helper()
	sessions, err := session.NewStore(tb.TempDir())
	if err != nil {
		tb.Fatalf("NewStore: %v", err)
	}
	al, err := NewAgentLoop(testConfig(tb), msgBus, provider, sessions, nil)
	if err != nil {
		tb.Fatalf("NewAgentLoop: %v", err)
	}
	return al, sessions
}

// assertToolCallIDsResolve checks every tool message references a tool call
// from an earlier assistant message.
func assertToolCallIDsResolve(tb testing.TB, messages []session.Message) {
	tb.Helper()
	seen := map[string]bool{}
	for i, m := range messages {
		for _, tc := range m.ToolCalls {
			seen[tc.ID] = true
		}
		if m.Role == "tool" {
			if m.ToolCallID == "" {
				tb.Fatalf("tool message %d has no tool_call_id", i)
			}
			if !seen[m.ToolCallID] {
				tb.Fatalf("tool message %d references unknown call id %q", i, m.ToolCallID)
			}
		}
	}
}

func TestSingleTurnText(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{
		responses: []*providers.LLMResponse{
			{Content: "hi", FinishReason: providers.FinishStop},
		},
	}
	al, sessions := newTestLoop(t, provider, msgBus)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = al.Run(runCtx)
		close(done)
	}()

	msgBus.PublishInbound(bus.InboundMessage{Channel: "cli", SenderID: "u1", ChatID: "direct", Content: "hello"})

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	out, ok := msgBus.SubscribeOutbound(recvCtx)
	if !ok {
		t.Fatalf("no outbound message")
	}
	if out.Channel != "cli" || out.ChatID != "direct" || out.Content != "hi" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	cancel()
	al.Stop()
	<-done

	sess := sessions.GetOrCreate("cli:direct")
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 session messages, got %d", len(sess.Messages))
	}
	if sess.Messages[0].Role != "user" || sess.Messages[0].Content != "hello" {
		t.Fatalf("unexpected first message: %+v", sess.Messages[0])
	}
	if sess.Messages[1].Role != "assistant" || sess.Messages[1].Content != "hi" {
		t.Fatalf("unexpected second message: %+v", sess.Messages[1])
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{
		responses: []*providers.LLMResponse{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "t1", Name: "echo", Arguments: map[string]interface{}{"text": "boom"}},
				},
				FinishReason: providers.FinishToolCalls,
			},
			{Content: "done", FinishReason: providers.FinishStop},
		},
	}
	al, sessions := newTestLoop(t, provider, msgBus)
	al.RegisterTool(&echoTool{})

	response, err := al.ProcessDirect(context.Background(), "run echo", "cli:direct")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if response != "done" {
		t.Fatalf("expected final content done, got %q", response)
	}
	if provider.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", provider.callCount())
	}

	sess := sessions.GetOrCreate("cli:direct")
	n := len(sess.Messages)
	if n < 4 {
		t.Fatalf("expected at least 4 session messages, got %d", n)
	}
	assistantCall := sess.Messages[n-3]
	toolMsg := sess.Messages[n-2]
	final := sess.Messages[n-1]

	if assistantCall.Role != "assistant" || len(assistantCall.ToolCalls) != 1 || assistantCall.ToolCalls[0].ID != "t1" {
		t.Fatalf("unexpected assistant tool-call message: %+v", assistantCall)
	}
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "t1" || toolMsg.Content != "boom" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}
	if final.Role != "assistant" || final.Content != "done" {
		t.Fatalf("unexpected final message: %+v", final)
	}
	assertToolCallIDsResolve(t, sess.Messages)
}

func TestInboundMediaReachesProvider(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{
		responses: []*providers.LLMResponse{
			{Content: "a red square", FinishReason: providers.FinishStop},
		},
	}
	al, _ := newTestLoop(t, provider, msgBus)

	dataURL := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="
	_, err := al.ProcessMessage(context.Background(), bus.InboundMessage{
		Channel:  "discord",
		SenderID: "u1",
		ChatID:   "42",
		Content:  "what is in this picture?",
		Media:    []string{dataURL},
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	found := false
	for _, m := range provider.lastMessages() {
		for _, p := range m.Parts {
			if p.Type == "image_url" && p.ImageURL != nil && p.ImageURL.URL == dataURL {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("inbound media never reached the provider as an image part")
	}
}

func TestInvalidToolArgumentsSelfCorrect(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{
		responses: []*providers.LLMResponse{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "t2", Name: "echo", Arguments: map[string]interface{}{}},
				},
				FinishReason: providers.FinishToolCalls,
			},
			{Content: "ok", FinishReason: providers.FinishStop},
		},
	}
	al, sessions := newTestLoop(t, provider, msgBus)
	al.RegisterTool(&echoTool{})

	response, err := al.ProcessDirect(context.Background(), "run echo badly", "cli:direct")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if response != "ok" {
		t.Fatalf("expected final content ok, got %q", response)
	}

	sess := sessions.GetOrCreate("cli:direct")
	foundValidationResult := false
	for _, m := range sess.Messages {
		if m.Role == "tool" && strings.HasPrefix(m.Content, "Invalid parameters:") {
			foundValidationResult = true
		}
	}
	if !foundValidationResult {
		t.Fatalf("expected a tool message starting with Invalid parameters:, got %+v", sess.Messages)
	}
}

func TestIterationCapAborts(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	// Provider keeps requesting tools forever.
	looping := &scriptedProvider{}
	for i := 0; i < 50; i++ {
		looping.responses = append(looping.responses, &providers.LLMResponse{
			ToolCalls: []providers.ToolCall{
				{ID: "tx", Name: "echo", Arguments: map[string]interface{}{"text": "again"}},
			},
			FinishReason: providers.FinishToolCalls,
		})
	}
	al, _ := newTestLoop(t, looping, msgBus)
	al.RegisterTool(&echoTool{})
	al.maxIterations = 3

	response, err := al.ProcessDirect(context.Background(), "loop forever", "cli:direct")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if response != loopAbortedMessage {
		t.Fatalf("expected loop-aborted message, got %q", response)
	}
	if looping.callCount() != 3 {
		t.Fatalf("expected 3 provider calls at cap, got %d", looping.callCount())
	}
}

func TestProviderErrorBecomesContent(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{
		errs: []error{errors.New("connection refused")},
	}
	al, _ := newTestLoop(t, provider, msgBus)

	response, err := al.ProcessDirect(context.Background(), "hello", "cli:direct")
	if err != nil {
		t.Fatalf("turn errors must not escape, got %v", err)
	}
	if !strings.Contains(response, "connection refused") {
		t.Fatalf("expected failure description, got %q", response)
	}
}

func TestHeartbeatSkipsHistory(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{
		responses: []*providers.LLMResponse{
			{Content: "HEARTBEAT_OK", FinishReason: providers.FinishStop},
		},
	}
	al, sessions := newTestLoop(t, provider, msgBus)

	response, err := al.ProcessHeartbeat(context.Background(), "check tasks", "discord", "42")
	if err != nil {
		t.Fatalf("ProcessHeartbeat: %v", err)
	}
	if response != "HEARTBEAT_OK" {
		t.Fatalf("unexpected response %q", response)
	}

	infos, err := sessions.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("heartbeat must not persist sessions, got %v", infos)
	}
}

func TestSlashCommands(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{}
	al, sessions := newTestLoop(t, provider, msgBus)

	msg := func(content string) bus.InboundMessage {
		return bus.InboundMessage{Channel: "cli", SenderID: "u1", ChatID: "direct", Content: content}
	}

	response, err := al.ProcessMessage(context.Background(), msg("/help"))
	if err != nil || !strings.Contains(response, "/model") {
		t.Fatalf("unexpected /help output: %q err=%v", response, err)
	}

	response, _ = al.ProcessMessage(context.Background(), msg("/model"))
	if !strings.Contains(response, "test-model") {
		t.Fatalf("unexpected /model output: %q", response)
	}

	response, _ = al.ProcessMessage(context.Background(), msg("/model set other/model"))
	if !strings.Contains(response, "other/model") || al.Model() != "other/model" {
		t.Fatalf("model switch failed: %q model=%q", response, al.Model())
	}

	if err := sessions.AppendMessage("cli:direct", "user", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	response, _ = al.ProcessMessage(context.Background(), msg("/clear"))
	if response != "Session cleared." {
		t.Fatalf("unexpected /clear output: %q", response)
	}
	if got := len(sessions.GetOrCreate("cli:direct").Messages); got != 0 {
		t.Fatalf("expected empty session after /clear, got %d messages", got)
	}

	response, _ = al.ProcessMessage(context.Background(), msg("/tools"))
	if !strings.Contains(response, "read_file") {
		t.Fatalf("unexpected /tools output: %q", response)
	}

	response, _ = al.ProcessMessage(context.Background(), msg("/context"))
	if !strings.Contains(response, "Budget") {
		t.Fatalf("unexpected /context output: %q", response)
	}

	response, _ = al.ProcessMessage(context.Background(), msg("/bogus"))
	if !strings.Contains(response, "Unknown command: /bogus") {
		t.Fatalf("unexpected unknown-command output: %q", response)
	}

	if provider.callCount() != 0 {
		t.Fatalf("slash commands must never reach the provider, got %d calls", provider.callCount())
	}
}

func TestToolEventsPublished(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	provider := &scriptedProvider{
		responses: []*providers.LLMResponse{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "t1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}},
				},
				FinishReason: providers.FinishToolCalls,
			},
			{Content: "done", FinishReason: providers.FinishStop},
		},
	}
	al, _ := newTestLoop(t, provider, msgBus)
	al.RegisterTool(&echoTool{})

	if _, err := al.ProcessDirect(context.Background(), "go", "cli:direct"); err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := msgBus.SubscribeToolEvents(ctx)
	if !ok {
		t.Fatalf("expected a tool event")
	}
	if ev.ToolName != "echo" || ev.Status != "started" {
		t.Fatalf("unexpected first event: %+v", ev)
	}
}
