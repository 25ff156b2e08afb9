package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/bus"
	"github.com/dotsetgreg/nanobot/pkg/config"
	"github.com/dotsetgreg/nanobot/pkg/constants"
	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/memory"
	"github.com/dotsetgreg/nanobot/pkg/providers"
	"github.com/dotsetgreg/nanobot/pkg/session"
	"github.com/dotsetgreg/nanobot/pkg/state"
	"github.com/dotsetgreg/nanobot/pkg/tools"
	"github.com/dotsetgreg/nanobot/pkg/utils"
)

const loopAbortedMessage = "Loop aborted: reached the tool iteration limit without a final answer."
const defaultEmptyResponse = "I've completed processing but have no response to give."
const memoryWriteBackTimeout = 30 * time.Second

type AgentLoop struct {
	bus            *bus.MessageBus
	provider       providers.LLMProvider
	sessions       *session.Store
	memory         memory.Store
	tools          *tools.ToolRegistry
	contextBuilder *ContextBuilder
	compactor      *Compactor
	state          *state.Manager
	workspace      string
	model          string
	maxTokens      int
	temperature    float64
	maxIterations  int
	running        atomic.Bool
}

// turnOptions configures one agent turn.
type turnOptions struct {
	SessionKey  string
	Channel     string
	ChatID      string
	SenderID    string
	UserMessage string
	Media       []string // attachment URLs or data URLs for the current message
	NoHistory   bool     // heartbeat turns carry no session history
}

// createToolRegistry registers the tools every agent gets: workspace file
// access, shell execution, and mid-turn messaging through the bus.
func createToolRegistry(workspace string, restrict bool, msgBus *bus.MessageBus) *tools.ToolRegistry {
	registry := tools.NewToolRegistry()

	registry.Register(tools.NewReadFileTool(workspace, restrict))
	registry.Register(tools.NewWriteFileTool(workspace, restrict))
	registry.Register(tools.NewEditFileTool(workspace, restrict))
	registry.Register(tools.NewListDirTool(workspace, restrict))
	registry.Register(tools.NewExecTool(workspace, restrict))
	registry.Register(tools.NewProcessTool(workspace, restrict))

	messageTool := tools.NewMessageTool()
	messageTool.SetSendCallback(func(channel, chatID, content string) error {
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: content,
		})
		return nil
	})
	registry.Register(messageTool)

	registry.SetEventSink(func(sessionKey, toolName, status string) {
		msgBus.PublishToolEvent(bus.ToolEvent{
			SessionKey: sessionKey,
			ToolName:   toolName,
			Status:     status,
		})
	})

	return registry
}

func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider, sessions *session.Store, memStore memory.Store) (*AgentLoop, error) {
	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	defaults := cfg.Agents.Defaults
	registry := createToolRegistry(workspace, defaults.RestrictToWorkspace, msgBus)

	contextBuilder := NewContextBuilder(workspace)
	contextBuilder.SetToolsRegistry(registry)

	model := defaults.Model
	if strings.TrimSpace(model) == "" {
		model = provider.GetDefaultModel()
	}

	return &AgentLoop{
		bus:            msgBus,
		provider:       provider,
		sessions:       sessions,
		memory:         memStore,
		tools:          registry,
		contextBuilder: contextBuilder,
		compactor:      NewCompactor(provider, model, defaults.MaxContextTokens, defaults.MaxHistoryShare),
		state:          state.NewManager(workspace),
		workspace:      workspace,
		model:          model,
		maxTokens:      defaults.MaxTokens,
		temperature:    defaults.Temperature,
		maxIterations:  defaults.MaxToolIterations,
	}, nil
}

// Run consumes inbound messages until ctx is cancelled or Stop is called.
// Errors inside a turn never escape: they become the outbound content.
func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)

	for al.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
			msg, ok := al.bus.ConsumeInbound(ctx)
			if !ok {
				continue
			}

			response, err := al.ProcessMessage(ctx, msg)
			if err != nil {
				response = fmt.Sprintf("Error processing message: %v", err)
			}
			if response != "" {
				al.bus.PublishOutbound(bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: response,
				})
			}
		}
	}
	return nil
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
	if al.memory != nil {
		_ = al.memory.Close()
	}
	if err := al.tools.Close(); err != nil {
		logger.WarnCF("agent", "Tool shutdown reported errors", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (al *AgentLoop) RegisterTool(tool tools.Tool) {
	al.tools.Register(tool)
}

func (al *AgentLoop) Model() string {
	return al.model
}

func (al *AgentLoop) SetModel(model string) {
	al.model = model
}

// LastTarget reports the most recent user-facing delivery target.
func (al *AgentLoop) LastTarget() (string, string) {
	return al.state.LastTarget()
}

// StartupInfo reports loaded tools and skills for startup logging.
func (al *AgentLoop) StartupInfo() map[string]interface{} {
	names := al.tools.List()
	return map[string]interface{}{
		"tools":  map[string]interface{}{"count": len(names), "names": names},
		"skills": al.contextBuilder.SkillsInfo(),
	}
}

// ProcessDirect runs one turn for the CLI REPL and returns the final content.
func (al *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	return al.ProcessMessage(ctx, bus.InboundMessage{
		Channel:    "cli",
		SenderID:   "local-user",
		ChatID:     "direct",
		Content:    content,
		SessionKey: sessionKey,
	})
}

// ProcessHeartbeat runs an independent turn without session history.
func (al *AgentLoop) ProcessHeartbeat(ctx context.Context, content, channel, chatID string) (string, error) {
	return al.runTurn(ctx, turnOptions{
		SessionKey:  "heartbeat",
		Channel:     channel,
		ChatID:      chatID,
		SenderID:    "heartbeat",
		UserMessage: content,
		NoHistory:   true,
	})
}

// ProcessMessage handles one inbound message: slash commands directly,
// everything else through a full agent turn.
func (al *AgentLoop) ProcessMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, utils.Truncate(msg.Content, 80)),
		map[string]interface{}{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"session_key": msg.SessionKey,
		})

	if response, handled := al.handleCommand(msg); handled {
		return response, nil
	}

	return al.runTurn(ctx, turnOptions{
		SessionKey:  sessionKeyFor(msg),
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		UserMessage: msg.Content,
		Media:       msg.Media,
	})
}

// sessionKeyFor resolves the session key: an explicit key wins, otherwise
// "<channel>:<chat-id>".
func sessionKeyFor(msg bus.InboundMessage) string {
	if key := strings.TrimSpace(msg.SessionKey); key != "" {
		return key
	}
	return msg.Channel + ":" + msg.ChatID
}

func (al *AgentLoop) runTurn(ctx context.Context, opts turnOptions) (string, error) {
	if opts.Channel != "" && opts.ChatID != "" && !constants.IsInternalChannel(opts.Channel) {
		if err := al.state.SetLastTarget(opts.Channel, opts.ChatID); err != nil {
			logger.WarnCF("agent", "Failed to record last channel", map[string]interface{}{"error": err.Error()})
		}
	}

	if tool, ok := al.tools.Get("message"); ok {
		if ct, ok := tool.(tools.ContextualTool); ok {
			ct.SetContext(opts.Channel, opts.ChatID)
		}
	}

	// History window, compacted to the token budget before prompt assembly.
	var history []session.Message
	summary := ""
	if !opts.NoHistory {
		sess := al.sessions.GetOrCreate(opts.SessionKey)
		kept, newSummary := al.compactor.MaybeCompact(ctx, sess.Messages, sess.Summary)
		if len(kept) != len(sess.Messages) || newSummary != sess.Summary {
			if err := al.sessions.ReplaceMessages(opts.SessionKey, kept, newSummary); err != nil {
				logger.WarnCF("agent", "Failed to persist compacted history", map[string]interface{}{
					"error":       err.Error(),
					"session_key": opts.SessionKey,
				})
			}
		}
		history = kept
		summary = newSummary
	}

	memoryContext := ""
	if al.memory != nil {
		fragment, err := al.memory.GetMemoryContext(ctx, opts.UserMessage, opts.SenderID)
		if err != nil {
			logger.WarnCF("agent", "Memory context unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			memoryContext = fragment
		}
	}

	messages := al.contextBuilder.BuildMessages(
		toProviderMessages(history),
		summary,
		memoryContext,
		opts.UserMessage,
		opts.Media,
		opts.Channel,
		opts.ChatID,
	)

	if !opts.NoHistory {
		if err := al.sessions.AppendMessage(opts.SessionKey, "user", opts.UserMessage); err != nil {
			logger.ErrorCF("agent", "Failed to append user message", map[string]interface{}{
				"error":       err.Error(),
				"session_key": opts.SessionKey,
			})
		}
	}

	roundState := tools.NewExecutionRoundState()
	turnCtx := tools.WithExecutionRoundState(ctx, roundState)

	finalContent, iterations := al.iterate(turnCtx, messages, opts)
	if finalContent == "" {
		finalContent = defaultEmptyResponse
	}

	if !opts.NoHistory {
		if err := al.sessions.AppendMessage(opts.SessionKey, "assistant", finalContent); err != nil {
			logger.ErrorCF("agent", "Failed to append assistant message", map[string]interface{}{
				"error":       err.Error(),
				"session_key": opts.SessionKey,
			})
		}
		al.scheduleMemoryWriteBack(opts, finalContent)
	}

	logger.InfoCF("agent", fmt.Sprintf("Response: %s", utils.Truncate(finalContent, 120)),
		map[string]interface{}{
			"session_key":  opts.SessionKey,
			"iterations":   iterations,
			"final_length": len(finalContent),
		})

	// The message tool may have already delivered content this round; skip
	// the duplicate final reply.
	if roundState.MessageSent() && strings.TrimSpace(finalContent) == defaultEmptyResponse {
		return "", nil
	}
	return finalContent, nil
}

// iterate runs the LLM call / tool dispatch cycle up to the iteration cap.
// Provider failures become terminal error responses, never returned errors.
func (al *AgentLoop) iterate(ctx context.Context, messages []providers.Message, opts turnOptions) (string, int) {
	iteration := 0
	for iteration < al.maxIterations {
		iteration++

		response, err := al.provider.Chat(ctx, messages, al.tools.ToProviderDefs(), al.model, map[string]interface{}{
			"max_tokens":  al.maxTokens,
			"temperature": al.temperature,
		})
		if err != nil {
			logger.ErrorCF("agent", "LLM call failed", map[string]interface{}{
				"iteration": iteration,
				"error":     err.Error(),
			})
			response = providers.ErrorResponse(err)
		}

		if len(response.ToolCalls) == 0 {
			return strings.TrimSpace(response.Content), iteration
		}

		messages = al.dispatchToolCalls(ctx, messages, response, opts)
	}

	logger.WarnCF("agent", "Iteration cap reached, aborting turn", map[string]interface{}{
		"session_key": opts.SessionKey,
		"iterations":  iteration,
	})
	return loopAbortedMessage, iteration
}

// dispatchToolCalls appends the assistant tool-call message, executes each
// call in order, and appends the tool results to both the prompt window and
// the session transcript.
func (al *AgentLoop) dispatchToolCalls(ctx context.Context, messages []providers.Message, response *providers.LLMResponse, opts turnOptions) []providers.Message {
	assistantMsg := providers.Message{Role: "assistant", Content: response.Content}
	records := make([]session.ToolCallRecord, 0, len(response.ToolCalls))
	for _, tc := range response.ToolCalls {
		argumentsJSON, _ := json.Marshal(tc.Arguments)
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: &providers.FunctionCall{
				Name:      tc.Name,
				Arguments: string(argumentsJSON),
			},
		})
		records = append(records, session.ToolCallRecord{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: string(argumentsJSON),
		})
	}
	messages = append(messages, assistantMsg)

	if !opts.NoHistory {
		if err := al.sessions.Append(opts.SessionKey, session.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: records,
		}); err != nil {
			logger.ErrorCF("agent", "Failed to append assistant tool-call message", map[string]interface{}{
				"error":       err.Error(),
				"session_key": opts.SessionKey,
			})
		}
	}

	for _, tc := range response.ToolCalls {
		argsJSON, _ := json.Marshal(tc.Arguments)
		logger.InfoCF("agent", fmt.Sprintf("Tool call: %s(%s)", tc.Name, utils.Truncate(string(argsJSON), 200)),
			map[string]interface{}{"tool": tc.Name})

		result := al.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, opts.Channel, opts.ChatID, opts.SenderID, nil)

		contentForLLM := result.ForLLM
		if contentForLLM == "" && result.Err != nil {
			contentForLLM = result.Err.Error()
		}

		messages = append(messages, providers.Message{
			Role:       "tool",
			Content:    contentForLLM,
			ToolCallID: tc.ID,
		})

		if !opts.NoHistory {
			if err := al.sessions.Append(opts.SessionKey, session.Message{
				Role:       "tool",
				Content:    contentForLLM,
				ToolCallID: tc.ID,
			}); err != nil {
				logger.ErrorCF("agent", "Failed to append tool message", map[string]interface{}{
					"error":       err.Error(),
					"session_key": opts.SessionKey,
					"tool":        tc.Name,
				})
			}
		}
	}
	return messages
}

// scheduleMemoryWriteBack feeds the finished exchange to the memory backend in
// the background. The file backend treats this as a no-op.
func (al *AgentLoop) scheduleMemoryWriteBack(opts turnOptions, finalContent string) {
	if al.memory == nil {
		return
	}
	msgs := []memory.ConversationMessage{
		{Role: "user", Content: opts.UserMessage},
		{Role: "assistant", Content: finalContent},
	}
	senderID := opts.SenderID
	sessionKey := opts.SessionKey
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), memoryWriteBackTimeout)
		defer cancel()
		if _, err := al.memory.Add(ctx, msgs, senderID, map[string]string{"session_key": sessionKey}); err != nil {
			logger.WarnCF("agent", "Memory write-back failed", map[string]interface{}{
				"error":       err.Error(),
				"session_key": sessionKey,
			})
		}
	}()
}

func toProviderMessages(messages []session.Message) []providers.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]providers.Message, 0, len(messages))
	for _, m := range messages {
		pm := providers.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			pm.ToolCalls = append(pm.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: &providers.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, pm)
	}
	return out
}
