package agent

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/nanobot/pkg/bus"
)

const helpText = `**Commands**
- /help - show this help
- /new - start a fresh conversation
- /clear - clear the current session
- /session [key] - show session info
- /sessions - list stored sessions
- /tools - list available tools
- /model [list|set <name>] - show or switch the model
- /context [details] - show context usage`

// handleCommand intercepts slash commands before the turn starts. Commands
// never reach the provider.
func (al *AgentLoop) handleCommand(msg bus.InboundMessage) (string, bool) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}

	parts := strings.Fields(content)
	cmd := parts[0]
	args := parts[1:]
	sessionKey := sessionKeyFor(msg)

	switch cmd {
	case "/help":
		return helpText, true

	case "/new":
		if err := al.sessions.Clear(sessionKey); err != nil {
			return fmt.Sprintf("Failed to start a new conversation: %v", err), true
		}
		return "Started a new conversation.", true

	case "/clear":
		if err := al.sessions.Clear(sessionKey); err != nil {
			return fmt.Sprintf("Failed to clear session: %v", err), true
		}
		return "Session cleared.", true

	case "/session":
		key := sessionKey
		if len(args) > 0 {
			key = args[0]
		}
		sess := al.sessions.GetOrCreate(key)
		return fmt.Sprintf("**Session** `%s`\n- Messages: %d\n- Summary: %s\n- Updated: %s",
			key, len(sess.Messages), boolWord(sess.Summary != "", "yes", "none"),
			sess.UpdatedAt.Format("2006-01-02 15:04:05")), true

	case "/sessions":
		infos, err := al.sessions.List()
		if err != nil {
			return fmt.Sprintf("Failed to list sessions: %v", err), true
		}
		if len(infos) == 0 {
			return "No stored sessions.", true
		}
		lines := []string{"**Sessions**"}
		for _, info := range infos {
			lines = append(lines, fmt.Sprintf("- `%s` (%d messages, %s)",
				info.Key, info.MessageCount, info.UpdatedAt.Format("2006-01-02 15:04")))
		}
		return strings.Join(lines, "\n"), true

	case "/tools":
		summaries := al.tools.GetSummaries()
		if len(summaries) == 0 {
			return "No tools registered.", true
		}
		return "**Tools**\n" + strings.Join(summaries, "\n"), true

	case "/model":
		if len(args) == 0 {
			return fmt.Sprintf("Current model: `%s`", al.model), true
		}
		switch args[0] {
		case "list":
			return fmt.Sprintf("Current model: `%s`\nDefault: `%s`\nAny model id your provider accepts can be set with /model set <name>.",
				al.model, al.provider.GetDefaultModel()), true
		case "set":
			if len(args) < 2 {
				return "Usage: /model set <name>", true
			}
			old := al.model
			al.SetModel(args[1])
			return fmt.Sprintf("Switched model from `%s` to `%s`", old, args[1]), true
		default:
			return "Usage: /model [list|set <name>]", true
		}

	case "/context":
		sess := al.sessions.GetOrCreate(sessionKey)
		used := historyTokens(sess.Messages)
		budget := al.compactor.Budget()
		out := fmt.Sprintf("**Context**\n- History: %d messages, ~%d tokens\n- Budget: %d tokens\n- Summary: %s",
			len(sess.Messages), used, budget, boolWord(sess.Summary != "", "accumulated", "none"))
		if len(args) > 0 && args[0] == "details" {
			prompt := al.contextBuilder.BuildSystemPrompt()
			out += fmt.Sprintf("\n- System prompt: %d chars, ~%d tokens\n- Model: `%s`",
				len(prompt), estimateTokens(prompt), al.model)
			if sess.Summary != "" {
				out += "\n\n**Accumulated summary**\n" + sess.Summary
			}
		}
		return out, true

	default:
		return fmt.Sprintf("Unknown command: %s\n\n%s", cmd, helpText), true
	}
}

func boolWord(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
