package agent

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/providers"
	"github.com/dotsetgreg/nanobot/pkg/skills"
	"github.com/dotsetgreg/nanobot/pkg/tools"
)

// bootstrapFiles are injected into every system prompt when present in the
// workspace, in this order.
var bootstrapFiles = []string{"SOUL.md", "USER.md", "AGENTS.md"}

type ContextBuilder struct {
	workspace    string
	skillsLoader *skills.SkillsLoader
	tools        *tools.ToolRegistry
}

func globalConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nanobot")
}

func NewContextBuilder(workspace string) *ContextBuilder {
	wd, _ := os.Getwd()
	builtinSkillsDir := filepath.Join(wd, "skills")
	globalSkillsDir := filepath.Join(globalConfigDir(), "skills")

	return &ContextBuilder{
		workspace:    workspace,
		skillsLoader: skills.NewSkillsLoader(workspace, globalSkillsDir, builtinSkillsDir),
	}
}

// SetToolsRegistry wires the registry used for the dynamic tools section.
func (cb *ContextBuilder) SetToolsRegistry(registry *tools.ToolRegistry) {
	cb.tools = registry
}

func (cb *ContextBuilder) identity() string {
	workspacePath, _ := filepath.Abs(cb.workspace)
	rt := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	return fmt.Sprintf(`# nanobot

You are nanobot, a personal AI assistant.

## Runtime
%s

## Workspace
Your workspace is at: %s
- Memory: %s/memory/MEMORY.md plus daily notes
- Skills: %s/skills/{skill-name}/SKILL.md

%s

## Rules

1. Use tools for every action (scheduling, sending messages, running commands). Never pretend an action happened.
2. When using tools, briefly say what you are doing.
3. Save durable facts, preferences, and decisions with the memory tools.`,
		rt, workspacePath, workspacePath, workspacePath, cb.toolsSection())
}

func (cb *ContextBuilder) toolsSection() string {
	if cb.tools == nil {
		return ""
	}
	summaries := cb.tools.GetSummaries()
	if len(summaries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	for _, s := range summaries {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String()
}

// BuildSystemPrompt assembles identity, bootstrap files, and the skills
// summary, joined with section separators.
func (cb *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{cb.identity()}

	if bootstrap := cb.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	if always := cb.skillsLoader.AlwaysLoaded(); len(always) > 0 {
		if content := cb.skillsLoader.LoadSkillsForContext(always); content != "" {
			parts = append(parts, "# Active Skills\n\n"+content)
		}
	}

	if summary := cb.skillsLoader.BuildSkillsSummary(); summary != "" {
		parts = append(parts, fmt.Sprintf(`# Skills

These skills extend your capabilities. To use one, read its SKILL.md with the read_file tool.

%s`, summary))
	}

	return strings.Join(parts, "\n\n---\n\n")
}

func (cb *ContextBuilder) loadBootstrapFiles() string {
	var sections []string
	for _, filename := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(cb.workspace, filename))
		if err != nil {
			continue
		}
		body := strings.TrimSpace(string(data))
		if body == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", filename, body))
	}
	return strings.Join(sections, "\n\n")
}

// BuildMessages assembles the provider message list: the system prompt, a
// dynamic system block (session info, accumulated summary, memory context),
// the history window, and the current user message. Image media attached to
// the current message become image_url parts of that message.
func (cb *ContextBuilder) BuildMessages(history []providers.Message, summary, memoryContext, currentMessage string, media []string, channel, chatID string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt()

	logger.DebugCF("agent", "System prompt built", map[string]interface{}{
		"total_chars": len(systemPrompt),
		"history_len": len(history),
	})

	// Providers reject a tool message with no preceding assistant tool call.
	for len(history) > 0 && history[0].Role == "tool" {
		logger.DebugCF("agent", "Dropping orphaned leading tool message", nil)
		history = history[1:]
	}

	messages := []providers.Message{{Role: "system", Content: systemPrompt}}

	dynamicBlocks := make([]string, 0, 3)
	if channel != "" && chatID != "" {
		dynamicBlocks = append(dynamicBlocks, fmt.Sprintf("## Current Session\nChannel: %s\nChat ID: %s", channel, chatID))
	}
	if strings.TrimSpace(summary) != "" {
		dynamicBlocks = append(dynamicBlocks, "## Summary of Earlier Conversation\n\n"+strings.TrimSpace(summary))
	}
	if strings.TrimSpace(memoryContext) != "" {
		dynamicBlocks = append(dynamicBlocks, strings.TrimSpace(memoryContext))
	}
	if len(dynamicBlocks) > 0 {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: strings.Join(dynamicBlocks, "\n\n"),
		})
	}

	messages = append(messages, history...)

	if userMsg, ok := buildUserMessage(currentMessage, media); ok {
		messages = append(messages, userMsg)
	}
	return messages
}

// buildUserMessage renders the current user turn. Image media become
// image_url parts next to the text; non-image media were already annotated
// inline by the channel.
func buildUserMessage(content string, media []string) (providers.Message, bool) {
	content = strings.TrimSpace(content)
	parts := imageParts(media)
	if len(parts) == 0 {
		if content == "" {
			return providers.Message{}, false
		}
		return providers.Message{Role: "user", Content: content}, true
	}
	if content != "" {
		parts = append([]providers.ContentPart{{Type: "text", Text: content}}, parts...)
	}
	return providers.Message{Role: "user", Content: content, Parts: parts}, true
}

func imageParts(media []string) []providers.ContentPart {
	var parts []providers.ContentPart
	for _, ref := range media {
		if !isImageRef(ref) {
			continue
		}
		parts = append(parts, providers.ContentPart{
			Type:     "image_url",
			ImageURL: &providers.ImageURL{URL: ref},
		})
	}
	return parts
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// isImageRef accepts image data URLs and URLs or paths with an image
// extension.
func isImageRef(ref string) bool {
	if strings.HasPrefix(ref, "data:image/") {
		return true
	}
	trimmed := strings.ToLower(ref)
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return imageExtensions[path.Ext(trimmed)]
}

// SkillsInfo reports loaded skills for startup logging.
func (cb *ContextBuilder) SkillsInfo() map[string]interface{} {
	all := cb.skillsLoader.ListSkills()
	names := make([]string, 0, len(all))
	for _, s := range all {
		names = append(names, s.Name)
	}
	return map[string]interface{}{
		"count": len(all),
		"names": names,
	}
}
