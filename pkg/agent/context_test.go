package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetgreg/nanobot/pkg/providers"
)

func TestBuildMessages_Order(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	history := []providers.Message{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "earlier reply"},
	}
	messages := cb.BuildMessages(history, "the summary", "## Relevant memories\n- likes go", "now", nil, "cli", "direct")

	if messages[0].Role != "system" {
		t.Fatalf("first message must be the system prompt, got %q", messages[0].Role)
	}
	if messages[1].Role != "system" || !strings.Contains(messages[1].Content, "the summary") {
		t.Fatalf("expected dynamic system block with summary, got %+v", messages[1])
	}
	if !strings.Contains(messages[1].Content, "likes go") {
		t.Fatalf("expected memory context in dynamic block, got %q", messages[1].Content)
	}
	if !strings.Contains(messages[1].Content, "Channel: cli") {
		t.Fatalf("expected session info in dynamic block, got %q", messages[1].Content)
	}

	last := messages[len(messages)-1]
	if last.Role != "user" || last.Content != "now" {
		t.Fatalf("last message must be the current user message, got %+v", last)
	}
}

func TestBuildMessages_DropsOrphanedToolMessages(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	history := []providers.Message{
		{Role: "tool", Content: "orphan", ToolCallID: "gone"},
		{Role: "user", Content: "hello"},
	}
	messages := cb.BuildMessages(history, "", "", "hi", nil, "cli", "direct")

	for _, m := range messages {
		if m.Role == "tool" {
			t.Fatalf("orphaned tool message survived: %+v", m)
		}
	}
}

func TestBuildMessages_ImageMediaBecomesParts(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	media := []string{
		"data:image/png;base64,iVBORw0KGgo=",
		"https://cdn.example.com/photo.jpg?size=large",
		"https://cdn.example.com/notes.pdf",
	}
	messages := cb.BuildMessages(nil, "", "", "what is in this picture?", media, "discord", "42")

	last := messages[len(messages)-1]
	if last.Role != "user" {
		t.Fatalf("last message must be the user turn, got %q", last.Role)
	}
	if len(last.Parts) != 3 {
		t.Fatalf("expected text part plus two image parts, got %+v", last.Parts)
	}
	if last.Parts[0].Type != "text" || last.Parts[0].Text != "what is in this picture?" {
		t.Fatalf("first part must carry the text, got %+v", last.Parts[0])
	}
	for _, p := range last.Parts[1:] {
		if p.Type != "image_url" || p.ImageURL == nil {
			t.Fatalf("expected image_url part, got %+v", p)
		}
	}
	if last.Parts[1].ImageURL.URL != media[0] {
		t.Fatalf("data URL must pass through unchanged, got %q", last.Parts[1].ImageURL.URL)
	}
}

func TestBuildMessages_MediaOnlyStillEmitsUserMessage(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	messages := cb.BuildMessages(nil, "", "", "", []string{"data:image/jpeg;base64,/9j/4AAQ"}, "discord", "42")

	last := messages[len(messages)-1]
	if last.Role != "user" || len(last.Parts) != 1 {
		t.Fatalf("image without text must still produce a user message, got %+v", last)
	}
	if last.Parts[0].Type != "image_url" {
		t.Fatalf("expected a lone image part, got %+v", last.Parts[0])
	}
}

func TestIsImageRef(t *testing.T) {
	cases := map[string]bool{
		"data:image/png;base64,abc":           true,
		"https://cdn.example.com/a.PNG":       true,
		"https://cdn.example.com/a.webp#frag": true,
		"https://cdn.example.com/voice.ogg":   false,
		"data:audio/mpeg;base64,abc":          false,
		"https://cdn.example.com/report.pdf":  false,
	}
	for ref, want := range cases {
		if got := isImageRef(ref); got != want {
			t.Fatalf("isImageRef(%q) = %v, want %v", ref, got, want)
		}
	}
}

func TestBuildSystemPrompt_BootstrapFiles(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "SOUL.md"), []byte("Be concise."), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws, "USER.md"), []byte("The user is Sam."), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cb := NewContextBuilder(ws)
	prompt := cb.BuildSystemPrompt()

	if !strings.Contains(prompt, "Be concise.") || !strings.Contains(prompt, "The user is Sam.") {
		t.Fatalf("bootstrap files missing from system prompt")
	}
	soulIdx := strings.Index(prompt, "Be concise.")
	userIdx := strings.Index(prompt, "The user is Sam.")
	if soulIdx > userIdx {
		t.Fatalf("SOUL.md must come before USER.md")
	}
}

func TestBuildSystemPrompt_SkillsSummary(t *testing.T) {
	ws := t.TempDir()
	skillDir := filepath.Join(ws, "skills", "weather")
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := "---\nname: weather\ndescription: Fetch weather reports\n---\nUse the API.\n"
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cb := NewContextBuilder(ws)
	prompt := cb.BuildSystemPrompt()
	if !strings.Contains(prompt, "weather") || !strings.Contains(prompt, "Fetch weather reports") {
		t.Fatalf("skills summary missing from system prompt")
	}
}
