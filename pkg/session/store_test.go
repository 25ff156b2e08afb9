package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStore_AppendAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	key := "cli:direct"
	if err := store.AppendMessage(key, "user", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.AppendMessage(key, "assistant", "hi there"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	// Reload through a fresh store to exercise the on-disk format.
	store2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sess := store2.GetOrCreate(key)
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 messages after reload, got %d", len(sess.Messages))
	}
	if sess.Messages[0].Role != "user" || sess.Messages[0].Content != "hello" {
		t.Fatalf("unexpected first message: %+v", sess.Messages[0])
	}
	if sess.Messages[1].Role != "assistant" || sess.Messages[1].Content != "hi there" {
		t.Fatalf("unexpected second message: %+v", sess.Messages[1])
	}
}

func TestStore_SafeFilenameForChannelKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := store.AppendMessage("discord:12345", "user", "hey"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 session file, got %d", len(entries))
	}
	name := entries[0].Name()
	if strings.Contains(name, ":") {
		t.Fatalf("session filename contains colon: %s", name)
	}
	if name != "discord_12345.jsonl" {
		t.Fatalf("unexpected filename %s", name)
	}
}

func TestStore_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cli_direct.jsonl")
	content := `{"_type":"metadata","key":"cli:direct","created_at":"2026-01-02T10:00:00Z","updated_at":"2026-01-02T10:00:00Z"}
{"role":"user","content":"first","timestamp":"2026-01-02T10:00:01Z"}
{not valid json
{"role":"assistant","content":"second","timestamp":"2026-01-02T10:00:02Z"}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sess := store.GetOrCreate("cli:direct")
	if len(sess.Messages) != 2 {
		t.Fatalf("expected corrupt line skipped, got %d messages", len(sess.Messages))
	}
	if sess.Messages[1].Content != "second" {
		t.Fatalf("expected messages to keep append order, got %+v", sess.Messages)
	}
}

func TestStore_ReplaceMessagesRewritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	key := "cli:direct"
	for i := 0; i < 5; i++ {
		if err := store.AppendMessage(key, "user", "msg"); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	kept := []Message{{Role: "user", Content: "latest"}}
	if err := store.ReplaceMessages(key, kept, "summary of earlier talk"); err != nil {
		t.Fatalf("ReplaceMessages: %v", err)
	}

	store2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sess := store2.GetOrCreate(key)
	if len(sess.Messages) != 1 {
		t.Fatalf("expected 1 message after replace, got %d", len(sess.Messages))
	}
	if sess.Summary != "summary of earlier talk" {
		t.Fatalf("expected summary persisted, got %q", sess.Summary)
	}

	// No temp files should be left behind.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestStore_ClearKeepsSessionAlive(t *testing.T) {
	store := newTestStore(t)
	key := "cli:direct"
	if err := store.AppendMessage(key, "user", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.Clear(key); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	sess := store.GetOrCreate(key)
	if len(sess.Messages) != 0 {
		t.Fatalf("expected empty transcript after clear, got %d", len(sess.Messages))
	}
	if sess.Summary != "" {
		t.Fatalf("expected empty summary after clear, got %q", sess.Summary)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppendMessage("cli:a", "user", "first session"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.AppendMessage("discord:b", "user", "second session"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	for _, info := range infos {
		if info.MessageCount != 1 {
			t.Fatalf("expected 1 message per session, got %d for %s", info.MessageCount, info.Key)
		}
	}
}

func TestStore_DeleteRemovesFile(t *testing.T) {
	store := newTestStore(t)
	key := "cli:gone"
	if err := store.AppendMessage(key, "user", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no sessions after delete, got %d", len(infos))
	}
}
