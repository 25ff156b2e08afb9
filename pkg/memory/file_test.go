package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newFileStore(t *testing.T, indexEnabled bool) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir, indexEnabled)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func TestFileStore_AppendAndSearch(t *testing.T) {
	store, _ := newFileStore(t, false)

	if err := store.AppendLongTerm("pref", "prefers dark roast coffee #coffee"); err != nil {
		t.Fatalf("AppendLongTerm: %v", err)
	}
	if err := store.AppendDaily("note", "met @alice about the roadmap"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}

	result, err := store.Search(context.Background(), "coffee", "", 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 result, got %d", len(result.Items))
	}
	if !strings.Contains(result.Items[0].Content, "dark roast") {
		t.Fatalf("unexpected result: %+v", result.Items[0])
	}
}

func TestFileStore_QueryFilters(t *testing.T) {
	store, _ := newFileStore(t, false)

	if err := store.AppendLongTerm("pref", "prefers tabs over spaces"); err != nil {
		t.Fatalf("AppendLongTerm: %v", err)
	}
	if err := store.AppendLongTerm("fact", "works at Initech"); err != nil {
		t.Fatalf("AppendLongTerm: %v", err)
	}
	if err := store.AppendDaily("note", "standup moved to 10am #schedule"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}

	ctx := context.Background()

	result, err := store.Search(ctx, "kind:pref", "", 8)
	if err != nil {
		t.Fatalf("Search kind: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Metadata["type"] != "pref" {
		t.Fatalf("kind filter failed: %+v", result.Items)
	}

	result, err = store.Search(ctx, "scope:daily", "", 8)
	if err != nil {
		t.Fatalf("Search scope: %v", err)
	}
	if len(result.Items) != 1 || !strings.Contains(result.Items[0].Content, "standup") {
		t.Fatalf("scope filter failed: %+v", result.Items)
	}

	result, err = store.Search(ctx, "#schedule", "", 8)
	if err != nil {
		t.Fatalf("Search tag: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("tag filter failed: %+v", result.Items)
	}
}

func TestFileStore_MentionFilter(t *testing.T) {
	store, _ := newFileStore(t, false)

	if err := store.AppendDaily("note", "ping @bob about the deploy"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if err := store.AppendDaily("note", "review the deploy checklist"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}

	result, err := store.Search(context.Background(), "@bob deploy", "", 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Items) != 1 || !strings.Contains(result.Items[0].Content, "@bob") {
		t.Fatalf("mention filter failed: %+v", result.Items)
	}
}

func TestFileStore_AddIsNoOp(t *testing.T) {
	store, dir := newFileStore(t, false)

	items, err := store.Add(context.Background(), []ConversationMessage{
		{Role: "user", Content: "remember I like tea"},
	}, "u1", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items from Add, got %d", len(items))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files written by Add, got %d", len(entries))
	}
}

func TestFileStore_DeleteMovesToTrash(t *testing.T) {
	store, dir := newFileStore(t, false)

	if err := store.AppendLongTerm("fact", "temporary fact"); err != nil {
		t.Fatalf("AppendLongTerm: %v", err)
	}

	items, err := store.GetAll(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	ok, err := store.Delete(context.Background(), items[0].ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Fatalf("expected delete to report existence")
	}

	remaining, _ := store.GetAll(context.Background(), "", 10)
	if len(remaining) != 0 {
		t.Fatalf("expected no items after delete, got %d", len(remaining))
	}

	trash, err := os.ReadFile(filepath.Join(dir, trashDir, "deleted.md"))
	if err != nil {
		t.Fatalf("reading trash: %v", err)
	}
	if !strings.Contains(string(trash), "temporary fact") {
		t.Fatalf("deleted entry missing from trash: %s", trash)
	}
}

func TestFileStore_GetMemoryContext(t *testing.T) {
	store, dir := newFileStore(t, false)

	if err := store.AppendLongTerm("fact", "user lives in Lisbon"); err != nil {
		t.Fatalf("AppendLongTerm: %v", err)
	}
	daily := filepath.Join(dir, time.Now().Format("2006-01-02")+".md")
	if err := os.WriteFile(daily, []byte("- (note) shipped the release\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fragment, err := store.GetMemoryContext(context.Background(), "", "")
	if err != nil {
		t.Fatalf("GetMemoryContext: %v", err)
	}
	if !strings.Contains(fragment, "Lisbon") {
		t.Fatalf("long-term memory missing from context: %q", fragment)
	}
	if !strings.Contains(fragment, "shipped the release") {
		t.Fatalf("daily note missing from context: %q", fragment)
	}
}

func TestFileStore_EmptyContext(t *testing.T) {
	store, _ := newFileStore(t, false)

	fragment, err := store.GetMemoryContext(context.Background(), "", "")
	if err != nil {
		t.Fatalf("GetMemoryContext: %v", err)
	}
	if fragment != "" {
		t.Fatalf("expected empty context, got %q", fragment)
	}
}

func TestParseQuery(t *testing.T) {
	q := ParseQuery("kind:pref scope:daily #coffee @alice dark roast")
	if len(q.Kinds) != 1 || q.Kinds[0] != "pref" {
		t.Fatalf("kinds: %+v", q.Kinds)
	}
	if q.Scope != "daily" {
		t.Fatalf("scope: %q", q.Scope)
	}
	if len(q.Tags) != 1 || q.Tags[0] != "coffee" {
		t.Fatalf("tags: %+v", q.Tags)
	}
	if len(q.People) != 1 || q.People[0] != "alice" {
		t.Fatalf("people: %+v", q.People)
	}
	if len(q.Terms) != 2 {
		t.Fatalf("terms: %+v", q.Terms)
	}
}
