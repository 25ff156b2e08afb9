package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetAndGetLastTarget(t *testing.T) {
	ws := t.TempDir()
	m := NewManager(ws)

	if ch, chat := m.LastTarget(); ch != "" || chat != "" {
		t.Fatalf("fresh manager must have empty target, got %q/%q", ch, chat)
	}

	if err := m.SetLastTarget("discord", "chat7"); err != nil {
		t.Fatalf("SetLastTarget: %v", err)
	}
	ch, chat := m.LastTarget()
	if ch != "discord" || chat != "chat7" {
		t.Fatalf("LastTarget = %q/%q", ch, chat)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	ws := t.TempDir()

	m := NewManager(ws)
	if err := m.SetLastTarget("discord", "chat7"); err != nil {
		t.Fatalf("SetLastTarget: %v", err)
	}

	reloaded := NewManager(ws)
	ch, chat := reloaded.LastTarget()
	if ch != "discord" || chat != "chat7" {
		t.Fatalf("reloaded target = %q/%q", ch, chat)
	}
}

func TestCorruptStateFileStartsEmpty(t *testing.T) {
	ws := t.TempDir()
	stateDir := filepath.Join(ws, "state")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "runtime.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewManager(ws)
	if ch, chat := m.LastTarget(); ch != "" || chat != "" {
		t.Fatalf("corrupt state must load empty, got %q/%q", ch, chat)
	}
}
