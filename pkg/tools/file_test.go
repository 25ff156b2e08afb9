package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePath_RestrictRejectsEscape(t *testing.T) {
	ws := t.TempDir()

	for _, path := range []string{"../outside.txt", "../../etc/passwd", "/etc/passwd"} {
		if _, err := validatePath(path, ws, true); err == nil {
			t.Fatalf("expected escape rejection for %q", path)
		}
	}

	resolved, err := validatePath("notes/today.md", ws, true)
	if err != nil {
		t.Fatalf("workspace-relative path rejected: %v", err)
	}
	if !strings.HasPrefix(resolved, ws) {
		t.Fatalf("resolved path %q not under workspace %q", resolved, ws)
	}
}

func TestValidatePath_UnrestrictedAllowsAbsolute(t *testing.T) {
	ws := t.TempDir()
	outside := filepath.Join(t.TempDir(), "elsewhere.txt")
	resolved, err := validatePath(outside, ws, false)
	if err != nil {
		t.Fatalf("unrestricted absolute path rejected: %v", err)
	}
	if resolved != outside {
		t.Fatalf("expected %q, got %q", outside, resolved)
	}
}

func TestWriteReadEditRoundTrip(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(ws, true)
	result := write.Execute(ctx, map[string]interface{}{
		"path":    "deep/dir/file.txt",
		"content": "hello world",
	})
	if result.IsError {
		t.Fatalf("write failed: %s", result.ForLLM)
	}

	read := NewReadFileTool(ws, true)
	result = read.Execute(ctx, map[string]interface{}{"path": "deep/dir/file.txt"})
	if result.IsError || result.ForLLM != "hello world" {
		t.Fatalf("read mismatch: %+v", result)
	}

	edit := NewEditFileTool(ws, true)
	result = edit.Execute(ctx, map[string]interface{}{
		"path":     "deep/dir/file.txt",
		"old_text": "world",
		"new_text": "nanobot",
	})
	if result.IsError {
		t.Fatalf("edit failed: %s", result.ForLLM)
	}

	data, err := os.ReadFile(filepath.Join(ws, "deep/dir/file.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello nanobot" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestEditFile_RejectsAmbiguousMatch(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "f.txt"), []byte("aa aa"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	edit := NewEditFileTool(ws, true)
	result := edit.Execute(context.Background(), map[string]interface{}{
		"path":     "f.txt",
		"old_text": "aa",
		"new_text": "bb",
	})
	if !result.IsError || !strings.Contains(result.ForLLM, "multiple times") {
		t.Fatalf("expected ambiguity error, got %+v", result)
	}

	result = edit.Execute(context.Background(), map[string]interface{}{
		"path":     "f.txt",
		"old_text": "zz",
		"new_text": "bb",
	})
	if !result.IsError || !strings.Contains(result.ForLLM, "not found") {
		t.Fatalf("expected not-found error, got %+v", result)
	}
}

func TestReadFile_SizeLimit(t *testing.T) {
	ws := t.TempDir()
	big := make([]byte, maxReadFileBytes+1)
	if err := os.WriteFile(filepath.Join(ws, "big.bin"), big, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	read := NewReadFileTool(ws, true)
	result := read.Execute(context.Background(), map[string]interface{}{"path": "big.bin"})
	if !result.IsError || !strings.Contains(result.ForLLM, "too large") {
		t.Fatalf("expected size-limit error, got %+v", result)
	}
}

func TestListDir(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "sub"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	list := NewListDirTool(ws, true)
	result := list.Execute(context.Background(), map[string]interface{}{})
	if result.IsError {
		t.Fatalf("list failed: %s", result.ForLLM)
	}
	if result.ForLLM != "a.txt\nsub/" {
		t.Fatalf("unexpected listing %q", result.ForLLM)
	}
}
