package tools

import (
	"context"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"
)

var processIDPattern = regexp.MustCompile(`proc-[a-f0-9-]+`)

func startedProcessID(t *testing.T, text string) string {
	t.Helper()
	id := processIDPattern.FindString(text)
	if id == "" {
		t.Fatalf("no process id in %q", text)
	}
	return id
}

func sleepCommand() string {
	if runtime.GOOS == "windows" {
		return "Start-Sleep -Seconds 5"
	}
	return "sleep 5"
}

func TestProcessStartAndPoll(t *testing.T) {
	tool := NewProcessTool("", false)
	defer tool.Close()

	start := tool.Execute(context.Background(), map[string]interface{}{
		"action":  "start",
		"command": "echo background-job-output",
	})
	if start.IsError {
		t.Fatalf("start failed: %s", start.ForLLM)
	}
	id := startedProcessID(t, start.ForLLM)

	time.Sleep(120 * time.Millisecond)
	poll := tool.Execute(context.Background(), map[string]interface{}{
		"action":     "poll",
		"process_id": id,
		"tail_chars": float64(4000),
	})
	if poll.IsError {
		t.Fatalf("poll failed: %s", poll.ForLLM)
	}
	if !strings.Contains(poll.ForLLM, "background-job-output") {
		t.Fatalf("poll output missing command output: %q", poll.ForLLM)
	}
	if !strings.Contains(poll.ForLLM, "completed") {
		t.Fatalf("finished process must report completed, got %q", poll.ForLLM)
	}
}

func TestProcessKill(t *testing.T) {
	tool := NewProcessTool("", false)
	defer tool.Close()

	start := tool.Execute(context.Background(), map[string]interface{}{
		"action":  "start",
		"command": sleepCommand(),
	})
	if start.IsError {
		t.Fatalf("start failed: %s", start.ForLLM)
	}
	id := startedProcessID(t, start.ForLLM)

	kill := tool.Execute(context.Background(), map[string]interface{}{
		"action":     "kill",
		"process_id": id,
	})
	if kill.IsError {
		t.Fatalf("kill failed: %s", kill.ForLLM)
	}
}

func TestProcessOutputIsBounded(t *testing.T) {
	proc := &bgProcess{}
	chunk := []byte(strings.Repeat("y", 600))
	for i := 0; i < 5; i++ {
		proc.absorb(chunk, 1000)
	}
	if len(proc.buf) != 1000 {
		t.Fatalf("retained output = %d bytes, want the 1000-byte cap", len(proc.buf))
	}

	proc.absorb([]byte("tail-marker"), 1000)
	if !strings.HasSuffix(string(proc.buf), "tail-marker") {
		t.Fatalf("newest output must survive trimming, got tail %q", string(proc.buf[len(proc.buf)-20:]))
	}
}

func TestProcessCloseStopsAndClears(t *testing.T) {
	tool := NewProcessTool("", false)

	start := tool.Execute(context.Background(), map[string]interface{}{
		"action":  "start",
		"command": sleepCommand(),
	})
	if start.IsError {
		t.Fatalf("start failed: %s", start.ForLLM)
	}
	if err := tool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	list := tool.Execute(context.Background(), map[string]interface{}{"action": "list"})
	if list.IsError {
		t.Fatalf("list failed: %s", list.ForLLM)
	}
	if !strings.Contains(strings.ToLower(list.ForLLM), "no managed processes") {
		t.Fatalf("Close must clear process records, got %q", list.ForLLM)
	}
}

func TestProcessStartRequiresCommand(t *testing.T) {
	tool := NewProcessTool("", false)
	result := tool.Execute(context.Background(), map[string]interface{}{"action": "start"})
	if !result.IsError || !strings.Contains(result.ForLLM, "command is required") {
		t.Fatalf("expected missing-command error, got %+v", result)
	}
}
