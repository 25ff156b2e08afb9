package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const (
	defaultExecTimeout     = 60 * time.Second
	defaultExecOutputBytes = 32000
)

var blockedCommandFragments = []string{
	"rm -rf /",
	"mkfs",
	":(){",
	"dd if=/dev/zero",
}

// ExecTool runs one-shot shell commands with a timeout and bounded output.
// Long-lived commands belong to ProcessTool.
type ExecTool struct {
	workspace string
	restrict  bool
	timeout   time.Duration
	maxOutput int
}

func NewExecTool(workspace string, restrict bool) *ExecTool {
	return &ExecTool{
		workspace: workspace,
		restrict:  restrict,
		timeout:   defaultExecTimeout,
		maxOutput: defaultExecOutputBytes,
	}
}

// SetTimeout overrides the per-call timeout. Zero disables it.
func (t *ExecTool) SetTimeout(d time.Duration) {
	t.timeout = d
}

func (t *ExecTool) Name() string {
	return "exec"
}

func (t *ExecTool) Description() string {
	return "Execute a shell command in the workspace and return its output. Commands time out after 60 seconds; use the process tool for long-running work."
}

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run",
				"minLength":   1.0,
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory (workspace-relative)",
			},
		},
		"required": []string{"command"},
	}
}

// guardCommand rejects commands that target paths outside the workspace or
// match known destructive patterns. An empty return means the command passes.
func (t *ExecTool) guardCommand(command, cwd string) string {
	lowered := strings.ToLower(command)
	for _, fragment := range blockedCommandFragments {
		if strings.Contains(lowered, fragment) {
			return fmt.Sprintf("command rejected: contains blocked pattern %q", fragment)
		}
	}
	if t.restrict && t.workspace != "" && cwd != "" {
		if _, err := validatePath(cwd, t.workspace, true); err != nil {
			return err.Error()
		}
	}
	return ""
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return ErrorResult("command is required")
	}

	cwd := t.workspace
	if wd, ok := args["working_dir"].(string); ok && strings.TrimSpace(wd) != "" {
		resolved, err := validatePath(wd, t.workspace, t.restrict)
		if err != nil {
			return ErrorResult(err.Error())
		}
		cwd = resolved
	}
	if cwd == "" {
		cwd = "."
	}

	if guardErr := t.guardCommand(command, cwd); guardErr != "" {
		return ErrorResult(guardErr)
	}

	execCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "powershell", "-NoProfile", "-NonInteractive", "-Command", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	}
	cmd.Dir = cwd

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	text := output.String()
	if len(text) > t.maxOutput {
		text = text[len(text)-t.maxOutput:]
		text = "...(truncated)\n" + text
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", t.timeout, text))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, text))
	}
	if strings.TrimSpace(text) == "" {
		return UserResult("(no output)")
	}
	return UserResult(text)
}
