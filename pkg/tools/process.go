package tools

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// processOutputCap bounds the retained output per process; older bytes are
// discarded first.
const processOutputCap = 64 * 1024

const defaultPollTail = 4000

// bgProcess is one shell process under management. All mutable fields are
// guarded by mu; the reader goroutines only touch buf through absorb.
type bgProcess struct {
	id       string
	command  string
	dir      string
	started  time.Time
	finished time.Time
	alive    bool
	exit     int
	failure  string
	buf      []byte
	stdin    io.WriteCloser
	cancel   context.CancelFunc
	mu       sync.RWMutex
}

func (p *bgProcess) absorb(chunk []byte, limit int) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, chunk...)
	if limit > 0 && len(p.buf) > limit {
		p.buf = p.buf[len(p.buf)-limit:]
	}
}

func (p *bgProcess) report(tail int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Process %s\n", p.id)
	fmt.Fprintf(&b, "- Status: %s\n", p.status())
	fmt.Fprintf(&b, "- Command: %s\n", p.command)
	if p.dir != "" {
		fmt.Fprintf(&b, "- Working dir: %s\n", p.dir)
	}
	fmt.Fprintf(&b, "- Started: %s\n", p.started.Format(time.RFC3339))
	if !p.finished.IsZero() {
		fmt.Fprintf(&b, "- Finished: %s\n", p.finished.Format(time.RFC3339))
		fmt.Fprintf(&b, "- Exit code: %d\n", p.exit)
	}
	if p.failure != "" {
		fmt.Fprintf(&b, "- Error: %s\n", p.failure)
	}

	out := p.buf
	if tail > 0 && len(out) > tail {
		out = out[len(out)-tail:]
	}
	b.WriteString("- Output:\n")
	b.Write(out)
	return strings.TrimSpace(b.String())
}

// status assumes p.mu is held.
func (p *bgProcess) status() string {
	if p.alive {
		return "running"
	}
	return "completed"
}

// ProcessTool runs shell commands in the background and keeps them
// addressable by id for polling, stdin writes, and termination. Commands go
// through the same guard as the exec tool.
type ProcessTool struct {
	workspace string
	restrict  bool
	guard     *ExecTool
	outputCap int

	mu    sync.RWMutex
	procs map[string]*bgProcess
}

func NewProcessTool(workspace string, restrict bool) *ProcessTool {
	guard := NewExecTool(workspace, restrict)
	guard.SetTimeout(0)
	return &ProcessTool{
		workspace: workspace,
		restrict:  restrict,
		guard:     guard,
		outputCap: processOutputCap,
		procs:     map[string]*bgProcess{},
	}
}

func (t *ProcessTool) Name() string {
	return "process"
}

func (t *ProcessTool) Description() string {
	return "Run and manage background shell processes. Actions: start, list, poll, write, kill, clear. Use exec for short commands; use this for servers, watchers, and anything long-running."
}

func (t *ProcessTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"start", "list", "poll", "write", "kill", "clear"},
				"description": "What to do with the managed processes.",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run in the background (action=start).",
			},
			"process_id": map[string]interface{}{
				"type":        "string",
				"description": "Target process id (actions poll, write, kill, clear).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Text to write to the process stdin (action=write). A trailing newline is added when missing.",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory for action=start. Defaults to the workspace.",
			},
			"tail_chars": map[string]interface{}{
				"type":        "integer",
				"description": "How many trailing output chars to return for action=poll. Default 4000.",
				"minimum":     128.0,
				"maximum":     32000.0,
			},
			"all_completed": map[string]interface{}{
				"type":        "boolean",
				"description": "With action=clear and no process_id: drop every completed process record.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ProcessTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	action, _ := args["action"].(string)
	switch strings.TrimSpace(strings.ToLower(action)) {
	case "start":
		return t.start(args)
	case "list":
		return t.list()
	case "poll":
		return t.poll(args)
	case "write":
		return t.write(args)
	case "kill":
		return t.kill(args)
	case "clear":
		return t.clear(args)
	default:
		return ErrorResult("action must be one of: start, list, poll, write, kill, clear")
	}
}

// Close terminates every managed process and drops the records. Called on
// agent shutdown.
func (t *ProcessTool) Close() error {
	t.mu.Lock()
	procs := make([]*bgProcess, 0, len(t.procs))
	for _, p := range t.procs {
		procs = append(procs, p)
	}
	t.procs = map[string]*bgProcess{}
	t.mu.Unlock()

	var errs []string
	for _, p := range procs {
		p.mu.Lock()
		cancel := p.cancel
		stdin := p.stdin
		p.cancel = nil
		p.stdin = nil
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stdin != nil {
			if err := stdin.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("process teardown encountered %d error(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (t *ProcessTool) start(args map[string]interface{}) *ToolResult {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return ErrorResult("command is required for action=start")
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

	if guardErr := t.guard.guardCommand(command, cwd); guardErr != "" {
		return ErrorResult(guardErr)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(procCtx, "powershell", "-NoProfile", "-NonInteractive", "-Command", command)
	} else {
		cmd = exec.CommandContext(procCtx, "sh", "-c", command)
	}
	cmd.Dir = cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return ErrorResult(fmt.Sprintf("failed to create stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return ErrorResult(fmt.Sprintf("failed to create stderr pipe: %v", err))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return ErrorResult(fmt.Sprintf("failed to create stdin pipe: %v", err))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return ErrorResult(fmt.Sprintf("failed to start process: %v", err))
	}

	proc := &bgProcess{
		id:      "proc-" + uuid.NewString(),
		command: command,
		dir:     cwd,
		started: time.Now(),
		alive:   true,
		exit:    -1,
		stdin:   stdin,
		cancel:  cancel,
	}

	t.mu.Lock()
	t.procs[proc.id] = proc
	t.mu.Unlock()

	go t.drain(proc, stdout)
	go t.drain(proc, stderr)
	go t.reap(proc, cmd)

	return UserResult(fmt.Sprintf("Started process %s\n- Command: %s\n- Working dir: %s", proc.id, command, cwd))
}

func (t *ProcessTool) drain(proc *bgProcess, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			proc.absorb(buf[:n], t.outputCap)
		}
		if err != nil {
			if err != io.EOF {
				proc.absorb([]byte("\n[stream error] "+err.Error()+"\n"), t.outputCap)
			}
			return
		}
	}
}

func (t *ProcessTool) reap(proc *bgProcess, cmd *exec.Cmd) {
	err := cmd.Wait()
	proc.mu.Lock()
	defer proc.mu.Unlock()
	proc.alive = false
	proc.finished = time.Now()
	proc.exit = 0
	if err != nil {
		proc.failure = err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			proc.exit = exitErr.ExitCode()
		} else {
			proc.exit = -1
		}
	}
}

func (t *ProcessTool) list() *ToolResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.procs) == 0 {
		return UserResult("No managed processes.")
	}
	lines := []string{"Managed processes:"}
	for _, p := range t.procs {
		p.mu.RLock()
		lines = append(lines, fmt.Sprintf("- %s [%s] %s (started %s)", p.id, p.status(), p.command, p.started.Format(time.RFC3339)))
		p.mu.RUnlock()
	}
	return UserResult(strings.Join(lines, "\n"))
}

func (t *ProcessTool) poll(args map[string]interface{}) *ToolResult {
	id, _ := args["process_id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrorResult("process_id is required for action=poll")
	}
	tail := defaultPollTail
	if raw, ok := args["tail_chars"].(float64); ok && raw >= 128 {
		tail = int(raw)
	}
	proc := t.get(id)
	if proc == nil {
		return ErrorResult(fmt.Sprintf("process %s not found", id))
	}
	return UserResult(proc.report(tail))
}

func (t *ProcessTool) write(args map[string]interface{}) *ToolResult {
	id, _ := args["process_id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrorResult("process_id is required for action=write")
	}
	input, _ := args["input"].(string)
	if input == "" {
		return ErrorResult("input is required for action=write")
	}
	proc := t.get(id)
	if proc == nil {
		return ErrorResult(fmt.Sprintf("process %s not found", id))
	}

	proc.mu.RLock()
	defer proc.mu.RUnlock()
	if !proc.alive || proc.stdin == nil {
		return ErrorResult("process is not accepting input")
	}
	if !strings.HasSuffix(input, "\n") {
		input += "\n"
	}
	if _, err := io.WriteString(proc.stdin, input); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err))
	}
	return UserResult(fmt.Sprintf("Wrote %d bytes to %s", len(input), id))
}

func (t *ProcessTool) kill(args map[string]interface{}) *ToolResult {
	id, _ := args["process_id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrorResult("process_id is required for action=kill")
	}
	proc := t.get(id)
	if proc == nil {
		return ErrorResult(fmt.Sprintf("process %s not found", id))
	}
	proc.mu.RLock()
	alive := proc.alive
	cancel := proc.cancel
	proc.mu.RUnlock()
	if !alive {
		return UserResult(fmt.Sprintf("Process %s is already completed.", id))
	}
	if cancel != nil {
		cancel()
	}
	return UserResult(fmt.Sprintf("Kill signal sent to %s", id))
}

func (t *ProcessTool) clear(args map[string]interface{}) *ToolResult {
	id, _ := args["process_id"].(string)
	id = strings.TrimSpace(id)
	allCompleted, _ := args["all_completed"].(bool)

	t.mu.Lock()
	defer t.mu.Unlock()

	if id != "" {
		delete(t.procs, id)
		return UserResult(fmt.Sprintf("Removed process record %s", id))
	}
	if !allCompleted {
		return ErrorResult("set all_completed=true or provide process_id")
	}
	removed := 0
	for pid, p := range t.procs {
		p.mu.RLock()
		alive := p.alive
		p.mu.RUnlock()
		if alive {
			continue
		}
		delete(t.procs, pid)
		removed++
	}
	return UserResult(fmt.Sprintf("Removed %d completed process records", removed))
}

func (t *ProcessTool) get(id string) *bgProcess {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.procs[id]
}
