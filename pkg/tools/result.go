package tools

// ToolResult is what every tool execution returns. ForLLM always carries the
// string fed back to the model; ForUser optionally overrides what a channel
// shows the user. Silent results are delivered to the model only.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Silent  bool
	Async   bool
	Err     error
}

func UserResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, ForUser: content}
}

func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func AsyncResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Async: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}
