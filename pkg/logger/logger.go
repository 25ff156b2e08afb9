package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	mu       sync.Mutex
	level    = INFO
	out      = os.Stderr
	fileSink *os.File
)

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetLogFile mirrors log output into the given file in addition to stderr.
func SetLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
	}
	fileSink = f
	return nil
}

func logLine(l Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(levelNames[l])
	b.WriteString("] ")
	b.WriteString(component)
	b.WriteString(": ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(formatFieldValue(fields[k]))
		}
		b.WriteString("}")
	}
	b.WriteString("\n")

	line := b.String()
	fmt.Fprint(out, line)
	if fileSink != nil {
		fmt.Fprint(fileSink, line)
	}
}

func formatFieldValue(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case error:
		return typed.Error()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func DebugC(component, msg string) { logLine(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { logLine(INFO, component, msg, nil) }
func WarnC(component, msg string)  { logLine(WARN, component, msg, nil) }
func ErrorC(component, msg string) { logLine(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logLine(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logLine(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logLine(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logLine(ERROR, component, msg, fields)
}
