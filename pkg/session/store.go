package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/utils"
)

// ToolCallRecord captures one tool invocation requested by an assistant
// message. Arguments hold the raw JSON argument object.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one conversation entry in a session transcript. ToolCalls is set
// on assistant messages that requested tools; ToolCallID ties a tool message
// back to the assistant request it answers.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Session is an in-memory view of one conversation keyed by "<channel>:<chat-id>".
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"-"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// metadataLine is the first record of every session file. The _type marker
// distinguishes it from message records during replay.
type metadataLine struct {
	Type      string    `json:"_type"`
	Key       string    `json:"key"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions as one JSONL file each under dir. Loaded sessions
// are cached; all mutating operations write through to disk.
type Store struct {
	dir      string
	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{
		dir:      dir,
		sessions: make(map[string]*Session),
	}, nil
}

func (s *Store) filePath(key string) string {
	return filepath.Join(s.dir, utils.SafeFilename(key)+".jsonl")
}

// GetOrCreate returns the cached session for key, loading it from disk on
// first access and creating a fresh one if no file exists.
func (s *Store) GetOrCreate(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		return sess
	}

	sess, err := s.loadLocked(key)
	if err != nil {
		logger.WarnCF("session", "Failed to load session, starting fresh", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		sess = nil
	}
	if sess == nil {
		now := time.Now()
		sess = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
	}
	s.sessions[key] = sess
	return sess
}

func (s *Store) loadLocked(key string) (*Session, error) {
	f, err := os.Open(s.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sess := &Session{Key: key}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var probe struct {
			Type string `json:"_type"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			logger.WarnCF("session", "Skipping corrupt session line", map[string]interface{}{
				"key":  key,
				"line": lineNo,
			})
			continue
		}

		if probe.Type == "metadata" {
			var meta metadataLine
			if err := json.Unmarshal([]byte(line), &meta); err == nil {
				sess.Summary = meta.Summary
				sess.CreatedAt = meta.CreatedAt
				sess.UpdatedAt = meta.UpdatedAt
				if meta.Key != "" {
					sess.Key = meta.Key
				}
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			logger.WarnCF("session", "Skipping corrupt session line", map[string]interface{}{
				"key":  key,
				"line": lineNo,
			})
			continue
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	return sess, nil
}

// AppendMessage adds one plain message and appends it to the session file
// without rewriting the transcript.
func (s *Store) AppendMessage(key, role, content string) error {
	return s.Append(key, Message{Role: role, Content: content})
}

// Append adds one message record, stamping the timestamp when unset.
func (s *Store) Append(key string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		loaded, err := s.loadLocked(key)
		if err != nil {
			return err
		}
		if loaded == nil {
			now := time.Now()
			loaded = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
		}
		sess = loaded
		s.sessions[key] = sess
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp

	path := s.filePath(key)
	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	if isNew {
		metaData, err := json.Marshal(metadataLine{
			Type:      "metadata",
			Key:       sess.Key,
			Summary:   sess.Summary,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
		if err != nil {
			return err
		}
		if _, err := f.Write(append(metaData, '\n')); err != nil {
			return err
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append session message: %w", err)
	}
	return nil
}

// ReplaceMessages swaps the full transcript and summary, then rewrites the
// file atomically. Used after history compaction.
func (s *Store) ReplaceMessages(key string, messages []Message, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{Key: key, CreatedAt: now}
		s.sessions[key] = sess
	}
	sess.Messages = messages
	sess.Summary = summary
	sess.UpdatedAt = time.Now()

	return s.rewriteLocked(sess)
}

// SetSummary updates the summary without touching the transcript.
func (s *Store) SetSummary(key, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return fmt.Errorf("session %q not loaded", key)
	}
	sess.Summary = summary
	sess.UpdatedAt = time.Now()
	return s.rewriteLocked(sess)
}

// Clear empties the session transcript and summary, keeping the key alive.
func (s *Store) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
		s.sessions[key] = sess
	}
	sess.Messages = nil
	sess.Summary = ""
	sess.UpdatedAt = time.Now()
	return s.rewriteLocked(sess)
}

// rewriteLocked writes the whole session to a temp file and renames it into
// place so a crash never leaves a half-written transcript.
func (s *Store) rewriteLocked(sess *Session) error {
	path := s.filePath(sess.Key)

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	metaData, err := json.Marshal(metadataLine{
		Type:      "metadata",
		Key:       sess.Key,
		Summary:   sess.Summary,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	})
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := w.Write(append(metaData, '\n')); err != nil {
		tmp.Close()
		return err
	}

	for _, msg := range sess.Messages {
		data, err := json.Marshal(msg)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// SessionInfo summarises one stored session for listings.
type SessionInfo struct {
	Key          string
	MessageCount int
	UpdatedAt    time.Time
}

// List scans the sessions directory and returns one entry per stored session,
// newest first. When two files map to the same key the newest mtime wins.
func (s *Store) List() ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	byKey := map[string]SessionInfo{}
	mtimes := map[string]time.Time{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}

		key, count := s.scanFile(filepath.Join(s.dir, entry.Name()))
		if key == "" {
			key = strings.TrimSuffix(entry.Name(), ".jsonl")
		}

		if prev, ok := mtimes[key]; ok && !fi.ModTime().After(prev) {
			continue
		}
		mtimes[key] = fi.ModTime()
		byKey[key] = SessionInfo{Key: key, MessageCount: count, UpdatedAt: fi.ModTime()}
	}

	infos := make([]SessionInfo, 0, len(byKey))
	for _, info := range byKey {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// scanFile reads a session file just enough to recover its key and count its
// message lines.
func (s *Store) scanFile(path string) (string, int) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0
	}
	defer f.Close()

	key := ""
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var probe struct {
			Type string `json:"_type"`
			Key  string `json:"key"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}
		if probe.Type == "metadata" {
			key = probe.Key
			continue
		}
		count++
	}
	return key, count
}

// Delete removes the session from cache and disk.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	err := os.Remove(s.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
