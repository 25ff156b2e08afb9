package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// runtimeState is the durable runtime record. Heartbeat delivery uses the
// last active channel/chat as its target.
type runtimeState struct {
	LastChannel string `json:"last_channel,omitempty"`
	LastChatID  string `json:"last_chat_id,omitempty"`
}

// Manager persists runtime state under <workspace>/state/runtime.json with
// atomic writes.
type Manager struct {
	path  string
	state runtimeState
	mu    sync.RWMutex
}

func NewManager(workspace string) *Manager {
	m := &Manager{
		path: filepath.Join(workspace, "state", "runtime.json"),
	}
	m.load()
	return m
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	var st runtimeState
	if err := json.Unmarshal(data, &st); err != nil {
		return
	}
	m.state = st
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, m.path)
}

func (m *Manager) SetLastChannel(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastChannel = channel
	return m.saveLocked()
}

func (m *Manager) SetLastChatID(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastChatID = chatID
	return m.saveLocked()
}

// SetLastTarget records both halves of the delivery target in one write.
func (m *Manager) SetLastTarget(channel, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastChannel = channel
	m.state.LastChatID = chatID
	return m.saveLocked()
}

func (m *Manager) GetLastChannel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LastChannel
}

func (m *Manager) GetLastChatID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LastChatID
}

func (m *Manager) LastTarget() (string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LastChannel, m.state.LastChatID
}
