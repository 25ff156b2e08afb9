package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/bus"
	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/tools"
)

const (
	promptFile = "HEARTBEAT.md"

	// OKSentinel is what the model answers when the heartbeat found nothing
	// worth telling the user. Replies equal to it are never delivered.
	OKSentinel = "HEARTBEAT_OK"

	minIntervalMinutes = 5
)

// Handler runs one heartbeat turn. The returned result decides delivery: a
// silent result is swallowed, anything else is published to channel/chatID.
type Handler func(prompt, channel, chatID string) *tools.ToolResult

// TargetResolver names the channel and chat a heartbeat reply should go to,
// typically the last surface the user talked on.
type TargetResolver func() (channel, chatID string)

// HeartbeatService wakes on a fixed interval, reads the workspace
// HEARTBEAT.md prompt and hands it to the agent. No prompt file means no
// heartbeat turn.
type HeartbeatService struct {
	workspace string
	interval  time.Duration
	enabled   bool

	bus     *bus.MessageBus
	handler Handler
	target  TargetResolver

	cancel chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewHeartbeatService(workspace string, intervalMinutes int, enabled bool) *HeartbeatService {
	if intervalMinutes < minIntervalMinutes {
		intervalMinutes = minIntervalMinutes
	}
	return &HeartbeatService{
		workspace: workspace,
		interval:  time.Duration(intervalMinutes) * time.Minute,
		enabled:   enabled,
	}
}

func (s *HeartbeatService) SetBus(messageBus *bus.MessageBus) {
	s.bus = messageBus
}

func (s *HeartbeatService) SetHandler(handler Handler) {
	s.handler = handler
}

func (s *HeartbeatService) SetTargetResolver(resolver TargetResolver) {
	s.target = resolver
}

func (s *HeartbeatService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		logger.InfoC("heartbeat", "Heartbeat disabled")
		return nil
	}
	if s.handler == nil {
		return fmt.Errorf("heartbeat handler not set")
	}
	if s.cancel != nil {
		return fmt.Errorf("heartbeat already running")
	}

	s.cancel = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.cancel)

	logger.InfoCF("heartbeat", "Heartbeat started", map[string]interface{}{
		"interval": s.interval.String(),
	})
	return nil
}

func (s *HeartbeatService) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *HeartbeatService) run(cancel chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			s.Beat()
		}
	}
}

// Beat runs a single heartbeat turn. Exposed so a trigger command can force
// one outside the schedule.
func (s *HeartbeatService) Beat() {
	prompt, ok := s.readPrompt()
	if !ok {
		return
	}

	channel, chatID := "", ""
	if s.target != nil {
		channel, chatID = s.target()
	}

	result := s.handler(prompt, channel, chatID)
	if result == nil {
		return
	}
	if result.IsError {
		logger.WarnCF("heartbeat", "Heartbeat turn failed", map[string]interface{}{
			"error": result.ForLLM,
		})
		return
	}

	content := strings.TrimSpace(result.ForUser)
	if result.Silent || content == "" || isOK(content) {
		return
	}
	if s.bus == nil || channel == "" || chatID == "" {
		logger.DebugC("heartbeat", "No delivery target for heartbeat reply")
		return
	}

	s.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})
}

// readPrompt loads HEARTBEAT.md from the workspace. A missing or empty file
// disables the beat without error.
func (s *HeartbeatService) readPrompt() (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.workspace, promptFile))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("heartbeat", "Failed to read heartbeat prompt", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return "", false
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", false
	}
	return prompt, true
}

func isOK(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == OKSentinel {
		return true
	}
	// Models sometimes wrap the sentinel in quotes or punctuation.
	trimmed = strings.Trim(trimmed, "\"'`*.! ")
	return trimmed == OKSentinel
}
