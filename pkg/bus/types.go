package bus

// InboundMessage is a user (or scheduler) message entering the agent.
type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	Content    string
	Media      []string
	SessionKey string
	Metadata   map[string]string
}

// OutboundMessage is an agent message leaving toward a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Media   []string
}

// ToolEvent announces tool execution progress for observers (status is one of
// "started", "completed", "error").
type ToolEvent struct {
	SessionKey string
	ToolName   string
	Status     string
}

// MessageHandler processes an inbound message for a registered channel.
type MessageHandler func(msg InboundMessage) error
