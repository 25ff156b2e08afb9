package constants

// Internal channels carry agent-internal traffic. Outbound messages addressed
// to them are never delivered to a user-facing transport.
var internalChannels = map[string]bool{
	"cli":    true,
	"system": true,
	"cron":   true,
}

func IsInternalChannel(name string) bool {
	return internalChannels[name]
}
