package memory

import "context"

// Store is the contract both memory backends implement. Backends degrade
// gracefully: a missing dependency logs once and returns empty results, it
// never fails a turn.
type Store interface {
	// Search returns items relevant to query, best first, at most limit.
	Search(ctx context.Context, query, userID string, limit int) (SearchResult, error)

	// Add ingests conversation messages for long-term storage. The file
	// backend treats this as a no-op; writes there come from explicit tool
	// calls.
	Add(ctx context.Context, messages []ConversationMessage, userID string, metadata map[string]string) ([]Item, error)

	// GetAll lists stored items, newest first, at most limit.
	GetAll(ctx context.Context, userID string, limit int) ([]Item, error)

	// Delete removes an item by id and reports whether it existed.
	Delete(ctx context.Context, itemID string) (bool, error)

	// GetMemoryContext renders relevant memories as a prompt fragment, or ""
	// when nothing applies.
	GetMemoryContext(ctx context.Context, query, userID string) (string, error)

	Close() error
}
