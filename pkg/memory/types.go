package memory

import "time"

// Item is one stored memory. Metadata carries at minimum "source" and "type";
// Score is only meaningful on search results.
type Item struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Score     float64           `json:"score,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SearchResult is the envelope returned by Store.Search.
type SearchResult struct {
	Items []Item
	Query string
	Total int
}

// ConversationMessage is one role/content pair handed to Store.Add for
// write-back after a turn.
type ConversationMessage struct {
	Role    string
	Content string
}
