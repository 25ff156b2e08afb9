package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/nanobot/pkg/providers"
)

// VectorStore extracts memories from conversation turns with a secondary LLM
// call, embeds them, and retrieves by cosine similarity. Vectors live in
// SQLite keyed by user.
type VectorStore struct {
	db       *sql.DB
	provider providers.LLMProvider
	model    string
	minScore float64
}

func NewVectorStore(path string, provider providers.LLMProvider, model string, minScore float64) (*VectorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create vector db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			model TEXT NOT NULL,
			vector_json TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS memories_user_idx ON memories(user_id, updated_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init vector schema: %w", err)
		}
	}

	if minScore <= 0 {
		minScore = 0.35
	}
	return &VectorStore{
		db:       db,
		provider: provider,
		model:    model,
		minScore: minScore,
	}, nil
}

func (s *VectorStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add runs extraction over the turn messages and stores each resulting memory
// with its embedding.
func (s *VectorStore) Add(ctx context.Context, messages []ConversationMessage, userID string, metadata map[string]string) ([]Item, error) {
	memories := extractMemories(ctx, s.provider, s.model, messages)
	if len(memories) == 0 {
		return nil, nil
	}

	now := time.Now()
	items := make([]Item, 0, len(memories))
	for _, content := range memories {
		item := Item{
			ID:        "mem-" + uuid.NewString(),
			Content:   content,
			Metadata:  mergeMetadata(metadata, "extraction"),
			CreatedAt: now,
			UpdatedAt: now,
		}

		vec := embedText(content)
		_, err := s.db.ExecContext(ctx, `
INSERT INTO memories(id, user_id, content, metadata_json, model, vector_json, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, userID, content, encodeMetadata(item.Metadata), currentEmbeddingModel(), encodeVector(vec), now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return items, fmt.Errorf("insert memory: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func mergeMetadata(metadata map[string]string, source string) map[string]string {
	out := map[string]string{"source": source, "type": "fact"}
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// Search returns the top-limit memories by cosine similarity above the
// minimum score.
func (s *VectorStore) Search(ctx context.Context, query, userID string, limit int) (SearchResult, error) {
	if limit <= 0 {
		limit = 8
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{Query: query}, nil
	}
	queryVec := embedText(query)

	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, metadata_json, vector_json, created_at_ms, updated_at_ms
FROM memories
WHERE user_id = ? OR user_id = ''`, userID)
	if err != nil {
		return SearchResult{Query: query}, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var scored []Item
	for rows.Next() {
		var item Item
		var metaRaw, vecRaw string
		var createdMS, updatedMS int64
		if err := rows.Scan(&item.ID, &item.Content, &metaRaw, &vecRaw, &createdMS, &updatedMS); err != nil {
			return SearchResult{Query: query}, fmt.Errorf("scan memory: %w", err)
		}
		item.Metadata = decodeMetadata(metaRaw)
		item.CreatedAt = time.UnixMilli(createdMS)
		item.UpdatedAt = time.UnixMilli(updatedMS)

		score := cosineSimilarity(queryVec, decodeVector(vecRaw))
		if score < s.minScore {
			continue
		}
		item.Score = score
		scored = append(scored, item)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{Query: query}, fmt.Errorf("iterate memories: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return SearchResult{Items: scored, Query: query, Total: len(scored)}, nil
}

func (s *VectorStore) GetAll(ctx context.Context, userID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, metadata_json, created_at_ms, updated_at_ms
FROM memories
WHERE user_id = ? OR user_id = ''
ORDER BY updated_at_ms DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var metaRaw string
		var createdMS, updatedMS int64
		if err := rows.Scan(&item.ID, &item.Content, &metaRaw, &createdMS, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		item.Metadata = decodeMetadata(metaRaw)
		item.CreatedAt = time.UnixMilli(createdMS)
		item.UpdatedAt = time.UnixMilli(updatedMS)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *VectorStore) Delete(ctx context.Context, itemID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, itemID)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *VectorStore) GetMemoryContext(ctx context.Context, query, userID string) (string, error) {
	var items []Item
	if strings.TrimSpace(query) != "" {
		result, err := s.Search(ctx, query, userID, 8)
		if err != nil {
			return "", err
		}
		items = result.Items
	} else {
		recent, err := s.GetAll(ctx, userID, 8)
		if err != nil {
			return "", err
		}
		items = recent
	}
	if len(items) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "## Relevant memories")
	for _, item := range items {
		lines = append(lines, "- "+item.Content)
	}
	return strings.Join(lines, "\n"), nil
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMetadata(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

func encodeVector(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeVector(raw string) []float32 {
	if raw == "" {
		return nil
	}
	out := []float32{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
