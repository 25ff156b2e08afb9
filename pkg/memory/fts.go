package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ftsIndex is the optional SQLite FTS5 index over the Markdown memory files.
// One shared connection; single-process access only.
type ftsIndex struct {
	db *sql.DB
}

func openFTSIndex(path string) (*ftsIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			kind TEXT NOT NULL,
			scope TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			people TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS entries_file_idx ON entries(file, line);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(entry_id UNINDEXED, content, tokenize='unicode61 remove_diacritics 2');`,
		`CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(entry_id, content) VALUES (new.id, new.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, entry_id, content) VALUES('delete', old.rowid, old.id, old.content);
		END;`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init memory index schema: %w", err)
		}
	}
	return &ftsIndex{db: db}, nil
}

func (x *ftsIndex) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// reindexFile drops and reinserts all entries for one memory file.
func (x *ftsIndex) reindexFile(path, name, scope string) error {
	entries, err := parseMemoryFile(path, name, scope, time.Now())
	if err != nil {
		return err
	}

	tx, err := x.db.Begin()
	if err != nil {
		return fmt.Errorf("reindex begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM entries WHERE file = ?`, name); err != nil {
		return fmt.Errorf("reindex purge: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, e := range entries {
		if _, err := tx.Exec(`
INSERT INTO entries(id, file, line, kind, scope, tags, people, content, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.id(), e.file, e.line, e.kind, e.scope, e.tags, e.people, e.content, now); err != nil {
			return fmt.Errorf("reindex insert: %w", err)
		}
	}
	return tx.Commit()
}

func (x *ftsIndex) search(ctx context.Context, q Query, limit int) ([]Item, error) {
	freeText := q.FreeText()
	if freeText == "" {
		return nil, fmt.Errorf("fts search requires free-text terms")
	}

	rows, err := x.db.QueryContext(ctx, `
SELECT e.id, e.file, e.line, e.kind, e.scope, e.tags, e.people, e.content, e.updated_at_ms
FROM entries_fts f
JOIN entries e ON e.id = f.entry_id
WHERE f.content MATCH ?
ORDER BY bm25(entries_fts)
LIMIT ?`, ftsQuote(freeText), limit*4)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var e entry
		var updatedMS int64
		var id string
		if err := rows.Scan(&id, &e.file, &e.line, &e.kind, &e.scope, &e.tags, &e.people, &e.content, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		e.modTime = time.UnixMilli(updatedMS)

		// Structured filters still apply on top of the FTS ranking.
		if score, ok := matchEntry(e, q); ok {
			items = append(items, e.toItem(score))
			if len(items) >= limit {
				break
			}
		}
	}
	return items, rows.Err()
}

// ftsQuote wraps each term in double quotes so punctuation cannot be parsed
// as FTS5 operators.
func ftsQuote(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, "")+`"`)
	}
	return strings.Join(quoted, " OR ")
}
