package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/utils"
)

const (
	longTermFile    = "MEMORY.md"
	trashDir        = ".trash"
	maxContextChars = 6000
)

var (
	dailyFilePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)
	kindPrefix       = regexp.MustCompile(`^\((fact|pref|decision|todo|note)\)\s*`)
)

// entry is one memory line together with where it lives on disk.
type entry struct {
	file    string
	line    int
	kind    string
	scope   string
	tags    string
	people  string
	content string
	modTime time.Time
}

func (e entry) id() string {
	return fmt.Sprintf("%s#%d", e.file, e.line)
}

func (e entry) toItem(score float64) Item {
	return Item{
		ID:      e.id(),
		Content: e.content,
		Metadata: map[string]string{
			"source": e.file,
			"type":   e.kind,
			"scope":  e.scope,
		},
		Score:     score,
		CreatedAt: e.modTime,
		UpdatedAt: e.modTime,
	}
}

// FileStore is the durable Markdown memory backend. MEMORY.md holds curated
// long-term entries; YYYY-MM-DD.md files hold daily notes. An optional SQLite
// FTS index accelerates search; without it a scan fallback applies.
type FileStore struct {
	dir   string
	index *ftsIndex
	mu    sync.Mutex
}

func NewFileStore(dir string, indexEnabled bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	store := &FileStore{dir: dir}
	if indexEnabled {
		index, err := openFTSIndex(filepath.Join(dir, "index.sqlite3"))
		if err != nil {
			logger.WarnCF("memory", "FTS index unavailable, using scan fallback", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			store.index = index
		}
	}
	return store, nil
}

func (s *FileStore) Close() error {
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

// Add is a no-op: the file backend is written only through explicit tool
// calls (AppendLongTerm / AppendDaily).
func (s *FileStore) Add(ctx context.Context, messages []ConversationMessage, userID string, metadata map[string]string) ([]Item, error) {
	return nil, nil
}

// AppendLongTerm appends a curated entry to MEMORY.md.
func (s *FileStore) AppendLongTerm(kind, content string) error {
	return s.appendEntry(longTermFile, kind, content)
}

// AppendDaily appends a note to today's daily file.
func (s *FileStore) AppendDaily(kind, content string) error {
	return s.appendEntry(time.Now().Format("2006-01-02")+".md", kind, content)
}

func (s *FileStore) appendEntry(file, kind, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("memory content is empty")
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" && !knownKinds[kind] {
		return fmt.Errorf("unknown memory kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, file)
	line := "- "
	if kind != "" {
		line += "(" + kind + ") "
	}
	line += content

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append memory entry: %w", err)
	}

	if s.index != nil {
		if err := s.index.reindexFile(path, file, scopeForFile(file)); err != nil {
			logger.WarnCF("memory", "FTS reindex failed", map[string]interface{}{
				"file":  file,
				"error": err.Error(),
			})
		}
	}
	return nil
}

func scopeForFile(file string) string {
	if file == longTermFile {
		return "long"
	}
	return "daily"
}

func (s *FileStore) Search(ctx context.Context, rawQuery, userID string, limit int) (SearchResult, error) {
	if limit <= 0 {
		limit = 8
	}
	q := ParseQuery(rawQuery)

	if s.index != nil && q.FreeText() != "" {
		items, err := s.index.search(ctx, q, limit)
		if err == nil {
			return SearchResult{Items: items, Query: rawQuery, Total: len(items)}, nil
		}
		logger.WarnCF("memory", "FTS search failed, using scan fallback", map[string]interface{}{
			"error": err.Error(),
		})
	}

	entries, err := s.loadEntries()
	if err != nil {
		return SearchResult{Query: rawQuery}, err
	}

	var items []Item
	for _, e := range entries {
		score, ok := matchEntry(e, q)
		if !ok {
			continue
		}
		items = append(items, e.toItem(score))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return SearchResult{Items: items, Query: rawQuery, Total: len(items)}, nil
}

// matchEntry applies the structured filters as hard constraints and scores
// free-text terms by substring hits.
func matchEntry(e entry, q Query) (float64, bool) {
	if q.Scope != "" && e.scope != q.Scope {
		return 0, false
	}
	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if e.kind == k {
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	for _, tag := range q.Tags {
		if !hasToken(e.tags, tag) {
			return 0, false
		}
	}
	for _, person := range q.People {
		if !hasToken(e.people, person) {
			return 0, false
		}
	}

	if len(q.Terms) == 0 {
		return 0.5, true
	}
	lower := strings.ToLower(e.content)
	hits := 0
	for _, term := range q.Terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	if hits == 0 {
		return 0, false
	}
	return float64(hits) / float64(len(q.Terms)), true
}

func (s *FileStore) GetAll(ctx context.Context, userID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.loadEntries()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.toItem(0))
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

// Delete soft-deletes an entry: the line moves to the trash file and is
// removed from its source file.
func (s *FileStore) Delete(ctx context.Context, itemID string) (bool, error) {
	file, lineNo, err := parseEntryID(itemID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, file)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	lines := strings.Split(string(data), "\n")
	if lineNo < 1 || lineNo > len(lines) {
		return false, nil
	}
	removed := lines[lineNo-1]
	if strings.TrimSpace(removed) == "" {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Join(s.dir, trashDir), 0755); err != nil {
		return false, err
	}
	trashPath := filepath.Join(s.dir, trashDir, "deleted.md")
	tf, err := os.OpenFile(trashPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, err
	}
	stamp := time.Now().Format(time.RFC3339)
	_, writeErr := tf.WriteString(fmt.Sprintf("%s %s %s\n", stamp, file, removed))
	tf.Close()
	if writeErr != nil {
		return false, writeErr
	}

	lines = append(lines[:lineNo-1], lines[lineNo:]...)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, err
	}

	if s.index != nil {
		if err := s.index.reindexFile(path, file, scopeForFile(file)); err != nil {
			logger.WarnCF("memory", "FTS reindex failed", map[string]interface{}{
				"file":  file,
				"error": err.Error(),
			})
		}
	}
	return true, nil
}

func parseEntryID(id string) (string, int, error) {
	idx := strings.LastIndex(id, "#")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, fmt.Errorf("invalid memory id %q", id)
	}
	file := id[:idx]
	var line int
	if _, err := fmt.Sscanf(id[idx+1:], "%d", &line); err != nil {
		return "", 0, fmt.Errorf("invalid memory id %q", id)
	}
	if strings.Contains(file, "/") || strings.Contains(file, "..") {
		return "", 0, fmt.Errorf("invalid memory id %q", id)
	}
	return file, line, nil
}

// GetMemoryContext renders the curated long-term file plus today's notes as a
// prompt fragment. When query is non-empty, matching entries are appended.
func (s *FileStore) GetMemoryContext(ctx context.Context, query, userID string) (string, error) {
	var sections []string

	longTerm, err := s.readFileTrimmed(longTermFile)
	if err != nil {
		return "", err
	}
	if longTerm != "" {
		sections = append(sections, "## Long-term memory\n"+longTerm)
	}

	today, err := s.readFileTrimmed(time.Now().Format("2006-01-02") + ".md")
	if err != nil {
		return "", err
	}
	if today != "" {
		sections = append(sections, "## Today's notes\n"+today)
	}

	if strings.TrimSpace(query) != "" {
		result, err := s.Search(ctx, query, userID, 8)
		if err == nil && len(result.Items) > 0 {
			lines := make([]string, 0, len(result.Items))
			for _, item := range result.Items {
				lines = append(lines, "- "+item.Content)
			}
			sections = append(sections, "## Relevant memories\n"+strings.Join(lines, "\n"))
		}
	}

	if len(sections) == 0 {
		return "", nil
	}
	return utils.Truncate(strings.Join(sections, "\n\n"), maxContextChars), nil
}

func (s *FileStore) readFileTrimmed(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// loadEntries walks MEMORY.md and the daily files, one entry per bullet line.
func (s *FileStore) loadEntries() ([]entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var entries []entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if name != longTermFile && !dailyFilePattern.MatchString(name) {
			continue
		}
		fi, err := f.Info()
		if err != nil {
			continue
		}
		fileEntries, err := parseMemoryFile(filepath.Join(s.dir, name), name, scopeForFile(name), fi.ModTime())
		if err != nil {
			logger.WarnCF("memory", "Failed to read memory file", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

func parseMemoryFile(path, name, scope string, modTime time.Time) ([]entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		content := strings.TrimSpace(strings.TrimPrefix(line, "- "))
		if content == "" {
			continue
		}

		kind := "note"
		if m := kindPrefix.FindStringSubmatch(content); m != nil {
			kind = m[1]
			content = strings.TrimSpace(kindPrefix.ReplaceAllString(content, ""))
		}
		tags, people := extractTokens(content)

		entries = append(entries, entry{
			file:    name,
			line:    lineNo,
			kind:    kind,
			scope:   scope,
			tags:    tags,
			people:  people,
			content: content,
			modTime: modTime,
		})
	}
	return entries, scanner.Err()
}
