package memory

import "strings"

// Query is the parsed form of the file-memory mini syntax:
// kind:<fact|pref|decision|todo|note>, scope:<daily|long>, #tag, @person, and
// free-text terms.
type Query struct {
	Kinds  []string
	Scope  string
	Tags   []string
	People []string
	Terms  []string
}

var knownKinds = map[string]bool{
	"fact":     true,
	"pref":     true,
	"decision": true,
	"todo":     true,
	"note":     true,
}

func ParseQuery(raw string) Query {
	var q Query
	for _, token := range strings.Fields(raw) {
		lower := strings.ToLower(token)
		switch {
		case strings.HasPrefix(lower, "kind:"):
			kind := strings.TrimPrefix(lower, "kind:")
			if knownKinds[kind] {
				q.Kinds = append(q.Kinds, kind)
			}
		case strings.HasPrefix(lower, "scope:"):
			scope := strings.TrimPrefix(lower, "scope:")
			if scope == "daily" || scope == "long" {
				q.Scope = scope
			}
		case strings.HasPrefix(token, "#") && len(token) > 1:
			q.Tags = append(q.Tags, strings.ToLower(strings.TrimPrefix(token, "#")))
		case strings.HasPrefix(token, "@") && len(token) > 1:
			q.People = append(q.People, strings.ToLower(strings.TrimPrefix(token, "@")))
		default:
			q.Terms = append(q.Terms, lower)
		}
	}
	return q
}

// IsEmpty reports whether the query carries no filters at all.
func (q Query) IsEmpty() bool {
	return len(q.Kinds) == 0 && q.Scope == "" && len(q.Tags) == 0 && len(q.People) == 0 && len(q.Terms) == 0
}

// FreeText reassembles the non-structured part of the query, used for FTS.
func (q Query) FreeText() string {
	return strings.Join(q.Terms, " ")
}

// extractTokens pulls #tag and @person tokens out of text and returns them in
// whitespace-padded normalised form (" tag1 tag2 ") so membership tests are a
// plain substring check.
func extractTokens(text string) (tags, people string) {
	var tagList, peopleList []string
	for _, token := range strings.Fields(text) {
		trimmed := strings.TrimRight(token, ".,;:!?)")
		switch {
		case strings.HasPrefix(trimmed, "#") && len(trimmed) > 1:
			tagList = append(tagList, strings.ToLower(strings.TrimPrefix(trimmed, "#")))
		case strings.HasPrefix(trimmed, "@") && len(trimmed) > 1:
			peopleList = append(peopleList, strings.ToLower(strings.TrimPrefix(trimmed, "@")))
		}
	}
	return padTokens(tagList), padTokens(peopleList)
}

func padTokens(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	return " " + strings.Join(tokens, " ") + " "
}

func hasToken(padded, token string) bool {
	return strings.Contains(padded, " "+token+" ")
}
