package utils

import (
	"path/filepath"
	"strings"
)

// Truncate shortens s to at most max runes, appending an ellipsis marker.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// SafeFilename maps an arbitrary key to a filesystem-safe name. Colons become
// underscores and anything outside [A-Za-z0-9._-] is dropped.
func SafeFilename(key string) string {
	replaced := strings.ReplaceAll(key, ":", "_")
	var b strings.Builder
	for _, r := range replaced {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".oga":  true,
	".m4a":  true,
	".flac": true,
	".opus": true,
	".webm": true,
}

// IsAudioFile reports whether an attachment looks like audio, judged by
// content type first and file extension as a fallback.
func IsAudioFile(filename, contentType string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return audioExtensions[ext]
}
