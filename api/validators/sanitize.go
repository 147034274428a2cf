package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims s, replaces control characters with spaces and cuts it
// to at most maxBytes without splitting a UTF-8 sequence. maxBytes <= 0 keeps
// the full length.
func SanitizeString(s string, maxBytes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, strings.TrimSpace(s))
	cleaned = strings.TrimSpace(cleaned)
	if maxBytes <= 0 || len(cleaned) <= maxBytes {
		return cleaned
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
		cut--
	}
	return strings.TrimSpace(cleaned[:cut])
}
