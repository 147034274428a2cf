package errors

import "unicode/utf8"

// Truncate clips message to at most max bytes without splitting a UTF-8
// sequence, so the result stays valid text for storage.
func Truncate(message string, max int) string {
	if len(message) <= max {
		return message
	}
	if max <= 0 {
		return ""
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
