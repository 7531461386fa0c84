package chat

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxBodyBytes = 4096 // max encoded size of a message body
	MaxBodyRunes = 2000 // max character count
)

// ValidateBody checks a message body against content policy and returns the
// trimmed body on success. Leading and trailing whitespace is stripped; a
// body that is empty after trimming is rejected so whitespace-only messages
// never reach the store.
func ValidateBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", &ValidationError{Reason: "body is empty"}
	}
	if len(trimmed) > MaxBodyBytes {
		return "", &ValidationError{Reason: "body exceeds byte limit"}
	}
	if utf8.RuneCountInString(trimmed) > MaxBodyRunes {
		return "", &ValidationError{Reason: "body exceeds character limit"}
	}
	if !utf8.ValidString(trimmed) {
		return "", &ValidationError{Reason: "body contains invalid UTF-8"}
	}
	return trimmed, nil
}
