// Package validate provides input validation for identifiers and tags that
// arrive at the API boundary. Parameterized queries remain the primary
// defense downstream; this package rejects obviously malformed input early
// with stable, user-correctable errors.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors.
var (
	ErrEmpty             = errors.New("value is empty")
	ErrTooLong           = errors.New("value is too long")
	ErrInvalidCharacters = errors.New("value contains invalid characters")
)

// Length limits for identifiers and tags.
const (
	MaxUserIDLength = 128
	MaxTagLength    = 64
	MaxTagsPerQuery = 32
)

// userIDPattern covers the identifier alphabets the platform issues:
// UUIDs, numeric IDs, and prefixed opaque handles like "user:abc-123".
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]+$`)

// tagPattern restricts interest tags to lowercase alphanumerics with
// internal hyphens or underscores, the form NormalizeTags produces.
var tagPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// UserID validates an opaque user identifier. The trimmed value is
// returned so callers can use it directly.
func UserID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("user_id: %w", ErrEmpty)
	}
	if utf8.RuneCountInString(s) > MaxUserIDLength {
		return "", fmt.Errorf("user_id exceeds %d characters: %w", MaxUserIDLength, ErrTooLong)
	}
	if !userIDPattern.MatchString(s) {
		return "", fmt.Errorf("user_id: %w", ErrInvalidCharacters)
	}
	return s, nil
}

// Tag validates a single interest tag in its normalized form.
func Tag(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("tag: %w", ErrEmpty)
	}
	if utf8.RuneCountInString(s) > MaxTagLength {
		return "", fmt.Errorf("tag exceeds %d characters: %w", MaxTagLength, ErrTooLong)
	}
	if !tagPattern.MatchString(s) {
		return "", fmt.Errorf("tag %q: %w", s, ErrInvalidCharacters)
	}
	return s, nil
}

// Tags validates a tag list, dropping duplicates while preserving order.
func Tags(tags []string) ([]string, error) {
	if len(tags) > MaxTagsPerQuery {
		return nil, fmt.Errorf("more than %d tags: %w", MaxTagsPerQuery, ErrTooLong)
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag, err := Tag(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}
