// Package text prepares raw input for tokenization: newline handling,
// whitespace collapsing, and sentence chunking for long inputs.
package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned when the input is empty or whitespace-only.
var ErrEmptyText = errors.New("text: input is empty")

// Normalize prepares raw input text for synthesis. Line endings become
// spaces, runs of whitespace collapse to a single space, and surrounding
// whitespace is trimmed. Empty or whitespace-only input is rejected.
func Normalize(s string) (string, error) {
	var b strings.Builder

	b.Grow(len(s))

	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}

		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}

		space = false
		b.WriteRune(r)
	}

	out := b.String()
	if out == "" {
		return "", ErrEmptyText
	}

	return out, nil
}
