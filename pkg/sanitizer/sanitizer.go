// Package sanitizer normalizes user-supplied text before validation.
package sanitizer

import (
	"strings"
	"unicode"
)

// Description strips control characters and collapses runs of whitespace in a
// booking description. The result may be empty; rejecting that is the
// validator's job.
func Description(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	// Tabs and newlines are both control and space; the space check runs
	// first so they collapse instead of vanishing.
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}
