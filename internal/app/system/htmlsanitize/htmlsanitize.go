// Package htmlsanitize strips markup from stored text before it is shown.
//
// Chart records are typed in by hand or imported from spreadsheets, so a
// student name can arrive carrying tags. Templates escape output anyway;
// this package removes the markup itself so the table shows the text.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every element and attribute, keeping only text content.
var strict = bluemonday.StrictPolicy()

// PlainText returns s with all HTML elements removed and entities decoded.
func PlainText(s string) string {
	if IsPlainText(s) {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// IsPlainText reports whether s contains nothing that looks like a tag or
// an entity.
func IsPlainText(s string) bool {
	if strings.Contains(s, "&") {
		return false
	}
	i := strings.Index(s, "<")
	if i < 0 {
		return true
	}
	// "5 < 10" is text; "<b>" is a tag.
	rest := s[i+1:]
	return rest == "" || !(isLetter(rest[0]) || rest[0] == '/' || rest[0] == '!')
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
