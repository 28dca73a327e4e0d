package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips any markup from free-form customer input, collapses surrounding
// whitespace and truncates the result to maxRunes (0 disables truncation).
func SanitizePlainText(raw string, maxRunes int) string {
	cleaned := strictPolicy.Sanitize(raw)
	cleaned = strings.TrimSpace(html.UnescapeString(cleaned))
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// FoldCode normalises user supplied codes for case-insensitive comparison. A Caser keeps
// state, so one is built per call.
func FoldCode(raw string) string {
	return cases.Fold().String(strings.TrimSpace(raw))
}
