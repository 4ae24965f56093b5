// Package redact strips personally identifying data from text before it is
// written to the artifact trail.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// PreviewLen is the maximum length of a candidate preview, in runes.
const PreviewLen = 150

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?\d{1,2}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	urlRe   = regexp.MustCompile(`https?://\S+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// #region strip

// Strip replaces emails, phone numbers, card/SSN-like digit runs and URLs with
// placeholders and collapses whitespace.
func Strip(s string) string {
	s = urlRe.ReplaceAllString(s, "[url]")
	s = emailRe.ReplaceAllString(s, "[email]")
	s = ssnRe.ReplaceAllString(s, "[id]")
	s = cardRe.ReplaceAllString(s, "[number]")
	s = phoneRe.ReplaceAllString(s, "[phone]")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// #endregion strip

// #region truncate

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return "…"
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}

// Preview is Strip followed by Truncate to PreviewLen.
func Preview(s string) string {
	return Truncate(Strip(s), PreviewLen)
}

// #endregion truncate
