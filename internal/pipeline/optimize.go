package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Content caps per stage, in bytes.
const (
	screeningContentCap  = 1000
	detectionContentCap  = 5000
	suggestionContextCap = 500
)

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	// "//" preceded by ':' is a URL scheme, not a comment.
	lineComment = regexp.MustCompile(`(?m)(^|[^:])//.*$`)
	whitespace  = regexp.MustCompile(`\s+`)
)

func stripComments(code string) string {
	code = blockComment.ReplaceAllString(code, "")
	return lineComment.ReplaceAllString(code, "$1")
}

// OptimizeForScreening strips comments, collapses whitespace and keeps the first
// 1000 bytes. Screening only needs a file's gist.
func OptimizeForScreening(code string) string {
	if code == "" {
		return ""
	}
	s := whitespace.ReplaceAllString(stripComments(code), " ")
	return truncate(strings.TrimSpace(s), screeningContentCap)
}

// OptimizeForDetection strips comments but keeps line structure, capped at 5000
// bytes.
func OptimizeForDetection(code string) string {
	if code == "" {
		return ""
	}
	return truncate(strings.TrimSpace(stripComments(code)), detectionContentCap)
}

// OptimizeForSuggestions caps an issue's code context at 500 bytes.
func OptimizeForSuggestions(context string) string {
	return truncate(context, suggestionContextCap)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
