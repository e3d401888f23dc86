package reconcile

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kiranshivaraju/codereview/internal/allocation"
	"github.com/kiranshivaraju/codereview/internal/templates"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Source tells which fallback produced an extracted value.
type Source int

const (
	SourceNone Source = iota
	// SourceSuggestion is a value taken from the linked suggestion.
	SourceSuggestion
	// SourceDirect is the canonical field of the issue.
	SourceDirect
	// SourceAlternate is an alternate field name on the issue.
	SourceAlternate
	// SourceNested is a field of a nested object such as metadata or location.
	SourceNested
	// SourceCode is a marker comment inside the code snippet.
	SourceCode
	// SourceDescription is a phrase inside the description.
	SourceDescription
	// SourceLocation is the suffix of a "path:line" string.
	SourceLocation
	// SourceTemplate is canned text from the template catalog.
	SourceTemplate
	// SourceDerived is a value synthesized from the issue type.
	SourceDerived
	// SourceDefault is the last-resort default.
	SourceDefault
)

var sourceNames = [...]string{
	"none", "suggestion", "direct", "alternate", "nested", "code",
	"description", "location", "template", "derived", "default",
}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return "unknown"
}

var (
	alternateFileKeys = []string{"filePath", "file_path", "path", "filename", "fileName", "sourceFile"}
	nestedFileKeys    = []string{"file", "filePath", "path"}
	lineKeys          = []string{"line", "lineNumber", "startLine", "line_number", "lineNum", "lineStart"}

	fileMarker    = regexp.MustCompile(`(?im)(?://|#|/\*|--)\s*File:\s*([^\s*]+)`)
	codeLine      = regexp.MustCompile(`(?i)\bLine\s*:?\s*(\d+)`)
	descLine      = regexp.MustCompile(`(?i)\bline\s*[:#]\s*(\d+)|\bline\s+(\d+)`)
	locationLine  = regexp.MustCompile(`:(\d+)(?::\d+)?$`)
	typeSeparator = strings.NewReplacer("_", " ", "-", " ")
)

// Description returns the issue description. sug may be nil.
func Description(issue models.RawIssue, sug *RawSuggestion) (string, Source) {
	if sug != nil {
		if sug.IssueDescription != "" {
			return sug.IssueDescription, SourceSuggestion
		}
		if sug.Description != "" {
			return sug.Description, SourceSuggestion
		}
	}
	if issue.Description != "" {
		return issue.Description, SourceDirect
	}
	if s, ok := issue.StringField("message", "details", "summary"); ok {
		return s, SourceAlternate
	}
	for _, parent := range []string{"metadata", "details", "issue"} {
		if obj, ok := issue.Object(parent); ok {
			if s, ok := nestedString(obj, "description", "message"); ok {
				return s, SourceNested
			}
		}
	}
	return templates.Description(issue.Type, issue.Severity, allocation.Categorize(issue)), SourceTemplate
}

// FilePath returns the issue's file path without any ":line" suffix.
func FilePath(issue models.RawIssue) (string, Source) {
	if issue.File != "" {
		return stripLocation(issue.File), SourceDirect
	}
	if s, ok := issue.StringField(alternateFileKeys...); ok {
		return stripLocation(s), SourceAlternate
	}
	if obj, ok := issue.Object("metadata"); ok {
		if s, ok := nestedString(obj, nestedFileKeys...); ok {
			return stripLocation(s), SourceNested
		}
	}
	if obj, ok := issue.Object("location"); ok {
		if s, ok := nestedString(obj, nestedFileKeys...); ok {
			return stripLocation(s), SourceNested
		}
	}
	if loc, ok := issue.StringField("location"); ok && locationLine.MatchString(loc) {
		return stripLocation(loc), SourceLocation
	}
	if m := fileMarker.FindStringSubmatch(issue.Code); m != nil {
		return m[1], SourceCode
	}
	typ := strings.ToLower(strings.TrimSpace(issue.Type))
	if typ == "" {
		typ = "issue"
	}
	return fmt.Sprintf("unknown/%s.txt", typ), SourceDerived
}

// LineNumber returns the issue's 1-based line. When nothing yields a line it
// returns 1 with SourceDefault and logs the gap.
func LineNumber(issue models.RawIssue) (int, Source) {
	for i, key := range lineKeys {
		if n, ok := models.AsInt(issue.Fields[key]); ok && n > 0 {
			if i == 0 {
				return n, SourceDirect
			}
			return n, SourceAlternate
		}
	}
	if issue.Line > 0 {
		return issue.Line, SourceDirect
	}
	if obj, ok := issue.Object("location"); ok {
		for _, key := range lineKeys {
			if n, ok := models.AsInt(obj[key]); ok && n > 0 {
				return n, SourceNested
			}
		}
	}
	if n, ok := firstNumber(codeLine, issue.Code); ok {
		return n, SourceCode
	}
	if n, ok := firstNumber(descLine, issue.Description); ok {
		return n, SourceDescription
	}
	for _, s := range []string{stringField(issue, "location"), issue.File} {
		if n, ok := firstNumber(locationLine, s); ok {
			return n, SourceLocation
		}
	}

	slog.Warn("issue has no line number, defaulting to 1",
		"issue_id", issue.ID,
		"type", issue.Type,
		"file", issue.File,
	)
	return 1, SourceDefault
}

// Title returns the issue title. Generated titles of CRITICAL and HIGH security
// issues carry a severity qualifier.
func Title(issue models.RawIssue) (string, Source) {
	if issue.Title != "" {
		return issue.Title, SourceDirect
	}

	title, src := "", SourceTemplate
	if t, ok := templates.Title(issue.Type); ok {
		title = t
	} else {
		title, src = humanize(issue.Type), SourceDerived
	}

	if allocation.Categorize(issue) == models.CategorySecurity {
		switch models.ParseSeverity(string(issue.Severity)) {
		case models.SeverityCritical:
			title = "Critical: " + title
		case models.SeverityHigh:
			title = "High Risk: " + title
		}
	}
	return title, src
}

var titleCaser = cases.Title(language.English)

func humanize(typ string) string {
	s := strings.TrimSpace(typeSeparator.Replace(typ))
	if s == "" {
		return "Code Issue"
	}
	return titleCaser.String(strings.ToLower(s))
}

func stripLocation(path string) string {
	path = strings.TrimSpace(path)
	if loc := locationLine.FindStringIndex(path); loc != nil && loc[0] > 0 {
		return path[:loc[0]]
	}
	return path
}

func firstNumber(re *regexp.Regexp, s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func nestedString(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := models.AsString(obj[k]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func stringField(issue models.RawIssue, key string) string {
	s, _ := issue.StringField(key)
	return s
}
