// Package severity defines the total order used wherever issues are ranked.
package severity

import (
	"cmp"
	"slices"
	"strings"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Rank returns the severity rank: CRITICAL=4, HIGH=3, MEDIUM=2, LOW=1, anything else 0.
func Rank(s models.Severity) int {
	switch models.ParseSeverity(string(s)) {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}

// CategoryRank returns the category rank: security=3, performance=2, quality=1, anything else 0.
func CategoryRank(c models.Category) int {
	switch models.ParseCategory(string(c)) {
	case models.CategorySecurity:
		return 3
	case models.CategoryPerformance:
		return 2
	case models.CategoryQuality:
		return 1
	default:
		return 0
	}
}

// IsHighPriority reports whether s is CRITICAL or HIGH.
func IsHighPriority(s models.Severity) bool {
	return Rank(s) >= 3
}

// Key is the projection of an issue that the ordering looks at.
type Key struct {
	Severity models.Severity
	Category models.Category
	Type     string
	File     string
}

// Compare orders a before b when a is more severe, then higher category, then
// lexically smaller type, then lexically smaller file.
func Compare(a, b Key) int {
	if c := cmp.Compare(Rank(b.Severity), Rank(a.Severity)); c != 0 {
		return c
	}
	if c := cmp.Compare(CategoryRank(b.Category), CategoryRank(a.Category)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.File, b.File)
}

func rawKey(i models.RawIssue) Key {
	return Key{Severity: i.Severity, Category: i.Category, Type: i.Type, File: i.File}
}

func issueKey(i models.Issue) Key {
	return Key{Severity: i.Severity, Category: i.Category, Type: i.Type, File: i.File}
}

// CompareRaw compares detection-stage issues.
func CompareRaw(a, b models.RawIssue) int {
	return Compare(rawKey(a), rawKey(b))
}

// SortRaw sorts issues in place. Line and id break remaining ties so the result does
// not depend on input order.
func SortRaw(issues []models.RawIssue) {
	slices.SortStableFunc(issues, func(a, b models.RawIssue) int {
		if c := CompareRaw(a, b); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// SortIssues sorts reconciled issues in place for presentation.
func SortIssues(issues []models.Issue) {
	slices.SortStableFunc(issues, func(a, b models.Issue) int {
		if c := Compare(issueKey(a), issueKey(b)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return strings.Compare(a.IssueID, b.IssueID)
	})
}
