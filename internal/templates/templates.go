// Package templates generates canned, non-AI issue text and remediation
// suggestions. It backs the template slice of model routing and every fallback
// path where a suggestion function is unavailable.
package templates

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Model is the model name recorded on template suggestions.
const Model = "template"

func lookup(typ string) (entry, bool) {
	key := strings.ToUpper(strings.TrimSpace(typ))
	if e, ok := catalog[key]; ok {
		return e, true
	}
	if alias, ok := aliases[key]; ok {
		return catalog[alias], true
	}
	return entry{}, false
}

func resolve(typ string, cat models.Category) entry {
	if e, ok := lookup(typ); ok {
		return e
	}
	if e, ok := categoryFallback[cat]; ok {
		return e
	}
	return categoryFallback[models.CategoryQuality]
}

// Title returns the catalog title for a known issue type.
func Title(typ string) (string, bool) {
	e, ok := lookup(typ)
	if !ok || e.title == "" {
		return "", false
	}
	return e.title, true
}

// Description returns canned text for an issue. Known types get their specific
// explanation; others get generic text for their category.
func Description(typ string, sev models.Severity, cat models.Category) string {
	desc := resolve(typ, cat).description
	switch sev {
	case models.SeverityCritical:
		return "Critical: " + desc + " Fix this before release."
	case models.SeverityHigh:
		return desc + " This should be fixed soon."
	default:
		return desc
	}
}

// Suggest builds a template suggestion for issue.
func Suggest(issue models.RawIssue) models.Suggestion {
	cat := issue.Category
	e := resolve(issue.Type, cat)

	explanation := e.fix
	if f, ok := firstFinding(issue.Code, issue.File); ok {
		explanation = fmt.Sprintf("%s Matched pattern %s (%s, CVSS %.1f).", explanation, f.CWE, f.Type, f.CVSS)
	}

	title := "Apply recommended fix"
	if e.title != "" {
		title = "Fix " + e.title
	}

	desc := issue.Description
	if desc == "" {
		desc = Description(issue.Type, issue.Severity, cat)
	}

	s := models.Suggestion{
		IssueID:          issue.ID,
		IssueDescription: desc,
		ImmediateFix: &models.ImmediateFix{
			Title:       title,
			SearchCode:  issue.Code,
			Explanation: explanation,
		},
		BestPractice: &models.BestPractice{
			Title:    e.practice,
			Benefits: e.benefits,
		},
		Testing: &models.Testing{
			ValidationSteps: []string{
				"Add a regression test reproducing the issue",
				"Re-run the analysis and confirm the finding is gone",
			},
		},
		Prevention: &models.Prevention{
			Guidelines:          e.guidelines,
			Tools:               e.tools,
			CodeReviewChecklist: e.checklist,
		},
		Source: models.SuggestionSourceTemplate,
		Model:  Model,
	}
	return s
}

// SuggestAll builds template suggestions for every issue, in order.
func SuggestAll(issues []models.RawIssue) []models.Suggestion {
	out := make([]models.Suggestion, 0, len(issues))
	for _, is := range issues {
		out = append(out, Suggest(is))
	}
	return out
}
