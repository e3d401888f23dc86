package reconcile

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Link attaches suggestions to issues in place and returns the ids of issues left
// without one. Matching runs in passes of decreasing strength so a weak match never
// takes an issue that another suggestion names by id: issue id, then type|file|line,
// then same type, then same file. Each suggestion and each issue is used at most once.
func Link(issues []models.Issue, suggestions []RawSuggestion) []string {
	used := make([]bool, len(suggestions))

	passes := []func(is models.Issue, s RawSuggestion) bool{
		func(is models.Issue, s RawSuggestion) bool {
			return s.IssueID != "" && s.IssueID == is.IssueID
		},
		func(is models.Issue, s RawSuggestion) bool {
			return s.Type != "" && s.File != "" && s.Line > 0 && compositeKey(s.Type, s.File, s.Line) == compositeKey(is.Type, is.File, is.Line)
		},
		func(is models.Issue, s RawSuggestion) bool {
			return s.Type != "" && strings.EqualFold(s.Type, is.Type)
		},
		func(is models.Issue, s RawSuggestion) bool {
			return s.File != "" && s.File == is.File
		},
	}

	for _, match := range passes {
		for i := range issues {
			if issues[i].Suggestion != nil {
				continue
			}
			for j, s := range suggestions {
				if used[j] || !match(issues[i], s) {
					continue
				}
				sug := s.Suggestion
				sug.IssueID = issues[i].IssueID
				if sug.IssueDescription == "" {
					sug.IssueDescription = s.Description
				}
				issues[i].Suggestion = &sug
				used[j] = true
				break
			}
		}
	}

	var unmatched []string
	for _, is := range issues {
		if is.Suggestion == nil {
			unmatched = append(unmatched, is.IssueID)
		}
	}
	if len(unmatched) > 0 {
		slog.Info("issues without suggestion", "count", len(unmatched), "issue_ids", unmatched)
	}
	for j, s := range suggestions {
		if !used[j] {
			slog.Warn("suggestion matched no issue", "issue_id", s.IssueID, "type", s.Type, "file", s.File)
		}
	}
	return unmatched
}

func compositeKey(typ, file string, line int) string {
	return strings.ToUpper(typ) + "|" + file + "|" + strconv.Itoa(line)
}
