package mock

import (
	"fmt"

	"github.com/kiranshivaraju/codereview/internal/templates"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

type stagePayload struct {
	Files  []models.File     `json:"files"`
	Issues []models.RawIssue `json:"issues"`
}

func detect(files []models.File) []models.RawIssue {
	issues := []models.RawIssue{}
	for _, f := range files {
		for i, finding := range templates.DetectPatterns(f.Content, f.Path) {
			issues = append(issues, finding.Issue(fmt.Sprintf("%s#%d", f.Path, i+1)))
		}
	}
	return issues
}
