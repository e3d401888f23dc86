package allocation

import (
	"strings"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

var securityKeywords = []string{
	"SQL_INJECTION", "XSS", "SECURITY", "VULNERABILITY", "HARDCODED", "CRYPTO", "AUTH",
	"INJECTION", "DESERIALIZATION", "CREDENTIAL", "REMOTE_CODE", "CSRF", "TRAVERSAL",
}

var performanceKeywords = []string{
	"PERFORMANCE", "COMPLEXITY", "LOOP", "MEMORY", "INEFFICIENT", "OPTIMIZATION",
	"LEAK", "BLOCKING", "CACHE", "N_PLUS_ONE",
}

// Categorize assigns an issue to security, performance or quality. A recognized
// category field wins; otherwise the type is matched against keyword vocabularies.
func Categorize(issue models.RawIssue) models.Category {
	switch c := models.ParseCategory(string(issue.Category)); c {
	case models.CategorySecurity, models.CategoryPerformance, models.CategoryQuality:
		return c
	}

	t := strings.ToUpper(issue.Type)
	for _, kw := range securityKeywords {
		if strings.Contains(t, kw) {
			return models.CategorySecurity
		}
	}
	for _, kw := range performanceKeywords {
		if strings.Contains(t, kw) {
			return models.CategoryPerformance
		}
	}
	return models.CategoryQuality
}
