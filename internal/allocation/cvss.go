package allocation

import (
	"strings"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// EstimateCVSS returns the issue's explicit CVE/CVSS score, or a severity and
// type based estimate when the detection stage did not provide one.
func EstimateCVSS(issue models.RawIssue) float64 {
	if issue.CVEScore != nil {
		return *issue.CVEScore
	}
	t := strings.ToUpper(issue.Type)
	switch models.ParseSeverity(string(issue.Severity)) {
	case models.SeverityCritical:
		if strings.Contains(t, "SQL_INJECTION") {
			return 9.8
		}
		return 9.0
	case models.SeverityHigh:
		if strings.Contains(t, "XSS") {
			return 8.5
		}
		return 7.5
	case models.SeverityMedium:
		return 5.0
	default:
		return 2.0
	}
}

// CVEReference is a representative CVE for a vulnerability class.
type CVEReference struct {
	ID    string
	Score float64
}

var cveByType = map[string]CVEReference{
	"SQL_INJECTION":            {ID: "CVE-2023-38646", Score: 9.8},
	"XSS":                      {ID: "CVE-2023-39319", Score: 8.6},
	"INSECURE_DESERIALIZATION": {ID: "CVE-2023-33202", Score: 9.1},
	"HARDCODED_CREDENTIALS":    {ID: "CVE-2023-38501", Score: 7.5},
	"WEAK_CRYPTOGRAPHY":        {ID: "CVE-2023-39320", Score: 6.5},
}

// LookupCVE maps an issue type to a representative CVE.
func LookupCVE(issueType string) (CVEReference, bool) {
	ref, ok := cveByType[strings.ToUpper(strings.TrimSpace(issueType))]
	return ref, ok
}
