package templates

import (
	"regexp"
	"strings"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Finding is a match of a local security pattern.
type Finding struct {
	Type     string
	Severity models.Severity
	CWE      string
	CVSS     float64
	File     string
	Line     int
	Code     string
}

type pattern struct {
	typ      string
	severity models.Severity
	cwe      string
	cvss     float64
	res      []*regexp.Regexp
}

var patterns = []pattern{
	{
		typ:      "SQL_INJECTION",
		severity: models.SeverityCritical,
		cwe:      "CWE-89",
		cvss:     9.8,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?m)query\s*=\s*["'].*\+\s*\w+`),
			regexp.MustCompile(`(?m)execute\(["'].*%[sd].*["'].*%`),
			regexp.MustCompile(`(?m)SELECT.*WHERE.*\+\s*\w+`),
		},
	},
}

// DetectPatterns scans code for known vulnerable constructs. Line numbers are
// 1-based.
func DetectPatterns(code, file string) []Finding {
	var out []Finding
	for _, p := range patterns {
		for _, re := range p.res {
			for _, loc := range re.FindAllStringIndex(code, -1) {
				out = append(out, Finding{
					Type:     p.typ,
					Severity: p.severity,
					CWE:      p.cwe,
					CVSS:     p.cvss,
					File:     file,
					Line:     strings.Count(code[:loc[0]], "\n") + 1,
					Code:     code[loc[0]:loc[1]],
				})
			}
		}
	}
	return out
}

func firstFinding(code, file string) (Finding, bool) {
	if code == "" {
		return Finding{}, false
	}
	f := DetectPatterns(code, file)
	if len(f) == 0 {
		return Finding{}, false
	}
	return f[0], true
}

// Issue converts the finding into a detection issue.
func (f Finding) Issue(id string) models.RawIssue {
	score := f.CVSS
	return models.RawIssue{
		ID:          id,
		Type:        f.Type,
		Severity:    f.Severity,
		Category:    models.CategorySecurity,
		File:        f.File,
		Line:        f.Line,
		Code:        f.Code,
		Description: Description(f.Type, f.Severity, models.CategorySecurity),
		CVEScore:    &score,
	}
}
