package reconcile

import (
	"math"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

const (
	unknownSeverity = "UNKNOWN"
	unknownCategory = "unknown"
)

// Summarize counts issues by severity, category and type. Issues without a
// severity or category are counted under UNKNOWN / unknown; untyped issues are
// left out of ByType.
func Summarize(issues []models.Issue) models.Summary {
	s := models.Summary{
		TotalIssues: len(issues),
		BySeverity:  map[string]int{},
		ByCategory:  map[string]int{},
		ByType:      map[string]int{},
	}
	for _, is := range issues {
		s.BySeverity[orDefault(string(is.Severity), unknownSeverity)]++
		s.ByCategory[orDefault(string(is.Category), unknownCategory)]++
		if is.Type != "" {
			s.ByType[is.Type]++
		}
	}
	return s
}

// Score computes the 0 to 10 category scores. Each category loses
// log10(count+1)*weight; security also loses 0.5 per CRITICAL issue and quality
// 0.3 per HIGH issue. Performance has no severity term.
func Score(issues []models.Issue) models.Scores {
	var count [3]int
	securityCritical, qualityHigh := 0, 0
	for _, is := range issues {
		idx := categoryIndex(is.Category)
		count[idx]++
		switch {
		case idx == 0 && is.Severity == models.SeverityCritical:
			securityCritical++
		case idx == 2 && is.Severity == models.SeverityHigh:
			qualityHigh++
		}
	}

	s := models.Scores{
		Security:    categoryScore(count[0], 2.5, 0.5*float64(securityCritical)),
		Performance: categoryScore(count[1], 2.0, 0),
		Quality:     categoryScore(count[2], 1.5, 0.3*float64(qualityHigh)),
	}
	s.Overall = round1(s.Security*0.5 + s.Performance*0.3 + s.Quality*0.2)
	return s
}

func categoryScore(n int, weight, bonus float64) float64 {
	if n == 0 {
		return 10
	}
	penalty := min(10, math.Log10(float64(n+1))*weight+bonus)
	return round1(clamp(10-penalty, 0, 10))
}

func categoryIndex(c models.Category) int {
	switch c {
	case models.CategorySecurity:
		return 0
	case models.CategoryPerformance:
		return 1
	default:
		return 2
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
