// Package allocation splits the per-scan suggestion budget across the security,
// performance and quality categories.
//
// The budget N is the number of suggestions a scan can afford
// (TotalTokenBudget / TokensPerSuggestion). Each category gets a quota derived from
// its share of N, never below its configured minimum. Selection runs in three phases:
//
//  1. the top issues of each category up to its quota;
//  2. unused budget goes to remaining CRITICAL/HIGH issues, security first;
//  3. remaining CRITICAL/HIGH issues displace selected MEDIUM/LOW issues from
//     categories that stay at or above their minimum.
//
// The total never exceeds N.
package allocation

import (
	"cmp"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/severity"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// categoryOrder is the fixed redistribution order.
var categoryOrder = [3]models.Category{
	models.CategorySecurity,
	models.CategoryPerformance,
	models.CategoryQuality,
}

// Allocator selects the issues that receive suggestions.
type Allocator struct {
	cfg config.BudgetConfig
}

// New creates an Allocator for the given budget.
func New(cfg config.BudgetConfig) *Allocator {
	return &Allocator{cfg: cfg}
}

// MaxSuggestions returns N.
func (a *Allocator) MaxSuggestions() int {
	return a.cfg.MaxSuggestions()
}

func (a *Allocator) minimums() [3]int {
	return [3]int{a.cfg.SecurityMin, a.cfg.PerformanceMin, a.cfg.QualityMin}
}

// Quotas returns the per-category quotas for a budget of n, in category order.
func (a *Allocator) Quotas(n int) [3]int {
	shares := [3]float64{a.cfg.SecurityShare, a.cfg.PerformanceShare, a.cfg.QualityShare}
	mins := a.minimums()

	var q [3]int
	sum := 0
	for i := range q {
		q[i] = max(mins[i], int(math.Round(float64(n)*shares[i])))
		sum += q[i]
	}

	if sum > n && sum > 0 {
		scale := float64(n) / float64(sum)
		sum = 0
		for i := range q {
			q[i] = max(mins[i], int(math.Floor(float64(q[i])*scale)))
			sum += q[i]
		}
	}

	// Minimums alone can exceed a tiny budget; give way from the lowest priority up.
	for i := len(q) - 1; i >= 0 && sum > n; i-- {
		cut := min(q[i], sum-n)
		q[i] -= cut
		sum -= cut
	}
	return q
}

// Allocate selects at most N issues for suggestion generation.
func (a *Allocator) Allocate(issues []models.RawIssue) models.AllocationResult {
	n := a.MaxSuggestions()
	mins := a.minimums()

	var pools [3][]models.RawIssue
	for _, issue := range issues {
		cat := Categorize(issue)
		issue.Category = cat
		idx := slices.Index(categoryOrder[:], cat)
		pools[idx] = append(pools[idx], issue)
	}
	for i := range pools {
		sortCategory(categoryOrder[i], pools[i])
	}

	// Phase 1: quotas.
	quotas := a.Quotas(n)
	var selected, remaining [3][]models.RawIssue
	total := 0
	for i := range pools {
		take := min(quotas[i], len(pools[i]))
		selected[i] = append(selected[i], pools[i][:take]...)
		remaining[i] = pools[i][take:]
		total += take
	}

	// Phase 2: unused budget to remaining high-priority issues.
	for i := range remaining {
		for total < n && len(remaining[i]) > 0 && severity.IsHighPriority(remaining[i][0].Severity) {
			selected[i] = append(selected[i], remaining[i][0])
			remaining[i] = remaining[i][1:]
			total++
		}
	}

	// Phase 3: displacement of lower-severity picks.
	displaced := 0
	for i := range remaining {
		for len(remaining[i]) > 0 && severity.IsHighPriority(remaining[i][0].Severity) {
			vc, vi, ok := findVictim(selected, i, mins)
			if !ok {
				break
			}
			selected[vc] = slices.Delete(selected[vc], vi, vi+1)
			selected[i] = append(selected[i], remaining[i][0])
			remaining[i] = remaining[i][1:]
			displaced++
		}
	}
	for i := range selected {
		sortCategory(categoryOrder[i], selected[i])
	}

	result := models.AllocationResult{
		Security:    selected[0],
		Performance: selected[1],
		Quality:     selected[2],
		Counts: map[models.Category]int{
			models.CategorySecurity:    len(selected[0]),
			models.CategoryPerformance: len(selected[1]),
			models.CategoryQuality:     len(selected[2]),
		},
	}

	slog.Info("suggestion budget allocated",
		"budget", n,
		"available", len(issues),
		"selected", result.Total(),
		"security", len(selected[0]),
		"performance", len(selected[1]),
		"quality", len(selected[2]),
		"displaced", displaced,
	)
	return result
}

// findVictim picks the lowest-severity MEDIUM/LOW selection that can be removed
// without pushing its category below the minimum. Categories are scanned from lowest
// priority so quality picks give way first.
func findVictim(selected [3][]models.RawIssue, forCategory int, mins [3]int) (int, int, bool) {
	bestCat, bestIdx, bestRank := -1, -1, math.MaxInt
	for c := len(selected) - 1; c >= 0; c-- {
		if c != forCategory && len(selected[c]) <= mins[c] {
			continue
		}
		for i := len(selected[c]) - 1; i >= 0; i-- {
			r := severity.Rank(selected[c][i].Severity)
			if severity.IsHighPriority(selected[c][i].Severity) {
				continue
			}
			if r < bestRank {
				bestCat, bestIdx, bestRank = c, i, r
			}
			break
		}
	}
	return bestCat, bestIdx, bestCat >= 0
}

// sortCategory orders issues by severity, then by the category's secondary key:
// estimated CVSS for security, line number (a size proxy) for everything else.
func sortCategory(cat models.Category, issues []models.RawIssue) {
	slices.SortStableFunc(issues, func(x, y models.RawIssue) int {
		if c := cmp.Compare(severity.Rank(y.Severity), severity.Rank(x.Severity)); c != 0 {
			return c
		}
		if cat == models.CategorySecurity {
			if c := cmp.Compare(EstimateCVSS(y), EstimateCVSS(x)); c != 0 {
				return c
			}
		} else if c := cmp.Compare(y.Line, x.Line); c != 0 {
			return c
		}
		if c := severity.CompareRaw(x, y); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
}
