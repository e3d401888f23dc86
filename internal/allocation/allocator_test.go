package allocation_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/kiranshivaraju/codereview/internal/allocation"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultAllocator() *allocation.Allocator {
	return allocation.New(config.DefaultPipeline().Budget)
}

func issue(id, typ string, sev models.Severity, cat models.Category) models.RawIssue {
	return models.RawIssue{ID: id, Type: typ, Severity: sev, Category: cat, File: "f.go", Line: 1}
}

func ids(issues []models.RawIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.ID
	}
	return out
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		issue models.RawIssue
		want  models.Category
	}{
		{models.RawIssue{Category: "Security", Type: "LOOP"}, models.CategorySecurity},
		{models.RawIssue{Category: "performance"}, models.CategoryPerformance},
		{models.RawIssue{Type: "SQL_INJECTION"}, models.CategorySecurity},
		{models.RawIssue{Type: "broken_auth_flow"}, models.CategorySecurity},
		{models.RawIssue{Type: "INEFFICIENT_LOOP"}, models.CategoryPerformance},
		{models.RawIssue{Type: "MEMORY_LEAK"}, models.CategoryPerformance},
		{models.RawIssue{Type: "NAMING", Category: "general"}, models.CategoryQuality},
		{models.RawIssue{}, models.CategoryQuality},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.issue.Category, tt.issue.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, allocation.Categorize(tt.issue))
		})
	}
}

func TestQuotas_DefaultBudget(t *testing.T) {
	a := defaultAllocator()
	assert.Equal(t, 20, a.MaxSuggestions())
	assert.Equal(t, [3]int{10, 6, 4}, a.Quotas(20))
}

func TestQuotas_SmallBudgetKeepsMinimumsWithinN(t *testing.T) {
	a := defaultAllocator()
	for n := 0; n <= 8; n++ {
		q := a.Quotas(n)
		assert.LessOrEqual(t, q[0]+q[1]+q[2], n, "n=%d", n)
	}
	assert.Equal(t, [3]int{3, 2, 1}, a.Quotas(6))
	// Quality gives way first.
	assert.Equal(t, [3]int{3, 2, 0}, a.Quotas(5))
}

func TestAllocate_ScenarioA(t *testing.T) {
	issues := []models.RawIssue{
		issue("sec", "SQL_INJECTION", models.SeverityCritical, models.CategorySecurity),
		issue("perf", "INEFFICIENT_LOOP", models.SeverityHigh, models.CategoryPerformance),
		issue("qual", "NAMING", models.SeverityLow, models.CategoryQuality),
	}

	res := defaultAllocator().Allocate(issues)

	assert.Equal(t, 3, res.Total())
	assert.Equal(t, []string{"sec"}, ids(res.Security))
	assert.Equal(t, []string{"perf"}, ids(res.Performance))
	assert.Equal(t, []string{"qual"}, ids(res.Quality))
	assert.Equal(t, 1, res.Counts[models.CategorySecurity])
}

func TestAllocate_SecuritySortedByCVSS(t *testing.T) {
	score := 9.9
	explicit := issue("explicit", "WEAK_CRYPTOGRAPHY", models.SeverityHigh, models.CategorySecurity)
	explicit.CVEScore = &score

	issues := []models.RawIssue{
		issue("high-generic", "AUTH", models.SeverityHigh, models.CategorySecurity),
		issue("high-xss", "XSS", models.SeverityHigh, models.CategorySecurity),
		explicit,
		issue("crit", "SQL_INJECTION", models.SeverityCritical, models.CategorySecurity),
	}
	res := defaultAllocator().Allocate(issues)
	assert.Equal(t, []string{"crit", "explicit", "high-xss", "high-generic"}, ids(res.Security))
}

func TestAllocate_NonSecuritySortedByLineDescending(t *testing.T) {
	a := issue("a", "LOOP", models.SeverityMedium, models.CategoryPerformance)
	a.Line = 10
	b := issue("b", "LOOP", models.SeverityMedium, models.CategoryPerformance)
	b.Line = 200
	res := defaultAllocator().Allocate([]models.RawIssue{a, b})
	assert.Equal(t, []string{"b", "a"}, ids(res.Performance))
}

func TestAllocate_Phase2RedistributesHighPriority(t *testing.T) {
	var issues []models.RawIssue
	for i := 0; i < 15; i++ {
		issues = append(issues, issue(fmt.Sprintf("s%02d", i), "XSS", models.SeverityHigh, models.CategorySecurity))
	}
	for i := 0; i < 3; i++ {
		issues = append(issues, issue(fmt.Sprintf("l%02d", i), "LOW_SEC", models.SeverityLow, models.CategorySecurity))
	}

	res := defaultAllocator().Allocate(issues)

	// Quota 10 plus 5 redistributed HIGH issues; LOW leftovers are not pulled in.
	assert.Len(t, res.Security, 15)
	for _, is := range res.Security {
		assert.Equal(t, models.SeverityHigh, is.Severity)
	}
}

func TestAllocate_Phase3DisplacesLowerSeverity(t *testing.T) {
	var issues []models.RawIssue
	for i := 0; i < 14; i++ {
		issues = append(issues, issue(fmt.Sprintf("s%02d", i), "SQL_INJECTION", models.SeverityCritical, models.CategorySecurity))
	}
	for i := 0; i < 8; i++ {
		issues = append(issues, issue(fmt.Sprintf("p%02d", i), "LOOP", models.SeverityLow, models.CategoryPerformance))
	}
	for i := 0; i < 6; i++ {
		issues = append(issues, issue(fmt.Sprintf("q%02d", i), "NAMING", models.SeverityLow, models.CategoryQuality))
	}

	res := defaultAllocator().Allocate(issues)

	assert.Equal(t, 20, res.Total())
	// Every CRITICAL issue is selected; quality gives way first, down to its minimum.
	assert.Len(t, res.Security, 14)
	assert.Len(t, res.Performance, 5)
	assert.Len(t, res.Quality, 1)
}

func TestAllocate_Phase3RespectsMinimums(t *testing.T) {
	var issues []models.RawIssue
	for i := 0; i < 30; i++ {
		issues = append(issues, issue(fmt.Sprintf("s%02d", i), "SQL_INJECTION", models.SeverityCritical, models.CategorySecurity))
	}
	for i := 0; i < 10; i++ {
		issues = append(issues, issue(fmt.Sprintf("p%02d", i), "LOOP", models.SeverityLow, models.CategoryPerformance))
		issues = append(issues, issue(fmt.Sprintf("q%02d", i), "NAMING", models.SeverityLow, models.CategoryQuality))
	}

	res := defaultAllocator().Allocate(issues)

	assert.Equal(t, 20, res.Total())
	assert.Len(t, res.Performance, 2)
	assert.Len(t, res.Quality, 1)
	assert.Len(t, res.Security, 17)
}

func TestAllocate_Empty(t *testing.T) {
	res := defaultAllocator().Allocate(nil)
	assert.Equal(t, 0, res.Total())
	assert.Equal(t, 0, res.Counts[models.CategoryQuality])
}

func TestAllocate_CategoryDerivedFromType(t *testing.T) {
	res := defaultAllocator().Allocate([]models.RawIssue{
		{ID: "x", Type: "SQL_INJECTION", Severity: models.SeverityHigh},
	})
	require.Len(t, res.Security, 1)
	assert.Equal(t, models.CategorySecurity, res.Security[0].Category)
}

func TestAllocate_Properties(t *testing.T) {
	severities := []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow, ""}
	categories := []models.Category{models.CategorySecurity, models.CategoryPerformance, models.CategoryQuality, ""}
	types := []string{"SQL_INJECTION", "XSS", "LOOP", "MEMORY_LEAK", "NAMING", "DUPLICATION"}

	rng := rand.New(rand.NewSource(42))
	budgets := []int{3500, 7000, 21000, 70000, 140000}

	for trial := 0; trial < 200; trial++ {
		cfg := config.DefaultPipeline().Budget
		cfg.TotalTokenBudget = budgets[rng.Intn(len(budgets))]
		a := allocation.New(cfg)
		n := a.MaxSuggestions()

		count := rng.Intn(60)
		issues := make([]models.RawIssue, count)
		for i := range issues {
			issues[i] = models.RawIssue{
				ID:       fmt.Sprintf("i%d", i),
				Type:     types[rng.Intn(len(types))],
				Severity: severities[rng.Intn(len(severities))],
				Category: categories[rng.Intn(len(categories))],
				Line:     rng.Intn(500),
			}
		}

		res := a.Allocate(issues)
		require.LessOrEqual(t, res.Total(), n, "trial %d", trial)

		available := map[models.Category]int{}
		for _, is := range issues {
			available[allocation.Categorize(is)]++
		}
		quotas := a.Quotas(n)
		got := [3]int{len(res.Security), len(res.Performance), len(res.Quality)}
		cats := [3]models.Category{models.CategorySecurity, models.CategoryPerformance, models.CategoryQuality}
		mins := [3]int{cfg.SecurityMin, cfg.PerformanceMin, cfg.QualityMin}
		for i, c := range cats {
			want := min(mins[i], quotas[i], available[c])
			assert.GreaterOrEqual(t, got[i], want, "trial %d category %s", trial, c)
		}

		seen := map[string]bool{}
		for _, is := range res.All() {
			assert.False(t, seen[is.ID], "duplicate selection %s", is.ID)
			seen[is.ID] = true
		}
	}
}
