package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// MemoryResults keeps results in process. It backs local runs and tests.
type MemoryResults struct {
	mu      sync.RWMutex
	results map[string]models.AnalysisResult
	issues  map[string][]models.Issue
	now     func() time.Time
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{
		results: make(map[string]models.AnalysisResult),
		issues:  make(map[string][]models.Issue),
		now:     time.Now,
	}
}

func (m *MemoryResults) SaveResult(_ context.Context, result *models.AnalysisResult, issues []models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = m.now().UTC()
	}
	m.results[result.AnalysisID] = *result
	m.issues[result.AnalysisID] = slices.Clone(issues)
	return nil
}

func (m *MemoryResults) GetResult(_ context.Context, analysisID string) (*models.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[analysisID]
	if !ok || m.expired(r) {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryResults) ListIssues(_ context.Context, analysisID string, opts ...IssueListOption) ([]models.Issue, error) {
	f := NewIssueFilter(opts...)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Issue{}
	if r, ok := m.results[analysisID]; !ok || m.expired(r) {
		return out, nil
	}
	for _, is := range m.issues[analysisID] {
		if !f.Match(is) {
			continue
		}
		out = append(out, is)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// DeleteExpired removes results whose expiry is at or before now.
func (m *MemoryResults) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.results {
		if !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now) {
			delete(m.results, id)
			delete(m.issues, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryResults) expired(r models.AnalysisResult) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(m.now())
}

var (
	_ ResultWriter = (*MemoryResults)(nil)
	_ ResultReader = (*MemoryResults)(nil)
)
