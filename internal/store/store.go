package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	KeyStore
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	ResultWriter
	ResultReader
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// KeyStore is what API key authentication needs.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// ResultWriter persists one reconciled analysis. Saving the same analysis again
// replaces the previous record and its issues.
type ResultWriter interface {
	SaveResult(ctx context.Context, result *models.AnalysisResult, issues []models.Issue) error
}

// ResultReader reads persisted analyses. Expired results are not returned.
type ResultReader interface {
	GetResult(ctx context.Context, analysisID string) (*models.AnalysisResult, error)
	ListIssues(ctx context.Context, analysisID string, opts ...IssueListOption) ([]models.Issue, error)
}

// IssueFilter narrows ListIssues. Nil fields and a zero Limit do not filter.
type IssueFilter struct {
	Severity *models.Severity
	Category *models.Category
	Limit    int
}

type IssueListOption func(*IssueFilter)

// NewIssueFilter applies opts to an empty filter.
func NewIssueFilter(opts ...IssueListOption) IssueFilter {
	var f IssueFilter
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Match reports whether is passes the severity and category filters.
func (f IssueFilter) Match(is models.Issue) bool {
	if f.Severity != nil && is.Severity != *f.Severity {
		return false
	}
	if f.Category != nil && is.Category != *f.Category {
		return false
	}
	return true
}

func WithSeverity(s models.Severity) IssueListOption {
	return func(p *IssueFilter) {
		p.Severity = &s
	}
}

func WithCategory(c models.Category) IssueListOption {
	return func(p *IssueFilter) {
		p.Category = &c
	}
}

func WithLimit(n int) IssueListOption {
	return func(p *IssueFilter) {
		p.Limit = n
	}
}
