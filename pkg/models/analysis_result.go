package models

import (
	"time"
)

const (
	AnalysisStatusCompleted = "completed"
	AnalysisStatusPartial   = "partial"
)

// AnalysisResult is the reconciled report for one analysis. It is written once when the
// pipeline completes and expires after TTL.
type AnalysisResult struct {
	AnalysisID       string            `db:"analysis_id"        json:"analysis_id"`
	SessionID        string            `db:"session_id"         json:"session_id"`
	Status           string            `db:"status"             json:"status"`
	Repository       string            `db:"repository"         json:"repository"`
	Branch           string            `db:"branch"             json:"branch"`
	ScanNumber       int               `db:"scan_number"        json:"scan_number"`
	StartedAt        time.Time         `db:"started_at"         json:"started_at"`
	CompletedAt      time.Time         `db:"completed_at"       json:"completed_at"`
	ProcessingTimeMs int64             `db:"processing_time_ms" json:"processing_time_ms"`
	FilesSubmitted   int               `db:"files_submitted"    json:"files_submitted"`
	FilesAnalyzed    int               `db:"files_analyzed"     json:"files_analyzed"`
	FilesSkipped     int               `db:"files_skipped"      json:"files_skipped"`
	SkipReasons      map[string]string `db:"skip_reasons"       json:"skip_reasons,omitempty"`
	Summary          Summary           `db:"summary"            json:"summary"`
	Scores           Scores            `db:"scores"             json:"scores"`
	TokenUsage       TokenUsage        `db:"token_usage"        json:"token_usage"`
	Costs            Costs             `db:"costs"              json:"costs"`
	TTL              int64             `db:"ttl"                json:"ttl"`
	ExpiresAt        time.Time         `db:"expires_at"         json:"expires_at"`
	CreatedAt        time.Time         `db:"created_at"         json:"created_at"`
}

type Summary struct {
	TotalIssues int            `json:"total_issues"`
	BySeverity  map[string]int `json:"by_severity"`
	ByCategory  map[string]int `json:"by_category"`
	ByType      map[string]int `json:"by_type"`
}

// Scores are on a 0 to 10 scale, higher is better.
type Scores struct {
	Security    float64 `json:"security"`
	Performance float64 `json:"performance"`
	Quality     float64 `json:"quality"`
	Overall     float64 `json:"overall"`
}

type TokenUsage struct {
	Screening   int `json:"screening"`
	Detection   int `json:"detection"`
	Suggestions int `json:"suggestions"`
	Total       int `json:"total"`
}

type Costs struct {
	Model          float64 `json:"model"`
	Infrastructure float64 `json:"infrastructure"`
	Total          float64 `json:"total"`
}

// AllocationResult holds the disjoint per-category subsets of issues selected for
// suggestion generation.
type AllocationResult struct {
	Security    []RawIssue       `json:"security"`
	Performance []RawIssue       `json:"performance"`
	Quality     []RawIssue       `json:"quality"`
	Counts      map[Category]int `json:"counts"`
}

// Total returns the number of selected issues.
func (a AllocationResult) Total() int {
	return len(a.Security) + len(a.Performance) + len(a.Quality)
}

// All returns the selected issues in category order security, performance, quality.
func (a AllocationResult) All() []RawIssue {
	out := make([]RawIssue, 0, a.Total())
	out = append(out, a.Security...)
	out = append(out, a.Performance...)
	return append(out, a.Quality...)
}
