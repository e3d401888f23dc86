// Package models contains shared data models used across the codereview codebase.
package models

import (
	"time"
)

// Pipeline stages, in execution order.
const (
	StagePending     = "pending"
	StageScreening   = "screening"
	StageDetection   = "detection"
	StageSuggestions = "suggestions"
	StageAggregation = "aggregation"
	StageCompleted   = "completed"
	StageFailed      = "failed"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is one analyze request. It is immutable once submitted; the orchestrator owns it
// for the lifetime of the analysis.
type Job struct {
	AnalysisID  string    `json:"analysisId"`
	SessionID   string    `json:"sessionId"`
	Repository  string    `json:"repository"`
	Branch      string    `json:"branch"`
	ScanNumber  int       `json:"scanNumber"`
	Files       []File    `json:"files"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// File is a single source file submitted for analysis.
type File struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	SHA      string `json:"sha,omitempty"`
	Language string `json:"language,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// JobStatus is the progress snapshot returned by the orchestrator's Status call and
// mirrored into the cache so any instance can answer status polls.
type JobStatus struct {
	AnalysisID string    `json:"analysis_id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Percent    int       `json:"percent"`
	Terminal   bool      `json:"terminal"`
	ETASeconds int       `json:"eta_seconds"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
