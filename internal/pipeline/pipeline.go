// Package pipeline runs an analysis through its stages: screening, detection,
// budgeted suggestion generation and reconciliation. Stages of one analysis run
// strictly in order; separate analyses run concurrently.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

var (
	// ErrUnknownJob is returned by Status for a handle nobody has seen.
	ErrUnknownJob = errors.New("unknown analysis")
	// ErrInvalidJob is returned by Submit for a job that cannot run.
	ErrInvalidJob = errors.New("invalid analysis job")
	// ErrAlreadyRunning is returned when another runner owns the analysis. The
	// refused run leaves the owner's buffer, status and report alone.
	ErrAlreadyRunning = errors.New("analysis already running")
)

// Buffer is the working memory of running analyses: the stage results of each
// analysis, kept until it is reconciled.
type Buffer interface {
	Put(ctx context.Context, analysisID, stage string, batch int, raw []byte) error
	// Get returns the stored results of a stage ordered by batch index.
	Get(ctx context.Context, analysisID, stage string) ([][]byte, error)
	Delete(ctx context.Context, analysisID string) error
}

// ResultStore is where asynchronously invoked suggestion functions leave their
// response for a batch.
type ResultStore interface {
	Store(ctx context.Context, analysisID string, batch int, raw []byte) error
	Fetch(ctx context.Context, analysisID string, batch int) ([]byte, bool, error)
}

// StatusStore shares job status snapshots between server instances.
type StatusStore interface {
	SetStatus(ctx context.Context, status models.JobStatus, ttl time.Duration) error
	GetStatus(ctx context.Context, analysisID string) (models.JobStatus, bool, error)
}

// Archiver copies a finished report somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, result *models.AnalysisResult, issues []models.Issue) error
}
