package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/codereview/internal/allocation"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/invoke"
	"github.com/kiranshivaraju/codereview/internal/reconcile"
	"github.com/kiranshivaraju/codereview/internal/store"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Deps are the collaborators every Orchestrator needs.
type Deps struct {
	Executor   *invoke.Executor
	Locker     invoke.Locker
	Buffer     Buffer
	Results    ResultStore
	Reconciler *reconcile.Reconciler
}

// Orchestrator accepts analysis jobs and runs them in the background.
type Orchestrator struct {
	exec       *invoke.Executor
	locker     invoke.Locker
	buffer     Buffer
	reconciler *reconcile.Reconciler
	allocator  *allocation.Allocator
	router     *Router
	poller     *Poller
	fns        config.FunctionsConfig
	cfg        config.PipelineConfig

	statuses StatusStore
	reader   store.ResultReader
	archiver Archiver
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]models.JobStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Orchestrator)

// WithStatusStore mirrors status snapshots into s so other instances can answer
// status polls.
func WithStatusStore(s StatusStore) Option {
	return func(o *Orchestrator) { o.statuses = s }
}

// WithResultReader lets Status answer for analyses that finished before this
// process started.
func WithResultReader(r store.ResultReader) Option {
	return func(o *Orchestrator) { o.reader = r }
}

func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPollSleep replaces the sleep used between async result polls.
func WithPollSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.poller.sleep = sleep }
}

func New(deps Deps, fns config.FunctionsConfig, cfg config.PipelineConfig, opts ...Option) *Orchestrator {
	results := deps.Results
	if results == nil {
		results = NewMemoryResultStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		exec:       deps.Executor,
		locker:     deps.Locker,
		buffer:     deps.Buffer,
		reconciler: deps.Reconciler,
		allocator:  allocation.New(cfg.Budget),
		router:     NewRouter(cfg.Routing),
		poller:     NewPoller(results, cfg.Polling),
		fns:        fns,
		cfg:        cfg,
		now:        time.Now,
		jobs:       make(map[string]models.JobStatus),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.poller.now = o.now
	return o
}

// Submit validates job and starts it in the background. It returns the analysis
// id used as the job handle.
func (o *Orchestrator) Submit(ctx context.Context, job models.Job) (string, error) {
	if err := o.prepare(&job); err != nil {
		return "", err
	}
	r, err := o.start(ctx, job)
	if err != nil {
		return "", err
	}
	slog.Info("analysis submitted",
		"analysis_id", job.AnalysisID,
		"repository", job.Repository,
		"files", len(job.Files),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("analysis panicked", "analysis_id", job.AnalysisID, "panic", rec)
				o.setStatus(o.ctx, job, models.StageFailed, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		if _, _, err := o.execute(o.ctx, r); err != nil {
			slog.Error("analysis failed", "analysis_id", job.AnalysisID, "error", err)
		}
	}()
	return job.AnalysisID, nil
}

func (o *Orchestrator) prepare(job *models.Job) error {
	if len(job.Files) == 0 {
		return fmt.Errorf("%w: no files submitted", ErrInvalidJob)
	}
	for i, f := range job.Files {
		if f.Path == "" {
			return fmt.Errorf("%w: file %d has no path", ErrInvalidJob, i)
		}
	}
	if job.AnalysisID == "" {
		job.AnalysisID = uuid.NewString()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = o.now().UTC()
	}
	return nil
}

// Status returns the progress of an analysis. It looks in this process first,
// then in the shared status store, then at persisted results.
func (o *Orchestrator) Status(ctx context.Context, analysisID string) (models.JobStatus, error) {
	o.mu.Lock()
	st, ok := o.jobs[analysisID]
	o.mu.Unlock()
	if ok {
		return st, nil
	}

	if o.statuses != nil {
		st, found, err := o.statuses.GetStatus(ctx, analysisID)
		if err != nil {
			slog.Warn("status lookup failed", "analysis_id", analysisID, "error", err)
		} else if found {
			return st, nil
		}
	}

	if o.reader != nil {
		result, err := o.reader.GetResult(ctx, analysisID)
		switch {
		case err == nil:
			return models.JobStatus{
				AnalysisID: analysisID,
				Status:     models.JobStatusCompleted,
				Stage:      models.StageCompleted,
				Percent:    100,
				Terminal:   true,
				UpdatedAt:  result.CompletedAt,
			}, nil
		case !errors.Is(err, store.ErrNotFound):
			return models.JobStatus{}, fmt.Errorf("status %s: %w", analysisID, err)
		}
	}
	return models.JobStatus{}, fmt.Errorf("%s: %w", analysisID, ErrUnknownJob)
}

// Run executes job synchronously and returns the persisted result. Stage
// failures degrade the result; only reconciliation can fail the analysis.
func (o *Orchestrator) Run(ctx context.Context, job models.Job) (*models.AnalysisResult, []models.Issue, error) {
	if err := o.prepare(&job); err != nil {
		return nil, nil, err
	}
	r, err := o.start(ctx, job)
	if err != nil {
		return nil, nil, err
	}
	return o.execute(ctx, r)
}

// start reserves the analysis in this process and takes its screening lock,
// which stays held until the run ends so a second runner is turned away before
// it touches anything. A lock store failure only degrades screening.
func (o *Orchestrator) start(ctx context.Context, job models.Job) (*analysisRun, error) {
	if err := o.reserve(job); err != nil {
		return nil, err
	}
	r := &analysisRun{o: o, job: job, started: o.now().UTC()}
	release, err := r.hold(ctx, models.StageScreening)
	if err != nil {
		o.forget(job.AnalysisID)
		return nil, fmt.Errorf("%w: %s: %w", ErrAlreadyRunning, job.AnalysisID, err)
	}
	r.release = release
	o.setStatus(ctx, job, models.StagePending, "")
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *analysisRun) (*models.AnalysisResult, []models.Issue, error) {
	if r.release != nil {
		defer r.release()
	}
	job := r.job

	o.setStatus(ctx, job, models.StageScreening, "")
	files := r.screen(ctx)

	o.setStatus(ctx, job, models.StageDetection, "")
	issues, err := r.detect(ctx, files)
	if err != nil {
		return nil, nil, o.abandon(job, err)
	}

	o.setStatus(ctx, job, models.StageSuggestions, "")
	if err := r.suggest(ctx, issues); err != nil {
		return nil, nil, o.abandon(job, err)
	}

	if err := ctx.Err(); err != nil {
		o.setStatus(context.WithoutCancel(ctx), job, models.StageFailed, "interrupted")
		return nil, nil, fmt.Errorf("analysis %s interrupted: %w", job.AnalysisID, err)
	}

	o.setStatus(ctx, job, models.StageAggregation, "")
	in, err := r.snapshot(ctx)
	if err != nil {
		o.setStatus(ctx, job, models.StageFailed, err.Error())
		return nil, nil, err
	}
	result, out, err := o.reconciler.Reconcile(ctx, in)
	if err != nil {
		o.setStatus(ctx, job, models.StageFailed, err.Error())
		return nil, nil, err
	}

	if err := o.buffer.Delete(ctx, job.AnalysisID); err != nil {
		slog.Warn("failed to clear stage buffer", "analysis_id", job.AnalysisID, "error", err)
	}
	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, result, out); err != nil {
			slog.Warn("failed to archive report", "analysis_id", job.AnalysisID, "error", err)
		}
	}

	o.setStatus(ctx, job, models.StageCompleted, "")
	slog.Info("analysis completed",
		"analysis_id", job.AnalysisID,
		"status", result.Status,
		"issues", len(out),
		"duration_ms", result.ProcessingTimeMs,
	)
	return result, out, nil
}

// abandon stops a run that found a later stage owned by another runner. Shared
// status and persisted results belong to that runner and are left alone.
func (o *Orchestrator) abandon(job models.Job, err error) error {
	o.forget(job.AnalysisID)
	return fmt.Errorf("%w: %s: %w", ErrAlreadyRunning, job.AnalysisID, err)
}

// reserve records job as pending in this process unless a run for it is still
// in flight here.
func (o *Orchestrator) reserve(job models.Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.jobs[job.AnalysisID]; ok && !st.Terminal {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, job.AnalysisID)
	}
	o.jobs[job.AnalysisID] = models.JobStatus{
		AnalysisID: job.AnalysisID,
		Stage:      models.StagePending,
		Status:     models.JobStatusPending,
		ETASeconds: EstimateSeconds(models.StagePending, len(job.Files)),
		UpdatedAt:  o.now().UTC(),
	}
	return nil
}

func (o *Orchestrator) forget(analysisID string) {
	o.mu.Lock()
	delete(o.jobs, analysisID)
	o.mu.Unlock()
}

// Close stops running analyses and waits for them to return.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, job models.Job, stage, errMsg string) {
	now := o.now().UTC()
	st := models.JobStatus{
		AnalysisID: job.AnalysisID,
		Stage:      stage,
		Error:      errMsg,
		UpdatedAt:  now,
	}

	o.mu.Lock()
	prev, seen := o.jobs[job.AnalysisID]
	switch stage {
	case models.StagePending:
		st.Status = models.JobStatusPending
	case models.StageCompleted:
		st.Status, st.Terminal = models.JobStatusCompleted, true
	case models.StageFailed:
		st.Status, st.Terminal = models.JobStatusFailed, true
	default:
		st.Status = models.JobStatusRunning
	}
	st.Percent = Percent(stage)
	if stage == models.StageFailed && seen {
		// A failed analysis keeps the progress it had reached.
		st.Percent = prev.Percent
	}
	st.ETASeconds = EstimateSeconds(stage, len(job.Files))
	o.jobs[job.AnalysisID] = st
	if st.Terminal {
		o.pruneLocked(now)
	}
	o.mu.Unlock()

	if o.statuses != nil {
		if err := o.statuses.SetStatus(ctx, st, o.cfg.Results.StatusTTL); err != nil {
			slog.Warn("failed to share status", "analysis_id", job.AnalysisID, "error", err)
		}
	}
}

// pruneLocked forgets terminal statuses older than the status TTL.
func (o *Orchestrator) pruneLocked(now time.Time) {
	if o.cfg.Results.StatusTTL <= 0 {
		return
	}
	cutoff := now.Add(-o.cfg.Results.StatusTTL)
	for id, st := range o.jobs {
		if st.Terminal && st.UpdatedAt.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
}
