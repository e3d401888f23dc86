package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/functions/mock"
	"github.com/kiranshivaraju/codereview/internal/invoke"
	"github.com/kiranshivaraju/codereview/internal/pipeline"
	"github.com/kiranshivaraju/codereview/internal/reconcile"
	"github.com/kiranshivaraju/codereview/internal/store"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

var testFunctions = config.FunctionsConfig{
	Backend:     "mock",
	Screening:   "screening-fn",
	Detection:   "detection-fn",
	Suggestions: "suggestions-fn",
}

// memoryWriter is a store.ResultWriter and store.ResultReader over a map.
type memoryWriter struct {
	mu      sync.Mutex
	results map[string]*models.AnalysisResult
	issues  map[string][]models.Issue
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{results: map[string]*models.AnalysisResult{}, issues: map[string][]models.Issue{}}
}

func (w *memoryWriter) SaveResult(_ context.Context, r *models.AnalysisResult, issues []models.Issue) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results[r.AnalysisID] = r
	w.issues[r.AnalysisID] = issues
	return nil
}

func (w *memoryWriter) GetResult(_ context.Context, id string) (*models.AnalysisResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.results[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (w *memoryWriter) ListIssues(_ context.Context, id string, _ ...store.IssueListOption) ([]models.Issue, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.issues[id], nil
}

// recordingInvoker wraps the local mock backend so single stages can be replaced.
type recordingInvoker struct {
	mu        sync.Mutex
	base      *mock.Invoker
	overrides map[string]func(ctx context.Context, req invoke.Request) ([]byte, error)
	requests  map[string][]invoke.Request
}

func newRecordingInvoker() *recordingInvoker {
	return &recordingInvoker{
		base:      mock.NewInvoker(testFunctions),
		overrides: map[string]func(context.Context, invoke.Request) ([]byte, error){},
		requests:  map[string][]invoke.Request{},
	}
}

func (r *recordingInvoker) Name() string { return "recording" }

func (r *recordingInvoker) Invoke(ctx context.Context, req invoke.Request) ([]byte, error) {
	r.mu.Lock()
	r.requests[req.Function] = append(r.requests[req.Function], req)
	override := r.overrides[req.Function]
	r.mu.Unlock()
	if override != nil {
		return override(ctx, req)
	}
	return r.base.Invoke(ctx, req)
}

func (r *recordingInvoker) calls(fn string) []invoke.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[fn]
}

type fixture struct {
	inv     *recordingInvoker
	exec    *invoke.Executor
	locker  *invoke.MemoryLocker
	buffer  *pipeline.MemoryBuffer
	results *pipeline.MemoryResultStore
	writer  *memoryWriter
	cfg     config.PipelineConfig
}

func newFixture(t *testing.T, mutate func(cfg *config.PipelineConfig)) *fixture {
	t.Helper()
	cfg := config.DefaultPipeline()
	cfg.Resilience.RateLimitDelay = 0
	cfg.Resilience.MaxRetries = 3
	cfg.Resilience.BreakerThreshold = 2
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		inv:     newRecordingInvoker(),
		locker:  invoke.NewMemoryLocker(),
		buffer:  pipeline.NewMemoryBuffer(),
		results: pipeline.NewMemoryResultStore(),
		writer:  newMemoryWriter(),
		cfg:     cfg,
	}
	f.exec = invoke.NewExecutor(f.inv, cfg.Resilience,
		invoke.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	return f
}

func (f *fixture) orchestrator(opts ...pipeline.Option) *pipeline.Orchestrator {
	opts = append([]pipeline.Option{
		pipeline.WithPollSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}, opts...)
	return pipeline.New(pipeline.Deps{
		Executor:   f.exec,
		Locker:     f.locker,
		Buffer:     f.buffer,
		Results:    f.results,
		Reconciler: reconcile.New(f.writer, f.cfg.Results),
	}, testFunctions, f.cfg, opts...)
}

const vulnerable = `package db

// Find loads a user.
func Find(userId string) {
	query = "SELECT * FROM users WHERE id = " + userId
	run(query)
}
`

func sampleJob() models.Job {
	return models.Job{
		AnalysisID: "an-42",
		SessionID:  "sess-1",
		Repository: "acme/shop",
		Branch:     "main",
		ScanNumber: 1,
		Files: []models.File{
			{Path: "db/find.go", Language: "go", Content: vulnerable},
			{Path: "README.md", Content: "# shop"},
		},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	o := f.orchestrator()

	result, issues, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)

	assert.Equal(t, models.AnalysisStatusCompleted, result.Status)
	assert.Equal(t, 2, result.FilesSubmitted)
	assert.Equal(t, 2, result.FilesAnalyzed)
	require.NotEmpty(t, issues)
	for _, is := range issues {
		assert.Equal(t, "SQL_INJECTION", is.Type)
		assert.Equal(t, "db/find.go", is.File)
		assert.Equal(t, "go", is.Language)
		require.NotNil(t, is.Suggestion, "issue %s", is.IssueID)
		assert.Equal(t, is.IssueID, is.Suggestion.IssueID)
	}
	assert.Less(t, result.Scores.Security, 10.0)

	saved, err := f.writer.GetResult(context.Background(), "an-42")
	require.NoError(t, err)
	assert.Same(t, result, saved)
	assert.Zero(t, f.buffer.Len(), "buffer is cleared after reconciliation")

	st, err := o.Status(context.Background(), "an-42")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, st.Status)
	assert.Equal(t, 100, st.Percent)
	assert.True(t, st.Terminal)
}

func TestRun_StagePayloads(t *testing.T) {
	f := newFixture(t, func(cfg *config.PipelineConfig) { cfg.Batching.DetectionBatchSize = 1 })
	o := f.orchestrator()

	_, _, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)

	screening := f.inv.calls(testFunctions.Screening)
	require.Len(t, screening, 1)
	var req map[string]any
	require.NoError(t, json.Unmarshal(screening[0].Payload, &req))
	assert.Equal(t, "an-42", req["analysisId"])
	assert.Equal(t, "sess-1", req["sessionId"])
	assert.Equal(t, "acme/shop", req["repository"])
	assert.Equal(t, "screening", req["stage"])
	assert.NotContains(t, req, "batch")

	detection := f.inv.calls(testFunctions.Detection)
	require.Len(t, detection, 2)
	for i, call := range detection {
		var body struct {
			Batch struct{ Index, Total int } `json:"batch"`
			Files []models.File              `json:"files"`
		}
		require.NoError(t, json.Unmarshal(call.Payload, &body))
		assert.Equal(t, i, body.Batch.Index)
		assert.Equal(t, 2, body.Batch.Total)
		require.Len(t, body.Files, 1)
		assert.NotContains(t, body.Files[0].Content, "Find loads a user", "comments are stripped")
	}
}

// Suggestion calls exhaust their retries and open the circuit; every budgeted
// issue still gets a template suggestion and the record validates.
func TestRun_SuggestionFailureFallsBackToTemplates(t *testing.T) {
	f := newFixture(t, func(cfg *config.PipelineConfig) { cfg.Batching.SuggestionBatchSize = 1 })
	f.inv.overrides[testFunctions.Suggestions] = func(context.Context, invoke.Request) ([]byte, error) {
		return nil, fmt.Errorf("%w: connection reset", invoke.ErrTransient)
	}
	o := f.orchestrator()

	result, issues, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)
	require.NoError(t, reconcile.Validate(result))

	assert.Equal(t, models.AnalysisStatusPartial, result.Status)
	assert.Equal(t, invoke.CircuitOpen, f.exec.Breaker().State(testFunctions.Suggestions))
	// Threshold 2: the second failure opens the circuit, later batches are short-circuited.
	assert.Len(t, f.inv.calls(testFunctions.Suggestions), 2)

	require.NotEmpty(t, issues)
	for _, is := range issues {
		require.NotNil(t, is.Suggestion, "issue %s", is.IssueID)
		assert.Equal(t, models.SuggestionSourceTemplate, is.Suggestion.Source)
	}
}

func TestRun_ScreeningFailureAnalyzesSubmittedFiles(t *testing.T) {
	f := newFixture(t, nil)
	f.inv.overrides[testFunctions.Screening] = func(context.Context, invoke.Request) ([]byte, error) {
		return nil, fmt.Errorf("%w: function crashed", invoke.ErrRemoteExecution)
	}
	job := sampleJob()
	job.Files = append(job.Files, models.File{Path: "empty.go"})
	o := f.orchestrator()

	result, issues, err := o.Run(context.Background(), job)
	require.NoError(t, err)

	assert.NotEmpty(t, issues)
	assert.Equal(t, models.AnalysisStatusPartial, result.Status)
	assert.Equal(t, 2, result.FilesAnalyzed)
	assert.Equal(t, 1, result.FilesSkipped)
	assert.Equal(t, "empty file", result.SkipReasons["empty.go"])
}

func TestRun_ScreeningSkipReasons(t *testing.T) {
	f := newFixture(t, nil)
	f.inv.overrides[testFunctions.Screening] = func(context.Context, invoke.Request) ([]byte, error) {
		return []byte(`{"status":"success","files":[{"path":"db/find.go"}],"skipped":{"README.md":"documentation"},"summary":{"tokensUsed":40}}`), nil
	}
	o := f.orchestrator()

	result, issues, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesAnalyzed)
	assert.Equal(t, 1, result.FilesSkipped)
	assert.Equal(t, "documentation", result.SkipReasons["README.md"])
	assert.Equal(t, 40, result.TokenUsage.Screening)
	// Detection got the original content back, not the screening excerpt.
	assert.NotEmpty(t, issues)
}

func TestRun_ScreeningLockHeldLeavesOwnerAlone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ok, err := f.locker.Acquire(ctx, invoke.LockKey(models.StageScreening, "an-42"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.buffer.Put(ctx, "an-42", models.StageScreening, 0, []byte(`{"status":"success"}`)))
	shared := pipeline.NewMemoryStatusStore()
	owner := models.JobStatus{AnalysisID: "an-42", Status: models.JobStatusRunning, Stage: models.StageDetection, Percent: 33}
	require.NoError(t, shared.SetStatus(ctx, owner, time.Hour))
	o := f.orchestrator(pipeline.WithStatusStore(shared))

	result, issues, err := o.Run(ctx, sampleJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrAlreadyRunning)
	assert.ErrorIs(t, err, invoke.ErrLockHeld)
	assert.Nil(t, result)
	assert.Nil(t, issues)

	assert.Empty(t, f.inv.calls(testFunctions.Screening))
	assert.Empty(t, f.inv.calls(testFunctions.Detection))
	buffered, err := f.buffer.Get(ctx, "an-42", models.StageScreening)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(`{"status":"success"}`)}, buffered)
	_, err = f.writer.GetResult(ctx, "an-42")
	assert.ErrorIs(t, err, store.ErrNotFound)

	st, err := o.Status(ctx, "an-42")
	require.NoError(t, err)
	assert.Equal(t, owner.Stage, st.Stage)
}

func TestSubmit_ScreeningLockHeldIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	ok, err := f.locker.Acquire(context.Background(), invoke.LockKey(models.StageScreening, "an-42"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	o := f.orchestrator()

	_, err = o.Submit(context.Background(), sampleJob())
	assert.ErrorIs(t, err, pipeline.ErrAlreadyRunning)

	_, err = o.Status(context.Background(), "an-42")
	assert.ErrorIs(t, err, pipeline.ErrUnknownJob)
}

func TestRun_DetectionLockHeldStopsRun(t *testing.T) {
	f := newFixture(t, nil)
	ok, err := f.locker.Acquire(context.Background(), invoke.LockKey(models.StageDetection, "an-42"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	o := f.orchestrator()

	_, _, err = o.Run(context.Background(), sampleJob())
	assert.ErrorIs(t, err, pipeline.ErrAlreadyRunning)
	assert.Empty(t, f.inv.calls(testFunctions.Detection))
	_, err = f.writer.GetResult(context.Background(), "an-42")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// the run let go of its screening lock
	ok, err = f.locker.Acquire(context.Background(), invoke.LockKey(models.StageScreening, "an-42"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// brokenLocker fails every acquisition as an unreachable lock store would.
type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenLocker) Release(context.Context, string) error { return nil }

func TestRun_LockStoreDownDegrades(t *testing.T) {
	f := newFixture(t, nil)
	o := pipeline.New(pipeline.Deps{
		Executor:   f.exec,
		Locker:     brokenLocker{},
		Buffer:     f.buffer,
		Results:    f.results,
		Reconciler: reconcile.New(f.writer, f.cfg.Results),
	}, testFunctions, f.cfg)

	result, issues, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Empty(t, f.inv.calls(testFunctions.Screening))
	assert.Equal(t, models.AnalysisStatusPartial, result.Status)
}

func TestSubmit_DuplicateInProcessRefused(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	f.inv.overrides[testFunctions.Screening] = func(ctx context.Context, req invoke.Request) ([]byte, error) {
		<-release
		return f.inv.base.Invoke(ctx, req)
	}
	o := f.orchestrator()
	t.Cleanup(func() {
		close(release)
		_ = o.Close(context.Background())
	})

	_, err := o.Submit(context.Background(), sampleJob())
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), sampleJob())
	assert.ErrorIs(t, err, pipeline.ErrAlreadyRunning)
}

func TestRun_LocksReleased(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.orchestrator().Run(context.Background(), sampleJob())
	require.NoError(t, err)

	for _, stage := range []string{models.StageScreening, models.StageDetection, models.StageSuggestions} {
		ok, err := f.locker.Acquire(context.Background(), invoke.LockKey(stage, "an-42"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "lock for %s still held", stage)
	}
}

func TestRun_AsyncSuggestions(t *testing.T) {
	f := newFixture(t, func(cfg *config.PipelineConfig) { cfg.Polling.Mode = "async" })
	f.inv.overrides[testFunctions.Suggestions] = func(ctx context.Context, req invoke.Request) ([]byte, error) {
		if req.Mode != invoke.ModeAsync {
			return nil, errors.New("expected async invocation")
		}
		// The remote function publishes its result out of band.
		resp, err := f.inv.base.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		var body struct {
			Batch *struct{ Index int } `json:"batch"`
		}
		_ = json.Unmarshal(req.Payload, &body)
		batch := 0
		if body.Batch != nil {
			batch = body.Batch.Index
		}
		return nil, f.results.Store(ctx, "an-42", batch, resp)
	}
	o := f.orchestrator()

	result, issues, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, result.Status)
	for _, is := range issues {
		require.NotNil(t, is.Suggestion)
	}
}

func TestRun_AsyncTimeoutFallsBackToTemplates(t *testing.T) {
	f := newFixture(t, func(cfg *config.PipelineConfig) {
		cfg.Polling.Mode = "async"
		cfg.Polling.MaxWait = 0
	})
	f.inv.overrides[testFunctions.Suggestions] = func(context.Context, invoke.Request) ([]byte, error) {
		return nil, nil
	}
	o := f.orchestrator()

	result, issues, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusPartial, result.Status)
	for _, is := range issues {
		require.NotNil(t, is.Suggestion)
		assert.Equal(t, models.SuggestionSourceTemplate, is.Suggestion.Source)
	}
}

func TestSubmit_RunsInBackground(t *testing.T) {
	f := newFixture(t, nil)
	o := f.orchestrator(pipeline.WithStatusStore(pipeline.NewMemoryStatusStore()))
	t.Cleanup(func() { _ = o.Close(context.Background()) })

	job := sampleJob()
	job.AnalysisID = ""
	id, err := o.Submit(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		st, err := o.Status(context.Background(), id)
		return err == nil && st.Terminal
	}, 5*time.Second, 10*time.Millisecond)

	st, err := o.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, st.Status)
	assert.Equal(t, 0, st.ETASeconds)

	_, err = f.writer.GetResult(context.Background(), id)
	assert.NoError(t, err)
}

func TestSubmit_RejectsEmptyJob(t *testing.T) {
	o := newFixture(t, nil).orchestrator()
	_, err := o.Submit(context.Background(), models.Job{AnalysisID: "x"})
	assert.ErrorIs(t, err, pipeline.ErrInvalidJob)

	_, err = o.Submit(context.Background(), models.Job{Files: []models.File{{Content: "x"}}})
	assert.ErrorIs(t, err, pipeline.ErrInvalidJob)
}

func TestStatus_Lookups(t *testing.T) {
	f := newFixture(t, nil)
	shared := pipeline.NewMemoryStatusStore()
	require.NoError(t, shared.SetStatus(context.Background(), models.JobStatus{
		AnalysisID: "elsewhere",
		Status:     models.JobStatusRunning,
		Stage:      models.StageDetection,
		Percent:    33,
	}, time.Hour))
	require.NoError(t, f.writer.SaveResult(context.Background(), &models.AnalysisResult{
		AnalysisID:  "finished",
		CompletedAt: time.Now(),
	}, nil))

	o := f.orchestrator(pipeline.WithStatusStore(shared), pipeline.WithResultReader(f.writer))

	st, err := o.Status(context.Background(), "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, 33, st.Percent)

	st, err = o.Status(context.Background(), "finished")
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, st.Stage)
	assert.True(t, st.Terminal)

	_, err = o.Status(context.Background(), "nobody")
	assert.ErrorIs(t, err, pipeline.ErrUnknownJob)
}

type failingArchiver struct{ calls int }

func (a *failingArchiver) Archive(context.Context, *models.AnalysisResult, []models.Issue) error {
	a.calls++
	return errors.New("bucket unavailable")
}

func TestRun_ArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	archiver := &failingArchiver{}
	o := f.orchestrator(pipeline.WithArchiver(archiver))

	_, _, err := o.Run(context.Background(), sampleJob())
	require.NoError(t, err)
	assert.Equal(t, 1, archiver.calls)
}

func TestRun_CancelledContextFailsAnalysis(t *testing.T) {
	f := newFixture(t, nil)
	o := f.orchestrator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := o.Run(ctx, sampleJob())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "interrupted"))

	st, err := o.Status(context.Background(), "an-42")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, st.Status)
	assert.True(t, st.Terminal)
}
