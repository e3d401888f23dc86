package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/codereview/internal/invoke"
	"github.com/kiranshivaraju/codereview/internal/reconcile"
	"github.com/kiranshivaraju/codereview/internal/templates"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// analysisRun is the state of one analysis while its stages execute.
type analysisRun struct {
	o       *Orchestrator
	job     models.Job
	started time.Time
	// release frees the screening lock held for the whole run; nil when the
	// lock store was unavailable.
	release func()
	// partial is set when any stage lost work to a failure or a fallback.
	partial atomic.Bool
}

type batchInfo struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

type stageRequest struct {
	SessionID  string            `json:"sessionId"`
	AnalysisID string            `json:"analysisId"`
	Repository string            `json:"repository"`
	Branch     string            `json:"branch"`
	ScanNumber int               `json:"scanNumber"`
	Stage      string            `json:"stage"`
	Timestamp  int64             `json:"timestamp"`
	Files      []models.File     `json:"files,omitempty"`
	Issues     []models.RawIssue `json:"issues,omitempty"`
	Batch      *batchInfo        `json:"batch,omitempty"`
}

func (r *analysisRun) request(stage string, index, total int) stageRequest {
	req := stageRequest{
		SessionID:  r.job.SessionID,
		AnalysisID: r.job.AnalysisID,
		Repository: r.job.Repository,
		Branch:     r.job.Branch,
		ScanNumber: r.job.ScanNumber,
		Stage:      stage,
		Timestamp:  r.o.now().Unix(),
	}
	if total > 1 {
		req.Batch = &batchInfo{Index: index, Total: total}
	}
	return req
}

func (r *analysisRun) log(stage string) *slog.Logger {
	return slog.With("analysis_id", r.job.AnalysisID, "stage", stage)
}

// hold takes the stage lock. It returns ErrLockHeld when another runner owns
// the stage. Any other lock failure degrades the stage: the release is nil and
// the stage must not call out.
func (r *analysisRun) hold(ctx context.Context, stage string) (func(), error) {
	release, err := invoke.Hold(ctx, r.o.locker, invoke.LockKey(stage, r.job.AnalysisID), r.o.cfg.Resilience.LockTTL)
	if err == nil {
		return release, nil
	}
	if errors.Is(err, invoke.ErrLockHeld) {
		r.log(stage).Warn("stage owned by another runner, stopping", "error", err)
		return nil, err
	}
	r.log(stage).Error("stage lock unavailable, degrading", "error", err)
	r.partial.Store(true)
	return nil, nil
}

// call invokes one batch synchronously and returns the parsed response. Failed
// batches are logged and reported as !ok.
func (r *analysisRun) call(ctx context.Context, stage, function string, req stageRequest, batch int) (reconcile.Response, []byte, bool) {
	log := r.log(stage).With("batch", batch)
	payload, err := json.Marshal(req)
	if err != nil {
		log.Error("failed to encode stage request", "error", err)
		return reconcile.Response{}, nil, false
	}

	raw, err := r.o.exec.Call(ctx, function, invoke.Request{Function: function, Payload: payload, Mode: invoke.ModeSync})
	if err != nil {
		log.Warn("stage batch failed, skipping", "error", err)
		r.partial.Store(true)
		return reconcile.Response{}, nil, false
	}
	resp := reconcile.ParseResponse(raw)
	if !resp.Succeeded() {
		log.Warn("stage function returned no usable result", "kind", resp.Kind.String(), "status", resp.Status)
		r.partial.Store(true)
		return resp, raw, false
	}
	return resp, raw, true
}

func (r *analysisRun) keep(ctx context.Context, stage string, batch int, raw []byte) {
	if err := r.o.buffer.Put(ctx, r.job.AnalysisID, stage, batch, raw); err != nil {
		r.log(stage).Warn("failed to buffer stage response", "batch", batch, "error", err)
	}
}

func (r *analysisRun) keepJSON(ctx context.Context, stage string, batch int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.log(stage).Error("failed to encode local stage result", "error", err)
		return
	}
	r.keep(ctx, stage, batch, raw)
}

// screen returns the files worth analyzing, with their original content. When
// screening produces nothing at all, every submitted file with content is kept.
func (r *analysisRun) screen(ctx context.Context) []models.File {
	const stage = models.StageScreening
	log := r.log(stage)

	var (
		kept    []models.File
		skipped = map[string]string{}
		okCount int
		spent   usage
	)
	if r.release != nil {
		originals := make(map[string]models.File, len(r.job.Files))
		for _, f := range r.job.Files {
			originals[f.Path] = f
		}

		batches := splitBatches(r.job.Files, r.o.cfg.Batching.ScreeningBatchSize, r.o.cfg.Batching.MaxPayloadBytes)
		for i, batch := range batches {
			req := r.request(stage, i, len(batches))
			req.Files = make([]models.File, len(batch))
			for j, f := range batch {
				f.Content = OptimizeForScreening(f.Content)
				req.Files[j] = f
			}

			resp, _, ok := r.call(ctx, stage, r.o.fns.Screening, req, i)
			if !ok {
				continue
			}
			okCount++
			spent.add(resp)

			returned, hasFiles := resp.Files()
			if !hasFiles {
				// A bare acknowledgement keeps the whole batch.
				kept = append(kept, batch...)
				continue
			}
			reasons, _ := resp.SkipReasons()
			passed := make(map[string]bool, len(returned))
			for _, f := range returned {
				if orig, known := originals[f.Path]; known {
					f = orig
				}
				passed[f.Path] = true
				kept = append(kept, f)
			}
			for _, f := range batch {
				if passed[f.Path] {
					continue
				}
				reason := reasons[f.Path]
				if reason == "" {
					reason = "filtered by screening"
				}
				skipped[f.Path] = reason
			}
		}
	}

	if okCount == 0 {
		kept = kept[:0]
		for _, f := range r.job.Files {
			if f.Content != "" {
				kept = append(kept, f)
			} else {
				skipped[f.Path] = "empty file"
			}
		}
		log.Warn("screening unavailable, analyzing submitted files", "files", len(kept))
		r.partial.Store(true)
	}

	// Screening is buffered as one envelope so reconciliation sees exactly the
	// files detection got.
	if err := r.o.buffer.Delete(ctx, r.job.AnalysisID); err != nil {
		log.Warn("failed to reset stage buffer", "error", err)
	}
	r.keepJSON(ctx, stage, 0, map[string]any{
		"status":  "success",
		"files":   stripContent(kept),
		"skipped": skipped,
		"summary": spent,
	})

	log.Info("screening complete", "submitted", len(r.job.Files), "kept", len(kept), "skipped", len(skipped))
	return kept
}

// usage is the token and cost summary carried by local stage envelopes.
type usage struct {
	TokensUsed int     `json:"tokensUsed"`
	TotalCost  float64 `json:"totalCost"`
}

func (u *usage) add(resp reconcile.Response) {
	if n, ok := resp.TokensUsed(); ok {
		u.TokensUsed += n
	}
	if c, ok := resp.TotalCost(); ok {
		u.TotalCost += c
	}
}

func stripContent(files []models.File) []models.File {
	out := make([]models.File, len(files))
	for i, f := range files {
		f.Content = ""
		out[i] = f
	}
	return out
}

// detect runs the detection function over files. Missing issue ids are filled
// in so suggestions can be linked back by id.
func (r *analysisRun) detect(ctx context.Context, files []models.File) ([]models.RawIssue, error) {
	const stage = models.StageDetection
	log := r.log(stage)
	if len(files) == 0 {
		log.Info("no files to analyze")
		return nil, nil
	}
	release, err := r.hold(ctx, stage)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return nil, nil
	}
	defer release()

	var (
		issues []models.RawIssue
		spent  usage
	)
	batches := splitBatches(files, r.o.cfg.Batching.DetectionBatchSize, r.o.cfg.Batching.MaxPayloadBytes)
	for i, batch := range batches {
		req := r.request(stage, i, len(batches))
		req.Files = make([]models.File, len(batch))
		for j, f := range batch {
			f.Content = OptimizeForDetection(f.Content)
			req.Files[j] = f
		}

		resp, _, ok := r.call(ctx, stage, r.o.fns.Detection, req, i)
		if !ok {
			continue
		}
		found, _ := resp.Issues()
		issues = append(issues, found...)
		spent.add(resp)
	}

	for i := range issues {
		if issues[i].ID == "" {
			issues[i].ID = fmt.Sprintf("issue-%d", i+1)
		}
	}
	r.keepJSON(ctx, stage, 0, map[string]any{"status": "success", "issues": issues, "summary": spent})
	log.Info("detection complete", "batches", len(batches), "issues", len(issues))
	return issues, nil
}

// localSuggestion is a template suggestion with the identity fields linking
// needs when ids were regenerated.
type localSuggestion struct {
	models.Suggestion
	Type string `json:"type,omitempty"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

func templateEnvelope(issues []models.RawIssue) map[string]any {
	out := make([]localSuggestion, len(issues))
	for i, is := range issues {
		out[i] = localSuggestion{Suggestion: templates.Suggest(is), Type: is.Type, File: is.File, Line: is.Line}
	}
	return map[string]any{"status": "success", "suggestions": out}
}

// suggest generates suggestions for the budgeted subset of issues. Template-routed
// issues and every batch that does not produce a result get local template
// suggestions, so each budgeted issue ends up with one.
func (r *analysisRun) suggest(ctx context.Context, issues []models.RawIssue) error {
	const stage = models.StageSuggestions
	log := r.log(stage)

	selected := r.o.allocator.Allocate(issues).All()
	if len(selected) == 0 {
		log.Info("no issues selected for suggestions")
		return nil
	}

	var remote, local []models.RawIssue
	for _, is := range selected {
		if r.o.router.Route(is) == RouteTemplate {
			local = append(local, is)
			continue
		}
		is.Model = r.o.router.DetermineModel(is)
		remote = append(remote, is)
	}

	release, err := r.hold(ctx, stage)
	if err != nil {
		return err
	}
	if release == nil {
		r.keepJSON(ctx, stage, 0, templateEnvelope(selected))
		return nil
	}
	defer release()

	batches := splitBatches(remote, r.o.cfg.Batching.SuggestionBatchSize, r.o.cfg.Batching.MaxPayloadBytes)
	async := r.o.cfg.Polling.Mode == "async"
	for i, batch := range batches {
		req := r.request(stage, i, len(batches))
		req.Issues = make([]models.RawIssue, len(batch))
		for j, is := range batch {
			is.Code = OptimizeForSuggestions(is.Code)
			req.Issues[j] = is
		}

		var (
			raw []byte
			ok  bool
		)
		if async {
			raw, ok = r.callAsync(ctx, req, i)
		} else {
			_, raw, ok = r.call(ctx, stage, r.o.fns.Suggestions, req, i)
		}
		if !ok {
			log.Warn("using template suggestions for batch", "batch", i, "issues", len(batch))
			r.partial.Store(true)
			r.keepJSON(ctx, stage, i, templateEnvelope(batch))
			continue
		}
		r.keep(ctx, stage, i, raw)
	}

	if len(local) > 0 {
		r.keepJSON(ctx, stage, len(batches), templateEnvelope(local))
	}
	log.Info("suggestions complete",
		"selected", len(selected),
		"remote", len(remote),
		"template", len(local),
		"batches", len(batches),
	)
	return nil
}

// callAsync fires a suggestion batch and waits for its result in the result store.
func (r *analysisRun) callAsync(ctx context.Context, req stageRequest, batch int) ([]byte, bool) {
	log := r.log(models.StageSuggestions).With("batch", batch)
	payload, err := json.Marshal(req)
	if err != nil {
		log.Error("failed to encode stage request", "error", err)
		return nil, false
	}
	fn := r.o.fns.Suggestions
	if _, err := r.o.exec.Call(ctx, fn, invoke.Request{Function: fn, Payload: payload, Mode: invoke.ModeAsync}); err != nil {
		log.Warn("async suggestion call failed", "error", err)
		return nil, false
	}

	outcome, raw := r.o.poller.Wait(ctx, r.job.AnalysisID, batch)
	log.Info("async suggestion batch settled", "outcome", outcome.String())
	if outcome != PollSucceeded {
		return nil, false
	}
	return raw, true
}

// snapshot assembles the reconciliation input from the stage buffer.
func (r *analysisRun) snapshot(ctx context.Context) (reconcile.Input, error) {
	in := reconcile.Input{
		Job:       r.job,
		StartedAt: r.started,
		Partial:   r.partial.Load(),
	}

	for _, stage := range []string{models.StageScreening, models.StageDetection, models.StageSuggestions} {
		responses, err := r.o.buffer.Get(ctx, r.job.AnalysisID, stage)
		if err != nil {
			return reconcile.Input{}, fmt.Errorf("read %s results for %s: %w", stage, r.job.AnalysisID, err)
		}
		for _, raw := range responses {
			resp := reconcile.ParseResponse(raw)
			tokens, _ := resp.TokensUsed()
			cost, _ := resp.TotalCost()
			in.Costs.Model += cost

			switch stage {
			case models.StageScreening:
				in.Usage.Screening += tokens
				if files, ok := resp.Files(); ok {
					in.Files = append(in.Files, files...)
				}
				if skipped, ok := resp.SkipReasons(); ok && len(skipped) > 0 {
					if in.SkipReasons == nil {
						in.SkipReasons = map[string]string{}
					}
					for path, reason := range skipped {
						in.SkipReasons[path] = reason
					}
				}
			case models.StageDetection:
				in.Usage.Detection += tokens
				if issues, ok := resp.Issues(); ok {
					in.Issues = append(in.Issues, issues...)
				}
			case models.StageSuggestions:
				in.Usage.Suggestions += tokens
				if sugs, ok := resp.Suggestions(); ok {
					in.Suggestions = append(in.Suggestions, sugs...)
				}
			}
		}
	}
	return in, nil
}
