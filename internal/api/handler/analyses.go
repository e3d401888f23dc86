package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/codereview/internal/api/response"
	"github.com/kiranshivaraju/codereview/internal/pipeline"
	"github.com/kiranshivaraju/codereview/internal/store"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

const (
	maxSubmitBytes   = 50 << 20
	maxCallbackBytes = 10 << 20
	maxIssueLimit    = 1000
	previewSize      = 3
)

// Analyzer runs analyses in the background.
type Analyzer interface {
	Submit(ctx context.Context, job models.Job) (string, error)
	Status(ctx context.Context, analysisID string) (models.JobStatus, error)
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/analyses.
func NewSubmitHandler(a Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job models.Job
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&job); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		job.SubmittedAt = job.SubmittedAt.UTC()

		id, err := a.Submit(r.Context(), job)
		if err != nil {
			if errors.Is(err, pipeline.ErrInvalidJob) {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				response.Error(w, http.StatusConflict, "ANALYSIS_RUNNING", "Analysis is already running", nil)
				return
			}
			slog.Error("submit analysis failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, map[string]string{
			"analysis_id": id,
			"status":      models.JobStatusPending,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/analyses/{analysisID}.
func NewStatusHandler(a Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "analysisID")

		st, err := a.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, pipeline.ErrUnknownJob) {
				response.Error(w, http.StatusNotFound, "ANALYSIS_NOT_FOUND", "No analysis with that id", nil)
				return
			}
			slog.Error("analysis status failed", "analysis_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, st)
	}
}

type reportResponse struct {
	Result  *models.AnalysisResult `json:"result"`
	Issues  []models.Issue         `json:"issues"`
	Preview []models.Issue         `json:"preview"`
}

// NewReportHandler returns an http.HandlerFunc for GET /api/v1/analyses/{analysisID}/report.
// Issues can be filtered with the severity, category and limit query parameters.
func NewReportHandler(results store.ResultReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "analysisID")

		opts, details := issueFilters(r)
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query parameters", details)
			return
		}

		result, err := results.GetResult(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND", "No report for that analysis", nil)
				return
			}
			slog.Error("get report failed", "analysis_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		issues, err := results.ListIssues(r.Context(), id, opts...)
		if err != nil {
			slog.Error("list issues failed", "analysis_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		if issues == nil {
			issues = []models.Issue{}
		}

		response.JSON(w, reportResponse{
			Result:  result,
			Issues:  issues,
			Preview: issues[:min(previewSize, len(issues))],
		})
	}
}

func issueFilters(r *http.Request) ([]store.IssueListOption, map[string]string) {
	q := r.URL.Query()
	var opts []store.IssueListOption
	details := map[string]string{}

	if v := q.Get("severity"); v != "" {
		switch s := models.ParseSeverity(v); s {
		case models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow:
			opts = append(opts, store.WithSeverity(s))
		default:
			details["severity"] = "must be one of CRITICAL, HIGH, MEDIUM, LOW"
		}
	}
	if v := q.Get("category"); v != "" {
		switch c := models.ParseCategory(v); c {
		case models.CategorySecurity, models.CategoryPerformance, models.CategoryQuality:
			opts = append(opts, store.WithCategory(c))
		default:
			details["category"] = "must be one of security, performance, quality"
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxIssueLimit {
			details["limit"] = "must be between 1 and 1000"
		} else {
			opts = append(opts, store.WithLimit(n))
		}
	}
	return opts, details
}

// NewCallbackHandler returns an http.HandlerFunc for
// POST /api/v1/analyses/{analysisID}/suggestions/{batch}. Asynchronously invoked
// suggestion functions post their response here; the orchestrator polls for it.
func NewCallbackHandler(results pipeline.ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "analysisID")
		batch, err := strconv.Atoi(chi.URLParam(r, "batch"))
		if err != nil || batch < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "batch must be a non-negative integer", nil)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
		if err != nil {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
			return
		}
		if !json.Valid(body) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := results.Store(r.Context(), id, batch, body); err != nil {
			slog.Error("store suggestion result failed", "analysis_id", id, "batch", batch, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		slog.Info("suggestion result received", "analysis_id", id, "batch", batch, "bytes", len(body))
		response.NoContent(w)
	}
}
