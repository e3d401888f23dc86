// Package reconcile turns whatever the stage functions returned into the
// persisted analysis record: a sorted issue list with suggestions attached,
// aggregate counts and scores, and a validated AnalysisResult.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/codereview/internal/allocation"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/severity"
	"github.com/kiranshivaraju/codereview/internal/store"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// ErrValidation is returned when a result misses required fields. It is fatal for
// the analysis.
var ErrValidation = errors.New("analysis result validation failed")

const (
	defaultSessionID  = "unknown-session"
	defaultBranch     = "main"
	defaultRepository = "Unknown Repository"
)

// Input is everything the pipeline collected for one analysis.
type Input struct {
	Job         models.Job
	StartedAt   time.Time
	Files       []models.File
	SkipReasons map[string]string
	Issues      []models.RawIssue
	Suggestions []RawSuggestion
	Usage       models.TokenUsage
	Costs       models.Costs
	Partial     bool
}

// Reconciler builds and persists analysis results.
type Reconciler struct {
	writer store.ResultWriter
	stored store.ResultReader
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Reconciler)

// WithClock sets the clock used for completion time and expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithStoredSuggestions sets where previously stored suggestions are looked up when
// the suggestion stage returned none.
func WithStoredSuggestions(reader store.ResultReader) Option {
	return func(r *Reconciler) { r.stored = reader }
}

func New(writer store.ResultWriter, cfg config.ResultsConfig, opts ...Option) *Reconciler {
	r := &Reconciler{writer: writer, ttl: cfg.TTL, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile builds the result and writes it.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (*models.AnalysisResult, []models.Issue, error) {
	result, issues, err := r.Build(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	if err := r.writer.SaveResult(ctx, result, issues); err != nil {
		return nil, nil, fmt.Errorf("persist analysis %s: %w", result.AnalysisID, err)
	}
	slog.Info("analysis persisted",
		"analysis_id", result.AnalysisID,
		"status", result.Status,
		"issues", len(issues),
		"overall_score", result.Scores.Overall,
	)
	return result, issues, nil
}

// Build converts in into a validated result and severity-sorted issues.
func (r *Reconciler) Build(ctx context.Context, in Input) (*models.AnalysisResult, []models.Issue, error) {
	analysisID := in.Job.AnalysisID
	issues := r.buildIssues(analysisID, in.Issues, in.Files)

	suggestions := in.Suggestions
	if len(suggestions) == 0 && len(issues) > 0 {
		suggestions = r.storedSuggestions(ctx, analysisID)
	}
	Link(issues, suggestions)

	// Descriptions prefer the linked suggestion's text. issues still parallels
	// in.Issues here; sorting comes after.
	for i := range issues {
		var sug *RawSuggestion
		if s := issues[i].Suggestion; s != nil {
			sug = &RawSuggestion{Suggestion: *s}
		}
		issues[i].Description, _ = Description(in.Issues[i], sug)
	}

	severity.SortIssues(issues)

	completed := r.now().UTC()
	started := in.StartedAt.UTC()
	if started.IsZero() {
		started = completed
	}
	expires := completed.Add(r.ttl)

	costs := in.Costs
	costs.Total = costs.Model + costs.Infrastructure
	usage := in.Usage
	usage.Total = usage.Screening + usage.Detection + usage.Suggestions

	status := models.AnalysisStatusCompleted
	if in.Partial {
		status = models.AnalysisStatusPartial
	}

	result := &models.AnalysisResult{
		AnalysisID:       analysisID,
		SessionID:        orDefault(in.Job.SessionID, defaultSessionID),
		Status:           status,
		Repository:       orDefault(in.Job.Repository, defaultRepository),
		Branch:           orDefault(in.Job.Branch, defaultBranch),
		ScanNumber:       in.Job.ScanNumber,
		StartedAt:        started,
		CompletedAt:      completed,
		ProcessingTimeMs: max(0, completed.Sub(started).Milliseconds()),
		FilesSubmitted:   len(in.Job.Files),
		FilesAnalyzed:    len(in.Files),
		FilesSkipped:     max(0, len(in.Job.Files)-len(in.Files)),
		SkipReasons:      in.SkipReasons,
		Summary:          Summarize(issues),
		Scores:           Score(issues),
		TokenUsage:       usage,
		Costs:            costs,
		TTL:              expires.Unix(),
		ExpiresAt:        expires,
	}

	if err := Validate(result); err != nil {
		return nil, nil, err
	}
	return result, issues, nil
}

func (r *Reconciler) buildIssues(analysisID string, raw []models.RawIssue, files []models.File) []models.Issue {
	languages := make(map[string]string, len(files))
	for _, f := range files {
		languages[f.Path] = f.Language
	}

	seen := make(map[string]int, len(raw))
	issues := make([]models.Issue, 0, len(raw))
	for i, ri := range raw {
		id := ri.ID
		if id == "" {
			id = fmt.Sprintf("issue-%d", i+1)
		}
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = fmt.Sprintf("%s-%d", id, n+1)
		} else {
			seen[id] = 1
		}

		file, _ := FilePath(ri)
		line, lineSrc := LineNumber(ri)
		title, _ := Title(ri)
		category := allocation.Categorize(ri)

		is := models.Issue{
			AnalysisID:    analysisID,
			IssueID:       id,
			Type:          strings.ToUpper(strings.TrimSpace(ri.Type)),
			Title:         title,
			Description:   ri.Description,
			Severity:      models.ParseSeverity(string(ri.Severity)),
			Category:      category,
			File:          file,
			Line:          line,
			Code:          ri.Code,
			Language:      languages[file],
			LineDefaulted: lineSrc == SourceDefault,
		}
		if col, ok := models.AsInt(ri.Fields["column"]); ok && col > 0 {
			is.Column = &col
		}
		is.CWE, _ = ri.StringField("cwe", "cweId", "cwe_id")
		if v, ok := models.AsFloat(ri.Fields["cvssScore"]); ok {
			is.CVSSScore = &v
		}
		is.CVEID, _ = ri.StringField("cveId", "cve_id", "cve")
		is.CVEScore = ri.CVEScore
		if category == models.CategorySecurity && is.CVEID == "" {
			if ref, ok := allocation.LookupCVE(is.Type); ok {
				is.CVEID = ref.ID
				if is.CVEScore == nil {
					score := ref.Score
					is.CVEScore = &score
				}
			}
		}
		issues = append(issues, is)
	}
	return issues
}

func (r *Reconciler) storedSuggestions(ctx context.Context, analysisID string) []RawSuggestion {
	if r.stored == nil {
		return nil
	}
	stored, err := r.stored.ListIssues(ctx, analysisID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("failed to load stored suggestions", "analysis_id", analysisID, "error", err)
		}
		return nil
	}
	var out []RawSuggestion
	for _, is := range stored {
		if is.Suggestion == nil {
			continue
		}
		s := *is.Suggestion
		s.IssueID = is.IssueID
		s.Source = models.SuggestionSourceStored
		out = append(out, RawSuggestion{Suggestion: s, Type: is.Type, File: is.File, Line: is.Line})
	}
	if len(out) > 0 {
		slog.Info("using stored suggestions", "analysis_id", analysisID, "count", len(out))
	}
	return out
}

// Validate checks the fields every persisted result must carry.
func Validate(r *models.AnalysisResult) error {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("analysisId", r.AnalysisID != "")
	check("sessionId", r.SessionID != "")
	check("repository", r.Repository != "")
	check("branch", r.Branch != "")
	check("status", r.Status != "")
	check("startedAt", !r.StartedAt.IsZero())
	check("completedAt", !r.CompletedAt.IsZero())
	check("ttl", r.TTL > 0)

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
