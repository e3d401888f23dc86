package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Analysis Results ---

// SaveResult writes the result and its issues in one transaction. Issues keep the
// order they are given in.
func (s *PostgresStore) SaveResult(ctx context.Context, result *models.AnalysisResult, issues []models.Issue) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = s.now().UTC()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO analysis_results (analysis_id, session_id, status, repository, branch, scan_number,
			     started_at, completed_at, processing_time_ms, files_submitted, files_analyzed, files_skipped,
			     skip_reasons, summary, scores, token_usage, costs, ttl, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			 ON CONFLICT (analysis_id) DO UPDATE SET
			     session_id = EXCLUDED.session_id, status = EXCLUDED.status, repository = EXCLUDED.repository,
			     branch = EXCLUDED.branch, scan_number = EXCLUDED.scan_number, started_at = EXCLUDED.started_at,
			     completed_at = EXCLUDED.completed_at, processing_time_ms = EXCLUDED.processing_time_ms,
			     files_submitted = EXCLUDED.files_submitted, files_analyzed = EXCLUDED.files_analyzed,
			     files_skipped = EXCLUDED.files_skipped, skip_reasons = EXCLUDED.skip_reasons,
			     summary = EXCLUDED.summary, scores = EXCLUDED.scores, token_usage = EXCLUDED.token_usage,
			     costs = EXCLUDED.costs, ttl = EXCLUDED.ttl, expires_at = EXCLUDED.expires_at`,
			result.AnalysisID, result.SessionID, result.Status, result.Repository, result.Branch, result.ScanNumber,
			result.StartedAt, result.CompletedAt, result.ProcessingTimeMs, result.FilesSubmitted, result.FilesAnalyzed,
			result.FilesSkipped, result.SkipReasons, result.Summary, result.Scores, result.TokenUsage, result.Costs,
			result.TTL, result.ExpiresAt, result.CreatedAt)
		if err != nil {
			return fmt.Errorf("save analysis result: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM issues WHERE analysis_id = $1`, result.AnalysisID); err != nil {
			return fmt.Errorf("clear issues: %w", err)
		}

		batch := &pgx.Batch{}
		for i, is := range issues {
			batch.Queue(
				`INSERT INTO issues (analysis_id, issue_id, position, type, title, description, severity, category,
				     file, line, col, code, language, cwe, cvss_score, cve_id, cve_score, line_defaulted, suggestion)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
				result.AnalysisID, is.IssueID, i, is.Type, is.Title, is.Description, string(is.Severity),
				string(is.Category), is.File, is.Line, is.Column, is.Code, is.Language, is.CWE, is.CVSSScore,
				is.CVEID, is.CVEScore, is.LineDefaulted, is.Suggestion)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("save issues: %w", ErrDuplicateKey)
			}
			return fmt.Errorf("save issues: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetResult(ctx context.Context, analysisID string) (*models.AnalysisResult, error) {
	var r models.AnalysisResult
	err := s.pool.QueryRow(ctx,
		`SELECT analysis_id, session_id, status, repository, branch, scan_number, started_at, completed_at,
		     processing_time_ms, files_submitted, files_analyzed, files_skipped, skip_reasons, summary, scores,
		     token_usage, costs, ttl, expires_at, created_at
		 FROM analysis_results WHERE analysis_id = $1 AND expires_at > $2`, analysisID, s.now(),
	).Scan(&r.AnalysisID, &r.SessionID, &r.Status, &r.Repository, &r.Branch, &r.ScanNumber, &r.StartedAt,
		&r.CompletedAt, &r.ProcessingTimeMs, &r.FilesSubmitted, &r.FilesAnalyzed, &r.FilesSkipped,
		&r.SkipReasons, &r.Summary, &r.Scores, &r.TokenUsage, &r.Costs, &r.TTL, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis result: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListIssues(ctx context.Context, analysisID string, opts ...IssueListOption) ([]models.Issue, error) {
	params := NewIssueFilter(opts...)

	query := `SELECT analysis_id, issue_id, type, title, description, severity, category, file, line, col, code,
	              language, cwe, cvss_score, cve_id, cve_score, line_defaulted, suggestion
	          FROM issues WHERE analysis_id = $1`
	args := []any{analysisID}
	argIdx := 2

	if params.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argIdx)
		args = append(args, string(*params.Severity))
		argIdx++
	}
	if params.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, string(*params.Category))
		argIdx++
	}
	query += " ORDER BY position"
	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, params.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	issues := []models.Issue{}
	for rows.Next() {
		var is models.Issue
		var sev, cat string
		if err := rows.Scan(&is.AnalysisID, &is.IssueID, &is.Type, &is.Title, &is.Description, &sev, &cat,
			&is.File, &is.Line, &is.Column, &is.Code, &is.Language, &is.CWE, &is.CVSSScore, &is.CVEID,
			&is.CVEScore, &is.LineDefaulted, &is.Suggestion); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		is.Severity = models.Severity(sev)
		is.Category = models.Category(cat)
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// DeleteExpired removes results whose expiry is at or before now. Their issues are
// removed by cascade.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_results WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired results: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
