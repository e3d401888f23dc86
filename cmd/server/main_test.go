package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codereview/internal/cache"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/pipeline"
	"github.com/kiranshivaraju/codereview/internal/store"
	"github.com/kiranshivaraju/codereview/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	*store.MemoryResults
	pingErr error
}

func newTestStore() *testStore {
	return &testStore{MemoryResults: store.NewMemoryResults()}
}

func (s *testStore) Ping(_ context.Context) error { return s.pingErr }
func (s *testStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *testStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *testStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (s *testStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (s *testStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *testCache) Ping(_ context.Context) error                                      { return c.pingErr }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

type idleAnalyzer struct{}

func (idleAnalyzer) Submit(context.Context, models.Job) (string, error) { return "an-1", nil }
func (idleAnalyzer) Status(context.Context, string) (models.JobStatus, error) {
	return models.JobStatus{}, pipeline.ErrUnknownJob
}

func testRouter(s *testStore, c *testCache) http.Handler {
	return newRouter(config.ServerConfig{RequestsPerMin: 60}, routerDeps{
		store:    s,
		cache:    c,
		analyzer: idleAnalyzer{},
		results:  pipeline.NewMemoryResultStore(),
	})
}

// ─── router wiring tests ────────────────────────────────────────────────────

func TestRouter_HealthAllOK(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	testRouter(newTestStore(), &testCache{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestRouter_HealthDegraded(t *testing.T) {
	tests := []struct {
		name  string
		store *testStore
		cache *testCache
	}{
		{"database", &testStore{MemoryResults: store.NewMemoryResults(), pingErr: errors.New("connection refused")}, &testCache{}},
		{"cache", newTestStore(), &testCache{pingErr: errors.New("redis down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/health", nil)
			w := httptest.NewRecorder()
			testRouter(tt.store, tt.cache).ServeHTTP(w, req)

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		})
	}
}

func TestRouter_EveryRouteWired(t *testing.T) {
	router := testRouter(newTestStore(), &testCache{})
	for _, ep := range []struct{ method, path string }{
		{"POST", "/api/v1/analyses"},
		{"GET", "/api/v1/analyses/an-1"},
		{"GET", "/api/v1/analyses/an-1/report"},
		{"POST", "/api/v1/analyses/an-1/suggestions/0"},
		{"GET", "/api/v1/admin/keys"},
	} {
		req := httptest.NewRequest(ep.method, ep.path, strings.NewReader("{}"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		// Unauthenticated, so auth answers; a missing route would be 404.
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", ep.method, ep.path)
	}
}

// ─── expired result sweep ───────────────────────────────────────────────────

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) DeleteExpired(context.Context, time.Time) (int64, error) {
	s.calls.Add(1)
	return 2, s.err
}

func TestSweepExpired_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &countingSweeper{err: errors.New("transient")}

	done := make(chan struct{})
	go func() {
		sweepExpired(ctx, s, 5*time.Millisecond, time.Now)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepExpired_DisabledInterval(t *testing.T) {
	s := &countingSweeper{}
	sweepExpired(context.Background(), s, 0, time.Now)
	assert.Zero(t, s.calls.Load())
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("FUNCTIONS_BACKEND", "mock")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}
