// Package main is the entrypoint for the codereview API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/codereview/internal/api"
	"github.com/kiranshivaraju/codereview/internal/api/handler"
	mw "github.com/kiranshivaraju/codereview/internal/api/middleware"
	"github.com/kiranshivaraju/codereview/internal/apikey"
	"github.com/kiranshivaraju/codereview/internal/archive"
	"github.com/kiranshivaraju/codereview/internal/cache"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/functions"
	"github.com/kiranshivaraju/codereview/internal/invoke"
	"github.com/kiranshivaraju/codereview/internal/pipeline"
	"github.com/kiranshivaraju/codereview/internal/reconcile"
	"github.com/kiranshivaraju/codereview/internal/store"
)

const migrationsDir = "migrations"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"functions_backend", cfg.Functions.Backend,
		"suggestion_mode", cfg.Pipeline.Polling.Mode,
		"max_suggestions", cfg.Pipeline.Budget.MaxSuggestions(),
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Stage function backend
	invoker, err := functions.NewInvoker(ctx, cfg.Functions)
	if err != nil {
		return fmt.Errorf("create functions backend: %w", err)
	}
	slog.Info("functions backend initialized", "backend", cfg.Functions.Backend)

	// 6. Pipeline
	pgStore := store.NewPostgresStore(pool)
	results := cache.NewAsyncResults(redisCache, cfg.Pipeline.Polling.MaxWait)

	var opts []pipeline.Option
	opts = append(opts,
		pipeline.WithStatusStore(redisCache),
		pipeline.WithResultReader(pgStore),
	)
	if cfg.Archive.Enabled() {
		arch, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		opts = append(opts, pipeline.WithArchiver(arch))
		slog.Info("report archive enabled", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}

	orch := pipeline.New(pipeline.Deps{
		Executor:   invoke.NewExecutor(invoker, cfg.Pipeline.Resilience),
		Locker:     cache.NewRedisLocker(redisCache),
		Buffer:     cache.NewStageBuffer(redisCache, cfg.Pipeline.Resilience.LockTTL),
		Results:    results,
		Reconciler: reconcile.New(pgStore, cfg.Pipeline.Results, reconcile.WithStoredSuggestions(pgStore)),
	}, cfg.Functions, cfg.Pipeline, opts...)

	go sweepExpired(ctx, pgStore, cfg.Pipeline.Results.SweepInterval, time.Now)

	// 7. Build router with dependencies
	router := newRouter(cfg.Server, routerDeps{
		store:    pgStore,
		cache:    redisCache,
		analyzer: orch,
		results:  results,
	})

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop taking requests, then cancel running analyses.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := orch.Close(shutdownCtx); err != nil {
		slog.Warn("analyses still running at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type routerDeps struct {
	store    store.Store
	cache    cache.Cache
	analyzer handler.Analyzer
	results  pipeline.ResultStore
}

func newRouter(cfg config.ServerConfig, deps routerDeps) http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:        mw.NewAuth(deps.store),
		RateLimit:   mw.NewRateLimit(deps.cache, cfg.RequestsPerMin),
		CORSOrigins: cfg.CORSOrigins,

		HealthHandler:   handler.NewHealthHandler(deps.store, deps.cache),
		SubmitHandler:   handler.NewSubmitHandler(deps.analyzer),
		StatusHandler:   handler.NewStatusHandler(deps.analyzer),
		ReportHandler:   handler.NewReportHandler(deps.store),
		CallbackHandler: handler.NewCallbackHandler(deps.results),

		CreateKeyHandler: handler.NewCreateKeyHandler(deps.store, apikey.New()),
		ListKeysHandler:  handler.NewListKeysHandler(deps.store),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(deps.store),
	})
}

// expiredSweeper removes results past their TTL.
type expiredSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// sweepExpired deletes expired results every interval until ctx is done.
func sweepExpired(ctx context.Context, s expiredSweeper, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx, now())
			if err != nil {
				slog.Warn("expired result sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired results deleted", "count", n)
			}
		}
	}
}
