package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/codereview/internal/config"
)

// Executor wraps an Invoker with rate limiting, retries and a circuit breaker.
// One Executor is shared by all analyses so limits apply process-wide.
type Executor struct {
	invoker    Invoker
	breaker    *Breaker
	limiter    *RateLimiter
	backoff    Backoff
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the clock used by the breaker and rate limiter.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.breaker.now = now
		e.limiter.now = now
	}
}

// WithSleep replaces the context-aware sleep used between retries and rate-limited calls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
		e.limiter.sleep = sleep
	}
}

// WithJitter replaces the random source for backoff jitter. f must return values in [0, 1).
func WithJitter(f func() float64) Option {
	return func(e *Executor) { e.backoff.jitter = f }
}

// WithLogger sets the logger used for retry and breaker events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor around inv using the resilience settings in cfg.
func NewExecutor(inv Invoker, cfg config.ResilienceConfig, opts ...Option) *Executor {
	e := &Executor{
		invoker:    inv,
		breaker:    NewBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout),
		limiter:    NewRateLimiter(cfg.RateLimitDelay),
		backoff:    NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		maxRetries: max(1, cfg.MaxRetries),
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker exposes the circuit breaker for status reporting.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Call performs req under the operation name op. Calls are refused with
// ErrCircuitOpen while op's circuit is open. ErrTransient failures are retried up to
// the configured attempt count with exponential backoff; any other failure is
// returned immediately.
func (e *Executor) Call(ctx context.Context, op string, req Request) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if attempt > 1 {
			delay := e.backoff.WithJitter(attempt - 1)
			e.logger.Warn("retrying remote call",
				"op", op,
				"function", req.Function,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if !e.breaker.Allow(op) {
			if lastErr != nil {
				return nil, fmt.Errorf("%s: %w after %d attempts: %v", op, ErrCircuitOpen, attempt-1, lastErr)
			}
			return nil, fmt.Errorf("%s: %w", op, ErrCircuitOpen)
		}

		if err := e.limiter.Wait(ctx, op); err != nil {
			return nil, err
		}

		out, err := e.invoker.Invoke(ctx, req)
		if err == nil {
			e.breaker.RecordSuccess(op)
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if e.breaker.RecordFailure(op) {
			e.logger.Error("circuit opened", "op", op, "failures", e.breaker.Failures(op), "error", err)
		}
		if !errors.Is(err, ErrTransient) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil, fmt.Errorf("%s: giving up after %d attempts: %w", op, e.maxRetries, lastErr)
}
