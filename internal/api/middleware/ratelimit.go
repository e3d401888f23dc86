package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/codereview/internal/api/response"
	"github.com/kiranshivaraju/codereview/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	defaultWindow            = time.Minute
)

// RateLimit counts requests per API key in fixed windows shared through the
// cache, so every server instance enforces the same budget.
type RateLimit struct {
	counter cache.Cache
	limit   int
	window  time.Duration
	now     func() time.Time
}

type RateLimitOption func(*RateLimit)

// WithWindow changes the counting window. The limit applies per window.
func WithWindow(d time.Duration) RateLimitOption {
	return func(rl *RateLimit) {
		if d > 0 {
			rl.window = d
		}
	}
}

func WithRateLimitClock(now func() time.Time) RateLimitOption {
	return func(rl *RateLimit) { rl.now = now }
}

func NewRateLimit(c cache.Cache, limit int, opts ...RateLimitOption) *RateLimit {
	if limit <= 0 {
		limit = defaultRequestsPerMinute
	}
	rl := &RateLimit{counter: c, limit: limit, window: defaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Limit rejects requests beyond the key's budget for the current window with
// 429. Requests without an authenticated key prefix pass through, and so does
// everything while the cache is unreachable.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		start := now.Truncate(rl.window)
		reset := start.Add(rl.window)

		count, err := rl.counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix, start), rl.window)
		if err != nil {
			slog.Warn("rate limit counter unavailable", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.limit-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.limit) {
			retry := int(reset.Sub(now).Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", map[string]any{
					"limit":       rl.limit,
					"window_secs": int(rl.window / time.Second),
				})
			return
		}

		next.ServeHTTP(w, r)
	})
}
