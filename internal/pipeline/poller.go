package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/reconcile"
)

// PollOutcome is how waiting for an async result ended.
type PollOutcome int

const (
	PollSucceeded PollOutcome = iota
	PollFailed
	PollTimedOut
	// PollInterrupted means the caller's context ended first. It is not a timeout.
	PollInterrupted
)

func (o PollOutcome) String() string {
	switch o {
	case PollSucceeded:
		return "succeeded"
	case PollFailed:
		return "failed"
	case PollTimedOut:
		return "timed_out"
	default:
		return "interrupted"
	}
}

// Poller waits for asynchronously invoked functions to publish a terminal result.
type Poller struct {
	results ResultStore
	cfg     config.PollingConfig
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewPoller(results ResultStore, cfg config.PollingConfig) *Poller {
	return &Poller{results: results, cfg: cfg, now: time.Now, sleep: sleepContext}
}

// Wait polls for the result of one batch. The interval starts at InitialInterval
// and doubles, up to MaxInterval, once BackoffAfter consecutive polls saw nothing
// terminal. Waiting stops at MaxWait.
func (p *Poller) Wait(ctx context.Context, analysisID string, batch int) (PollOutcome, []byte) {
	start := p.now()
	interval := p.cfg.InitialInterval
	misses := 0

	for {
		raw, found, err := p.results.Fetch(ctx, analysisID, batch)
		if err != nil {
			if ctx.Err() != nil {
				return PollInterrupted, nil
			}
			slog.Warn("poll fetch failed", "analysis_id", analysisID, "batch", batch, "error", err)
		}
		if found {
			resp := reconcile.ParseResponse(raw)
			if resp.Terminal() {
				if resp.Succeeded() {
					return PollSucceeded, raw
				}
				return PollFailed, raw
			}
		}

		misses++
		if misses >= p.cfg.BackoffAfter {
			interval = min(interval*2, p.cfg.MaxInterval)
		}

		elapsed := p.now().Sub(start)
		if elapsed >= p.cfg.MaxWait {
			slog.Warn("async result did not arrive in time",
				"analysis_id", analysisID,
				"batch", batch,
				"waited", elapsed,
			)
			return PollTimedOut, nil
		}
		wait := min(interval, p.cfg.MaxWait-elapsed)
		if err := p.sleep(ctx, wait); err != nil {
			return PollInterrupted, nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
