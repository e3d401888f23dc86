package invoke

import (
	"math/rand/v2"
	"time"
)

const maxJitterFraction = 0.25

// Backoff computes retry delays: min(base*2^(k-1), max) for retry k, plus up to 25%
// random jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	jitter func() float64
}

func NewBackoff(base, max time.Duration) Backoff {
	return Backoff{Base: base, Max: max, jitter: rand.Float64}
}

// Delay returns the wait before retry k (k >= 1) without jitter.
func (b Backoff) Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	d := b.Base
	for i := 1; i < k; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	return min(d, b.Max)
}

// WithJitter returns Delay(k) plus a random fraction of up to 25% of it.
func (b Backoff) WithJitter(k int) time.Duration {
	d := b.Delay(k)
	j := b.jitter
	if j == nil {
		j = rand.Float64
	}
	return d + time.Duration(j()*maxJitterFraction*float64(d))
}
