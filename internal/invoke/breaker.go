package invoke

import (
	"sync"
	"time"
)

type CircuitState string

const (
	CircuitClosed CircuitState = "closed"
	CircuitOpen   CircuitState = "open"
)

type circuit struct {
	failures int
	open     bool
	openedAt time.Time
}

// Breaker tracks consecutive failures per operation name. After threshold failures
// the circuit opens and calls are refused until timeout has elapsed; the next call
// is then let through and its outcome decides the state again.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	timeout   time.Duration
	circuits  map[string]*circuit
	now       func() time.Time
}

func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		timeout:   timeout,
		circuits:  make(map[string]*circuit),
		now:       time.Now,
	}
}

// Allow reports whether a call to op may proceed.
func (b *Breaker) Allow(op string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[op]
	if !ok || !c.open {
		return true
	}
	if b.now().Sub(c.openedAt) > b.timeout {
		// Failures are kept: one more failure reopens the circuit.
		c.open = false
		return true
	}
	return false
}

func (b *Breaker) RecordSuccess(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, op)
}

// RecordFailure counts a failure and reports whether the circuit is now open.
func (b *Breaker) RecordFailure(op string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[op]
	if !ok {
		c = &circuit{}
		b.circuits[op] = c
	}
	c.failures++
	if c.failures >= b.threshold && !c.open {
		c.open = true
		c.openedAt = b.now()
	}
	return c.open
}

// State returns the current state of op without changing it.
func (b *Breaker) State(op string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[op]; ok && c.open {
		return CircuitOpen
	}
	return CircuitClosed
}

// Failures returns the consecutive failure count for op.
func (b *Breaker) Failures(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[op]; ok {
		return c.failures
	}
	return 0
}
