package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultCeiling is the normal-mode concurrency ceiling
	DefaultCeiling = 5
	// FastCeiling is the high-throughput mode concurrency ceiling
	FastCeiling = 10
)

// Gate is a counting limiter bounding simultaneous in-flight calls.
// The ceiling is fixed for the gate's lifetime; capping concurrency is
// its sole responsibility regardless of how many items a batch launches.
type Gate struct {
	ceiling  int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// Permit represents one held admission slot. Release is idempotent so
// a deferred release after an explicit one cannot corrupt the count.
type Permit struct {
	gate     *Gate
	released sync.Once
}

// New creates a gate with the given ceiling. Non-positive ceilings fall
// back to the normal-mode default.
func New(ceiling int) *Gate {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Gate{
		ceiling: int64(ceiling),
		sem:     semaphore.NewWeighted(int64(ceiling)),
	}
}

// Ceiling returns the gate's fixed concurrency ceiling
func (g *Gate) Ceiling() int {
	return int(g.ceiling)
}

// InFlight returns the number of currently held permits
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Acquire blocks until a slot is free or the context is done
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inFlight.Add(1)
	return &Permit{gate: g}, nil
}

// TryAcquire acquires a slot without blocking; nil means the gate is full
func (g *Gate) TryAcquire() *Permit {
	if !g.sem.TryAcquire(1) {
		return nil
	}
	g.inFlight.Add(1)
	return &Permit{gate: g}
}

// Release returns the permit's slot to the gate
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.released.Do(func() {
		p.gate.inFlight.Add(-1)
		p.gate.sem.Release(1)
	})
}
