package agent

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultQueryLimit caps simultaneous backend queries across all agents
const DefaultQueryLimit = 10

// Limiter bounds concurrent Messenger queries across every agent in the
// process so the backend connection pool is not exhausted. A nil
// Limiter imposes no bound.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a limiter allowing at most limit concurrent queries
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(limit))}
}

// Acquire blocks until a slot is free or ctx is cancelled
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.sem == nil {
		return nil
	}
	return l.sem.Acquire(ctx, 1)
}

// Release frees a slot. Must be called exactly once per successful
// Acquire, on every path including cancellation and error.
func (l *Limiter) Release() {
	if l == nil || l.sem == nil {
		return
	}
	l.sem.Release(1)
}
