package migration

// limiter.go implements concurrency control for migration jobs.
//
// The limiter uses a semaphore pattern to restrict simultaneous migrations
// to a configurable maximum. When all slots are occupied, new jobs wait up
// to maxWait before failing with ErrTooManyJobs. WaitForDrain supports
// graceful shutdown by blocking until active jobs finish.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when all migration slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyJobs = errors.New("too many concurrent migration jobs, please try again later")

// DefaultMaxConcurrentJobs is the default limit for parallel migrations.
const DefaultMaxConcurrentJobs = 3

// DefaultJobWaitTime is how long to wait for a slot before rejecting.
const DefaultJobWaitTime = 30 * time.Second

// JobLimiter controls how many migrations run at once.
type JobLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewJobLimiter creates a limiter allowing at most maxConcurrent
// simultaneous migrations.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultJobWaitTime
	}

	return &JobLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire attempts to acquire a migration slot. Returns nil on success,
// ErrTooManyJobs if the wait timeout expires. The caller must call
// Release when the job completes (use defer).
func (l *JobLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyJobs
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (l *JobLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release releases a previously acquired slot. Must be called exactly once
// for each successful Acquire/TryAcquire.
func (l *JobLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of migrations currently running.
func (l *JobLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *JobLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active migrations complete or the context
// is cancelled. Used during graceful shutdown.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}
