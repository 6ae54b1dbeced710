package importer

// limiter.go caps the number of import sessions that may be in flight at
// once. Each StartImport takes a slot; the slot is released when the session
// reaches a terminal state or is evicted by the janitor. When every slot is
// taken, new imports wait up to maxWait before failing with
// ErrTooManySessions.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentSessions bounds parallel in-flight imports.
const DefaultMaxConcurrentSessions = 5

// DefaultSlotWait is how long StartImport waits for a free slot.
const DefaultSlotWait = 30 * time.Second

// SessionLimiter is a semaphore over in-flight import sessions.
type SessionLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
}

// NewSessionLimiter creates a limiter allowing maxConcurrent simultaneous
// sessions, waiting up to maxWait for a slot.
func NewSessionLimiter(maxConcurrent int, maxWait time.Duration) *SessionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSessions
	}
	if maxWait <= 0 {
		maxWait = DefaultSlotWait
	}
	return &SessionLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a session slot, waiting up to the configured limit. The
// caller must Release exactly once per successful Acquire.
func (l *SessionLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManySessions
	}
}

// Release frees a slot taken by Acquire.
func (l *SessionLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.slots
}

// Active returns the number of sessions currently holding a slot.
func (l *SessionLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WaitForDrain blocks until every slot is released or ctx is done. Used
// during graceful shutdown.
func (l *SessionLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Active() == 0 {
				return nil
			}
		}
	}
}
