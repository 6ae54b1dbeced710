package importer

// store.go holds the in-flight import sessions. The Store is the only owner
// of session state: every mutation goes through Transition, which serializes
// calls per session, verifies the caller's expected state optimistically and
// applies the mutation to a fresh clone so a failed step never leaves a
// half-mutated session behind.
//
// Sessions that stall are evicted after the configured TTL by a janitor
// goroutine. The janitor only takes sessions whose per-session lock is free,
// so a commit in progress can never be evicted out from under itself.

import (
	"sync"
	"time"
)

// DefaultSessionTTL is how long a session may sit idle between steps.
const DefaultSessionTTL = 30 * time.Minute

// DefaultJanitorInterval is how often expired sessions are swept.
const DefaultJanitorInterval = time.Minute

// Store keeps import sessions keyed by identifier.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	dead     map[string]bool // destroyed identifiers; never reusable

	// OnEvict, if set, is called for every non-terminal session the
	// janitor removes. Set before StartJanitor; used to release
	// concurrency slots held by stalled sessions.
	OnEvict func(*ImportSession)

	janitorOnce sync.Once
	done        chan struct{}
}

type sessionEntry struct {
	mu      sync.Mutex
	session *ImportSession
}

// NewStore creates a Store with the given idle TTL (DefaultSessionTTL if
// zero). Call StartJanitor to enable background eviction.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*sessionEntry),
		dead:     make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Create registers a new session. The identifier must be fresh: reusing a
// live or destroyed identifier fails instead of silently recreating.
func (s *Store) Create(sess *ImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists || s.dead[sess.ID] {
		return ErrStateConflict
	}

	now := s.now()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	s.sessions[sess.ID] = &sessionEntry{session: sess}
	return nil
}

// Get returns a copy of the session. Expired, destroyed and unknown
// identifiers all fail with ErrSessionNotFound.
func (s *Store) Get(id string) (*ImportSession, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if s.now().After(entry.session.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return entry.session.clone(), nil
}

// Transition is the single mutation entry point. It locks the session,
// verifies it is still in expected, runs mutate on a clone and, on success,
// advances to the next state and swaps the clone in. A mutation that marks
// the clone failed (via fail) is swapped in even though it returns an error:
// the failure itself is session state.
//
// Two calls racing on the same session are serialized; the loser sees
// ErrStateConflict if its expected state is stale.
func (s *Store) Transition(id string, expected State, mutate func(*ImportSession) error) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := entry.session
	switch {
	case s.now().After(sess.ExpiresAt):
		return ErrSessionNotFound
	case sess.State.Terminal():
		return ErrSessionTerminal
	case sess.State != expected:
		return ErrStateConflict
	}

	work := sess.clone()

	if err := mutate(work); err != nil {
		if work.State == StateFailed {
			work.ExpiresAt = s.now().Add(s.ttl)
			entry.session = work
		}
		return err
	}

	if work.State == expected {
		work.State = nextState[expected]
	}
	// Refresh after the step so even a long-running mutation leaves a full
	// idle window; terminal sessions get the same window as a read-back
	// grace period before garbage collection.
	work.ExpiresAt = s.now().Add(s.ttl)
	entry.session = work
	return nil
}

// Destroy removes a session and tombstones its identifier.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		s.dead[id] = true
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartJanitor launches the background eviction loop. Safe to call once;
// stop it with Close.
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	s.janitorOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.done:
					return
				case <-ticker.C:
					s.Sweep()
				}
			}
		}()
	})
}

// Close stops the janitor.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Sweep evicts every expired session whose lock is free. A session in the
// middle of a step (commit included) holds its lock and is skipped until the
// next pass.
func (s *Store) Sweep() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.mu.RLock()
		entry, ok := s.sessions[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		if !entry.mu.TryLock() {
			continue
		}
		expired := s.now().After(entry.session.ExpiresAt)
		sess := entry.session
		entry.mu.Unlock()

		if !expired {
			continue
		}

		s.mu.Lock()
		current, live := s.sessions[id]
		removed := live && current == entry
		if removed {
			delete(s.sessions, id)
			s.dead[id] = true
		}
		s.mu.Unlock()

		if removed && !sess.State.Terminal() && s.OnEvict != nil {
			s.OnEvict(sess)
		}
	}
}

// entry resolves an identifier to its live entry.
func (s *Store) entry(id string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}
