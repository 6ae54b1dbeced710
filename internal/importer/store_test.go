package importer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s := NewStore(ttl)
	t.Cleanup(s.Close)
	return s
}

func newTestSession(id string) *ImportSession {
	return &ImportSession{
		ID:      id,
		State:   StateUploaded,
		Header:  []string{"name", "class", "ra"},
		RawRows: []RawRow{{Line: 2, Cells: []string{"Maria", "5A", "1001"}}},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t, time.Minute)

	require.NoError(t, store.Create(newTestSession("a")))

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, got.State)
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, got.ExpiresAt.After(got.CreatedAt))
}

func TestStoreGetUnknown(t *testing.T) {
	store := newTestStore(t, time.Minute)

	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	first, err := store.Get("a")
	require.NoError(t, err)
	first.Header[0] = "tampered"
	first.State = StateImported

	second, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "name", second.Header[0])
	assert.Equal(t, StateUploaded, second.State)
}

func TestStoreCreateDuplicateID(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	err := store.Create(newTestSession("a"))
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestStoreDestroyedIDNeverRecreated(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))
	store.Destroy("a")

	_, err := store.Get("a")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The identifier is burned for good.
	err = store.Create(newTestSession("a"))
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestStoreTransitionAdvances(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	err := store.Transition("a", StateUploaded, func(sess *ImportSession) error {
		sess.Mapping = Mapping{"name": FieldName}
		return nil
	})
	require.NoError(t, err)

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StateMapped, got.State)
	assert.Equal(t, Mapping{"name": FieldName}, got.Mapping)
}

func TestStoreTransitionWrongExpectedState(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	// Session is Uploaded; a caller assuming Mapped lost the race.
	err := store.Transition("a", StateMapped, func(*ImportSession) error { return nil })
	assert.ErrorIs(t, err, ErrStateConflict)

	// No backward transitions either: once Mapped, Uploaded is stale.
	require.NoError(t, store.Transition("a", StateUploaded, func(*ImportSession) error { return nil }))
	err = store.Transition("a", StateUploaded, func(*ImportSession) error { return nil })
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestStoreTransitionMutationErrorKeepsState(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	wantErr := &MappingError{Message: "bad mapping"}
	err := store.Transition("a", StateUploaded, func(sess *ImportSession) error {
		sess.Mapping = Mapping{"name": FieldName} // must not leak out
		return wantErr
	})
	assert.ErrorAs(t, err, &wantErr)

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, got.State)
	assert.Nil(t, got.Mapping)
}

func TestStoreTransitionFailureIsTerminal(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	err := store.Transition("a", StateUploaded, func(sess *ImportSession) error {
		sess.fail("something unrecoverable")
		return assert.AnError
	})
	require.Error(t, err)

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	require.Len(t, got.ErrorLog, 1)

	err = store.Transition("a", StateFailed, func(*ImportSession) error { return nil })
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestStoreTerminalSessionRejectsSteps(t *testing.T) {
	store := newTestStore(t, time.Minute)
	sess := newTestSession("a")
	require.NoError(t, store.Create(sess))

	for _, expected := range []State{StateUploaded, StateMapped, StateConflictsDetected, StateResolved} {
		require.NoError(t, store.Transition("a", expected, func(*ImportSession) error { return nil }))
	}

	got, err := store.Get("a")
	require.NoError(t, err)
	require.Equal(t, StateImported, got.State)

	err = store.Transition("a", StateImported, func(*ImportSession) error { return nil })
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestStoreConcurrentTransitionExactlyOneWins(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Transition("a", StateUploaded, func(*ImportSession) error { return nil })
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrStateConflict)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StateMapped, got.State)
}

func TestStoreTTLEviction(t *testing.T) {
	store := newTestStore(t, 10*time.Millisecond)

	var evicted []string
	var mu sync.Mutex
	store.OnEvict = func(sess *ImportSession) {
		mu.Lock()
		evicted = append(evicted, sess.ID)
		mu.Unlock()
	}

	require.NoError(t, store.Create(newTestSession("stalled")))

	time.Sleep(30 * time.Millisecond)
	store.Sweep()

	_, err := store.Get("stalled")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stalled"}, evicted)
}

func TestStoreSweepSkipsSessionMidStep(t *testing.T) {
	store := newTestStore(t, 10*time.Millisecond)
	require.NoError(t, store.Create(newTestSession("busy")))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- store.Transition("busy", StateUploaded, func(*ImportSession) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	time.Sleep(30 * time.Millisecond)
	store.Sweep() // session lock is held; must not evict

	close(release)
	require.NoError(t, <-done)

	// The step completed and refreshed the deadline.
	got, err := store.Get("busy")
	require.NoError(t, err)
	assert.Equal(t, StateMapped, got.State)
}

func TestStoreTransitionRefreshesDeadline(t *testing.T) {
	store := newTestStore(t, time.Minute)
	require.NoError(t, store.Create(newTestSession("a")))

	before, err := store.Get("a")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Transition("a", StateUploaded, func(*ImportSession) error { return nil }))

	after, err := store.Get("a")
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
}

func TestStoreExpiredSessionNotFound(t *testing.T) {
	store := newTestStore(t, time.Millisecond)
	require.NoError(t, store.Create(newTestSession("a")))

	time.Sleep(10 * time.Millisecond)

	_, err := store.Get("a")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = store.Transition("a", StateUploaded, func(*ImportSession) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
