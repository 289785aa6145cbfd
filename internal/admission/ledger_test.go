package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// erroringStore fails every operation; used to drive fail-open and
// degraded-mode behavior.
type erroringStore struct{}

var errStoreDown = errors.New("store down")

func (erroringStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (erroringStore) SetEx(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}
func (erroringStore) Exists(context.Context, string) (bool, error) { return false, errStoreDown }
func (erroringStore) Delete(context.Context, string) error         { return errStoreDown }
func (erroringStore) CommitWindow(context.Context, string, time.Duration, int64, time.Duration) (CommitResult, error) {
	return CommitResult{}, errStoreDown
}
func (erroringStore) PeekWindow(context.Context, string, time.Duration) (CommitResult, error) {
	return CommitResult{}, errStoreDown
}
func (erroringStore) ReleaseWindow(context.Context, string) error { return errStoreDown }
func (erroringStore) Ping(context.Context) error                  { return errStoreDown }

func testKey() QuotaKey {
	return QuotaKey{Principal: "user:u1", Class: ClassVoting, Context: "none"}
}

func TestCommitWindowCap(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.SetClock(clock.Now)
	ledger := NewLedger(store, zap.NewNop(), 50*time.Millisecond)

	key := testKey()
	window := time.Minute

	for i := 1; i <= 7; i++ {
		out := ledger.Commit(context.Background(), key, window, 7)
		assert.True(t, out.Allowed, "request %d should be admitted", i)
		assert.Equal(t, int64(i), out.Count)
	}

	out := ledger.Commit(context.Background(), key, window, 7)
	assert.False(t, out.Allowed)
	assert.Equal(t, int64(7), out.Count, "denied commit must not increment")
	assert.Greater(t, out.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, out.RetryAfter, window)
}

func TestCommitWindowRollover(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.SetClock(clock.Now)
	ledger := NewLedger(store, zap.NewNop(), 50*time.Millisecond)

	key := testKey()
	window := time.Minute

	for i := 0; i < 3; i++ {
		require.True(t, ledger.Commit(context.Background(), key, window, 3).Allowed)
	}
	require.False(t, ledger.Commit(context.Background(), key, window, 3).Allowed)

	// Rollover exactly at the window boundary starts a fresh window.
	clock.Advance(window)
	out := ledger.Commit(context.Background(), key, window, 3)
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(1), out.Count)
}

func TestCommitCountMonotonicWithinWindow(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.SetClock(clock.Now)
	ledger := NewLedger(store, zap.NewNop(), 50*time.Millisecond)

	key := testKey()
	last := int64(0)
	for i := 0; i < 10; i++ {
		out := ledger.Commit(context.Background(), key, time.Minute, 100)
		require.True(t, out.Allowed)
		assert.Greater(t, out.Count, last)
		last = out.Count
		clock.Advance(time.Second)
	}
}

func TestPeekAfterCommit(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, zap.NewNop(), 50*time.Millisecond)

	key := testKey()
	committed := ledger.Commit(context.Background(), key, time.Minute, 10)
	require.True(t, committed.Allowed)

	peeked, err := ledger.Peek(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, peeked.Count, committed.Count)
}

func TestPeekDoesNotIncrement(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, zap.NewNop(), 50*time.Millisecond)

	key := testKey()
	ledger.Commit(context.Background(), key, time.Minute, 10)
	for i := 0; i < 5; i++ {
		out, err := ledger.Peek(context.Background(), key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), out.Count)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, zap.NewNop(), 50*time.Millisecond)

	key := testKey()
	ledger.Commit(context.Background(), key, time.Minute, 10)
	ledger.Release(context.Background(), key)
	ledger.Release(context.Background(), key)

	out, err := ledger.Peek(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Count)
}

func TestCommitFailsOpenOnStoreOutage(t *testing.T) {
	ledger := NewLedger(erroringStore{}, zap.NewNop(), 5*time.Millisecond)

	out := ledger.Commit(context.Background(), testKey(), time.Minute, 1)
	assert.True(t, out.Allowed)
	assert.True(t, out.FailedOpen)
}

func TestDegradedModeServesLocally(t *testing.T) {
	ledger := NewLedger(erroringStore{}, zap.NewNop(), time.Millisecond)

	// Enough failed commits to trip the error-rate tracker.
	for i := 0; i < 3; i++ {
		ledger.Commit(context.Background(), testKey(), time.Minute, 100)
	}
	require.True(t, ledger.Degraded())

	// Degraded commits come from the local approximation and still enforce
	// the cap.
	key := QuotaKey{Principal: "user:u2", Class: ClassVoting, Context: "none"}
	for i := 0; i < 3; i++ {
		out := ledger.Commit(context.Background(), key, time.Minute, 3)
		assert.True(t, out.Allowed)
		assert.True(t, out.Degraded)
	}
	out := ledger.Commit(context.Background(), key, time.Minute, 3)
	assert.False(t, out.Allowed)
	assert.True(t, out.Degraded)
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.SetClock(clock.Now)

	require.NoError(t, store.SetEx(context.Background(), "sess:session:u1", []byte("x"), time.Second))
	_, err := store.CommitWindow(context.Background(), "quota:k", time.Second, 5, 2*time.Second)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 0, store.Sweep())
}
