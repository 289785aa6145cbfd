package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
// A single mutex covers both maps; every operation is linearizable.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memoryValue
	windows map[string]*memoryWindow

	// now is swappable so tests can control window rollover and TTLs.
	now func() time.Time
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

type memoryWindow struct {
	count       int64
	windowStart time.Time
	expiresAt   time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memoryValue),
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.now().After(v.expiresAt) {
		delete(s.values, key)
		return nil, ErrNotFound
	}
	return v.data, nil
}

func (s *MemoryStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{data: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.now().After(v.expiresAt) {
		delete(s.values, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.windows, key)
	return nil
}

func (s *MemoryStore) CommitWindow(_ context.Context, key string, window time.Duration, max int64, ttl time.Duration) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.After(w.expiresAt) {
		w = &memoryWindow{windowStart: now}
		s.windows[key] = w
	}
	if now.Sub(w.windowStart) >= window {
		w.count = 0
		w.windowStart = now
	}
	if w.count+1 > max {
		retry := w.windowStart.Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return CommitResult{Allowed: false, Count: w.count, WindowStart: w.windowStart, RetryAfter: retry}, nil
	}
	w.count++
	w.expiresAt = now.Add(ttl)
	return CommitResult{Allowed: true, Count: w.count, WindowStart: w.windowStart}, nil
}

func (s *MemoryStore) PeekWindow(_ context.Context, key string, window time.Duration) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.After(w.expiresAt) || now.Sub(w.windowStart) >= window {
		return CommitResult{Count: 0, WindowStart: now}, nil
	}
	return CommitResult{Count: w.count, WindowStart: w.windowStart}, nil
}

func (s *MemoryStore) ReleaseWindow(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok && w.count > 0 {
		w.count--
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Sweep drops expired values and windows. Called periodically by the
// background cleanup goroutine; Redis handles expiry itself.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, v := range s.values {
		if now.After(v.expiresAt) {
			delete(s.values, k)
			removed++
		}
	}
	for k, w := range s.windows {
		if now.After(w.expiresAt) {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}
