package admission

import (
	"container/list"
	"sync"
	"time"
)

// errorRateTracker watches backing-store failures over a sliding window and
// trips the ledger into degraded mode when the failure ratio crosses the
// threshold.
type errorRateTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold float64
	minOps    int

	samples []errorSample

	degradedUntil time.Time
	degradedFor   time.Duration

	now func() time.Time
}

type errorSample struct {
	at     time.Time
	failed bool
}

func newErrorRateTracker(window time.Duration, threshold float64, degradedFor time.Duration) *errorRateTracker {
	return &errorRateTracker{
		window:      window,
		threshold:   threshold,
		minOps:      5,
		degradedFor: degradedFor,
		now:         time.Now,
	}
}

// Observe records one store operation outcome and re-evaluates the mode.
func (t *errorRateTracker) Observe(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.samples = append(t.samples, errorSample{at: now, failed: failed})
	cutoff := now.Add(-t.window)
	for len(t.samples) > 0 && t.samples[0].at.Before(cutoff) {
		t.samples = t.samples[1:]
	}

	if len(t.samples) < t.minOps {
		return
	}
	failures := 0
	for _, s := range t.samples {
		if s.failed {
			failures++
		}
	}
	if float64(failures)/float64(len(t.samples)) >= t.threshold {
		t.degradedUntil = now.Add(t.degradedFor)
	}
}

// Degraded reports whether the ledger should serve from its local
// approximation right now.
func (t *errorRateTracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.degradedUntil)
}

// localWindows is the in-process fixed-window approximation used while the
// backing store is degraded. An LRU bound keeps the key set from growing
// without limit under keyspace-spraying traffic.
type localWindows struct {
	mu      sync.Mutex
	max     int
	items   map[string]*list.Element
	order   *list.List
	windows map[string]*memoryWindow

	now func() time.Time
}

func newLocalWindows(max int) *localWindows {
	return &localWindows{
		max:     max,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// Commit applies the fixed-window algorithm against the local approximation.
func (l *localWindows) Commit(key string, window time.Duration, max int64) CommitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.touch(key)

	w, ok := l.windows[key]
	if !ok {
		w = &memoryWindow{windowStart: now}
		l.windows[key] = w
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
		return CommitResult{Allowed: false, Count: w.count, WindowStart: w.windowStart, RetryAfter: retry}
	}
	w.count++
	return CommitResult{Allowed: true, Count: w.count, WindowStart: w.windowStart}
}

func (l *localWindows) touch(key string) {
	if element, ok := l.items[key]; ok {
		l.order.MoveToFront(element)
		return
	}
	l.items[key] = l.order.PushFront(key)
	for len(l.items) > l.max {
		back := l.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(string)
		l.order.Remove(back)
		delete(l.items, evicted)
		delete(l.windows, evicted)
	}
}
