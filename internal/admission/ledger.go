package admission

import (
	"context"
	"time"

	"github.com/playforge/gamehub/pkg/metrics"
	"go.uber.org/zap"
)

// maxCommitRetries bounds transient-error retries per commit; exhausting
// them fails open so store stress never denies legitimate traffic.
const maxCommitRetries = 5

// CommitOutcome is the ledger's answer for one admission attempt.
type CommitOutcome struct {
	Allowed     bool
	Count       int64
	WindowStart time.Time
	RetryAfter  time.Duration

	// FailedOpen marks admissions granted because the store was unreachable.
	FailedOpen bool
	// Degraded marks outcomes served from the local approximation.
	Degraded bool
}

// Ledger owns all quota windows. peek and commit are linearizable per key;
// the store provides the atomicity, the ledger provides retries, deadlines
// and the degraded-mode fallback.
type Ledger struct {
	store   Store
	logger  *zap.Logger
	timeout time.Duration

	tracker *errorRateTracker
	local   *localWindows
}

// NewLedger constructs a quota ledger over the given store.
func NewLedger(store Store, logger *zap.Logger, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Ledger{
		store:   store,
		logger:  logger.Named("quota-ledger"),
		timeout: timeout,
		tracker: newErrorRateTracker(10*time.Second, 0.5, 30*time.Second),
		local:   newLocalWindows(10000),
	}
}

// Degraded reports whether the ledger is currently serving from its local
// approximation.
func (l *Ledger) Degraded() bool {
	return l.tracker.Degraded()
}

// Commit atomically checks and increments the window for key. On store
// failure it retries with exponential backoff up to its deadline, then
// fails open.
func (l *Ledger) Commit(ctx context.Context, key QuotaKey, window time.Duration, effectiveMax int64) CommitOutcome {
	storeKey := quotaPrefix + key.String()
	ttl := 2 * window

	if l.tracker.Degraded() {
		metrics.DegradedMode.Set(1)
		res := l.local.Commit(storeKey, window, effectiveMax)
		return CommitOutcome{
			Allowed:     res.Allowed,
			Count:       res.Count,
			WindowStart: res.WindowStart,
			RetryAfter:  res.RetryAfter,
			Degraded:    true,
		}
	}
	metrics.DegradedMode.Set(0)

	backoff := 2 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, l.timeout)
		res, err := l.store.CommitWindow(opCtx, storeKey, window, effectiveMax, ttl)
		cancel()
		if err == nil {
			l.tracker.Observe(false)
			metrics.StoreOperations.WithLabelValues("commit", "ok").Inc()
			return CommitOutcome{
				Allowed:     res.Allowed,
				Count:       res.Count,
				WindowStart: res.WindowStart,
				RetryAfter:  res.RetryAfter,
			}
		}
		lastErr = err
		l.tracker.Observe(true)
		metrics.StoreOperations.WithLabelValues("commit", "error").Inc()
		if ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}

	l.logger.Warn("quota store unavailable, failing open",
		zap.String("principal", string(key.Principal)),
		zap.String("class", string(key.Class)),
		zap.String("context", key.Context),
		zap.Error(lastErr),
	)
	metrics.AdmissionVerdicts.WithLabelValues(string(key.Class), "", "failed_open").Inc()
	return CommitOutcome{Allowed: true, FailedOpen: true, WindowStart: time.Now()}
}

// Peek reads the current window for key without incrementing.
func (l *Ledger) Peek(ctx context.Context, key QuotaKey, window time.Duration) (CommitOutcome, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	res, err := l.store.PeekWindow(opCtx, quotaPrefix+key.String(), window)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("peek", "error").Inc()
		return CommitOutcome{}, err
	}
	metrics.StoreOperations.WithLabelValues("peek", "ok").Inc()
	return CommitOutcome{Count: res.Count, WindowStart: res.WindowStart}, nil
}

// Release undoes one admission for key. Best effort: a failed release only
// logs; the window expires on its own.
func (l *Ledger) Release(ctx context.Context, key QuotaKey) {
	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.ReleaseWindow(opCtx, quotaPrefix+key.String()); err != nil {
		metrics.StoreOperations.WithLabelValues("release", "error").Inc()
		l.logger.Warn("failed to release quota slot",
			zap.String("principal", string(key.Principal)),
			zap.String("class", string(key.Class)),
			zap.Error(err),
		)
		return
	}
	metrics.StoreOperations.WithLabelValues("release", "ok").Inc()
}

// Reset clears the window for key. Used by the admin API.
func (l *Ledger) Reset(ctx context.Context, key QuotaKey) error {
	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Delete(opCtx, quotaPrefix+key.String())
}
