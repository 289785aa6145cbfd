package admission

import (
	"context"
	"errors"
	"time"
)

// Key prefixes partitioning the shared backing store. The ledger and the
// session registry never issue cross-prefix operations.
const (
	quotaPrefix   = "quota:"
	sessionPrefix = "sess:"
)

// ErrNotFound is returned by Store.Get for absent keys.
var ErrNotFound = errors.New("admission: key not found")

// CommitResult is the outcome of an atomic window check-and-increment.
type CommitResult struct {
	Allowed     bool
	Count       int64
	WindowStart time.Time
	RetryAfter  time.Duration
}

// Store is the key-value contract shared by the quota ledger and the
// session registry. Redis satisfies it in production; an in-process map
// backs tests and single-node deployments.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// CommitWindow atomically applies the fixed-window algorithm for key:
	// roll the window if elapsed, then admit and increment iff count+1 <= max.
	// The record expires after ttl. Linearizable per key.
	CommitWindow(ctx context.Context, key string, window time.Duration, max int64, ttl time.Duration) (CommitResult, error)

	// PeekWindow reads a window without incrementing. Absent keys yield a
	// zero count with WindowStart set to now.
	PeekWindow(ctx context.Context, key string, window time.Duration) (CommitResult, error)

	// ReleaseWindow undoes one admission for key, flooring at zero. Used by
	// classes that do not count successes.
	ReleaseWindow(ctx context.Context, key string) error

	Ping(ctx context.Context) error
}
