package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached. It is
// always wrapped with the underlying cause; callers check it with errors.Is.
// Absent keys are never reported as errors: lookups return (nil, nil).
var ErrUnavailable = errors.New("store unavailable")

// Clock is the injected time source used for TTL and staleness computation.
// Production code uses SystemClock; tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// KV is the key/value half of the backend contract. A ttl of zero means the
// key does not expire. All operations are atomic with respect to concurrent
// calls on the same key.
type KV interface {
	// Set inserts or replaces the value and resets the expiry clock.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX sets the value only if the key is absent (or expired). Returns
	// true if the value was set.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// SetWithPrev replaces the value and returns the previous value in a
	// single atomic step, or nil if the key was absent.
	SetWithPrev(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, error)

	// CompareAndSwap replaces the value only if the current value equals
	// old. Returns true if the swap happened.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes the key only if the current value equals old.
	// Returns true if the key was removed.
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)

	// Get returns the value, or (nil, nil) if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns keys matching the prefix. Best-effort snapshot intended
	// for maintenance and aggregation paths only; it may include keys whose
	// TTL is about to elapse.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Sets is the set half of the backend contract. Sets do not expire; stale
// members are reconciled lazily at read time (see aggregate) or by sweeps.
type Sets interface {
	SetAdd(ctx context.Context, key, member string) error

	// SetRemove removes members from the set. Removing absent members is
	// not an error.
	SetRemove(ctx context.Context, key string, members ...string) error

	// SetMembers returns a point-in-time snapshot of the set.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// SetMove atomically removes member from src and adds it to dst. If
	// member is not in src, nothing happens and false is returned. The
	// member is never observable in both sets, nor in neither.
	SetMove(ctx context.Context, src, dst, member string) (bool, error)
}

// Backend is the pluggable key/value+set store behind the presence core.
// Implementations must be safe for concurrent use without external locking.
type Backend interface {
	KV
	Sets

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
