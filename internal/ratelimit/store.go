package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable signals that the counter backend could not be reached
// and the result is indeterminate. The limiter maps it to an allow or a deny
// according to its configured fail mode; it is never surfaced to callers.
var ErrStoreUnavailable = errors.New("ratelimit: store unavailable")

// Store is the counter/window abstraction behind the limiter.
//
// Increment atomically bumps the counter for key in its current fixed window
// and returns the post-increment count together with the window start. Two
// concurrent calls for the same key must never both observe a stale
// pre-increment count. A call arriving at or after windowStart+window opens a
// new window with count 1.
//
// Entries untouched past their window plus a grace period must become
// reclaimable without external intervention.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, windowStart time.Time, err error)
}
