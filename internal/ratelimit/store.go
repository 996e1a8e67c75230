package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the narrow counter contract the limiter relies on. All
// correctness across service instances comes from the store's atomic
// increment; the limiter itself holds no state.
type CounterStore interface {
	// Incr atomically increments key and returns the post-increment count.
	// The first increment of a key must set its expiry to window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// TTL returns the remaining lifetime of key. Zero or negative means the
	// key is gone or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
