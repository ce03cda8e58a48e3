// Package ephemeral holds short-lived, TTL-bound key/value state such as
// OTP records, rate-limit markers and reset tokens.
package ephemeral

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("ephemeral: key not found")

// Store is a single-node TTL cache. Expired keys behave as absent.
type Store interface {
	// SetWithExpiry writes value, replacing any previous value and TTL.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsentWithExpiry writes value only when key is absent and reports
	// whether it did. The check and the write are a single atomic step.
	SetIfAbsentWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Replace overwrites an existing key and keeps its remaining TTL.
	// It returns ErrNotFound when the key is absent.
	Replace(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	// Take reads and deletes key in one step, so only one caller observes
	// the value. It returns ErrNotFound when the key is absent.
	Take(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime, or ErrNotFound when the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// IncrementWithExpiry atomically increments a counter, applying ttl when
	// the counter is created.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}
