package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// NoExpiration is the ttl value for entries that never expire. Any negative
// ttl is treated the same way.
const NoExpiration time.Duration = -1

// DefaultMaxSize is the capacity of a memory backend created without WithMaxSize.
const DefaultMaxSize = 128

// DefaultQueryTimeout is the per-operation timeout for backends that perform
// I/O (Redis). Prevents indefinite hangs on slow or unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// Backend is the storage contract used by the memoize wrappers.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Get never errors for a missing or expired key; it returns found=false.
//   - Set accepts any value, including nil. A negative ttl never expires.
//   - Delete is idempotent.
//   - Exists reports only live entries and drops expired ones like Get does.
//
// Errors are reserved for backends doing I/O. The memory backend never
// returns one.
type Backend interface {
	// Get returns the live value stored for key.
	Get(ctx context.Context, key string) (bool, any, error)
	// Set inserts or replaces the value stored for key.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// Exists reports whether a live entry is stored for key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Entry is a value stored by the memory backend along with its creation time
// and optional absolute expiry.
type Entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
	expires   bool
}

// NewEntry creates an entry for value. A negative ttl never expires; any other
// ttl fixes the expiry at creation time plus ttl.
func NewEntry(value any, ttl time.Duration) *Entry {
	now := time.Now()
	e := &Entry{value: value, createdAt: now}
	if ttl >= 0 {
		e.expiresAt = now.Add(ttl)
		e.expires = true
	}
	return e
}

// Value returns the stored payload as-is. No copy is made.
func (e *Entry) Value() any {
	return e.value
}

// CreatedAt returns when the entry was created.
func (e *Entry) CreatedAt() time.Time {
	return e.createdAt
}

// ExpiresAt returns the absolute expiry and false when the entry never expires.
func (e *Entry) ExpiresAt() (time.Time, bool) {
	return e.expiresAt, e.expires
}

// IsExpired reports whether the current time is strictly after the expiry.
// An entry created with a zero ttl is expired once any time has elapsed.
func (e *Entry) IsExpired() bool {
	if !e.expires {
		return false
	}
	return time.Now().After(e.expiresAt)
}

// Get retrieves a typed value from a backend.
// For in-memory backends, it performs a direct type assertion.
// For serialized backends (like Redis), it decodes the stored msgpack.
func Get[T any](ctx context.Context, b Backend, key string) (bool, T, error) {
	found, val, err := b.Get(ctx, key)
	if !found || err != nil {
		var zero T
		return false, zero, err
	}
	return decode[T](val)
}

// encoded is a msgpack-serialized value as returned by the Redis backend.
// Plain []byte values stored by other backends are returned unchanged.
type encoded []byte

// decode converts a backend value to T, unmarshaling values that a backend
// serialized.
func decode[T any](val any) (bool, T, error) {
	if data, ok := val.(encoded); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			var zero T
			return false, zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return true, result, nil
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	var zero T
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}

// config holds the resolved configuration for a backend implementation.
type config struct {
	queryTimeout time.Duration
	prefix       string
	maxSize      int
	onEvict      func(key string, value any)
}

// Option configures a Backend implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		queryTimeout: DefaultQueryTimeout,
		maxSize:      DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize < 1 {
		cfg.maxSize = DefaultMaxSize
	}
	return cfg
}

// WithMaxSize bounds the number of entries kept by the memory backend.
// Values below 1 select DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(c *config) { c.maxSize = n }
}

// WithOnEvict registers a callback invoked when the memory or ristretto
// backend evicts an entry to stay within its capacity. It runs while the
// backend lock is held and must not call back into the backend. The ristretto
// backend passes an empty key.
func WithOnEvict(fn func(key string, value any)) Option {
	return func(c *config) { c.onEvict = fn }
}

// WithQueryTimeout sets the per-operation timeout for the Redis backend.
// Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend. Defaults to empty (no prefix).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}
