package cache

import (
	"context"
	"errors"
	"time"

	"github.com/phalt/clientele-sub001/logger"
	"github.com/phalt/clientele-sub001/sys"
	"golang.org/x/sync/singleflight"
)

// ErrNoResult is returned when an asynchronous operation closes its result
// channel without sending a result.
var ErrNoResult = errors.New("cache: operation produced no result")

// KeyFunc derives a custom cache key from a call's named arguments. The
// arguments are bound against the operation signature with defaults applied
// and IgnoredParams removed. Returned errors reach the caller unchanged.
type KeyFunc func(params map[string]any) (string, error)

type memoizeConfig struct {
	ttl          time.Duration
	backend      Backend
	key          KeyFunc
	enabled      bool
	logger       logger.Logger
	metrics      *Metrics
	singleFlight bool
}

// MemoizeOption configures Memoize and MemoizeAsync.
type MemoizeOption func(*memoizeConfig)

// WithTTL sets how long results stay cached. Defaults to NoExpiration.
func WithTTL(ttl time.Duration) MemoizeOption {
	return func(c *memoizeConfig) { c.ttl = ttl }
}

// WithBackend sets the backend explicitly, overriding both the client
// configuration and the default backend.
func WithBackend(b Backend) MemoizeOption {
	return func(c *memoizeConfig) { c.backend = b }
}

// WithKey replaces the default key derivation.
func WithKey(fn KeyFunc) MemoizeOption {
	return func(c *memoizeConfig) { c.key = fn }
}

// WithEnabled turns caching on or off for the wrapper being built. The value
// is read once, when the wrapper is created.
func WithEnabled(enabled bool) MemoizeOption {
	return func(c *memoizeConfig) { c.enabled = enabled }
}

// WithLogger logs hits and misses at trace level and ignored backend errors
// at warn level.
func WithLogger(l logger.Logger) MemoizeOption {
	return func(c *memoizeConfig) { c.logger = l }
}

// WithMetrics records hits, misses, stores and backend errors.
func WithMetrics(m *Metrics) MemoizeOption {
	return func(c *memoizeConfig) { c.metrics = m }
}

// WithSingleFlight collapses concurrent misses on the same key into one
// invocation of the wrapped operation. Off by default: concurrent misses
// each invoke the operation and the last write wins.
func WithSingleFlight() MemoizeOption {
	return func(c *memoizeConfig) { c.singleFlight = true }
}

type memoizer[T any] struct {
	cfg     memoizeConfig
	sig     Signature
	name    string
	request RequestContext
	backend Backend
	group   *singleflight.Group
}

func newMemoizer[T any](op any, sig Signature, opts []MemoizeOption) *memoizer[T] {
	cfg := memoizeConfig{ttl: NoExpiration, enabled: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &memoizer[T]{cfg: cfg, sig: sig, name: sig.Name}
	if m.name == "" {
		m.name = "anonymous"
	}
	m.request, _ = ExtractRequestContext(op)
	if cfg.backend != nil {
		m.backend = cfg.backend
	} else {
		m.backend = ExtractBackend(op)
	}
	if cfg.singleFlight {
		m.group = new(singleflight.Group)
	}
	if cfg.logger != nil {
		m.cfg.logger = cfg.logger.WithPrefix("[cache]")
	}
	return m
}

func (m *memoizer[T]) trace(msg string, args ...any) {
	if m.cfg.logger != nil {
		m.cfg.logger.Trace(msg, args...)
	}
}

func (m *memoizer[T]) warn(msg string, args ...any) {
	if m.cfg.logger != nil {
		m.cfg.logger.Warn(msg, args...)
	}
}

// key computes the cache key for call. Only a custom KeyFunc can fail.
func (m *memoizer[T]) key(call Call) (string, error) {
	if m.cfg.key != nil {
		return m.cfg.key(keyParams(m.sig, call.Args, call.Kwargs))
	}
	key := GenerateCacheKey(m.sig, call.Args, call.Kwargs, m.request.PathTemplate)
	if m.request.Method != "" {
		key = m.request.Method + ":" + key
	}
	return key, nil
}

// lookup returns the cached value for key. Backend errors and values that
// cannot be converted to T are treated as misses.
func (m *memoizer[T]) lookup(ctx context.Context, key string) (T, bool) {
	var zero T
	found, val, err := m.backend.Get(ctx, key)
	if err != nil {
		m.cfg.metrics.failed(m.name)
		m.warn("get %s failed: %s", key, err)
		return zero, false
	}
	if !found || isNil(val) {
		m.cfg.metrics.miss(m.name)
		m.trace("miss %s", key)
		return zero, false
	}
	ok, typed, err := decode[T](val)
	if err != nil || !ok {
		m.cfg.metrics.failed(m.name)
		m.warn("ignoring cached value for %s: %v", key, err)
		return zero, false
	}
	m.cfg.metrics.hit(m.name)
	m.trace("hit %s", key)
	return typed, true
}

// store caches val unless it is nil. Backend errors are logged and dropped.
func (m *memoizer[T]) store(ctx context.Context, key string, val T) {
	if isNil(val) {
		return
	}
	if err := m.backend.Set(ctx, key, val, m.cfg.ttl); err != nil {
		m.cfg.metrics.failed(m.name)
		m.warn("set %s failed: %s", key, err)
		return
	}
	m.cfg.metrics.store(m.name)
}

// compute runs invoke after a miss and stores a successful result.
func (m *memoizer[T]) compute(ctx context.Context, key string, invoke func() (T, error)) (T, error) {
	run := func() (T, error) {
		val, err := invoke()
		if err != nil {
			return val, err
		}
		m.store(ctx, key, val)
		return val, nil
	}
	if m.group == nil {
		return run()
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		return run()
	})
	val, _ := v.(T)
	return val, err
}

// Memoize wraps a synchronous operation with get-or-compute-and-store
// caching. On a hit the operation is not invoked. Errors and nil results are
// never cached.
//
// The backend is chosen when the wrapper is built: WithBackend, then the
// backend configured on the operation's client, then DefaultBackend.
func Memoize[T any](op Operation[T], opts ...MemoizeOption) func(context.Context, Call) (T, error) {
	m := newMemoizer[T](op, op.Signature(), opts)
	if !m.cfg.enabled {
		return op.Invoke
	}
	return func(ctx context.Context, call Call) (T, error) {
		key, err := m.key(call)
		if err != nil {
			var zero T
			return zero, err
		}
		if val, ok := m.lookup(ctx, key); ok {
			return val, nil
		}
		return m.compute(ctx, key, func() (T, error) {
			return op.Invoke(ctx, call)
		})
	}
}

// MemoizeAsync is Memoize for operations that deliver their result on a
// channel. The returned wrapper has the same calling convention: a hit is
// delivered on an already filled channel, a miss waits for the operation in
// a goroutine.
func MemoizeAsync[T any](op AsyncOperation[T], opts ...MemoizeOption) func(context.Context, Call) <-chan sys.Result[T] {
	m := newMemoizer[T](op, op.Signature(), opts)
	if !m.cfg.enabled {
		return op.InvokeAsync
	}
	return func(ctx context.Context, call Call) <-chan sys.Result[T] {
		key, err := m.key(call)
		if err != nil {
			return sys.Resolved(sys.Err[T](err))
		}
		if val, ok := m.lookup(ctx, key); ok {
			return sys.Resolved(sys.Ok(val))
		}
		return sys.Go(func() (T, error) {
			return m.compute(ctx, key, func() (T, error) {
				res, ok := sys.Await(op.InvokeAsync(ctx, call))
				if !ok {
					var zero T
					return zero, ErrNoResult
				}
				return res.Unwrap()
			})
		})
	}
}
