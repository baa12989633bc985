package cache

import (
	"context"
	"time"

	"github.com/phalt/clientele-sub001/resilience"
)

type guardedBackend struct {
	backend Backend
	breaker *resilience.Breaker
}

var _ Backend = (*guardedBackend)(nil)

// NewGuarded puts a circuit breaker in front of a remote backend. While the
// breaker is open calls fail fast with resilience.ErrOpen, which memoized
// operations treat like any other backend error: a miss.
func NewGuarded(b Backend, breaker *resilience.Breaker) Backend {
	return &guardedBackend{backend: b, breaker: breaker}
}

func (g *guardedBackend) Get(ctx context.Context, key string) (found bool, val any, err error) {
	err = g.breaker.Do(func() error {
		var err error
		found, val, err = g.backend.Get(ctx, key)
		return err
	})
	return found, val, err
}

func (g *guardedBackend) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	return g.breaker.Do(func() error {
		return g.backend.Set(ctx, key, val, ttl)
	})
}

func (g *guardedBackend) Delete(ctx context.Context, key string) error {
	return g.breaker.Do(func() error {
		return g.backend.Delete(ctx, key)
	})
}

func (g *guardedBackend) Clear(ctx context.Context) error {
	return g.breaker.Do(func() error {
		return g.backend.Clear(ctx)
	})
}

func (g *guardedBackend) Exists(ctx context.Context, key string) (found bool, err error) {
	err = g.breaker.Do(func() error {
		var err error
		found, err = g.backend.Exists(ctx, key)
		return err
	})
	return found, err
}
