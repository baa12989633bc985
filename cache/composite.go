package cache

import (
	"context"
	"time"
)

type compositeBackend struct {
	backends []Backend
}

var _ Backend = (*compositeBackend)(nil)

// NewComposite returns a Backend that chains multiple backends together.
// Get checks backends in order and returns the first hit.
// Set, Delete and Clear apply to all backends.
// At least one backend must be provided; panics if empty.
func NewComposite(backends ...Backend) Backend {
	if len(backends) == 0 {
		panic("cache: NewComposite requires at least one backend")
	}
	return &compositeBackend{backends: backends}
}

func (c *compositeBackend) Get(ctx context.Context, key string) (bool, any, error) {
	for _, b := range c.backends {
		found, val, err := b.Get(ctx, key)
		if err != nil {
			return false, nil, err
		}
		if found {
			return true, val, nil
		}
	}
	return false, nil, nil
}

func (c *compositeBackend) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	var firstErr error
	for _, b := range c.backends {
		if err := b.Set(ctx, key, val, ttl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeBackend) Delete(ctx context.Context, key string) error {
	var firstErr error
	for _, b := range c.backends {
		if err := b.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeBackend) Clear(ctx context.Context) error {
	var firstErr error
	for _, b := range c.backends {
		if err := b.Clear(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeBackend) Exists(ctx context.Context, key string) (bool, error) {
	for _, b := range c.backends {
		found, err := b.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
