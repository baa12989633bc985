package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

type ristrettoBackend struct {
	cache    *ristretto.Cache
	clearing atomic.Bool
}

var _ Backend = (*ristrettoBackend)(nil)

// NewRistretto returns a Backend on top of a ristretto cache holding roughly
// maxEntries values. Ristretto admits entries by estimated frequency, so a Set
// may be dropped under pressure and eviction order is not strictly LRU.
//
// WithOnEvict is honoured for entries pushed out by capacity. Ristretto keeps
// only a hash of each key, so the callback receives an empty key. Expired
// entries and Clear do not count as evictions.
func NewRistretto(maxEntries int64, opts ...Option) (Backend, error) {
	if maxEntries < 1 {
		maxEntries = DefaultMaxSize
	}
	// NumCounters should be ~10x the number of entries for optimal performance
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}
	b := &ristrettoBackend{}
	rc := &ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// every entry costs 1, so MaxCost is an entry count
		IgnoreInternalCost: true,
	}
	if onEvict := applyOptions(opts).onEvict; onEvict != nil {
		rc.OnEvict = func(item *ristretto.Item) {
			if b.clearing.Load() {
				return
			}
			entry, ok := item.Value.(*Entry)
			if !ok || entry.IsExpired() {
				return
			}
			onEvict("", entry.Value())
		}
	}
	c, err := ristretto.NewCache(rc)
	if err != nil {
		return nil, err
	}
	b.cache = c
	return b, nil
}

func (c *ristrettoBackend) lookup(key string) (*Entry, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	entry, ok := val.(*Entry)
	if !ok || entry.IsExpired() {
		c.cache.Del(key)
		return nil, false
	}
	return entry, true
}

func (c *ristrettoBackend) Get(_ context.Context, key string) (bool, any, error) {
	entry, ok := c.lookup(key)
	if !ok {
		return false, nil, nil
	}
	return true, entry.Value(), nil
}

func (c *ristrettoBackend) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	entry := NewEntry(val, ttl)
	if ttl > 0 {
		c.cache.SetWithTTL(key, entry, 1, ttl)
	} else {
		// entries with a zero ttl are expired by Entry itself on the next read
		c.cache.Set(key, entry, 1)
	}
	// Wait for value to pass through buffers so the next Get can see it
	c.cache.Wait()
	return nil
}

func (c *ristrettoBackend) Delete(_ context.Context, key string) error {
	c.cache.Del(key)
	return nil
}

func (c *ristrettoBackend) Clear(_ context.Context) error {
	c.clearing.Store(true)
	defer c.clearing.Store(false)
	c.cache.Clear()
	return nil
}

func (c *ristrettoBackend) Exists(_ context.Context, key string) (bool, error) {
	_, ok := c.lookup(key)
	return ok, nil
}
