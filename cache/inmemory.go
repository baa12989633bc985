package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryBackend is a bounded, recency-ordered, in-process Backend. The least
// recently used entry is evicted when a Set pushes the size past the limit.
// Expired entries are dropped lazily by the Get or Exists call that sees them.
type MemoryBackend struct {
	mutex   sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is least recently used
	maxSize int
	onEvict func(key string, value any)
}

type memoryItem struct {
	key   string
	entry *Entry
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemory returns a new in-memory backend holding at most DefaultMaxSize
// entries unless WithMaxSize says otherwise.
func NewMemory(opts ...Option) *MemoryBackend {
	cfg := applyOptions(opts)
	return &MemoryBackend{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: cfg.maxSize,
		onEvict: cfg.onEvict,
	}
}

func (c *MemoryBackend) Get(_ context.Context, key string) (bool, any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	el, ok := c.lookupLocked(key)
	if !ok {
		return false, nil, nil
	}
	c.order.MoveToBack(el)
	return true, el.Value.(*memoryItem).entry.Value(), nil
}

func (c *MemoryBackend) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	c.items[key] = c.order.PushBack(&memoryItem{key: key, entry: NewEntry(val, ttl)})
	if c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		item := oldest.Value.(*memoryItem)
		c.removeLocked(oldest)
		if c.onEvict != nil {
			c.onEvict(item.key, item.entry.Value())
		}
	}
	return nil
}

func (c *MemoryBackend) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

func (c *MemoryBackend) Clear(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

func (c *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.lookupLocked(key)
	return ok, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryBackend) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.order.Len()
}

// lookupLocked returns the live element for key, removing it if it expired.
func (c *MemoryBackend) lookupLocked(key string) (*list.Element, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if el.Value.(*memoryItem).entry.IsExpired() {
		c.removeLocked(el)
		return nil, false
	}
	return el, true
}

func (c *MemoryBackend) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*memoryItem).key)
}
