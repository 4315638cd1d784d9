package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU cache with optional TTL support.
// A capacity <= 0 means unbounded; a ttl <= 0 means entries never expire.
type LRUCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	lru      *list.List
	onEvict  func(K, V)
	now      func() time.Time
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the given capacity and TTL
func NewLRUCache[K comparable, V any](capacity int, ttl time.Duration) *LRUCache[K, V] {
	size := capacity
	if size < 0 {
		size = 0
	}
	return &LRUCache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, size),
		lru:      list.New(),
		now:      time.Now,
	}
}

// OnEvict registers a callback invoked (outside the lock) for every entry that
// leaves the cache because of capacity or expiry.
func (c *LRUCache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get retrieves a value and marks it most recently used.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	ent := elem.Value.(*entry[K, V])
	if c.expired(ent) {
		c.removeElement(elem)
		fn := c.onEvict
		c.mu.Unlock()
		if fn != nil {
			fn(ent.key, ent.value)
		}
		return zero, false
	}
	c.lru.MoveToFront(elem)
	ent.expiresAt = c.deadline()
	c.mu.Unlock()
	return ent.value, true
}

// Set adds or updates a value in the cache
func (c *LRUCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		ent := elem.Value.(*entry[K, V])
		ent.value = value
		ent.expiresAt = c.deadline()
		c.mu.Unlock()
		return
	}
	evicted := c.insert(key, value)
	fn := c.onEvict
	c.mu.Unlock()
	c.notify(fn, evicted)
}

// Delete removes key without calling the eviction callback.
func (c *LRUCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Purge drops expired entries and returns how many were removed.
func (c *LRUCache[K, V]) Purge() int {
	c.mu.Lock()
	var evicted []*entry[K, V]
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*entry[K, V])
		if c.expired(ent) {
			c.removeElement(elem)
			evicted = append(evicted, ent)
		}
		elem = prev
	}
	fn := c.onEvict
	c.mu.Unlock()
	c.notify(fn, evicted)
	return len(evicted)
}

// Clear removes all entries without calling the eviction callback.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.lru.Init()
}

// Len returns the number of items in the cache
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRUCache[K, V]) insert(key K, value V) []*entry[K, V] {
	ent := &entry[K, V]{key: key, value: value, expiresAt: c.deadline()}
	c.items[key] = c.lru.PushFront(ent)

	var evicted []*entry[K, V]
	for c.capacity > 0 && c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		evicted = append(evicted, oldest.Value.(*entry[K, V]))
	}
	return evicted
}

func (c *LRUCache[K, V]) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}

func (c *LRUCache[K, V]) deadline() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *LRUCache[K, V]) expired(ent *entry[K, V]) bool {
	return !ent.expiresAt.IsZero() && c.now().After(ent.expiresAt)
}

func (c *LRUCache[K, V]) notify(fn func(K, V), evicted []*entry[K, V]) {
	if fn == nil {
		return
	}
	for _, ent := range evicted {
		fn(ent.key, ent.value)
	}
}
