package lrucache

import (
	"sync"
)

type cacheEntry[K comparable, V any] struct {
	value  V
	prev   *cacheEntry[K, V]
	next   *cacheEntry[K, V]
	key    K
	pinned bool
}

// Cache is a thread-safe LRU cache with support for pinned entries.
// Pinned entries are never chosen for eviction until unpinned.
type Cache[K comparable, V any] struct {
	entries map[K]*cacheEntry[K, V]
	head    *cacheEntry[K, V]
	tail    *cacheEntry[K, V]
	maxSize int
	mu      sync.RWMutex
}

func New[K comparable, V any](maxSize int) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*cacheEntry[K, V]),
		maxSize: maxSize,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}

	// Move to front (most recently used)
	c.mu.Lock()
	c.moveToFront(entry)
	c.mu.Unlock()

	return entry.value, true
}

func (c *Cache[K, V]) Put(key K, value V, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if already exists
	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.pinned = pinned
		c.moveToFront(entry)
		return
	}

	entry := &cacheEntry[K, V]{
		value:  value,
		key:    key,
		pinned: pinned,
	}

	c.entries[key] = entry
	c.addToFront(entry)
}

// Pin marks an entry so it cannot be evicted.
func (c *Cache[K, V]) Pin(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.pinned = true
	}
}

// Unpin makes an entry eligible for eviction again.
func (c *Cache[K, V]) Unpin(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.pinned = false
	}
}

func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlink(entry)
	delete(c.entries, key)
	return true
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*cacheEntry[K, V])
	c.head = nil
	c.tail = nil
}

// EvictIfNeeded evicts the least recently used unpinned entry if the cache
// is over capacity. Returns the evicted key, if any.
func (c *Cache[K, V]) EvictIfNeeded() (K, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero K
	if len(c.entries) <= c.maxSize {
		return zero, false
	}

	// Walk from least recently used towards the front, skipping pinned entries
	for entry := c.tail; entry != nil; entry = entry.prev {
		if entry.pinned {
			continue
		}
		c.unlink(entry)
		delete(c.entries, entry.key)
		return entry.key, true
	}

	return zero, false
}

func (c *Cache[K, V]) moveToFront(entry *cacheEntry[K, V]) {
	if entry == c.head {
		return
	}
	c.unlink(entry)
	c.addToFront(entry)
}

func (c *Cache[K, V]) addToFront(entry *cacheEntry[K, V]) {
	entry.next = c.head
	entry.prev = nil

	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry

	if c.tail == nil {
		c.tail = entry
	}
}

func (c *Cache[K, V]) unlink(entry *cacheEntry[K, V]) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	}
	if entry == c.head {
		c.head = entry.next
	}
	if entry == c.tail {
		c.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
}
