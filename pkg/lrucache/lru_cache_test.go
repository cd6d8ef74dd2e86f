package lrucache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockValue struct {
	data string
}

func TestCache_HitAndMiss(t *testing.T) {
	t.Parallel()

	cache := New[string, mockValue](10)

	// Cache miss
	_, ok := cache.Get("bogus")
	assert.False(t, ok)

	// Add to cache
	aValue := mockValue{"foo"}
	cache.Put("foo key", aValue, false)

	// Cache hit
	value, ok := cache.Get("foo key")
	assert.True(t, ok)
	assert.Equal(t, aValue, value)

	// Different query is a cache miss
	_, ok = cache.Get("bar key")
	assert.False(t, ok)
}

func TestCache_EvictIfNeeded(t *testing.T) {
	t.Parallel()

	cache := New[int, mockValue](3)

	cache.Put(1, mockValue{"foo"}, false)
	cache.Put(2, mockValue{"bar"}, false)
	cache.Put(3, mockValue{"baz"}, false)

	// Under capacity, nothing to evict
	_, ok := cache.EvictIfNeeded()
	assert.False(t, ok)

	cache.Put(4, mockValue{"qux"}, false)

	// 1 is the least recently used entry
	key, ok := cache.EvictIfNeeded()
	assert.True(t, ok)
	assert.Equal(t, 1, key)
	assert.Equal(t, 3, cache.Len())

	// Touch 2 so 3 becomes the eviction candidate
	_, ok = cache.Get(2)
	assert.True(t, ok)

	cache.Put(5, mockValue{"quux"}, false)
	key, ok = cache.EvictIfNeeded()
	assert.True(t, ok)
	assert.Equal(t, 3, key)
}

func TestCache_PinnedEntriesAreNotEvicted(t *testing.T) {
	t.Parallel()

	cache := New[int, mockValue](2)

	cache.Put(1, mockValue{"foo"}, true)
	cache.Put(2, mockValue{"bar"}, true)
	cache.Put(3, mockValue{"baz"}, false)

	// Over capacity but 1 and 2 are pinned, only 3 can go
	key, ok := cache.EvictIfNeeded()
	assert.True(t, ok)
	assert.Equal(t, 3, key)

	// Everything pinned, eviction finds no candidate
	cache.Put(4, mockValue{"qux"}, true)
	_, ok = cache.EvictIfNeeded()
	assert.False(t, ok)

	// Unpinning makes the entry evictable again
	cache.Unpin(1)
	key, ok = cache.EvictIfNeeded()
	assert.True(t, ok)
	assert.Equal(t, 1, key)
}

func TestCache_Remove(t *testing.T) {
	t.Parallel()

	cache := New[string, mockValue](10)

	cache.Put("foo key", mockValue{"foo"}, false)
	assert.True(t, cache.Remove("foo key"))
	assert.False(t, cache.Remove("foo key"))

	_, ok := cache.Get("foo key")
	assert.False(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	cache := New[string, int](100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", worker, j)
				cache.Put(key, j, false)
				cache.Get(key)
				cache.EvictIfNeeded()
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 100+10)
}
