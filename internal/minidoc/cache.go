package minidoc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RichardKnop/minidoc/pkg/lrucache"
)

const defaultMaxCachedPages = 1000

// pageCache is the in-memory map of page index to decoded page. It tracks
// dirty pages and bridges the pager and the disk: FlushDirty is the
// durability boundary, DiscardDirty implements rollback. Dirty pages are
// pinned in the LRU so they can never be evicted before one of the two.
type pageCache struct {
	pageSize int
	file     DBFile
	pages    *lrucache.Cache[PageIndex, *Page]
	dirty    map[PageIndex]struct{}
	metrics  *Metrics
	mu       sync.Mutex
}

func newPageCache(file DBFile, maxCachedPages int, metrics *Metrics) *pageCache {
	if maxCachedPages <= 0 {
		maxCachedPages = defaultMaxCachedPages
	}
	return &pageCache{
		pageSize: PageSize,
		file:     file,
		pages:    lrucache.New[PageIndex, *Page](maxCachedPages),
		dirty:    make(map[PageIndex]struct{}),
		metrics:  metrics,
	}
}

// Get returns a resident page. On a miss the caller is expected to read the
// page from disk and Put it.
func (c *pageCache) Get(pageIdx PageIndex) (*Page, bool) {
	aPage, ok := c.pages.Get(pageIdx)
	if ok {
		c.metrics.incCacheHits()
		return aPage, true
	}
	c.metrics.incCacheMisses()
	return nil, false
}

// Put inserts a clean page, evicting unpinned pages if over capacity. The
// page being inserted is never the one evicted: when every other resident
// page is pinned by the running transaction the cache grows past its cap
// instead, so a transaction dirtying more pages than the cap can still
// commit.
func (c *pageCache) Put(aPage *Page) {
	c.pages.Put(aPage.Index, aPage, false)
	for {
		evictedIdx, evicted := c.pages.EvictIfNeeded()
		if !evicted {
			return
		}
		if evictedIdx == aPage.Index {
			c.pages.Put(aPage.Index, aPage, false)
			return
		}
	}
}

func (c *pageCache) MarkDirty(pageIdx PageIndex) {
	c.mu.Lock()
	c.dirty[pageIdx] = struct{}{}
	c.mu.Unlock()
	c.pages.Pin(pageIdx)
}

func (c *pageCache) IsDirty(pageIdx PageIndex) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[pageIdx]
	return ok
}

// DirtyPages returns the indexes of all dirty pages in ascending order.
func (c *pageCache) DirtyPages() []PageIndex {
	c.mu.Lock()
	defer c.mu.Unlock()

	indexes := make([]PageIndex, 0, len(c.dirty))
	for pageIdx := range c.dirty {
		indexes = append(indexes, pageIdx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes
}

// FlushDirty writes every dirty page to disk and clears the dirty flags.
// Callers must treat this as the durability boundary.
func (c *pageCache) FlushDirty(ctx context.Context) error {
	buf := make([]byte, c.pageSize)
	for _, pageIdx := range c.DirtyPages() {
		aPage, ok := c.pages.Get(pageIdx)
		if !ok {
			return fmt.Errorf("dirty page %d is not resident in cache", pageIdx)
		}
		if err := marshalPage(aPage, buf); err != nil {
			return fmt.Errorf("error flushing page %d: %w", pageIdx, err)
		}
		if _, err := c.file.WriteAt(buf, int64(pageIdx)*int64(c.pageSize)); err != nil {
			return fmt.Errorf("error writing page %d: %w", pageIdx, err)
		}
		c.metrics.incPagesWritten()
	}

	if syncer, ok := c.file.(Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("error syncing database file: %w", err)
		}
	}

	c.mu.Lock()
	for pageIdx := range c.dirty {
		c.pages.Unpin(pageIdx)
		delete(c.dirty, pageIdx)
	}
	c.mu.Unlock()

	return nil
}

// DiscardDirty evicts every dirty page so the next access re-reads the
// committed content from disk. After this no trace of a rolled back
// mutation is observable through Get.
func (c *pageCache) DiscardDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pageIdx := range c.dirty {
		c.pages.Remove(pageIdx)
		delete(c.dirty, pageIdx)
	}
}

func (c *pageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages.Clear()
	c.dirty = make(map[PageIndex]struct{})
}
