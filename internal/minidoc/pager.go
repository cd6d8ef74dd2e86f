package minidoc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Pager owns page index assignment and free page reuse. All typed page
// access goes through it: reads populate the cache, writes mark pages dirty
// so they participate in the active transaction's dirty set.
type Pager struct {
	file       DBFile
	cache      *pageCache
	dbHeader   DatabaseHeader
	totalPages uint32
	logger     *zap.Logger
	metrics    *Metrics
}

type PagerOption func(*pagerConfig)

type pagerConfig struct {
	maxCachedPages int
	metrics        *Metrics
}

func WithPagerMaxCachedPages(maxCachedPages int) PagerOption {
	return func(c *pagerConfig) {
		c.maxCachedPages = maxCachedPages
	}
}

func WithPagerMetrics(metrics *Metrics) PagerOption {
	return func(c *pagerConfig) {
		c.metrics = metrics
	}
}

// NewPager opens the database file, reading the header page of an existing
// file or writing a fresh one into an empty file. The second return value
// reports whether the file was newly created.
func NewPager(file DBFile, logger *zap.Logger, opts ...PagerOption) (*Pager, bool, error) {
	config := pagerConfig{}
	for _, opt := range opts {
		opt(&config)
	}

	dbHeader, totalPages, isNew, err := initializeFile(file)
	if err != nil {
		return nil, false, err
	}

	aPager := &Pager{
		file:       file,
		cache:      newPageCache(file, config.maxCachedPages, config.metrics),
		dbHeader:   dbHeader,
		totalPages: totalPages,
		logger:     logger,
		metrics:    config.metrics,
	}

	return aPager, isNew, nil
}

func (p *Pager) Close() error {
	return p.file.Close()
}

func (p *Pager) TotalPages() uint32 {
	return p.totalPages
}

func (p *Pager) Header() DatabaseHeader {
	return p.dbHeader
}

// SetHeader replaces the in-memory database header. The change becomes
// durable at commit and is reverted by the transaction snapshot on rollback.
func (p *Pager) SetHeader(ctx context.Context, dbHeader DatabaseHeader) error {
	tx, err := avoidDirtyRead(ctx)
	if err != nil {
		return err
	}
	tx.MarkHeaderDirty()
	p.dbHeader = dbHeader
	return nil
}

// GetPage returns the page with the given index, from cache or disk.
func (p *Pager) GetPage(ctx context.Context, pageIdx PageIndex) (*Page, error) {
	if _, err := avoidDirtyRead(ctx); err != nil {
		return nil, err
	}

	if pageIdx == 0 || pageIdx >= PageIndex(p.totalPages) {
		return nil, fmt.Errorf("page index %d out of range, number of pages: %d", pageIdx, p.totalPages)
	}

	if aPage, ok := p.cache.Get(pageIdx); ok {
		return aPage, nil
	}

	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(pageIdx)*int64(PageSize)); err != nil {
		return nil, fmt.Errorf("error reading page %d: %w", pageIdx, err)
	}
	p.metrics.incPagesRead()

	aPage, err := unmarshalPage(pageIdx, buf)
	if err != nil {
		return nil, err
	}
	p.cache.Put(aPage)

	return aPage, nil
}

// ModifyPage returns the page and marks it dirty so the mutation is flushed
// at commit or discarded at rollback.
func (p *Pager) ModifyPage(ctx context.Context, pageIdx PageIndex) (*Page, error) {
	tx, err := avoidDirtyRead(ctx)
	if err != nil {
		return nil, err
	}
	aPage, err := p.GetPage(ctx, pageIdx)
	if err != nil {
		return nil, err
	}
	p.cache.MarkDirty(pageIdx)
	tx.TrackTouched(pageIdx)
	return aPage, nil
}

// AllocatePage returns an empty dirty page, reusing the head of the free
// list when available and extending the file otherwise. The caller sets the
// typed variant.
func (p *Pager) AllocatePage(ctx context.Context) (*Page, error) {
	tx, err := avoidDirtyRead(ctx)
	if err != nil {
		return nil, err
	}

	if p.dbHeader.FirstFreePage != 0 {
		pageIdx := p.dbHeader.FirstFreePage
		aPage, err := p.GetPage(ctx, pageIdx)
		if err != nil {
			return nil, err
		}
		if aPage.FreePage == nil {
			return nil, corruptPageError(pageIdx, "free list entry is not a free page")
		}

		dbHeader := p.dbHeader
		dbHeader.FirstFreePage = aPage.FreePage.NextFreePage
		dbHeader.FreePageCount -= 1
		if err := p.SetHeader(ctx, dbHeader); err != nil {
			return nil, err
		}

		aPage.Reset()
		p.cache.MarkDirty(pageIdx)
		tx.TrackTouched(pageIdx)
		p.metrics.incPagesAllocated()

		p.logger.Debug("reusing free page", zap.Uint32("page", uint32(pageIdx)))

		return aPage, nil
	}

	pageIdx := PageIndex(p.totalPages)
	p.totalPages += 1

	aPage := &Page{Index: pageIdx}
	p.cache.Put(aPage)
	p.cache.MarkDirty(pageIdx)
	tx.TrackTouched(pageIdx)
	p.metrics.incPagesAllocated()

	p.logger.Debug("extending file with new page", zap.Uint32("page", uint32(pageIdx)))

	return aPage, nil
}

// FreePage records the page for reclamation. The free list itself is only
// updated when the freeing transaction commits.
func (p *Pager) FreePage(ctx context.Context, pageIdx PageIndex) error {
	tx, err := avoidDirtyRead(ctx)
	if err != nil {
		return err
	}
	tx.TrackFree(pageIdx)
	p.metrics.incPagesFreed()
	return nil
}

// applyPendingFrees threads every page freed by the transaction into the
// free list. Called while the transaction is still active, just before the
// commit flush.
func (p *Pager) applyPendingFrees(ctx context.Context, tx *Transaction) error {
	for _, pageIdx := range tx.PendingFree() {
		aPage, err := p.GetPage(ctx, pageIdx)
		if err != nil {
			return fmt.Errorf("error reading page %d to free: %w", pageIdx, err)
		}

		aPage.Reset()
		aPage.FreePage = &FreePage{NextFreePage: p.dbHeader.FirstFreePage}
		p.cache.MarkDirty(pageIdx)
		tx.TrackTouched(pageIdx)

		dbHeader := p.dbHeader
		dbHeader.FirstFreePage = pageIdx
		dbHeader.FreePageCount += 1
		if err := p.SetHeader(ctx, dbHeader); err != nil {
			return err
		}
	}
	return nil
}

// restoreSnapshot reverts in-memory pager state from a rolled back
// transaction. Dirty page content is discarded separately by the cache.
func (p *Pager) restoreSnapshot(tx *Transaction) {
	p.dbHeader = tx.headerSnapshot
	p.totalPages = tx.totalPagesSnapshot
}

// FlushHeader persists the database header page. Part of the commit path.
func (p *Pager) FlushHeader(ctx context.Context) error {
	if err := writeHeaderPage(p.file, p.dbHeader); err != nil {
		return fmt.Errorf("error writing database header: %w", err)
	}
	p.metrics.incPagesWritten()
	return nil
}
