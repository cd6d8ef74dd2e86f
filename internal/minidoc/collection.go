package minidoc

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CollectionManager maintains the catalog of collections, a linked list
// of collection pages rooted in the database header. Collection names are
// matched case-insensitively.
type CollectionManager struct {
	pager  *Pager
	logger *zap.Logger
}

func NewCollectionManager(logger *zap.Logger, pager *Pager) *CollectionManager {
	return &CollectionManager{
		pager:  pager,
		logger: logger,
	}
}

// Get returns the collection page for the given name, matched
// case-insensitively. Fails with ErrCollectionNotFound if absent.
func (m *CollectionManager) Get(ctx context.Context, name string) (*Page, error) {
	pageIdx := m.pager.Header().FirstCollectionPage
	for pageIdx != 0 {
		aPage, err := m.pager.GetPage(ctx, pageIdx)
		if err != nil {
			return nil, fmt.Errorf("get collection page: %w", err)
		}
		if aPage.CollectionPage == nil {
			return nil, corruptPageError(pageIdx, "expected collection page")
		}
		if strings.EqualFold(aPage.CollectionPage.Name, name) {
			return aPage, nil
		}
		pageIdx = aPage.CollectionPage.NextCollection
	}
	return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
}

// List returns all collection names in catalog order.
func (m *CollectionManager) List(ctx context.Context) ([]string, error) {
	names := make([]string, 0, m.pager.Header().CollectionCount)
	pageIdx := m.pager.Header().FirstCollectionPage
	for pageIdx != 0 {
		aPage, err := m.pager.GetPage(ctx, pageIdx)
		if err != nil {
			return nil, fmt.Errorf("get collection page: %w", err)
		}
		if aPage.CollectionPage == nil {
			return nil, corruptPageError(pageIdx, "expected collection page")
		}
		names = append(names, aPage.CollectionPage.Name)
		pageIdx = aPage.CollectionPage.NextCollection
	}
	return names, nil
}

// Add creates a new collection together with its identity index and
// links it at the head of the catalog list.
func (m *CollectionManager) Add(ctx context.Context, name string) (*Page, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	if _, err := m.Get(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrCollectionAlreadyExists, name)
	}

	idRootPage, err := m.pager.AllocatePage(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate identity index root: %w", err)
	}
	idRootPage.IndexNode = &IndexNode{
		Header: IndexNodeHeader{IsRoot: true, IsLeaf: true},
	}

	collPage, err := m.pager.AllocatePage(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate collection page: %w", err)
	}

	dbHeader := m.pager.Header()
	collPage.CollectionPage = &CollectionPage{
		Name:           name,
		NextCollection: dbHeader.FirstCollectionPage,
		Indexes: []IndexDefinition{
			{Field: IDField, Unique: true, RootPage: idRootPage.Index},
		},
	}

	dbHeader.FirstCollectionPage = collPage.Index
	dbHeader.CollectionCount += 1
	if err := m.pager.SetHeader(ctx, dbHeader); err != nil {
		return nil, fmt.Errorf("update header: %w", err)
	}

	m.logger.Debug("collection created",
		zap.String("collection", name),
		zap.Uint32("page", uint32(collPage.Index)))

	return collPage, nil
}

// Drop removes a collection, freeing every index tree page, every
// document chain page and the collection page itself.
func (m *CollectionManager) Drop(ctx context.Context, name string, data *DataManager) error {
	collPage, err := m.Get(ctx, name)
	if err != nil {
		return err
	}
	coll := collPage.CollectionPage

	var freeErr error
	for _, def := range coll.Indexes {
		anIndex := NewIndex(m.logger, m.pager, def.Field, def.Unique, def.RootPage)
		err := anIndex.Walk(ctx, func(aPage *Page) error {
			return m.pager.FreePage(ctx, aPage.Index)
		})
		freeErr = multierr.Append(freeErr, err)
	}

	headIdx := coll.DataHead
	for headIdx != 0 {
		headPage, err := m.pager.GetPage(ctx, headIdx)
		if err != nil {
			freeErr = multierr.Append(freeErr, err)
			break
		}
		if headPage.DataPage == nil {
			freeErr = multierr.Append(freeErr, corruptPageError(headIdx, "expected data page"))
			break
		}
		nextIdx := headPage.DataPage.NextRecord
		freeErr = multierr.Append(freeErr, data.Delete(ctx, headIdx))
		headIdx = nextIdx
	}
	if freeErr != nil {
		return freeErr
	}

	if err := m.unlink(ctx, collPage); err != nil {
		return err
	}
	if err := m.pager.FreePage(ctx, collPage.Index); err != nil {
		return fmt.Errorf("free collection page: %w", err)
	}

	m.logger.Debug("collection dropped", zap.String("collection", name))

	return nil
}

// unlink removes a collection page from the catalog list and decrements
// the collection count.
func (m *CollectionManager) unlink(ctx context.Context, collPage *Page) error {
	dbHeader := m.pager.Header()

	if dbHeader.FirstCollectionPage == collPage.Index {
		dbHeader.FirstCollectionPage = collPage.CollectionPage.NextCollection
		dbHeader.CollectionCount -= 1
		return m.pager.SetHeader(ctx, dbHeader)
	}

	pageIdx := dbHeader.FirstCollectionPage
	for pageIdx != 0 {
		aPage, err := m.pager.GetPage(ctx, pageIdx)
		if err != nil {
			return fmt.Errorf("get collection page: %w", err)
		}
		if aPage.CollectionPage == nil {
			return corruptPageError(pageIdx, "expected collection page")
		}
		if aPage.CollectionPage.NextCollection == collPage.Index {
			aPage, err = m.pager.ModifyPage(ctx, pageIdx)
			if err != nil {
				return fmt.Errorf("get collection page: %w", err)
			}
			aPage.CollectionPage.NextCollection = collPage.CollectionPage.NextCollection
			dbHeader.CollectionCount -= 1
			return m.pager.SetHeader(ctx, dbHeader)
		}
		pageIdx = aPage.CollectionPage.NextCollection
	}

	return fmt.Errorf("%w: %q", ErrCollectionNotFound, collPage.CollectionPage.Name)
}
