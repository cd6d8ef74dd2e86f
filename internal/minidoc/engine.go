package minidoc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultDocCacheCounters = 100_000
	defaultDocCacheMaxCost  = 16 << 20 // 16 MiB of serialized documents
)

// Engine is the top level database handle. All operations run under a
// single engine lock and inside a transaction, reads included. Committed
// documents looked up by identity are additionally served from an in
// memory read cache.
type Engine struct {
	mu          sync.Mutex
	pager       *Pager
	data        *DataManager
	collections *CollectionManager
	txManager   *TransactionManager
	docCache    *ristretto.Cache[string, []byte]
	generations map[string]uint64
	logger      *zap.Logger
	metrics     *Metrics
}

type EngineOption func(*engineConfig)

type engineConfig struct {
	journalEnabled  bool
	maxCachedPages  int
	docCacheMaxCost int64
	metrics         *Metrics
}

// WithJournal toggles the rollback journal used for crash recovery.
func WithJournal(enabled bool) EngineOption {
	return func(c *engineConfig) {
		c.journalEnabled = enabled
	}
}

// WithMaxCachedPages caps the page cache size.
func WithMaxCachedPages(maxCachedPages int) EngineOption {
	return func(c *engineConfig) {
		c.maxCachedPages = maxCachedPages
	}
}

// WithDocCacheMaxCost caps the document read cache by total serialized
// document bytes.
func WithDocCacheMaxCost(maxCost int64) EngineOption {
	return func(c *engineConfig) {
		c.docCacheMaxCost = maxCost
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(metrics *Metrics) EngineOption {
	return func(c *engineConfig) {
		c.metrics = metrics
	}
}

// NewEngine opens the database stored in file. A leftover journal from a
// crashed process is replayed before the first page is read.
func NewEngine(ctx context.Context, logger *zap.Logger, file DBFile, dbPath string, opts ...EngineOption) (*Engine, error) {
	config := engineConfig{
		journalEnabled:  true,
		docCacheMaxCost: defaultDocCacheMaxCost,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.journalEnabled {
		if _, err := RecoverFromJournal(ctx, dbPath, file, logger); err != nil {
			return nil, fmt.Errorf("journal recovery: %w", err)
		}
	}

	pagerOpts := []PagerOption{WithPagerMetrics(config.metrics)}
	if config.maxCachedPages > 0 {
		pagerOpts = append(pagerOpts, WithPagerMaxCachedPages(config.maxCachedPages))
	}
	pager, isNew, err := NewPager(file, logger, pagerOpts...)
	if err != nil {
		return nil, err
	}

	docCache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: defaultDocCacheCounters,
		MaxCost:     config.docCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("document cache: %w", err)
	}

	anEngine := &Engine{
		pager:       pager,
		data:        NewDataManager(logger, pager),
		collections: NewCollectionManager(logger, pager),
		txManager:   NewTransactionManager(logger, pager, dbPath, config.journalEnabled, config.metrics),
		docCache:    docCache,
		generations: make(map[string]uint64),
		logger:      logger,
		metrics:     config.metrics,
	}

	logger.Info("database opened",
		zap.String("path", dbPath),
		zap.Bool("created", isNew),
		zap.Uint32("total_pages", pager.TotalPages()))

	return anEngine, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.docCache.Close()
	return e.pager.Close()
}

// withTransaction serializes the operation under the engine lock and runs
// it inside a transaction.
func (e *Engine) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.txManager.ExecuteInTransaction(ctx, fn)
}

// CreateCollection creates an empty collection with its identity index.
func (e *Engine) CreateCollection(ctx context.Context, collection string) error {
	return e.withTransaction(ctx, func(ctx context.Context) error {
		_, err := e.collections.Add(ctx, collection)
		return err
	})
}

// DropCollection removes a collection and all of its documents and
// indexes.
func (e *Engine) DropCollection(ctx context.Context, collection string) error {
	err := e.withTransaction(ctx, func(ctx context.Context) error {
		return e.collections.Drop(ctx, collection, e.data)
	})
	if err != nil {
		return err
	}
	e.bumpGeneration(collection)
	return nil
}

// ListCollections returns all collection names.
func (e *Engine) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := e.withTransaction(ctx, func(ctx context.Context) error {
		var err error
		names, err = e.collections.List(ctx)
		return err
	})
	return names, err
}

// Insert stores a document, assigning a random UUID identity if the
// document has none, and returns the stored document. The collection is
// created on first use.
func (e *Engine) Insert(ctx context.Context, collection string, doc *Document) (*Document, error) {
	stored := doc.Clone().EnsureID()
	if err := stored.Validate(); err != nil {
		return nil, err
	}

	err := e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.getOrCreateCollection(ctx, collection)
		if err != nil {
			return err
		}
		return e.insertLocked(ctx, collPage, stored)
	})
	if err != nil {
		return nil, err
	}

	e.bumpGeneration(collection)
	return stored, nil
}

func (e *Engine) getOrCreateCollection(ctx context.Context, collection string) (*Page, error) {
	collPage, err := e.collections.Get(ctx, collection)
	if err == nil {
		return collPage, nil
	}
	collPage, err = e.collections.Add(ctx, collection)
	if err != nil {
		return nil, err
	}
	e.logger.Info("collection created on first insert", zap.String("collection", collection))
	return collPage, nil
}

func (e *Engine) insertLocked(ctx context.Context, collPage *Page, doc *Document) error {
	record, err := doc.Marshal()
	if err != nil {
		return err
	}

	headIdx, err := e.data.Insert(ctx, record)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	// Thread the record at the tail of the collection's sibling list
	coll := collPage.CollectionPage
	if coll.DataTail != 0 {
		tailPage, err := e.pager.ModifyPage(ctx, coll.DataTail)
		if err != nil {
			return fmt.Errorf("get tail page: %w", err)
		}
		tailPage.DataPage.NextRecord = headIdx

		headPage, err := e.pager.ModifyPage(ctx, headIdx)
		if err != nil {
			return fmt.Errorf("get head page: %w", err)
		}
		headPage.DataPage.PrevRecord = coll.DataTail
	}

	collPage, err = e.pager.ModifyPage(ctx, collPage.Index)
	if err != nil {
		return fmt.Errorf("get collection page: %w", err)
	}
	coll = collPage.CollectionPage
	if coll.DataHead == 0 {
		coll.DataHead = headIdx
	}
	coll.DataTail = headIdx
	coll.DocumentCount += 1

	for _, def := range coll.Indexes {
		key, err := keyForField(doc, def.Field)
		if err != nil {
			return err
		}
		anIndex := NewIndex(e.logger, e.pager, def.Field, def.Unique, def.RootPage)
		if err := anIndex.Insert(ctx, key, headIdx); err != nil {
			return err
		}
	}

	return nil
}

// keyForField extracts the index key for a field, documents missing the
// field index under the null key.
func keyForField(doc *Document, field string) (Key, error) {
	value, ok := doc.Get(field)
	if !ok {
		return NullKey(), nil
	}
	return NewKey(value)
}

// Get returns the document with the given identity. Fails with
// ErrDocumentNotFound if no such document exists.
func (e *Engine) Get(ctx context.Context, collection string, id any) (*Document, error) {
	cacheKey, cacheable := e.docCacheKey(collection, id)
	if cacheable {
		if record, ok := e.docCache.Get(cacheKey); ok {
			return UnmarshalDocument(record)
		}
	}

	var record []byte
	err := e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.collections.Get(ctx, collection)
		if err != nil {
			return err
		}
		headIdx, err := e.findByID(ctx, collPage, id)
		if err != nil {
			return err
		}
		record, err = e.data.Read(ctx, headIdx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		e.docCache.Set(cacheKey, record, int64(len(record)))
	}

	return UnmarshalDocument(record)
}

// docCacheKey builds a read cache key scoped by the collection's write
// generation, so committed writes invalidate all cached reads of the
// collection at once.
func (e *Engine) docCacheKey(collection string, id any) (string, bool) {
	key, err := NewKey(id)
	if err != nil {
		return "", false
	}
	e.mu.Lock()
	generation := e.generations[strings.ToLower(collection)]
	e.mu.Unlock()
	return fmt.Sprintf("%s:%d:%s", strings.ToLower(collection), generation, key), true
}

func (e *Engine) bumpGeneration(collection string) {
	e.mu.Lock()
	e.generations[strings.ToLower(collection)] += 1
	e.mu.Unlock()
}

// findByID resolves a document identity to its head page via the
// identity index.
func (e *Engine) findByID(ctx context.Context, collPage *Page, id any) (PageIndex, error) {
	def, ok := collPage.CollectionPage.IndexOn(IDField)
	if !ok {
		return 0, corruptPageError(collPage.Index, "collection %q has no identity index", collPage.CollectionPage.Name)
	}

	key, err := NewKey(id)
	if err != nil {
		return 0, err
	}

	anIndex := NewIndex(e.logger, e.pager, def.Field, def.Unique, def.RootPage)
	refs, err := anIndex.Find(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, fmt.Errorf("%w: %v", ErrDocumentNotFound, id)
	}
	return refs[0], nil
}

// Find returns all documents whose field equals value, using the
// secondary index over the field. Fails with ErrIndexNotFound if the
// field is not indexed.
func (e *Engine) Find(ctx context.Context, collection, field string, value any) ([]*Document, error) {
	key, err := NewKey(value)
	if err != nil {
		return nil, err
	}

	var docs []*Document
	err = e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.collections.Get(ctx, collection)
		if err != nil {
			return err
		}
		def, ok := collPage.CollectionPage.IndexOn(field)
		if !ok {
			return fmt.Errorf("%w: collection %q has no index on %q", ErrIndexNotFound, collection, field)
		}

		anIndex := NewIndex(e.logger, e.pager, def.Field, def.Unique, def.RootPage)
		refs, err := anIndex.Find(ctx, key)
		if err != nil {
			return err
		}

		docs = make([]*Document, 0, len(refs))
		for _, headIdx := range refs {
			record, err := e.data.Read(ctx, headIdx)
			if err != nil {
				return err
			}
			doc, err := UnmarshalDocument(record)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// FindAll returns every document of the collection in insertion order.
func (e *Engine) FindAll(ctx context.Context, collection string) ([]*Document, error) {
	var docs []*Document
	err := e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.collections.Get(ctx, collection)
		if err != nil {
			return err
		}

		docs = make([]*Document, 0, collPage.CollectionPage.DocumentCount)
		headIdx := collPage.CollectionPage.DataHead
		for headIdx != 0 {
			record, err := e.data.Read(ctx, headIdx)
			if err != nil {
				return err
			}
			doc, err := UnmarshalDocument(record)
			if err != nil {
				return err
			}
			docs = append(docs, doc)

			headPage, err := e.pager.GetPage(ctx, headIdx)
			if err != nil {
				return err
			}
			headIdx = headPage.DataPage.NextRecord
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Update replaces the stored document with the same identity. The
// document must carry an identity field.
func (e *Engine) Update(ctx context.Context, collection string, doc *Document) error {
	if !doc.Has(IDField) {
		return ErrMissingID
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	err := e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.collections.Get(ctx, collection)
		if err != nil {
			return err
		}
		headIdx, err := e.findByID(ctx, collPage, doc.ID())
		if err != nil {
			return err
		}

		oldRecord, err := e.data.Read(ctx, headIdx)
		if err != nil {
			return err
		}
		oldDoc, err := UnmarshalDocument(oldRecord)
		if err != nil {
			return err
		}

		// Adjust secondary index entries whose key changed
		for _, def := range collPage.CollectionPage.Indexes {
			oldKey, err := keyForField(oldDoc, def.Field)
			if err != nil {
				return err
			}
			newKey, err := keyForField(doc, def.Field)
			if err != nil {
				return err
			}
			if oldKey.Compare(newKey) == 0 {
				continue
			}
			anIndex := NewIndex(e.logger, e.pager, def.Field, def.Unique, def.RootPage)
			if err := anIndex.Delete(ctx, oldKey, headIdx); err != nil {
				return err
			}
			if err := anIndex.Insert(ctx, newKey, headIdx); err != nil {
				return err
			}
		}

		record, err := doc.Marshal()
		if err != nil {
			return err
		}
		return e.data.Update(ctx, headIdx, record)
	})
	if err != nil {
		return err
	}

	e.bumpGeneration(collection)
	return nil
}

// Delete removes the document with the given identity.
func (e *Engine) Delete(ctx context.Context, collection string, id any) error {
	err := e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.collections.Get(ctx, collection)
		if err != nil {
			return err
		}
		headIdx, err := e.findByID(ctx, collPage, id)
		if err != nil {
			return err
		}

		record, err := e.data.Read(ctx, headIdx)
		if err != nil {
			return err
		}
		doc, err := UnmarshalDocument(record)
		if err != nil {
			return err
		}

		for _, def := range collPage.CollectionPage.Indexes {
			key, err := keyForField(doc, def.Field)
			if err != nil {
				return err
			}
			anIndex := NewIndex(e.logger, e.pager, def.Field, def.Unique, def.RootPage)
			if err := anIndex.Delete(ctx, key, headIdx); err != nil {
				return err
			}
		}

		if err := e.unlinkRecord(ctx, collPage, headIdx); err != nil {
			return err
		}
		return e.data.Delete(ctx, headIdx)
	})
	if err != nil {
		return err
	}

	e.bumpGeneration(collection)
	return nil
}

// unlinkRecord removes a record head from its collection's sibling list
// and decrements the document count.
func (e *Engine) unlinkRecord(ctx context.Context, collPage *Page, headIdx PageIndex) error {
	headPage, err := e.pager.GetPage(ctx, headIdx)
	if err != nil {
		return fmt.Errorf("get head page: %w", err)
	}
	var (
		prevIdx = headPage.DataPage.PrevRecord
		nextIdx = headPage.DataPage.NextRecord
	)

	if prevIdx != 0 {
		prevPage, err := e.pager.ModifyPage(ctx, prevIdx)
		if err != nil {
			return fmt.Errorf("get prev record page: %w", err)
		}
		prevPage.DataPage.NextRecord = nextIdx
	}
	if nextIdx != 0 {
		nextPage, err := e.pager.ModifyPage(ctx, nextIdx)
		if err != nil {
			return fmt.Errorf("get next record page: %w", err)
		}
		nextPage.DataPage.PrevRecord = prevIdx
	}

	collPage, err = e.pager.ModifyPage(ctx, collPage.Index)
	if err != nil {
		return fmt.Errorf("get collection page: %w", err)
	}
	coll := collPage.CollectionPage
	if coll.DataHead == headIdx {
		coll.DataHead = nextIdx
	}
	if coll.DataTail == headIdx {
		coll.DataTail = prevIdx
	}
	coll.DocumentCount -= 1

	return nil
}

// EnsureIndex creates a secondary index over the field and backfills it
// from existing documents. Creating an index that already exists with the
// same uniqueness is a no-op.
func (e *Engine) EnsureIndex(ctx context.Context, collection, field string, unique bool) error {
	if err := ValidateFieldName(field); err != nil {
		return err
	}

	return e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.collections.Get(ctx, collection)
		if err != nil {
			return err
		}
		coll := collPage.CollectionPage

		if def, ok := coll.IndexOn(field); ok {
			if def.Unique == unique {
				return nil
			}
			return fmt.Errorf("%w: index on %q exists with different uniqueness", ErrIndexAlreadyExists, field)
		}
		if len(coll.Indexes) >= MaxIndexesPerCollection {
			return fmt.Errorf("collection %q already has %d indexes", collection, MaxIndexesPerCollection)
		}

		rootPage, err := e.pager.AllocatePage(ctx)
		if err != nil {
			return fmt.Errorf("allocate index root: %w", err)
		}
		rootPage.IndexNode = &IndexNode{
			Header: IndexNodeHeader{IsRoot: true, IsLeaf: true},
		}

		collPage, err = e.pager.ModifyPage(ctx, collPage.Index)
		if err != nil {
			return fmt.Errorf("get collection page: %w", err)
		}
		coll = collPage.CollectionPage
		coll.Indexes = append(coll.Indexes, IndexDefinition{
			Field:    field,
			Unique:   unique,
			RootPage: rootPage.Index,
		})

		// Backfill from existing documents
		anIndex := NewIndex(e.logger, e.pager, field, unique, rootPage.Index)
		headIdx := coll.DataHead
		for headIdx != 0 {
			record, err := e.data.Read(ctx, headIdx)
			if err != nil {
				return err
			}
			doc, err := UnmarshalDocument(record)
			if err != nil {
				return err
			}
			key, err := keyForField(doc, field)
			if err != nil {
				return err
			}
			if err := anIndex.Insert(ctx, key, headIdx); err != nil {
				return err
			}

			headPage, err := e.pager.GetPage(ctx, headIdx)
			if err != nil {
				return err
			}
			headIdx = headPage.DataPage.NextRecord
		}

		e.logger.Debug("index created",
			zap.String("collection", collection),
			zap.String("field", field),
			zap.Bool("unique", unique))

		return nil
	})
}

// DropIndex removes a secondary index. The identity index cannot be
// dropped.
func (e *Engine) DropIndex(ctx context.Context, collection, field string) error {
	if strings.EqualFold(field, IDField) {
		return fmt.Errorf("cannot drop the identity index")
	}

	return e.withTransaction(ctx, func(ctx context.Context) error {
		collPage, err := e.collections.Get(ctx, collection)
		if err != nil {
			return err
		}
		def, ok := collPage.CollectionPage.IndexOn(field)
		if !ok {
			return fmt.Errorf("%w: collection %q has no index on %q", ErrIndexNotFound, collection, field)
		}

		anIndex := NewIndex(e.logger, e.pager, def.Field, def.Unique, def.RootPage)
		var freeErr error
		err = anIndex.Walk(ctx, func(aPage *Page) error {
			freeErr = multierr.Append(freeErr, e.pager.FreePage(ctx, aPage.Index))
			return nil
		})
		if err := multierr.Append(err, freeErr); err != nil {
			return err
		}

		collPage, err = e.pager.ModifyPage(ctx, collPage.Index)
		if err != nil {
			return fmt.Errorf("get collection page: %w", err)
		}
		coll := collPage.CollectionPage
		for i, d := range coll.Indexes {
			if d.Field == def.Field {
				coll.Indexes = append(coll.Indexes[:i], coll.Indexes[i+1:]...)
				break
			}
		}

		e.logger.Debug("index dropped",
			zap.String("collection", collection),
			zap.String("field", field))

		return nil
	})
}
