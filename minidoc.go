// Package minidoc is an embedded single-file document database. Documents
// are schemaless records stored in collections, looked up by identity or
// through secondary B tree indexes. All writes run inside single-writer
// transactions backed by a rollback journal.
package minidoc

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	engine "github.com/RichardKnop/minidoc/internal/minidoc"
)

type (
	Document        = engine.Document
	Key             = engine.Key
	FieldDescriptor = engine.FieldDescriptor
	EntityMapping   = engine.EntityMapping
	MapperRegistry  = engine.MapperRegistry
)

var (
	ErrCollectionNotFound      = engine.ErrCollectionNotFound
	ErrCollectionAlreadyExists = engine.ErrCollectionAlreadyExists
	ErrIndexNotFound           = engine.ErrIndexNotFound
	ErrIndexAlreadyExists      = engine.ErrIndexAlreadyExists
	ErrDuplicateKey            = engine.ErrDuplicateKey
	ErrDocumentNotFound        = engine.ErrDocumentNotFound
	ErrMissingID               = engine.ErrMissingID
	ErrInvalidName             = engine.ErrInvalidName
	ErrCorruptPage             = engine.ErrCorruptPage
	ErrIncompatibleVersion     = engine.ErrIncompatibleVersion
	ErrConstruction            = engine.ErrConstruction
)

// IDField is the document identity field name.
const IDField = engine.IDField

func NewDocument() *Document {
	return engine.NewDocument()
}

func NewMapperRegistry() *MapperRegistry {
	return engine.NewMapperRegistry()
}

// DB is an open database handle, safe for concurrent use.
type DB struct {
	engine *engine.Engine
	file   *os.File
	logger *zap.Logger
}

type Option func(*config)

type config struct {
	logger         *zap.Logger
	journalEnabled bool
	maxCachedPages int
	registerer     prometheus.Registerer
}

// WithLogger attaches a logger, the default discards all output.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithoutJournal disables the rollback journal. Commits are faster but a
// crash mid-commit can corrupt the file.
func WithoutJournal() Option {
	return func(c *config) {
		c.journalEnabled = false
	}
}

// WithMaxCachedPages caps the page cache size.
func WithMaxCachedPages(maxCachedPages int) Option {
	return func(c *config) {
		c.maxCachedPages = maxCachedPages
	}
}

// WithMetricsRegisterer registers engine metrics with the given
// Prometheus registerer.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = registerer
	}
}

// Open opens the database file at path, creating it if absent. A journal
// left behind by a crashed process is replayed before use.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	c := config{
		logger:         zap.NewNop(),
		journalEnabled: true,
	}
	for _, opt := range opts {
		opt(&c)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}

	engineOpts := []engine.EngineOption{
		engine.WithJournal(c.journalEnabled),
	}
	if c.maxCachedPages > 0 {
		engineOpts = append(engineOpts, engine.WithMaxCachedPages(c.maxCachedPages))
	}
	if c.registerer != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(engine.NewMetrics(c.registerer)))
	}

	anEngine, err := engine.NewEngine(ctx, c.logger, file, path, engineOpts...)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &DB{
		engine: anEngine,
		file:   file,
		logger: c.logger,
	}, nil
}

func (db *DB) Close() error {
	return db.engine.Close()
}

// CreateCollection creates an empty collection. Collections are also
// created implicitly on first insert.
func (db *DB) CreateCollection(ctx context.Context, collection string) error {
	return db.engine.CreateCollection(ctx, collection)
}

// DropCollection removes a collection with all its documents and indexes.
func (db *DB) DropCollection(ctx context.Context, collection string) error {
	return db.engine.DropCollection(ctx, collection)
}

// ListCollections returns all collection names.
func (db *DB) ListCollections(ctx context.Context) ([]string, error) {
	return db.engine.ListCollections(ctx)
}

// Insert stores a document and returns the stored copy, including the
// generated identity if the document had none.
func (db *DB) Insert(ctx context.Context, collection string, doc *Document) (*Document, error) {
	return db.engine.Insert(ctx, collection, doc)
}

// Get returns the document with the given identity.
func (db *DB) Get(ctx context.Context, collection string, id any) (*Document, error) {
	return db.engine.Get(ctx, collection, id)
}

// Find returns all documents whose indexed field equals value.
func (db *DB) Find(ctx context.Context, collection, field string, value any) ([]*Document, error) {
	return db.engine.Find(ctx, collection, field, value)
}

// FindAll returns every document of the collection in insertion order.
func (db *DB) FindAll(ctx context.Context, collection string) ([]*Document, error) {
	return db.engine.FindAll(ctx, collection)
}

// Update replaces the stored document with the same identity.
func (db *DB) Update(ctx context.Context, collection string, doc *Document) error {
	return db.engine.Update(ctx, collection, doc)
}

// Delete removes the document with the given identity.
func (db *DB) Delete(ctx context.Context, collection string, id any) error {
	return db.engine.Delete(ctx, collection, id)
}

// EnsureIndex creates a secondary index over field, backfilling existing
// documents. A matching existing index is a no-op.
func (db *DB) EnsureIndex(ctx context.Context, collection, field string, unique bool) error {
	return db.engine.EnsureIndex(ctx, collection, field, unique)
}

// DropIndex removes a secondary index.
func (db *DB) DropIndex(ctx context.Context, collection, field string) error {
	return db.engine.DropIndex(ctx, collection, field)
}
