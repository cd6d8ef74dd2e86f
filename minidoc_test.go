package minidoc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInsertReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)

	stored, err := db.Insert(ctx, "orders", NewDocument().Set("_id", 1).Set("total", 42))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ID())

	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	doc, err := db.Get(ctx, "orders", 1)
	require.NoError(t, err)
	total, _ := doc.Get("total")
	assert.Equal(t, int64(42), total)
}

func TestOpenWithOptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	registry := prometheus.NewRegistry()
	db, err := Open(ctx, path,
		WithoutJournal(),
		WithMaxCachedPages(100),
		WithMetricsRegisterer(registry))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Insert(ctx, "users", NewDocument().Set("name", "metered"))
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestIndexedQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	for _, city := range []string{"lisbon", "porto", "lisbon"} {
		_, err := db.Insert(ctx, "users", NewDocument().Set("city", city))
		require.NoError(t, err)
	}
	require.NoError(t, db.EnsureIndex(ctx, "users", "city", false))

	docs, err := db.Find(ctx, "users", "city", "lisbon")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = db.FindAll(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	require.NoError(t, db.Delete(ctx, "users", docs[0].ID()))
	_, err = db.Get(ctx, "users", docs[0].ID())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestMapperWithDB(t *testing.T) {
	t.Parallel()

	type account struct {
		Name    string
		Balance int64
	}

	registry := NewMapperRegistry()
	mapping, err := registry.Resolve("account", func() (*EntityMapping, error) {
		return &EntityMapping{
			Factory: func() any { return new(account) },
			Fields: []FieldDescriptor{
				{
					FieldName: "name",
					Getter:    func(entity any) (any, error) { return entity.(*account).Name, nil },
					Setter: func(entity, value any) error {
						entity.(*account).Name = value.(string)
						return nil
					},
				},
				{
					FieldName: "balance",
					Getter:    func(entity any) (any, error) { return entity.(*account).Balance, nil },
					Setter: func(entity, value any) error {
						entity.(*account).Balance = value.(int64)
						return nil
					},
				},
			},
		}, nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	doc, err := mapping.Dump(&account{Name: "savings", Balance: 1200})
	require.NoError(t, err)
	stored, err := db.Insert(ctx, "accounts", doc)
	require.NoError(t, err)

	fetched, err := db.Get(ctx, "accounts", stored.ID())
	require.NoError(t, err)
	loaded, err := mapping.Load(fetched)
	require.NoError(t, err)
	assert.Equal(t, &account{Name: "savings", Balance: 1200}, loaded)
}
