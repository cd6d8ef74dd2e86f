package minidoc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFile(t *testing.T) (*os.File, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	t.Cleanup(func() {
		file.Close()
	})
	return file, path
}

func newTestPager(t *testing.T) (*Pager, *TransactionManager, string) {
	t.Helper()

	file, path := newTestFile(t)
	aPager, isNew, err := NewPager(file, zap.NewNop())
	require.NoError(t, err)
	require.True(t, isNew)

	txManager := NewTransactionManager(zap.NewNop(), aPager, path, true, nil)
	return aPager, txManager, path
}

// reopenPager opens a fresh pager over an existing database file.
func reopenPager(t *testing.T, path string) (*Pager, *TransactionManager) {
	t.Helper()

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() {
		file.Close()
	})

	aPager, isNew, err := NewPager(file, zap.NewNop())
	require.NoError(t, err)
	require.False(t, isNew)

	txManager := NewTransactionManager(zap.NewNop(), aPager, path, true, nil)
	return aPager, txManager
}

func inTx(t *testing.T, txManager *TransactionManager, fn func(ctx context.Context) error) {
	t.Helper()

	err := txManager.ExecuteInTransaction(context.Background(), fn)
	require.NoError(t, err)
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	anEngine := openTestEngine(t, path, opts...)
	return anEngine, path
}

func openTestEngine(t *testing.T, path string, opts ...EngineOption) *Engine {
	t.Helper()

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)

	anEngine, err := NewEngine(context.Background(), zap.NewNop(), file, path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		anEngine.Close()
	})
	return anEngine
}

// flakyFile wraps a database file so tests can inject write failures or
// side effects at a chosen point in a commit flush.
type flakyFile struct {
	*os.File
	beforeWriteAt func(call int) error
	writeCalls    int
}

func (f *flakyFile) WriteAt(p []byte, off int64) (int, error) {
	f.writeCalls += 1
	if f.beforeWriteAt != nil {
		if err := f.beforeWriteAt(f.writeCalls); err != nil {
			return 0, err
		}
	}
	return f.File.WriteAt(p, off)
}

func newFlakyEngine(t *testing.T, opts ...EngineOption) (*Engine, *flakyFile, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)

	flaky := &flakyFile{File: file}
	anEngine, err := NewEngine(context.Background(), zap.NewNop(), flaky, path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		anEngine.Close()
	})
	return anEngine, flaky, path
}

// newTestIndex creates an index with its own root page, capped at a small
// number of keys per node so a handful of entries already forces splits.
func newTestIndex(t *testing.T, aPager *Pager, txManager *TransactionManager, unique bool, maximumKeys uint32) *Index {
	t.Helper()

	var rootIdx PageIndex
	inTx(t, txManager, func(ctx context.Context) error {
		rootPage, err := aPager.AllocatePage(ctx)
		if err != nil {
			return err
		}
		rootPage.IndexNode = &IndexNode{
			Header: IndexNodeHeader{IsRoot: true, IsLeaf: true},
		}
		rootIdx = rootPage.Index
		return nil
	})

	anIndex := NewIndex(zap.NewNop(), aPager, "value", unique, rootIdx)
	anIndex.maximumKeys = maximumKeys
	return anIndex
}

func intKey(t *testing.T, n int) Key {
	t.Helper()

	key, err := NewKey(int64(n))
	require.NoError(t, err)
	return key
}
