package minidoc

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJournal_RecoverRestoresPreImages(t *testing.T) {
	t.Parallel()

	aPager, txManager, path := newTestPager(t)
	ctx := context.Background()

	var pageIdx PageIndex
	inTx(t, txManager, func(ctx context.Context) error {
		aPage, err := aPager.AllocatePage(ctx)
		if err != nil {
			return err
		}
		aPage.DataPage = &DataPage{RecordLength: 8, Data: []byte("original")}
		pageIdx = aPage.Index
		return nil
	})
	originalHeader := aPager.Header()

	// Journal the page and header pre-images the way a commit would
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer file.Close()

	raw := make([]byte, PageSize)
	_, err = file.ReadAt(raw, int64(pageIdx)*int64(PageSize))
	require.NoError(t, err)

	journal, err := CreateJournal(path, aPager.TotalPages())
	require.NoError(t, err)
	require.NoError(t, journal.WriteDBHeaderBefore(ctx, originalHeader))
	require.NoError(t, journal.WritePageBefore(ctx, pageIdx, raw))
	require.NoError(t, journal.Finalize(ctx))
	require.NoError(t, journal.Close())

	// Simulate a crash mid flush by scribbling over the page on disk
	garbage := make([]byte, PageSize)
	for i := range garbage {
		garbage[i] = 0xff
	}
	_, err = file.WriteAt(garbage, int64(pageIdx)*int64(PageSize))
	require.NoError(t, err)

	recovered, err := RecoverFromJournal(ctx, path, file, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, recovered)

	// The journal is consumed by recovery
	_, err = os.Stat(journalPath(path))
	assert.True(t, os.IsNotExist(err))

	// The restored page reads back cleanly
	reopened, txManager2 := reopenPager(t, path)
	inTx(t, txManager2, func(ctx context.Context) error {
		aPage, err := reopened.GetPage(ctx, pageIdx)
		if err != nil {
			return err
		}
		require.NotNil(t, aPage.DataPage)
		assert.Equal(t, []byte("original"), aPage.DataPage.Data)
		return nil
	})
}

func TestJournal_RecoverTruncatesExtendedFile(t *testing.T) {
	t.Parallel()

	aPager, txManager, path := newTestPager(t)
	ctx := context.Background()

	originalHeader := aPager.Header()
	originalTotalPages := aPager.TotalPages()

	// Commit a transaction that extends the file
	inTx(t, txManager, func(ctx context.Context) error {
		aPage, err := aPager.AllocatePage(ctx)
		if err != nil {
			return err
		}
		aPage.DataPage = &DataPage{}
		return nil
	})

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer file.Close()

	// A journal recorded before that transaction rolls the extension back
	journal, err := CreateJournal(path, originalTotalPages)
	require.NoError(t, err)
	require.NoError(t, journal.WriteDBHeaderBefore(ctx, originalHeader))
	require.NoError(t, journal.Finalize(ctx))
	require.NoError(t, journal.Close())

	recovered, err := RecoverFromJournal(ctx, path, file, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, recovered)

	stat, err := file.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(originalTotalPages)*int64(PageSize), stat.Size())
}

func TestJournal_IncompleteJournalIsDiscarded(t *testing.T) {
	t.Parallel()

	aPager, _, path := newTestPager(t)
	ctx := context.Background()

	// A journal that was never finalized has no valid checksum
	journal, err := CreateJournal(path, aPager.TotalPages())
	require.NoError(t, err)
	require.NoError(t, journal.WriteDBHeaderBefore(ctx, aPager.Header()))
	require.NoError(t, journal.Close())

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer file.Close()

	recovered, err := RecoverFromJournal(ctx, path, file, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, recovered)

	_, err = os.Stat(journalPath(path))
	assert.True(t, os.IsNotExist(err))
}

func TestJournal_NoJournalNoRecovery(t *testing.T) {
	t.Parallel()

	_, _, path := newTestPager(t)

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer file.Close()

	recovered, err := RecoverFromJournal(context.Background(), path, file, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, recovered)
}
