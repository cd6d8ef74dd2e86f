package minidoc

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectKeys(ctx context.Context, t *testing.T, anIndex *Index, reverse bool) []int64 {
	t.Helper()

	var keys []int64
	err := anIndex.ScanAll(ctx, reverse, func(cell IndexCell) error {
		keys = append(keys, cell.Key.Int)
		return nil
	})
	require.NoError(t, err)
	return keys
}

func TestIndex_InsertAndScanOrdered(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, true, 4)

	const numKeys = 100
	values := rand.Perm(numKeys)

	inTx(t, txManager, func(ctx context.Context) error {
		for _, value := range values {
			if err := anIndex.Insert(ctx, intKey(t, value), PageIndex(value+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, txManager, func(ctx context.Context) error {
		keys := collectKeys(ctx, t, anIndex, false)
		require.Len(t, keys, numKeys)
		for i, key := range keys {
			assert.Equal(t, int64(i), key)
		}

		reversed := collectKeys(ctx, t, anIndex, true)
		require.Len(t, reversed, numKeys)
		for i, key := range reversed {
			assert.Equal(t, int64(numKeys-1-i), key)
		}
		return nil
	})
}

func TestIndex_RootPageIndexIsStableAcrossSplits(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, true, 3)
	rootIdx := anIndex.RootPageIdx()

	inTx(t, txManager, func(ctx context.Context) error {
		for i := 0; i < 50; i++ {
			if err := anIndex.Insert(ctx, intKey(t, i), PageIndex(i+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	assert.Equal(t, rootIdx, anIndex.RootPageIdx())

	inTx(t, txManager, func(ctx context.Context) error {
		aPage, err := aPager.GetPage(ctx, rootIdx)
		if err != nil {
			return err
		}
		require.NotNil(t, aPage.IndexNode)
		assert.True(t, aPage.IndexNode.Header.IsRoot)
		assert.False(t, aPage.IndexNode.Header.IsLeaf)
		return nil
	})
}

func TestIndex_Find(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, true, 4)

	inTx(t, txManager, func(ctx context.Context) error {
		for i := 0; i < 30; i++ {
			if err := anIndex.Insert(ctx, intKey(t, i), PageIndex(i+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, txManager, func(ctx context.Context) error {
		refs, err := anIndex.Find(ctx, intKey(t, 17))
		if err != nil {
			return err
		}
		assert.Equal(t, []PageIndex{1017}, refs)

		refs, err = anIndex.Find(ctx, intKey(t, 999))
		if err != nil {
			return err
		}
		assert.Empty(t, refs)
		return nil
	})
}

func TestIndex_UniqueRejectsDuplicates(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, true, 4)

	err := txManager.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		if err := anIndex.Insert(ctx, intKey(t, 1), 1001); err != nil {
			return err
		}
		return anIndex.Insert(ctx, intKey(t, 1), 1002)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestIndex_NonUniqueHoldsManyRefsPerKey(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, false, 4)

	inTx(t, txManager, func(ctx context.Context) error {
		for i := 0; i < 10; i++ {
			if err := anIndex.Insert(ctx, intKey(t, i%3), PageIndex(i+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, txManager, func(ctx context.Context) error {
		refs, err := anIndex.Find(ctx, intKey(t, 0))
		if err != nil {
			return err
		}
		assert.ElementsMatch(t, []PageIndex{1000, 1003, 1006, 1009}, refs)

		refs, err = anIndex.Find(ctx, intKey(t, 2))
		if err != nil {
			return err
		}
		assert.ElementsMatch(t, []PageIndex{1002, 1005, 1008}, refs)
		return nil
	})

	// Deleting one entry leaves the other refs in place
	inTx(t, txManager, func(ctx context.Context) error {
		return anIndex.Delete(ctx, intKey(t, 0), 1003)
	})
	inTx(t, txManager, func(ctx context.Context) error {
		refs, err := anIndex.Find(ctx, intKey(t, 0))
		if err != nil {
			return err
		}
		assert.ElementsMatch(t, []PageIndex{1000, 1006, 1009}, refs)
		return nil
	})
}

func TestIndex_DeleteAllKeys(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, true, 3)

	const numKeys = 60
	values := rand.Perm(numKeys)

	inTx(t, txManager, func(ctx context.Context) error {
		for _, value := range values {
			if err := anIndex.Insert(ctx, intKey(t, value), PageIndex(value+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	// Delete in a different order than inserted
	deleteOrder := rand.Perm(numKeys)
	inTx(t, txManager, func(ctx context.Context) error {
		for _, value := range deleteOrder {
			if err := anIndex.Delete(ctx, intKey(t, value), PageIndex(value+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, txManager, func(ctx context.Context) error {
		keys := collectKeys(ctx, t, anIndex, false)
		assert.Empty(t, keys)
		return nil
	})
}

func TestIndex_DeleteKeepsRemainingOrdered(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, true, 3)

	inTx(t, txManager, func(ctx context.Context) error {
		for _, value := range rand.Perm(40) {
			if err := anIndex.Insert(ctx, intKey(t, value), PageIndex(value+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	// Remove every even key
	inTx(t, txManager, func(ctx context.Context) error {
		for value := 0; value < 40; value += 2 {
			if err := anIndex.Delete(ctx, intKey(t, value), PageIndex(value+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, txManager, func(ctx context.Context) error {
		keys := collectKeys(ctx, t, anIndex, false)
		require.Len(t, keys, 20)
		for i, key := range keys {
			assert.Equal(t, int64(2*i+1), key)
		}
		return nil
	})
}

func TestIndex_ScanRange(t *testing.T) {
	t.Parallel()

	aPager, txManager, _ := newTestPager(t)
	anIndex := newTestIndex(t, aPager, txManager, true, 4)

	inTx(t, txManager, func(ctx context.Context) error {
		for _, value := range rand.Perm(50) {
			if err := anIndex.Insert(ctx, intKey(t, value), PageIndex(value+1000)); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, txManager, func(ctx context.Context) error {
		min, max := intKey(t, 10), intKey(t, 20)
		var keys []int64
		err := anIndex.ScanRange(ctx, &min, &max, func(cell IndexCell) error {
			keys = append(keys, cell.Key.Int)
			return nil
		})
		if err != nil {
			return err
		}

		require.Len(t, keys, 11)
		for i, key := range keys {
			assert.Equal(t, int64(10+i), key)
		}
		return nil
	})

	// Unbounded min
	inTx(t, txManager, func(ctx context.Context) error {
		max := intKey(t, 4)
		var keys []int64
		err := anIndex.ScanRange(ctx, nil, &max, func(cell IndexCell) error {
			keys = append(keys, cell.Key.Int)
			return nil
		})
		if err != nil {
			return err
		}
		assert.Equal(t, []int64{0, 1, 2, 3, 4}, keys)
		return nil
	})
}
