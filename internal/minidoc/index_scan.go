package minidoc

import (
	"context"
	"errors"
	"io"
)

// indexScanner is called for every visited entry. Returning io.EOF stops
// the scan early without error.
type indexScanner func(cell IndexCell) error

// errScanDone propagates an early io.EOF stop up through the recursion.
var errScanDone = errors.New("scan done")

// ScanAll iterates over all entries in key order using in-order
// traversal, or in reverse key order when reverse is true.
func (idx *Index) ScanAll(ctx context.Context, reverse bool, callback indexScanner) error {
	var err error
	if reverse {
		err = idx.scanDescending(ctx, idx.rootPageIdx, callback)
	} else {
		err = idx.scanAscending(ctx, idx.rootPageIdx, callback)
	}
	if errors.Is(err, errScanDone) {
		return nil
	}
	return err
}

// ScanRange visits entries with min <= key <= max in key order. A nil
// bound means unbounded on that side. Subtrees that cannot contain keys
// in range are pruned.
func (idx *Index) ScanRange(ctx context.Context, min, max *Key, callback indexScanner) error {
	err := idx.scanRange(ctx, idx.rootPageIdx, min, max, callback)
	if errors.Is(err, errScanDone) {
		return nil
	}
	return err
}

// In-order layout: child[0] key[0] child[1] key[1] ... child[n-1] key[n-1] rightChild
func (idx *Index) scanAscending(ctx context.Context, pageIdx PageIndex, callback indexScanner) error {
	aPage, err := idx.pager.GetPage(ctx, pageIdx)
	if err != nil {
		return err
	}
	aNode := aPage.IndexNode
	if aNode == nil {
		return corruptPageError(aPage.Index, "expected index node")
	}

	for _, aCell := range aNode.Cells {
		if !aNode.Header.IsLeaf {
			if err := idx.scanAscending(ctx, aCell.Child, callback); err != nil {
				return err
			}
		}
		if err := callback(aCell); err != nil {
			if err == io.EOF {
				return errScanDone
			}
			return err
		}
	}

	if !aNode.Header.IsLeaf {
		return idx.scanAscending(ctx, aNode.Header.RightChild, callback)
	}

	return nil
}

func (idx *Index) scanDescending(ctx context.Context, pageIdx PageIndex, callback indexScanner) error {
	aPage, err := idx.pager.GetPage(ctx, pageIdx)
	if err != nil {
		return err
	}
	aNode := aPage.IndexNode
	if aNode == nil {
		return corruptPageError(aPage.Index, "expected index node")
	}

	if !aNode.Header.IsLeaf {
		if err := idx.scanDescending(ctx, aNode.Header.RightChild, callback); err != nil {
			return err
		}
	}

	for i := len(aNode.Cells) - 1; i >= 0; i-- {
		aCell := aNode.Cells[i]
		if err := callback(aCell); err != nil {
			if err == io.EOF {
				return errScanDone
			}
			return err
		}
		if !aNode.Header.IsLeaf {
			if err := idx.scanDescending(ctx, aCell.Child, callback); err != nil {
				return err
			}
		}
	}

	return nil
}

func (idx *Index) scanRange(ctx context.Context, pageIdx PageIndex, min, max *Key, callback indexScanner) error {
	aPage, err := idx.pager.GetPage(ctx, pageIdx)
	if err != nil {
		return err
	}
	aNode := aPage.IndexNode
	if aNode == nil {
		return corruptPageError(aPage.Index, "expected index node")
	}

	for _, aCell := range aNode.Cells {
		// The left subtree holds keys smaller than this cell's key, skip
		// it when they are all below min
		if !aNode.Header.IsLeaf && (min == nil || aCell.Key.Compare(*min) >= 0) {
			if err := idx.scanRange(ctx, aCell.Child, min, max, callback); err != nil {
				return err
			}
		}

		if max != nil && aCell.Key.Compare(*max) > 0 {
			return errScanDone
		}
		if min == nil || aCell.Key.Compare(*min) >= 0 {
			if err := callback(aCell); err != nil {
				if err == io.EOF {
					return errScanDone
				}
				return err
			}
		}
	}

	if !aNode.Header.IsLeaf {
		return idx.scanRange(ctx, aNode.Header.RightChild, min, max, callback)
	}

	return nil
}
