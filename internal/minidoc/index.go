package minidoc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Index is a B tree over one document field. Every entry is a (key, ref)
// pair where ref is the head data page of the document. Non-unique indexes
// order entries by key then ref, so the same key can appear many times and
// a specific document's entry can still be located for deletion.
//
// The root page index never changes. When the root splits its content
// moves into a fresh left child, when it shrinks the remaining child is
// copied back into it. Collection pages can therefore store the root index
// once and never update it.
type Index struct {
	logger      *zap.Logger
	field       string
	unique      bool
	rootPageIdx PageIndex
	pager       *Pager

	// maximumKeys caps keys per node when non-zero, used by tests to
	// force splits with small trees
	maximumKeys uint32
}

func NewIndex(logger *zap.Logger, pager *Pager, field string, unique bool, rootPageIdx PageIndex) *Index {
	return &Index{
		logger:      logger,
		field:       field,
		unique:      unique,
		rootPageIdx: rootPageIdx,
		pager:       pager,
	}
}

func (idx *Index) Field() string {
	return idx.field
}

func (idx *Index) Unique() bool {
	return idx.unique
}

func (idx *Index) RootPageIdx() PageIndex {
	return idx.rootPageIdx
}

// compareEntry orders (key, ref) pairs, key first and ref as tiebreaker.
func compareEntry(aKey Key, aRef PageIndex, bKey Key, bRef PageIndex) int {
	if c := aKey.Compare(bKey); c != 0 {
		return c
	}
	if aRef < bRef {
		return -1
	}
	if aRef > bRef {
		return 1
	}
	return 0
}

func (idx *Index) hasSpaceForKey(aNode *IndexNode, key Key) bool {
	if idx.maximumKeys != 0 {
		return uint32(len(aNode.Cells)) < idx.maximumKeys
	}
	return aNode.HasSpaceFor(key)
}

func (idx *Index) atLeastHalfFull(aNode *IndexNode) bool {
	if idx.maximumKeys != 0 {
		return uint32(len(aNode.Cells)) >= (idx.maximumKeys+1)/2
	}
	return aNode.AtLeastHalfFull()
}

// Insert adds a (key, ref) entry. For unique indexes a second entry with
// an equal key fails with ErrDuplicateKey.
func (idx *Index) Insert(ctx context.Context, key Key, ref PageIndex) error {
	if err := key.Validate(); err != nil {
		return err
	}

	aRootPage, err := idx.pager.ModifyPage(ctx, idx.rootPageIdx)
	if err != nil {
		return fmt.Errorf("get root page: %w", err)
	}
	aRootNode := aRootPage.IndexNode
	if aRootNode == nil {
		return corruptPageError(aRootPage.Index, "expected index node")
	}

	// Empty root, insert the first entry
	if len(aRootNode.Cells) == 0 {
		aRootNode.Header.IsRoot = true
		aRootNode.Header.IsLeaf = true
		aRootNode.AppendCell(IndexCell{Key: key, Ref: ref})
		return nil
	}

	if idx.unique {
		refs, err := idx.Find(ctx, key)
		if err != nil {
			return fmt.Errorf("check duplicate key: %w", err)
		}
		if len(refs) > 0 {
			return fmt.Errorf("%w: field %q key %s", ErrDuplicateKey, idx.field, key)
		}
	}

	// Root is not full, insert new entry
	if idx.hasSpaceForKey(aRootNode, key) {
		return idx.insertNotFull(ctx, idx.rootPageIdx, key, ref)
	}

	// Root is full, split it. Root content moves into a fresh left child
	// so the root page index stays stable.
	newLeftChild, err := idx.pager.AllocatePage(ctx)
	if err != nil {
		return fmt.Errorf("allocate new left child page: %w", err)
	}
	newLeftChildNode := aRootNode.Clone()
	newLeftChildNode.Header.Parent = aRootPage.Index
	newLeftChildNode.Header.IsRoot = false
	newLeftChild.IndexNode = newLeftChildNode

	for _, childIdx := range newLeftChildNode.Children() {
		aChildPage, err := idx.pager.ModifyPage(ctx, childIdx)
		if err != nil {
			return fmt.Errorf("get child page: %w", err)
		}
		aChildPage.IndexNode.Header.Parent = newLeftChild.Index
	}

	aRootNode = &IndexNode{}
	aRootNode.Header.IsRoot = true
	aRootNode.Header.IsLeaf = false
	aRootNode.Header.RightChild = newLeftChild.Index
	aRootPage.IndexNode = aRootNode

	if err := idx.splitChild(ctx, aRootPage, newLeftChild, 0); err != nil {
		return fmt.Errorf("split root: %w", err)
	}

	i := 0
	if compareEntry(aRootNode.Cells[0].Key, aRootNode.Cells[0].Ref, key, ref) < 0 {
		i += 1
	}
	return idx.insertNotFull(ctx, aRootNode.Child(i), key, ref)
}

func (idx *Index) insertNotFull(ctx context.Context, pageIdx PageIndex, key Key, ref PageIndex) error {
	aPage, err := idx.pager.ModifyPage(ctx, pageIdx)
	if err != nil {
		return fmt.Errorf("get page: %w", err)
	}
	aNode := aPage.IndexNode
	if aNode == nil {
		return corruptPageError(aPage.Index, "expected index node")
	}

	if aNode.Header.IsLeaf {
		// Find location for the new entry, shifting larger entries right
		i := len(aNode.Cells) - 1
		for i >= 0 && compareEntry(aNode.Cells[i].Key, aNode.Cells[i].Ref, key, ref) > 0 {
			i -= 1
		}
		aNode.InsertCellAt(i+1, IndexCell{Key: key, Ref: ref})
		return nil
	}

	// Find the child which is going to receive the new entry
	i := len(aNode.Cells) - 1
	for i >= 0 && compareEntry(aNode.Cells[i].Key, aNode.Cells[i].Ref, key, ref) > 0 {
		i -= 1
	}

	childPage, err := idx.pager.ModifyPage(ctx, aNode.Child(i+1))
	if err != nil {
		return fmt.Errorf("get child page: %w", err)
	}
	if !idx.hasSpaceForKey(childPage.IndexNode, key) {
		if err := idx.splitChild(ctx, aPage, childPage, i+1); err != nil {
			return fmt.Errorf("split child: %w", err)
		}
		if compareEntry(aNode.Cells[i+1].Key, aNode.Cells[i+1].Ref, key, ref) < 0 {
			i += 1
		}
	}

	return idx.insertNotFull(ctx, aNode.Child(i+1), key, ref)
}

// splitChild splits an overfull child into two nodes and moves the median
// entry up into the parent.
func (idx *Index) splitChild(ctx context.Context, parentPage, splitPage *Page, indexInParent int) error {
	var (
		parentNode = parentPage.IndexNode
		splitNode  = splitPage.IndexNode
	)

	// Split page keeps the left half, create a new right sibling
	newPage, err := idx.pager.AllocatePage(ctx)
	if err != nil {
		return fmt.Errorf("allocate page: %w", err)
	}
	newNode := &IndexNode{}
	newNode.Header.Parent = splitNode.Header.Parent
	newNode.Header.IsLeaf = splitNode.Header.IsLeaf
	newPage.IndexNode = newNode

	left, median, right := splitNode.SplitInHalves()

	newNode.Cells = right
	newNode.Header.Keys = uint32(len(right))
	newNode.Header.RightChild = splitNode.Header.RightChild

	splitNode.Cells = left
	splitNode.Header.Keys = uint32(len(left))
	splitNode.Header.RightChild = median.Child

	for _, childIdx := range newNode.Children() {
		aChildPage, err := idx.pager.ModifyPage(ctx, childIdx)
		if err != nil {
			return fmt.Errorf("get child page: %w", err)
		}
		aChildPage.IndexNode.Header.Parent = newPage.Index
	}

	parentNode.InsertCellAt(indexInParent, IndexCell{
		Key:   median.Key,
		Ref:   median.Ref,
		Child: splitPage.Index,
	})
	parentNode.SetChild(indexInParent+1, newPage.Index)

	return nil
}

// Delete removes the (key, ref) entry from the tree.
func (idx *Index) Delete(ctx context.Context, key Key, ref PageIndex) error {
	aRootPage, err := idx.pager.ModifyPage(ctx, idx.rootPageIdx)
	if err != nil {
		return fmt.Errorf("get root page: %w", err)
	}

	if err := idx.remove(ctx, aRootPage, key, ref); err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}

	aRootNode := aRootPage.IndexNode
	if len(aRootNode.Cells) > 0 {
		return nil
	}

	if aRootNode.Header.IsLeaf {
		// Tree is now empty
		aRootNode.Header.RightChild = 0
		return nil
	}

	// Root has no keys left, copy its only child back into the root page
	firstChildIdx := aRootNode.Child(0)
	firstChildPage, err := idx.pager.ModifyPage(ctx, firstChildIdx)
	if err != nil {
		return fmt.Errorf("get new root page: %w", err)
	}
	*aRootNode = *firstChildPage.IndexNode.Clone()
	aRootNode.Header.Parent = 0
	aRootNode.Header.IsRoot = true

	for _, childIdx := range aRootNode.Children() {
		aChildPage, err := idx.pager.ModifyPage(ctx, childIdx)
		if err != nil {
			return fmt.Errorf("get child page: %w", err)
		}
		aChildPage.IndexNode.Header.Parent = idx.rootPageIdx
	}

	return idx.pager.FreePage(ctx, firstChildIdx)
}

// remove deletes the (key, ref) entry from the subtree rooted at this node.
func (idx *Index) remove(ctx context.Context, aPage *Page, key Key, ref PageIndex) error {
	aNode := aPage.IndexNode
	if aNode == nil {
		return corruptPageError(aPage.Index, "expected index node")
	}

	// Find the first entry greater than or equal to (key, ref)
	i := 0
	for i < len(aNode.Cells) && compareEntry(aNode.Cells[i].Key, aNode.Cells[i].Ref, key, ref) < 0 {
		i += 1
	}

	if i < len(aNode.Cells) && compareEntry(aNode.Cells[i].Key, aNode.Cells[i].Ref, key, ref) == 0 {
		if aNode.Header.IsLeaf {
			aNode.DeleteCellAndRightChild(i)
			return nil
		}
		return idx.removeFromInternal(ctx, aPage, i)
	}

	if aNode.Header.IsLeaf {
		return fmt.Errorf("entry %s not found in index on %q", key, idx.field)
	}

	wasLast := i == len(aNode.Cells)

	childPage, err := idx.pager.ModifyPage(ctx, aNode.Child(i))
	if err != nil {
		return fmt.Errorf("get child page: %w", err)
	}

	if !idx.atLeastHalfFull(childPage.IndexNode) {
		if err := idx.fill(ctx, aPage, childPage, i); err != nil {
			return fmt.Errorf("fill child: %w", err)
		}
	}

	// The fill may have merged the last child into its left sibling
	if wasLast && i > len(aNode.Cells) {
		prevChildPage, err := idx.pager.ModifyPage(ctx, aNode.Child(i-1))
		if err != nil {
			return fmt.Errorf("get prev child page: %w", err)
		}
		return idx.remove(ctx, prevChildPage, key, ref)
	}

	childPage, err = idx.pager.ModifyPage(ctx, aNode.Child(i))
	if err != nil {
		return fmt.Errorf("get child page: %w", err)
	}
	return idx.remove(ctx, childPage, key, ref)
}

func (idx *Index) removeFromInternal(ctx context.Context, aPage *Page, i int) error {
	var (
		aNode = aPage.IndexNode
		key   = aNode.Cells[i].Key
		ref   = aNode.Cells[i].Ref
	)

	leftChildPage, err := idx.pager.ModifyPage(ctx, aNode.Cells[i].Child)
	if err != nil {
		return fmt.Errorf("get left child page: %w", err)
	}

	rightChildPage, err := idx.pager.ModifyPage(ctx, aNode.Child(i+1))
	if err != nil {
		return fmt.Errorf("get right child page: %w", err)
	}

	if idx.atLeastHalfFull(leftChildPage.IndexNode) {
		predecessor, err := idx.getPred(ctx, aNode, i)
		if err != nil {
			return fmt.Errorf("get predecessor: %w", err)
		}
		aNode.Cells[i].Key = predecessor.Key
		aNode.Cells[i].Ref = predecessor.Ref
		return idx.remove(ctx, leftChildPage, predecessor.Key, predecessor.Ref)
	}

	if idx.atLeastHalfFull(rightChildPage.IndexNode) {
		successor, err := idx.getSucc(ctx, aNode, i)
		if err != nil {
			return fmt.Errorf("get successor: %w", err)
		}
		aNode.Cells[i].Key = successor.Key
		aNode.Cells[i].Ref = successor.Ref
		return idx.remove(ctx, rightChildPage, successor.Key, successor.Ref)
	}

	if err := idx.merge(ctx, aPage, leftChildPage, rightChildPage, i); err != nil {
		return fmt.Errorf("merge children: %w", err)
	}
	if err := idx.pager.FreePage(ctx, rightChildPage.Index); err != nil {
		return fmt.Errorf("free page: %w", err)
	}
	return idx.remove(ctx, leftChildPage, key, ref)
}

// getPred finds the largest entry in the subtree left of cell i.
func (idx *Index) getPred(ctx context.Context, aNode *IndexNode, i int) (IndexCell, error) {
	curPage, err := idx.pager.ModifyPage(ctx, aNode.Cells[i].Child)
	if err != nil {
		return IndexCell{}, fmt.Errorf("get child page: %w", err)
	}
	cur := curPage.IndexNode
	for !cur.Header.IsLeaf {
		aPage, err := idx.pager.ModifyPage(ctx, cur.Header.RightChild)
		if err != nil {
			return IndexCell{}, fmt.Errorf("get page: %w", err)
		}
		cur = aPage.IndexNode
	}
	return cur.LastCell(), nil
}

// getSucc finds the smallest entry in the subtree right of cell i.
func (idx *Index) getSucc(ctx context.Context, aNode *IndexNode, i int) (IndexCell, error) {
	curPage, err := idx.pager.ModifyPage(ctx, aNode.Child(i+1))
	if err != nil {
		return IndexCell{}, fmt.Errorf("get child page: %w", err)
	}
	cur := curPage.IndexNode
	for !cur.Header.IsLeaf {
		aPage, err := idx.pager.ModifyPage(ctx, cur.Cells[0].Child)
		if err != nil {
			return IndexCell{}, fmt.Errorf("get page: %w", err)
		}
		cur = aPage.IndexNode
	}
	return cur.FirstCell(), nil
}

// fill brings the child at position i up to minimum occupancy, either by
// borrowing from a sibling or by merging.
func (idx *Index) fill(ctx context.Context, parentPage, childPage *Page, i int) error {
	var (
		parentNode = parentPage.IndexNode
		left       *Page
		right      *Page
	)

	var err error
	if i != 0 {
		left, err = idx.pager.ModifyPage(ctx, parentNode.Cells[i-1].Child)
		if err != nil {
			return fmt.Errorf("get left sibling page: %w", err)
		}
	}
	if i != len(parentNode.Cells) {
		right, err = idx.pager.ModifyPage(ctx, parentNode.Child(i+1))
		if err != nil {
			return fmt.Errorf("get right sibling page: %w", err)
		}
	}

	if left != nil && idx.canSpare(left.IndexNode) {
		return idx.borrowFromLeft(ctx, parentPage, childPage, left, i)
	}

	if right != nil && idx.canSpare(right.IndexNode) {
		return idx.borrowFromRight(ctx, parentPage, childPage, right, i)
	}

	if right != nil {
		if err := idx.merge(ctx, parentPage, childPage, right, i); err != nil {
			return fmt.Errorf("merge with right sibling: %w", err)
		}
		return idx.pager.FreePage(ctx, right.Index)
	}

	if err := idx.merge(ctx, parentPage, left, childPage, i-1); err != nil {
		return fmt.Errorf("merge with left sibling: %w", err)
	}
	return idx.pager.FreePage(ctx, childPage.Index)
}

func (idx *Index) canSpare(aNode *IndexNode) bool {
	if idx.maximumKeys != 0 {
		return uint32(len(aNode.Cells)) > (idx.maximumKeys+1)/2
	}
	return aNode.CanSpareCell()
}

func (idx *Index) borrowFromLeft(ctx context.Context, parentPage, childPage, left *Page, i int) error {
	var (
		parentNode = parentPage.IndexNode
		childNode  = childPage.IndexNode
		leftNode   = left.IndexNode
	)

	childNode.PrependCell(IndexCell{
		Key:   parentNode.Cells[i-1].Key,
		Ref:   parentNode.Cells[i-1].Ref,
		Child: leftNode.Header.RightChild,
	})

	if !leftNode.Header.IsLeaf {
		grandChildPage, err := idx.pager.ModifyPage(ctx, leftNode.Header.RightChild)
		if err != nil {
			return fmt.Errorf("get child page: %w", err)
		}
		grandChildPage.IndexNode.Header.Parent = childPage.Index
	}

	borrowed := leftNode.RemoveLastCell()
	parentNode.Cells[i-1].Key = borrowed.Key
	parentNode.Cells[i-1].Ref = borrowed.Ref
	leftNode.Header.RightChild = borrowed.Child

	return nil
}

func (idx *Index) borrowFromRight(ctx context.Context, parentPage, childPage, right *Page, i int) error {
	var (
		parentNode = parentPage.IndexNode
		childNode  = childPage.IndexNode
		rightNode  = right.IndexNode
	)

	childNode.AppendCell(IndexCell{
		Key:   parentNode.Cells[i].Key,
		Ref:   parentNode.Cells[i].Ref,
		Child: childNode.Header.RightChild,
	})
	childNode.Header.RightChild = rightNode.FirstCell().Child

	if !childNode.Header.IsLeaf {
		grandChildPage, err := idx.pager.ModifyPage(ctx, childNode.Header.RightChild)
		if err != nil {
			return fmt.Errorf("get child page: %w", err)
		}
		grandChildPage.IndexNode.Header.Parent = childPage.Index
	}

	borrowed := rightNode.RemoveFirstCell()
	parentNode.Cells[i].Key = borrowed.Key
	parentNode.Cells[i].Ref = borrowed.Ref

	return nil
}

// merge folds the right sibling and the separating parent entry into the
// left sibling. The caller frees the right page afterwards.
func (idx *Index) merge(ctx context.Context, parentPage, left, right *Page, i int) error {
	var (
		parentNode = parentPage.IndexNode
		leftNode   = left.IndexNode
		rightNode  = right.IndexNode
	)

	if !rightNode.Header.IsLeaf {
		for _, childIdx := range rightNode.Children() {
			movedPage, err := idx.pager.ModifyPage(ctx, childIdx)
			if err != nil {
				return fmt.Errorf("get moved child page: %w", err)
			}
			movedPage.IndexNode.Header.Parent = left.Index
		}
	}

	leftNode.AppendCell(IndexCell{
		Key:   parentNode.Cells[i].Key,
		Ref:   parentNode.Cells[i].Ref,
		Child: leftNode.Header.RightChild,
	})
	for _, cell := range rightNode.Cells {
		leftNode.AppendCell(cell)
	}
	leftNode.Header.RightChild = rightNode.Header.RightChild

	parentNode.DeleteCellAndRightChild(i)

	return nil
}

// Find returns the head data pages of all documents indexed under key.
func (idx *Index) Find(ctx context.Context, key Key) ([]PageIndex, error) {
	refs := make([]PageIndex, 0, 1)
	err := idx.ScanRange(ctx, &key, &key, func(cell IndexCell) error {
		refs = append(refs, cell.Ref)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Walk visits every node page of the tree, parents before children. Used
// when dropping an index to free its pages.
func (idx *Index) Walk(ctx context.Context, fn func(aPage *Page) error) error {
	queue := []PageIndex{idx.rootPageIdx}
	for len(queue) > 0 {
		pageIdx := queue[0]
		queue = queue[1:]

		aPage, err := idx.pager.GetPage(ctx, pageIdx)
		if err != nil {
			return fmt.Errorf("get page: %w", err)
		}
		aNode := aPage.IndexNode
		if aNode == nil {
			return corruptPageError(aPage.Index, "expected index node")
		}
		if len(aNode.Cells) > 0 {
			queue = append(queue, aNode.Children()...)
		}

		if err := fn(aPage); err != nil {
			return err
		}
	}
	return nil
}
