package minidoc

import (
	"fmt"
)

const (
	indexNodeHeaderSize = 1 + 1 + 4 + 4 + 4

	// maxIndexCellSpace is the payload space available for cells.
	maxIndexCellSpace = PageSize - basePageHeaderSize - indexNodeHeaderSize
)

type IndexNodeHeader struct {
	IsRoot     bool
	IsLeaf     bool
	Parent     PageIndex
	Keys       uint32
	RightChild PageIndex
}

// IndexCell is one B tree entry. Ref points at the head data page of the
// indexed document. In internal nodes Child points at the subtree holding
// keys smaller than this cell's key.
type IndexCell struct {
	Key   Key
	Ref   PageIndex
	Child PageIndex
}

func (c IndexCell) Size() uint64 {
	return c.Key.Size() + 4 + 4
}

// IndexNode is one node of a secondary index B tree, stored in a single
// page. Cells are kept ordered by key. The rightmost subtree of an
// internal node hangs off Header.RightChild.
type IndexNode struct {
	Header IndexNodeHeader
	Cells  []IndexCell
}

func (n *IndexNode) Clone() *IndexNode {
	nodeCopy := &IndexNode{
		Header: n.Header,
		Cells:  make([]IndexCell, len(n.Cells)),
	}
	copy(nodeCopy.Cells, n.Cells)
	return nodeCopy
}

func (n *IndexNode) Size() uint64 {
	size := uint64(indexNodeHeaderSize)
	for _, cell := range n.Cells {
		size += cell.Size()
	}
	return size
}

// HasSpaceFor reports whether another cell with the given key fits.
func (n *IndexNode) HasSpaceFor(key Key) bool {
	return n.Size()+key.Size()+8 <= PageSize-basePageHeaderSize
}

// AtLeastHalfFull reports whether the node holds at least half the cell
// space, the B tree minimum occupancy for non root nodes.
func (n *IndexNode) AtLeastHalfFull() bool {
	return n.Size()-indexNodeHeaderSize >= maxIndexCellSpace/2
}

// CanSpareCell reports whether removing one cell keeps the node at least
// half full.
func (n *IndexNode) CanSpareCell() bool {
	if len(n.Cells) == 0 {
		return false
	}
	last := n.Cells[len(n.Cells)-1]
	return n.Size()-last.Size()-indexNodeHeaderSize >= maxIndexCellSpace/2
}

// Child returns the subtree page for cell position i, where i equal to the
// cell count means the rightmost child.
func (n *IndexNode) Child(i int) PageIndex {
	if i == len(n.Cells) {
		return n.Header.RightChild
	}
	return n.Cells[i].Child
}

func (n *IndexNode) SetChild(i int, childIdx PageIndex) {
	if i == len(n.Cells) {
		n.Header.RightChild = childIdx
		return
	}
	n.Cells[i].Child = childIdx
}

// Children returns all child page indexes of an internal node.
func (n *IndexNode) Children() []PageIndex {
	if n.Header.IsLeaf {
		return nil
	}
	children := make([]PageIndex, 0, len(n.Cells)+1)
	for _, cell := range n.Cells {
		children = append(children, cell.Child)
	}
	children = append(children, n.Header.RightChild)
	return children
}

func (n *IndexNode) FirstCell() IndexCell {
	return n.Cells[0]
}

func (n *IndexNode) LastCell() IndexCell {
	return n.Cells[len(n.Cells)-1]
}

func (n *IndexNode) AppendCell(cell IndexCell) {
	n.Cells = append(n.Cells, cell)
	n.Header.Keys = uint32(len(n.Cells))
}

func (n *IndexNode) PrependCell(cell IndexCell) {
	n.Cells = append([]IndexCell{cell}, n.Cells...)
	n.Header.Keys = uint32(len(n.Cells))
}

func (n *IndexNode) InsertCellAt(i int, cell IndexCell) {
	n.Cells = append(n.Cells, IndexCell{})
	copy(n.Cells[i+1:], n.Cells[i:])
	n.Cells[i] = cell
	n.Header.Keys = uint32(len(n.Cells))
}

func (n *IndexNode) RemoveCellAt(i int) IndexCell {
	cell := n.Cells[i]
	n.Cells = append(n.Cells[:i], n.Cells[i+1:]...)
	n.Header.Keys = uint32(len(n.Cells))
	return cell
}

// DeleteCellAndRightChild removes cell i together with the child pointer
// to its right, keeping the cell's own left child pointer in place.
func (n *IndexNode) DeleteCellAndRightChild(i int) {
	if i == len(n.Cells)-1 {
		n.Header.RightChild = n.Cells[i].Child
	} else {
		n.Cells[i+1].Child = n.Cells[i].Child
	}
	n.RemoveCellAt(i)
}

func (n *IndexNode) RemoveFirstCell() IndexCell {
	return n.RemoveCellAt(0)
}

func (n *IndexNode) RemoveLastCell() IndexCell {
	return n.RemoveCellAt(len(n.Cells) - 1)
}

// SplitInHalves is used when the node overflows. The left half keeps the
// first cells, the median cell moves up to the parent and the right half
// takes the rest.
func (n *IndexNode) SplitInHalves() (left []IndexCell, median IndexCell, right []IndexCell) {
	leftCount := (len(n.Cells) + 1) / 2

	left = make([]IndexCell, leftCount-1)
	copy(left, n.Cells[:leftCount-1])
	median = n.Cells[leftCount-1]
	right = make([]IndexCell, len(n.Cells)-leftCount)
	copy(right, n.Cells[leftCount:])

	return left, median, right
}

func (n *IndexNode) Marshal(buf []byte) error {
	if n.Size() > uint64(len(buf)) {
		return fmt.Errorf("index node size %d exceeds page payload", n.Size())
	}

	marshalBool(buf, n.Header.IsRoot, 0)
	marshalBool(buf, n.Header.IsLeaf, 1)
	marshalPageIndex(buf, n.Header.Parent, 2)
	marshalUint32(buf, uint32(len(n.Cells)), 6)
	marshalPageIndex(buf, n.Header.RightChild, 10)

	offset := uint64(indexNodeHeaderSize)
	for _, cell := range n.Cells {
		offset = cell.Key.Marshal(buf, offset)
		marshalPageIndex(buf, cell.Ref, offset)
		offset += 4
		marshalPageIndex(buf, cell.Child, offset)
		offset += 4
	}

	return nil
}

func (n *IndexNode) Unmarshal(buf []byte) error {
	n.Header.IsRoot = unmarshalBool(buf, 0)
	n.Header.IsLeaf = unmarshalBool(buf, 1)
	n.Header.Parent = unmarshalPageIndex(buf, 2)
	n.Header.Keys = unmarshalUint32(buf, 6)
	n.Header.RightChild = unmarshalPageIndex(buf, 10)

	n.Cells = make([]IndexCell, 0, n.Header.Keys)
	offset := uint64(indexNodeHeaderSize)
	for i := uint32(0); i < n.Header.Keys; i++ {
		key, next, err := unmarshalKey(buf, offset)
		if err != nil {
			return fmt.Errorf("index cell %d: %w", i, err)
		}
		offset = next
		if offset+8 > uint64(len(buf)) {
			return fmt.Errorf("index cell %d truncated", i)
		}
		cell := IndexCell{
			Key:   key,
			Ref:   unmarshalPageIndex(buf, offset),
			Child: unmarshalPageIndex(buf, offset+4),
		}
		offset += 8
		n.Cells = append(n.Cells, cell)
	}

	return nil
}
