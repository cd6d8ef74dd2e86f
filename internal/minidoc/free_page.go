package minidoc

// FreePage threads reclaimed pages into a reusable list rooted at the
// database header.
type FreePage struct {
	NextFreePage PageIndex // Points to next free page, 0 if last
	// Rest of page is unused
}

func (n *FreePage) Marshal(buf []byte) error {
	marshalPageIndex(buf, n.NextFreePage, 0)
	return nil
}

func (n *FreePage) Unmarshal(buf []byte) error {
	n.NextFreePage = unmarshalPageIndex(buf, 0)
	return nil
}
