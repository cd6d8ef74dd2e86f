package minidoc

import (
	"fmt"
)

// IndexDefinition describes one secondary index of a collection.
type IndexDefinition struct {
	Field    string
	Unique   bool
	RootPage PageIndex
}

// CollectionPage is the catalog page of one collection. Collection pages
// form a singly linked list starting at the database header. The page
// holds the collection name, the bounds of the document chain list and
// the definitions of all indexes including the mandatory unique identity
// index.
type CollectionPage struct {
	Name           string
	DataHead       PageIndex
	DataTail       PageIndex
	DocumentCount  uint64
	NextCollection PageIndex
	Indexes        []IndexDefinition
}

func (c *CollectionPage) Clone() *CollectionPage {
	pageCopy := &CollectionPage{
		Name:           c.Name,
		DataHead:       c.DataHead,
		DataTail:       c.DataTail,
		DocumentCount:  c.DocumentCount,
		NextCollection: c.NextCollection,
		Indexes:        make([]IndexDefinition, len(c.Indexes)),
	}
	copy(pageCopy.Indexes, c.Indexes)
	return pageCopy
}

// IndexOn returns the definition of the index over the given field.
func (c *CollectionPage) IndexOn(field string) (IndexDefinition, bool) {
	for _, def := range c.Indexes {
		if def.Field == field {
			return def, true
		}
	}
	return IndexDefinition{}, false
}

func (c *CollectionPage) Size() uint64 {
	size := uint64(1 + len(c.Name) + 4 + 4 + 8 + 4 + 1)
	for _, def := range c.Indexes {
		size += 1 + uint64(len(def.Field)) + 1 + 4
	}
	return size
}

func (c *CollectionPage) Marshal(buf []byte) error {
	if len(c.Name) > MaxCollectionNameLength {
		return fmt.Errorf("collection name %q exceeds %d bytes", c.Name, MaxCollectionNameLength)
	}
	if len(c.Indexes) > MaxIndexesPerCollection {
		return fmt.Errorf("collection %q has %d indexes, maximum is %d", c.Name, len(c.Indexes), MaxIndexesPerCollection)
	}
	if c.Size() > uint64(len(buf)) {
		return fmt.Errorf("collection page size %d exceeds page payload", c.Size())
	}

	buf[0] = uint8(len(c.Name))
	offset := uint64(1)
	copy(buf[offset:], c.Name)
	offset += uint64(len(c.Name))

	marshalPageIndex(buf, c.DataHead, offset)
	offset += 4
	marshalPageIndex(buf, c.DataTail, offset)
	offset += 4
	marshalUint64(buf, c.DocumentCount, offset)
	offset += 8
	marshalPageIndex(buf, c.NextCollection, offset)
	offset += 4

	buf[offset] = uint8(len(c.Indexes))
	offset += 1
	for _, def := range c.Indexes {
		buf[offset] = uint8(len(def.Field))
		offset += 1
		copy(buf[offset:], def.Field)
		offset += uint64(len(def.Field))
		marshalBool(buf, def.Unique, offset)
		offset += 1
		marshalPageIndex(buf, def.RootPage, offset)
		offset += 4
	}

	return nil
}

func (c *CollectionPage) Unmarshal(buf []byte) error {
	nameLen := uint64(buf[0])
	offset := uint64(1)
	if offset+nameLen > uint64(len(buf)) {
		return fmt.Errorf("collection name truncated")
	}
	c.Name = string(buf[offset : offset+nameLen])
	offset += nameLen

	c.DataHead = unmarshalPageIndex(buf, offset)
	offset += 4
	c.DataTail = unmarshalPageIndex(buf, offset)
	offset += 4
	c.DocumentCount = unmarshalUint64(buf, offset)
	offset += 8
	c.NextCollection = unmarshalPageIndex(buf, offset)
	offset += 4

	indexCount := uint64(buf[offset])
	offset += 1
	c.Indexes = make([]IndexDefinition, 0, indexCount)
	for i := uint64(0); i < indexCount; i++ {
		fieldLen := uint64(buf[offset])
		offset += 1
		if offset+fieldLen+5 > uint64(len(buf)) {
			return fmt.Errorf("index definition %d truncated", i)
		}
		def := IndexDefinition{
			Field: string(buf[offset : offset+fieldLen]),
		}
		offset += fieldLen
		def.Unique = unmarshalBool(buf, offset)
		offset += 1
		def.RootPage = unmarshalPageIndex(buf, offset)
		offset += 4
		c.Indexes = append(c.Indexes, def)
	}

	return nil
}
