package minidoc

import (
	"github.com/cespare/xxhash/v2"
)

type PageIndex uint32

const (
	PageTypeCollection byte = iota + 1
	PageTypeIndex
	PageTypeData
	PageTypeFree
)

// Page is the in-memory representation of one on-disk page. Exactly one of
// the typed variants is set.
type Page struct {
	Index          PageIndex
	CollectionPage *CollectionPage
	DataPage       *DataPage
	IndexNode      *IndexNode
	FreePage       *FreePage
}

// Type returns the page type byte of the set variant.
func (p *Page) Type() byte {
	switch {
	case p.CollectionPage != nil:
		return PageTypeCollection
	case p.IndexNode != nil:
		return PageTypeIndex
	case p.DataPage != nil:
		return PageTypeData
	case p.FreePage != nil:
		return PageTypeFree
	}
	return 0
}

// Reset clears all typed variants, keeping the page index. Used when a page
// is recycled from the free list or repurposed during a transaction.
func (p *Page) Reset() {
	p.CollectionPage = nil
	p.DataPage = nil
	p.IndexNode = nil
	p.FreePage = nil
}

// Clone creates a deep copy of the page.
func (p *Page) Clone() *Page {
	pageCopy := &Page{
		Index: p.Index,
	}

	if p.CollectionPage != nil {
		pageCopy.CollectionPage = p.CollectionPage.Clone()
	} else if p.DataPage != nil {
		pageCopy.DataPage = p.DataPage.Clone()
	} else if p.IndexNode != nil {
		pageCopy.IndexNode = p.IndexNode.Clone()
	} else if p.FreePage != nil {
		pageCopy.FreePage = &FreePage{
			NextFreePage: p.FreePage.NextFreePage,
		}
	}

	return pageCopy
}

// marshalPage serializes a page into a PageSize buffer: type byte, xxhash64
// checksum of the payload, then the typed payload.
func marshalPage(aPage *Page, buf []byte) error {
	for i := range buf {
		buf[i] = 0
	}

	payload := buf[basePageHeaderSize:]

	switch {
	case aPage.CollectionPage != nil:
		if err := aPage.CollectionPage.Marshal(payload); err != nil {
			return err
		}
	case aPage.IndexNode != nil:
		if err := aPage.IndexNode.Marshal(payload); err != nil {
			return err
		}
	case aPage.DataPage != nil:
		if err := aPage.DataPage.Marshal(payload); err != nil {
			return err
		}
	case aPage.FreePage != nil:
		if err := aPage.FreePage.Marshal(payload); err != nil {
			return err
		}
	default:
		return corruptPageError(aPage.Index, "no known page type set")
	}

	buf[0] = aPage.Type()
	marshalUint64(buf, xxhash.Sum64(payload), 1)

	return nil
}

// unmarshalPage decodes a PageSize buffer read back from disk, verifying the
// type byte and payload checksum before dispatching to the typed codec.
func unmarshalPage(pageIdx PageIndex, buf []byte) (*Page, error) {
	payload := buf[basePageHeaderSize:]

	if sum := xxhash.Sum64(payload); sum != unmarshalUint64(buf, 1) {
		return nil, corruptPageError(pageIdx, "checksum mismatch")
	}

	aPage := &Page{Index: pageIdx}

	switch buf[0] {
	case PageTypeCollection:
		aPage.CollectionPage = new(CollectionPage)
		if err := aPage.CollectionPage.Unmarshal(payload); err != nil {
			return nil, corruptPageError(pageIdx, "%s", err.Error())
		}
	case PageTypeIndex:
		aPage.IndexNode = new(IndexNode)
		if err := aPage.IndexNode.Unmarshal(payload); err != nil {
			return nil, corruptPageError(pageIdx, "%s", err.Error())
		}
	case PageTypeData:
		aPage.DataPage = new(DataPage)
		if err := aPage.DataPage.Unmarshal(payload); err != nil {
			return nil, corruptPageError(pageIdx, "%s", err.Error())
		}
	case PageTypeFree:
		aPage.FreePage = new(FreePage)
		if err := aPage.FreePage.Unmarshal(payload); err != nil {
			return nil, corruptPageError(pageIdx, "%s", err.Error())
		}
	default:
		return nil, corruptPageError(pageIdx, "unrecognised page type byte %d", buf[0])
	}

	return aPage, nil
}
