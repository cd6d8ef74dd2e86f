package minidoc

import (
	"fmt"
)

const (
	dataPageHeaderSize = 4 + 4 + 4 + 4 + 2

	// MaxDataPayload is the document payload capacity of a single data page.
	// Documents larger than this span a chain of pages.
	MaxDataPayload = PageSize - basePageHeaderSize - dataPageHeaderSize
)

// DataPage holds a slice of one serialized document. The first page of a
// record's chain additionally carries the total record length and the
// sibling links threading all records of a collection together.
type DataPage struct {
	Next         PageIndex // next page of this record's chain, 0 if last
	NextRecord   PageIndex // next record head in the collection, head pages only
	PrevRecord   PageIndex // previous record head in the collection, head pages only
	RecordLength uint32    // total record length in bytes, head pages only
	Data         []byte
}

func (n *DataPage) Clone() *DataPage {
	dataCopy := make([]byte, len(n.Data))
	copy(dataCopy, n.Data)
	return &DataPage{
		Next:         n.Next,
		NextRecord:   n.NextRecord,
		PrevRecord:   n.PrevRecord,
		RecordLength: n.RecordLength,
		Data:         dataCopy,
	}
}

func (n *DataPage) Marshal(buf []byte) error {
	if len(n.Data) > MaxDataPayload {
		return fmt.Errorf("data page payload %d exceeds capacity %d", len(n.Data), MaxDataPayload)
	}

	i := uint64(0)

	marshalPageIndex(buf, n.Next, i)
	i += 4

	marshalPageIndex(buf, n.NextRecord, i)
	i += 4

	marshalPageIndex(buf, n.PrevRecord, i)
	i += 4

	marshalUint32(buf, n.RecordLength, i)
	i += 4

	marshalUint16(buf, uint16(len(n.Data)), i)
	i += 2

	copy(buf[i:], n.Data)

	return nil
}

func (n *DataPage) Unmarshal(buf []byte) error {
	i := uint64(0)

	n.Next = unmarshalPageIndex(buf, i)
	i += 4

	n.NextRecord = unmarshalPageIndex(buf, i)
	i += 4

	n.PrevRecord = unmarshalPageIndex(buf, i)
	i += 4

	n.RecordLength = unmarshalUint32(buf, i)
	i += 4

	length := unmarshalUint16(buf, i)
	i += 2

	if int(length) > MaxDataPayload {
		return fmt.Errorf("data page payload length %d exceeds capacity %d", length, MaxDataPayload)
	}

	n.Data = make([]byte, length)
	copy(n.Data, buf[i:i+uint64(length)])

	return nil
}
