package minidoc

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// DatabaseHeaderSize is the reserved header area at the start of page 0.
	DatabaseHeaderSize = 100

	DatabaseVersion = uint32(1)
)

var databaseMagic = [8]byte{'m', 'i', 'n', 'i', 'd', 'o', 'c', 0}

// DatabaseHeader lives at the start of page 0 and makes the file layout
// self-describing: initialize can tell a new file from an existing parseable
// one from an incompatible or corrupt one.
type DatabaseHeader struct {
	Version             uint32
	PageSize            uint32
	FirstFreePage       PageIndex // Points to first free page, 0 if none
	FreePageCount       uint32    // Number of free pages available
	FirstCollectionPage PageIndex // Head of the collection page list, 0 if none
	CollectionCount     uint32
}

func (h *DatabaseHeader) Size() uint64 {
	return DatabaseHeaderSize
}

func (h *DatabaseHeader) Marshal() ([]byte, error) {
	buf := make([]byte, h.Size())
	copy(buf[0:8], databaseMagic[:])
	marshalUint32(buf, h.Version, 8)
	marshalUint32(buf, h.PageSize, 12)
	marshalPageIndex(buf, h.FirstFreePage, 16)
	marshalUint32(buf, h.FreePageCount, 20)
	marshalPageIndex(buf, h.FirstCollectionPage, 24)
	marshalUint32(buf, h.CollectionCount, 28)
	marshalUint64(buf, xxhash.Sum64(buf[0:32]), 32)
	return buf, nil
}

func UnmarshalDatabaseHeader(buf []byte, dbHeader *DatabaseHeader) error {
	if !bytes.Equal(buf[0:8], databaseMagic[:]) {
		return corruptPageError(0, "bad magic")
	}
	if sum := xxhash.Sum64(buf[0:32]); sum != unmarshalUint64(buf, 32) {
		return corruptPageError(0, "header checksum mismatch")
	}
	dbHeader.Version = unmarshalUint32(buf, 8)
	if dbHeader.Version != DatabaseVersion {
		return fmt.Errorf("%w: file version %d, supported version %d",
			ErrIncompatibleVersion, dbHeader.Version, DatabaseVersion)
	}
	dbHeader.PageSize = unmarshalUint32(buf, 12)
	if dbHeader.PageSize != PageSize {
		return fmt.Errorf("%w: file page size %d, supported page size %d",
			ErrIncompatibleVersion, dbHeader.PageSize, PageSize)
	}
	dbHeader.FirstFreePage = unmarshalPageIndex(buf, 16)
	dbHeader.FreePageCount = unmarshalUint32(buf, 20)
	dbHeader.FirstCollectionPage = unmarshalPageIndex(buf, 24)
	dbHeader.CollectionCount = unmarshalUint32(buf, 28)
	return nil
}
