package minidoc

import (
	"fmt"
	"io"
)

// DBFile is the block-level disk access capability the engine consumes. It
// is the sole durability boundary, typically an *os.File.
type DBFile interface {
	io.ReadSeeker
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Syncer is optionally implemented by DBFile implementations that can force
// written blocks to stable storage.
type Syncer interface {
	Sync() error
}

// initializeFile prepares the backing file for use. An empty file gets a
// fresh header page written; an existing file has its header validated.
// Returns the parsed header, the total number of pages and whether the file
// was newly created.
func initializeFile(file DBFile) (DatabaseHeader, uint32, bool, error) {
	var dbHeader DatabaseHeader

	fileSize, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return dbHeader, 0, false, err
	}

	if fileSize%PageSize != 0 {
		return dbHeader, 0, false, fmt.Errorf("%w: file size %d is not divisible by page size %d",
			ErrCorruptPage, fileSize, PageSize)
	}

	if fileSize == 0 {
		dbHeader = DatabaseHeader{
			Version:  DatabaseVersion,
			PageSize: PageSize,
		}
		if err := writeHeaderPage(file, dbHeader); err != nil {
			return dbHeader, 0, false, err
		}
		return dbHeader, 1, true, nil
	}

	buf := make([]byte, DatabaseHeaderSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return dbHeader, 0, false, err
	}
	if err := UnmarshalDatabaseHeader(buf, &dbHeader); err != nil {
		return dbHeader, 0, false, err
	}

	return dbHeader, uint32(fileSize / PageSize), false, nil
}

// writeHeaderPage persists the database header as page 0.
func writeHeaderPage(file DBFile, dbHeader DatabaseHeader) error {
	headerBytes, err := dbHeader.Marshal()
	if err != nil {
		return err
	}
	buf := make([]byte, PageSize)
	copy(buf, headerBytes)
	if _, err := file.WriteAt(buf, 0); err != nil {
		return err
	}
	return nil
}
