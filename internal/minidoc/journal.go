package minidoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const (
	journalMagic      = "minidoc\n"
	journalVersion    = uint32(1)
	journalHeaderSize = 8 + 4 + 4 + 4 + 4 + 8
)

// Truncater is implemented by DBFile implementations that can shrink the
// backing file, needed when journal recovery undoes a file extension.
type Truncater interface {
	Truncate(size int64) error
}

// RollbackJournal implements a rollback journal for crash recovery. Before
// the commit flush, original page contents are written to the journal; if
// the process dies mid-flush, the journal is replayed on the next open to
// restore the database to its pre-transaction state.
type RollbackJournal struct {
	file               *os.File
	filepath           string
	pageSize           uint32
	originalTotalPages uint32
	numPages           uint32
}

func journalPath(dbPath string) string {
	return dbPath + "-journal"
}

// CreateJournal creates a new journal file for a committing transaction.
func CreateJournal(dbPath string, originalTotalPages uint32) (*RollbackJournal, error) {
	file, err := os.OpenFile(journalPath(dbPath), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create journal file: %w", err)
	}

	journal := &RollbackJournal{
		file:               file,
		filepath:           journalPath(dbPath),
		pageSize:           PageSize,
		originalTotalPages: originalTotalPages,
	}

	// Placeholder header, finalized once all pre-images are written
	if err := journal.writeHeader(0); err != nil {
		journal.Close()
		return nil, fmt.Errorf("write journal header: %w", err)
	}

	return journal, nil
}

func (j *RollbackJournal) writeHeader(checksum uint64) error {
	buf := make([]byte, journalHeaderSize)
	copy(buf[0:8], journalMagic)
	marshalUint32(buf, journalVersion, 8)
	marshalUint32(buf, j.pageSize, 12)
	marshalUint32(buf, j.originalTotalPages, 16)
	marshalUint32(buf, j.numPages, 20)
	marshalUint64(buf, checksum, 24)
	if _, err := j.file.WriteAt(buf, 0); err != nil {
		return err
	}
	return nil
}

func (j *RollbackJournal) headerChecksum() uint64 {
	buf := make([]byte, 24)
	copy(buf[0:8], journalMagic)
	marshalUint32(buf, journalVersion, 8)
	marshalUint32(buf, j.pageSize, 12)
	marshalUint32(buf, j.originalTotalPages, 16)
	marshalUint32(buf, j.numPages, 20)
	return xxhash.Sum64(buf)
}

// WriteDBHeaderBefore writes the original database header to the journal
// before modification.
func (j *RollbackJournal) WriteDBHeaderBefore(ctx context.Context, originalHeader DatabaseHeader) error {
	buf, err := originalHeader.Marshal()
	if err != nil {
		return fmt.Errorf("marshal database header: %w", err)
	}
	if _, err := j.file.WriteAt(buf, journalHeaderSize); err != nil {
		return fmt.Errorf("write database header to journal: %w", err)
	}
	return nil
}

// WritePageBefore appends the original raw content of one page.
func (j *RollbackJournal) WritePageBefore(ctx context.Context, pageIdx PageIndex, original []byte) error {
	if uint32(len(original)) != j.pageSize {
		return fmt.Errorf("journal pre-image for page %d has size %d, want %d", pageIdx, len(original), j.pageSize)
	}

	offset := int64(journalHeaderSize) + DatabaseHeaderSize + int64(j.numPages)*int64(4+j.pageSize)

	indexBuf := marshalUint32(make([]byte, 4), uint32(pageIdx), 0)
	if _, err := j.file.WriteAt(indexBuf, offset); err != nil {
		return fmt.Errorf("write page index: %w", err)
	}
	if _, err := j.file.WriteAt(original, offset+4); err != nil {
		return fmt.Errorf("write page data: %w", err)
	}

	j.numPages += 1
	return nil
}

// Finalize rewrites the journal header with the final page count and
// checksum and syncs the journal to disk. Only a finalized journal is
// replayed on recovery.
func (j *RollbackJournal) Finalize(ctx context.Context) error {
	if err := j.writeHeader(j.headerChecksum()); err != nil {
		return fmt.Errorf("finalize journal header: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

func (j *RollbackJournal) Close() error {
	return j.file.Close()
}

// Replay restores the journal's pre-images into the database file, undoing
// a commit flush that failed partway. The file is truncated back to its
// pre-transaction page count and synced.
func (j *RollbackJournal) Replay(ctx context.Context, file DBFile) error {
	return replayPreImages(j.file, file, j.originalTotalPages, j.numPages)
}

// Delete invalidates and removes the journal file after a successful flush.
// Truncating first guarantees that a leftover file can never be mistaken
// for a complete journal if the removal itself fails.
func (j *RollbackJournal) Delete() error {
	if err := j.file.Truncate(0); err != nil {
		j.file.Close()
		return fmt.Errorf("truncate journal: %w", err)
	}
	if err := j.file.Close(); err != nil {
		return err
	}
	return os.Remove(j.filepath)
}

// RecoverFromJournal checks for a leftover journal next to the database
// file and, if it is complete, replays the pre-images to restore the
// database to its pre-transaction state. An incomplete journal means the
// crash happened before the flush started, so the database file is already
// consistent and the journal is simply discarded.
func RecoverFromJournal(ctx context.Context, dbPath string, file DBFile, logger *zap.Logger) (bool, error) {
	journalFile, err := os.Open(journalPath(dbPath))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open journal: %w", err)
	}
	defer journalFile.Close()

	valid, originalTotalPages, numPages, err := validateJournal(journalFile)
	if err != nil {
		return false, err
	}
	if !valid {
		logger.Warn("discarding incomplete journal", zap.String("journal", journalPath(dbPath)))
		return false, os.Remove(journalPath(dbPath))
	}

	if err := replayPreImages(journalFile, file, originalTotalPages, numPages); err != nil {
		return false, err
	}

	logger.Info("recovered database from journal",
		zap.String("journal", journalPath(dbPath)),
		zap.Uint32("pages_restored", numPages))

	return true, os.Remove(journalPath(dbPath))
}

// replayPreImages writes the header and page pre-images stored in the
// journal back into the database file, truncates away any file extension
// made by the interrupted transaction and syncs.
func replayPreImages(journalFile io.ReaderAt, file DBFile, originalTotalPages, numPages uint32) error {
	headerBuf := make([]byte, DatabaseHeaderSize)
	if _, err := journalFile.ReadAt(headerBuf, journalHeaderSize); err != nil {
		return fmt.Errorf("read journal database header: %w", err)
	}
	pageBuf := make([]byte, PageSize)
	copy(pageBuf, headerBuf)
	if _, err := file.WriteAt(pageBuf, 0); err != nil {
		return fmt.Errorf("restore database header: %w", err)
	}

	for i := uint32(0); i < numPages; i++ {
		offset := int64(journalHeaderSize) + DatabaseHeaderSize + int64(i)*int64(4+PageSize)

		indexBuf := make([]byte, 4)
		if _, err := journalFile.ReadAt(indexBuf, offset); err != nil {
			return fmt.Errorf("read journal page index: %w", err)
		}
		pageIdx := unmarshalUint32(indexBuf, 0)

		if _, err := journalFile.ReadAt(pageBuf, offset+4); err != nil {
			return fmt.Errorf("read journal page data: %w", err)
		}
		if _, err := file.WriteAt(pageBuf, int64(pageIdx)*int64(PageSize)); err != nil {
			return fmt.Errorf("restore page %d: %w", pageIdx, err)
		}
	}

	if truncater, ok := file.(Truncater); ok {
		if err := truncater.Truncate(int64(originalTotalPages) * int64(PageSize)); err != nil {
			return fmt.Errorf("truncate database file: %w", err)
		}
	}
	if syncer, ok := file.(Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("sync database file: %w", err)
		}
	}

	return nil
}

// validateJournal checks the journal header checksum and file size. Both
// must match for the journal to be considered complete.
func validateJournal(journalFile *os.File) (bool, uint32, uint32, error) {
	buf := make([]byte, journalHeaderSize)
	if _, err := journalFile.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, 0, 0, nil
		}
		return false, 0, 0, fmt.Errorf("read journal header: %w", err)
	}

	if string(buf[0:8]) != journalMagic || unmarshalUint32(buf, 8) != journalVersion {
		return false, 0, 0, nil
	}
	pageSize := unmarshalUint32(buf, 12)
	if pageSize != PageSize {
		return false, 0, 0, nil
	}
	originalTotalPages := unmarshalUint32(buf, 16)
	numPages := unmarshalUint32(buf, 20)

	if sum := xxhash.Sum64(buf[0:24]); sum != unmarshalUint64(buf, 24) {
		return false, 0, 0, nil
	}

	stat, err := journalFile.Stat()
	if err != nil {
		return false, 0, 0, err
	}
	expectedSize := int64(journalHeaderSize) + DatabaseHeaderSize + int64(numPages)*int64(4+pageSize)
	if stat.Size() != expectedSize {
		return false, 0, 0, nil
	}

	return true, originalTotalPages, numPages, nil
}
