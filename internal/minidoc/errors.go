package minidoc

import (
	"errors"
	"fmt"
)

var (
	ErrCollectionNotFound      = errors.New("collection does not exist")
	ErrCollectionAlreadyExists = errors.New("collection already exists")
	ErrIndexNotFound           = errors.New("index does not exist")
	ErrIndexAlreadyExists      = errors.New("index already exists")
	ErrDuplicateKey            = errors.New("duplicate key")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrMissingID               = errors.New("document is missing _id field")

	// ErrInvalidName is returned for structurally invalid collection or
	// field names, always before any page mutation.
	ErrInvalidName = errors.New("invalid name")

	ErrUnsupportedKeyType   = errors.New("unsupported index key type")
	ErrUnsupportedValueType = errors.New("unsupported document value type")
	ErrIndexKeyTooLarge     = errors.New("index key exceeds maximum size")

	// ErrCorruptPage indicates a page read back from disk failed structural
	// validation. Fatal for the current operation, never repaired silently.
	ErrCorruptPage = errors.New("database corrupt")

	ErrIncompatibleVersion = errors.New("incompatible database file version")

	ErrTransactionActive = errors.New("another transaction is already active")
	ErrNoTransaction     = errors.New("no active transaction")

	// ErrNeedsRecovery means a commit flush failed and the file could not
	// be restored in-process, leaving it in an unknown state. No further
	// transactions are accepted until the database is reopened.
	ErrNeedsRecovery = errors.New("database needs recovery")

	// ErrConstruction propagates unchanged from an external document mapper
	// that cannot synthesize an instance for a target shape.
	ErrConstruction = errors.New("cannot construct target instance")
)

func corruptPageError(pageIdx PageIndex, format string, args ...any) error {
	return fmt.Errorf("%w: page %d: %s", ErrCorruptPage, pageIdx, fmt.Sprintf(format, args...))
}
