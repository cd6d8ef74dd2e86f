package minidoc

const (
	// PageSize is the fixed size of every page in the database file.
	PageSize = 4096 // 4 kilobytes

	// basePageHeaderSize is the page type byte plus the xxhash64 checksum
	// of the page payload.
	basePageHeaderSize = 1 + 8

	// MaxCollectionNameLength bounds collection names so a collection page
	// with a full set of index definitions still fits in one page.
	MaxCollectionNameLength = 60

	// MaxFieldNameLength bounds document field names (1 byte length prefix).
	MaxFieldNameLength = 255

	// MaxIndexesPerCollection bounds index definitions per collection so
	// the collection page never overflows.
	MaxIndexesPerCollection = 15

	// MaxIndexKeySize is the maximum serialized size of an index key.
	MaxIndexKeySize = 255

	// IDField is the document identity field, always present on stored
	// documents and covered by an automatic unique index.
	IDField = "_id"
)

// ValidateCollectionName checks a proposed collection name before any page
// is touched. Names must start with a letter or underscore and may contain
// letters, digits, underscores and dashes.
func ValidateCollectionName(name string) error {
	return validateName(name, MaxCollectionNameLength)
}

// ValidateFieldName checks a proposed field name with the same rules as
// collection names but a larger length bound.
func ValidateFieldName(name string) error {
	return validateName(name, MaxFieldNameLength)
}

func validateName(name string, maxLength int) error {
	if name == "" || len(name) > maxLength {
		return ErrInvalidName
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9', r == '-':
			if i == 0 {
				return ErrInvalidName
			}
		default:
			return ErrInvalidName
		}
	}
	return nil
}
