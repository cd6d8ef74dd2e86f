package minidoc

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

type KeyKind uint8

// Keys of different kinds order by kind rank first, so an index over a
// field holding mixed types still has a total order.
const (
	KeyNull KeyKind = iota + 1
	KeyBool
	KeyNumber
	KeyString
	KeyBytes
	KeyUUID
)

// Key is a single index entry key extracted from a document field. Int64
// and float64 values share the KeyNumber kind and compare numerically, so
// an index lookup for 42 also matches 42.0.
type Key struct {
	Kind  KeyKind
	Bool  bool
	Int   int64
	Float float64
	IsInt bool
	Str   string
	Bytes []byte
	UUID  uuid.UUID
}

func NullKey() Key {
	return Key{Kind: KeyNull}
}

// NewKey builds an index key from a document field value. Returns
// ErrUnsupportedKeyType for values that cannot be indexed, such as arrays
// and embedded documents.
func NewKey(value any) (Key, error) {
	switch v := value.(type) {
	case nil:
		return Key{Kind: KeyNull}, nil
	case bool:
		return Key{Kind: KeyBool, Bool: v}, nil
	case int:
		return Key{Kind: KeyNumber, Int: int64(v), IsInt: true}, nil
	case int64:
		return Key{Kind: KeyNumber, Int: v, IsInt: true}, nil
	case float64:
		return Key{Kind: KeyNumber, Float: v}, nil
	case string:
		return Key{Kind: KeyString, Str: v}, nil
	case []byte:
		return Key{Kind: KeyBytes, Bytes: v}, nil
	case uuid.UUID:
		return Key{Kind: KeyUUID, UUID: v}, nil
	default:
		return Key{}, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, value)
	}
}

func (k Key) numberValue() float64 {
	if k.IsInt {
		return float64(k.Int)
	}
	return k.Float
}

// Compare returns -1, 0 or 1. Keys of different kinds order by kind rank.
// Two integer keys compare exactly; a mixed int and float pair compares
// through float64, so integers beyond 2^53 can compare equal to a nearby
// float. Applications needing exact ordering at that magnitude should
// index on a single numeric representation.
func (k Key) Compare(other Key) int {
	if k.Kind != other.Kind {
		if k.Kind < other.Kind {
			return -1
		}
		return 1
	}

	switch k.Kind {
	case KeyNull:
		return 0
	case KeyBool:
		if k.Bool == other.Bool {
			return 0
		}
		if !k.Bool {
			return -1
		}
		return 1
	case KeyNumber:
		if k.IsInt && other.IsInt {
			if k.Int < other.Int {
				return -1
			}
			if k.Int > other.Int {
				return 1
			}
			return 0
		}
		a, b := k.numberValue(), other.numberValue()
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	case KeyString:
		return strings.Compare(k.Str, other.Str)
	case KeyBytes:
		return bytes.Compare(k.Bytes, other.Bytes)
	case KeyUUID:
		return bytes.Compare(k.UUID[:], other.UUID[:])
	}

	return 0
}

// Size returns the marshaled size in bytes.
func (k Key) Size() uint64 {
	switch k.Kind {
	case KeyNull:
		return 1
	case KeyBool:
		return 1 + 1
	case KeyNumber:
		return 1 + 1 + 8
	case KeyString:
		return 1 + 4 + uint64(len(k.Str))
	case KeyBytes:
		return 1 + 4 + uint64(len(k.Bytes))
	case KeyUUID:
		return 1 + 16
	}
	return 1
}

// Validate rejects keys whose marshaled form exceeds MaxIndexKeySize.
func (k Key) Validate() error {
	if k.Size() > MaxIndexKeySize {
		return fmt.Errorf("%w: key size %d exceeds %d bytes", ErrIndexKeyTooLarge, k.Size(), MaxIndexKeySize)
	}
	return nil
}

func (k Key) Marshal(buf []byte, offset uint64) uint64 {
	buf[offset] = byte(k.Kind)
	offset += 1

	switch k.Kind {
	case KeyBool:
		marshalBool(buf, k.Bool, offset)
		offset += 1
	case KeyNumber:
		marshalBool(buf, k.IsInt, offset)
		offset += 1
		if k.IsInt {
			marshalInt64(buf, k.Int, offset)
		} else {
			marshalUint64(buf, math.Float64bits(k.Float), offset)
		}
		offset += 8
	case KeyString:
		marshalUint32(buf, uint32(len(k.Str)), offset)
		offset += 4
		copy(buf[offset:], k.Str)
		offset += uint64(len(k.Str))
	case KeyBytes:
		marshalUint32(buf, uint32(len(k.Bytes)), offset)
		offset += 4
		copy(buf[offset:], k.Bytes)
		offset += uint64(len(k.Bytes))
	case KeyUUID:
		copy(buf[offset:], k.UUID[:])
		offset += 16
	}

	return offset
}

func unmarshalKey(buf []byte, offset uint64) (Key, uint64, error) {
	if offset >= uint64(len(buf)) {
		return Key{}, 0, fmt.Errorf("key truncated at offset %d", offset)
	}

	k := Key{Kind: KeyKind(buf[offset])}
	offset += 1

	switch k.Kind {
	case KeyNull:
	case KeyBool:
		k.Bool = unmarshalBool(buf, offset)
		offset += 1
	case KeyNumber:
		k.IsInt = unmarshalBool(buf, offset)
		offset += 1
		if k.IsInt {
			k.Int = unmarshalInt64(buf, offset)
		} else {
			k.Float = math.Float64frombits(unmarshalUint64(buf, offset))
		}
		offset += 8
	case KeyString:
		length := uint64(unmarshalUint32(buf, offset))
		offset += 4
		k.Str = string(buf[offset : offset+length])
		offset += length
	case KeyBytes:
		length := uint64(unmarshalUint32(buf, offset))
		offset += 4
		k.Bytes = make([]byte, length)
		copy(k.Bytes, buf[offset:offset+length])
		offset += length
	case KeyUUID:
		copy(k.UUID[:], buf[offset:offset+16])
		offset += 16
	default:
		return Key{}, 0, fmt.Errorf("unknown key kind %d", k.Kind)
	}

	return k, offset, nil
}

func (k Key) String() string {
	switch k.Kind {
	case KeyNull:
		return "null"
	case KeyBool:
		return fmt.Sprintf("%t", k.Bool)
	case KeyNumber:
		if k.IsInt {
			return fmt.Sprintf("%d", k.Int)
		}
		return fmt.Sprintf("%g", k.Float)
	case KeyString:
		return k.Str
	case KeyBytes:
		return fmt.Sprintf("%x", k.Bytes)
	case KeyUUID:
		return k.UUID.String()
	}
	return "invalid"
}
