package minidoc

import (
	"fmt"

	"github.com/google/uuid"
)

// Value type tags used by the document codec.
const (
	valueNull uint8 = iota + 1
	valueBool
	valueInt64
	valueFloat64
	valueString
	valueBytes
	valueUUID
	valueArray
	valueDocument
)

type docField struct {
	name  string
	value any
}

// Document is a schemaless record, a sequence of named fields. Field
// order is preserved across marshal and unmarshal. Supported values are
// nil, bool, int64, float64, string, []byte, uuid.UUID, []any and nested
// *Document. Plain ints are widened to int64 on Set.
type Document struct {
	fields []docField
	index  map[string]int
}

func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// Set stores a field value, replacing any previous value for the name.
// Returns the document for chaining.
func (d *Document) Set(name string, value any) *Document {
	if v, ok := value.(int); ok {
		value = int64(v)
	}
	if idx, ok := d.index[name]; ok {
		d.fields[idx].value = value
		return d
	}
	d.index[name] = len(d.fields)
	d.fields = append(d.fields, docField{name: name, value: value})
	return d
}

// Get returns the field value and whether the field exists.
func (d *Document) Get(name string) (any, bool) {
	idx, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.fields[idx].value, true
}

func (d *Document) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Delete removes a field if present.
func (d *Document) Delete(name string) {
	idx, ok := d.index[name]
	if !ok {
		return
	}
	d.fields = append(d.fields[:idx], d.fields[idx+1:]...)
	delete(d.index, name)
	for name, i := range d.index {
		if i > idx {
			d.index[name] = i - 1
		}
	}
}

func (d *Document) Len() int {
	return len(d.fields)
}

// Fields returns field names in insertion order.
func (d *Document) Fields() []string {
	names := make([]string, 0, len(d.fields))
	for _, field := range d.fields {
		names = append(names, field.name)
	}
	return names
}

// ID returns the document identity field value, or nil if unset.
func (d *Document) ID() any {
	value, _ := d.Get(IDField)
	return value
}

func (d *Document) SetID(value any) *Document {
	return d.Set(IDField, value)
}

// EnsureID assigns a random UUID identity if the document has none.
func (d *Document) EnsureID() *Document {
	if !d.Has(IDField) {
		d.Set(IDField, uuid.New())
	}
	return d
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	clone := NewDocument()
	for _, field := range d.fields {
		clone.Set(field.name, cloneValue(field.value))
	}
	return clone
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case []byte:
		b := make([]byte, len(v))
		copy(b, v)
		return b
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = cloneValue(item)
		}
		return items
	case *Document:
		return v.Clone()
	default:
		return value
	}
}

// Validate checks all field names and value types, including nested
// arrays and documents.
func (d *Document) Validate() error {
	for _, field := range d.fields {
		if err := ValidateFieldName(field.name); err != nil {
			return err
		}
		if err := validateValue(field.value); err != nil {
			return fmt.Errorf("field %q: %w", field.name, err)
		}
	}
	return nil
}

func validateValue(value any) error {
	switch v := value.(type) {
	case nil, bool, int64, float64, string, []byte, uuid.UUID:
		return nil
	case []any:
		for _, item := range v {
			if err := validateValue(item); err != nil {
				return err
			}
		}
		return nil
	case *Document:
		return v.Validate()
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValueType, value)
	}
}

// Size returns the marshaled size in bytes.
func (d *Document) Size() uint64 {
	size := uint64(2)
	for _, field := range d.fields {
		size += 1 + uint64(len(field.name)) + valueSize(field.value)
	}
	return size
}

func valueSize(value any) uint64 {
	switch v := value.(type) {
	case nil:
		return 1
	case bool:
		return 1 + 1
	case int64:
		return 1 + 8
	case float64:
		return 1 + 8
	case string:
		return 1 + 4 + uint64(len(v))
	case []byte:
		return 1 + 4 + uint64(len(v))
	case uuid.UUID:
		return 1 + 16
	case []any:
		size := uint64(1 + 4)
		for _, item := range v {
			size += valueSize(item)
		}
		return size
	case *Document:
		return 1 + v.Size()
	}
	return 1
}

// Marshal serializes the document. Field count first, then each field as
// a length-prefixed name followed by a type-tagged value.
func (d *Document) Marshal() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, d.Size())
	if _, err := d.marshalInto(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Document) marshalInto(buf []byte, offset uint64) (uint64, error) {
	marshalUint16(buf, uint16(len(d.fields)), offset)
	offset += 2

	for _, field := range d.fields {
		buf[offset] = uint8(len(field.name))
		offset += 1
		copy(buf[offset:], field.name)
		offset += uint64(len(field.name))

		var err error
		offset, err = marshalValue(buf, field.value, offset)
		if err != nil {
			return 0, err
		}
	}

	return offset, nil
}

func marshalValue(buf []byte, value any, offset uint64) (uint64, error) {
	switch v := value.(type) {
	case nil:
		buf[offset] = valueNull
		return offset + 1, nil
	case bool:
		buf[offset] = valueBool
		marshalBool(buf, v, offset+1)
		return offset + 2, nil
	case int64:
		buf[offset] = valueInt64
		marshalInt64(buf, v, offset+1)
		return offset + 9, nil
	case float64:
		buf[offset] = valueFloat64
		marshalFloat64(buf, v, offset+1)
		return offset + 9, nil
	case string:
		buf[offset] = valueString
		marshalUint32(buf, uint32(len(v)), offset+1)
		copy(buf[offset+5:], v)
		return offset + 5 + uint64(len(v)), nil
	case []byte:
		buf[offset] = valueBytes
		marshalUint32(buf, uint32(len(v)), offset+1)
		copy(buf[offset+5:], v)
		return offset + 5 + uint64(len(v)), nil
	case uuid.UUID:
		buf[offset] = valueUUID
		copy(buf[offset+1:], v[:])
		return offset + 17, nil
	case []any:
		buf[offset] = valueArray
		marshalUint32(buf, uint32(len(v)), offset+1)
		offset += 5
		for _, item := range v {
			var err error
			offset, err = marshalValue(buf, item, offset)
			if err != nil {
				return 0, err
			}
		}
		return offset, nil
	case *Document:
		buf[offset] = valueDocument
		return v.marshalInto(buf, offset+1)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedValueType, value)
	}
}

// UnmarshalDocument deserializes a document previously marshaled with
// Marshal.
func UnmarshalDocument(buf []byte) (*Document, error) {
	doc, offset, err := unmarshalDocument(buf, 0)
	if err != nil {
		return nil, err
	}
	if offset != uint64(len(buf)) {
		return nil, fmt.Errorf("document has %d trailing bytes", uint64(len(buf))-offset)
	}
	return doc, nil
}

func unmarshalDocument(buf []byte, offset uint64) (*Document, uint64, error) {
	if offset+2 > uint64(len(buf)) {
		return nil, 0, fmt.Errorf("document truncated at offset %d", offset)
	}

	fieldCount := unmarshalUint16(buf, offset)
	offset += 2

	doc := NewDocument()
	for i := uint16(0); i < fieldCount; i++ {
		if offset >= uint64(len(buf)) {
			return nil, 0, fmt.Errorf("document truncated at field %d", i)
		}
		nameLen := uint64(buf[offset])
		offset += 1
		if offset+nameLen > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("document truncated at field %d", i)
		}
		name := string(buf[offset : offset+nameLen])
		offset += nameLen

		value, next, err := unmarshalValue(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		offset = next

		doc.Set(name, value)
	}

	return doc, offset, nil
}

func unmarshalValue(buf []byte, offset uint64) (any, uint64, error) {
	if offset >= uint64(len(buf)) {
		return nil, 0, fmt.Errorf("value truncated at offset %d", offset)
	}

	tag := buf[offset]
	offset += 1

	switch tag {
	case valueNull:
		return nil, offset, nil
	case valueBool:
		if offset+1 > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("bool value truncated at offset %d", offset)
		}
		return unmarshalBool(buf, offset), offset + 1, nil
	case valueInt64:
		if offset+8 > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("int value truncated at offset %d", offset)
		}
		return unmarshalInt64(buf, offset), offset + 8, nil
	case valueFloat64:
		if offset+8 > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("float value truncated at offset %d", offset)
		}
		return unmarshalFloat64(buf, offset), offset + 8, nil
	case valueString:
		if offset+4 > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("string value truncated at offset %d", offset)
		}
		length := uint64(unmarshalUint32(buf, offset))
		offset += 4
		if offset+length > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("string value truncated at offset %d", offset)
		}
		return string(buf[offset : offset+length]), offset + length, nil
	case valueBytes:
		if offset+4 > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("bytes value truncated at offset %d", offset)
		}
		length := uint64(unmarshalUint32(buf, offset))
		offset += 4
		if offset+length > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("bytes value truncated at offset %d", offset)
		}
		b := make([]byte, length)
		copy(b, buf[offset:offset+length])
		return b, offset + length, nil
	case valueUUID:
		if offset+16 > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("uuid value truncated at offset %d", offset)
		}
		var id uuid.UUID
		copy(id[:], buf[offset:offset+16])
		return id, offset + 16, nil
	case valueArray:
		if offset+4 > uint64(len(buf)) {
			return nil, 0, fmt.Errorf("array value truncated at offset %d", offset)
		}
		length := unmarshalUint32(buf, offset)
		offset += 4
		items := make([]any, 0, length)
		for i := uint32(0); i < length; i++ {
			item, next, err := unmarshalValue(buf, offset)
			if err != nil {
				return nil, 0, err
			}
			items = append(items, item)
			offset = next
		}
		return items, offset, nil
	case valueDocument:
		return unmarshalDocument(buf, offset)
	default:
		return nil, 0, fmt.Errorf("unknown value type tag %d", tag)
	}
}
