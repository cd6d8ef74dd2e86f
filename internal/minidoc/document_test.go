package minidoc

import (
	"errors"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_RoundTrip(t *testing.T) {
	t.Parallel()

	address := NewDocument().
		Set("street", gofakeit.Street()).
		Set("city", gofakeit.City())

	doc := NewDocument().
		Set("_id", uuid.New()).
		Set("name", gofakeit.Name()).
		Set("age", int64(42)).
		Set("score", 91.5).
		Set("active", true).
		Set("notes", nil).
		Set("avatar", []byte{0x89, 0x50, 0x4e, 0x47}).
		Set("tags", []any{"alpha", int64(7), false}).
		Set("address", address)

	record, err := doc.Marshal()
	require.NoError(t, err)
	require.Equal(t, doc.Size(), uint64(len(record)))

	decoded, err := UnmarshalDocument(record)
	require.NoError(t, err)

	assert.Equal(t, doc.Fields(), decoded.Fields())
	for _, name := range doc.Fields() {
		if name == "address" {
			continue
		}
		expected, _ := doc.Get(name)
		actual, ok := decoded.Get(name)
		require.True(t, ok, "missing field %q", name)
		assert.Equal(t, expected, actual, "field %q", name)
	}

	nested, ok := decoded.Get("address")
	require.True(t, ok)
	nestedDoc, ok := nested.(*Document)
	require.True(t, ok)
	assert.Equal(t, address.Fields(), nestedDoc.Fields())
}

func TestDocument_FieldOrderPreserved(t *testing.T) {
	t.Parallel()

	doc := NewDocument().
		Set("zebra", int64(1)).
		Set("apple", int64(2)).
		Set("mango", int64(3))

	record, err := doc.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalDocument(record)
	require.NoError(t, err)

	assert.Equal(t, []string{"zebra", "apple", "mango"}, decoded.Fields())
}

func TestDocument_SetReplacesAndWidensInts(t *testing.T) {
	t.Parallel()

	doc := NewDocument().Set("count", 7)
	value, ok := doc.Get("count")
	require.True(t, ok)
	assert.Equal(t, int64(7), value)

	doc.Set("count", int64(8))
	value, _ = doc.Get("count")
	assert.Equal(t, int64(8), value)
	assert.Equal(t, 1, doc.Len())
}

func TestDocument_EnsureID(t *testing.T) {
	t.Parallel()

	doc := NewDocument().Set("name", "no id yet")
	require.Nil(t, doc.ID())

	doc.EnsureID()
	id, ok := doc.ID().(uuid.UUID)
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, id)

	// A second call must not replace the identity
	doc.EnsureID()
	assert.Equal(t, id, doc.ID())
}

func TestDocument_Delete(t *testing.T) {
	t.Parallel()

	doc := NewDocument().
		Set("a", int64(1)).
		Set("b", int64(2)).
		Set("c", int64(3))

	doc.Delete("b")
	assert.Equal(t, []string{"a", "c"}, doc.Fields())
	_, ok := doc.Get("b")
	assert.False(t, ok)

	value, ok := doc.Get("c")
	require.True(t, ok)
	assert.Equal(t, int64(3), value)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	t.Parallel()

	nested := NewDocument().Set("inner", int64(1))
	doc := NewDocument().
		Set("blob", []byte{1, 2, 3}).
		Set("nested", nested)

	clone := doc.Clone()
	nested.Set("inner", int64(2))
	blob, _ := doc.Get("blob")
	blob.([]byte)[0] = 9

	clonedNested, _ := clone.Get("nested")
	value, _ := clonedNested.(*Document).Get("inner")
	assert.Equal(t, int64(1), value)

	clonedBlob, _ := clone.Get("blob")
	assert.Equal(t, []byte{1, 2, 3}, clonedBlob)
}

func TestDocument_ValidateRejectsBadNamesAndValues(t *testing.T) {
	t.Parallel()

	err := NewDocument().Set("9starts-with-digit", int64(1)).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidName))

	err = NewDocument().Set("channel", make(chan int)).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedValueType))

	err = NewDocument().Set("nested", NewDocument().Set("bad name", int64(1))).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidName))
}

func TestDocument_UnmarshalTruncated(t *testing.T) {
	t.Parallel()

	doc := NewDocument().
		Set("active", true).
		Set("count", int64(7)).
		Set("score", 1.5).
		Set("name", "prague").
		Set("raw", []byte{1, 2, 3}).
		Set("tags", []any{int64(1), "a"})

	buf, err := doc.Marshal()
	require.NoError(t, err)

	// Any cut-off prefix must come back as an error, never a panic
	for size := 0; size < len(buf); size++ {
		_, err := UnmarshalDocument(buf[:size])
		assert.Error(t, err, "prefix of %d bytes", size)
	}
}
