package minidoc

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Ordering(t *testing.T) {
	t.Parallel()

	values := []any{
		nil,
		false,
		true,
		int64(-5),
		int64(3),
		3.5,
		int64(4),
		"alpha",
		"beta",
		[]byte{0x01},
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	}

	keys := make([]Key, 0, len(values))
	for _, value := range values {
		key, err := NewKey(value)
		require.NoError(t, err)
		keys = append(keys, key)
	}

	for i := 1; i < len(keys); i++ {
		assert.Equal(t, -1, keys[i-1].Compare(keys[i]), "expected %s < %s", keys[i-1], keys[i])
		assert.Equal(t, 1, keys[i].Compare(keys[i-1]))
		assert.Equal(t, 0, keys[i].Compare(keys[i]))
	}
}

func TestKey_NumbersCompareAcrossIntAndFloat(t *testing.T) {
	t.Parallel()

	intKey, err := NewKey(int64(42))
	require.NoError(t, err)
	floatKey, err := NewKey(42.0)
	require.NoError(t, err)

	assert.Equal(t, 0, intKey.Compare(floatKey))
	assert.Equal(t, 0, floatKey.Compare(intKey))

	bigger, err := NewKey(42.5)
	require.NoError(t, err)
	assert.Equal(t, -1, intKey.Compare(bigger))

	// Pure integer pairs compare exactly at any magnitude
	hugeInt, err := NewKey(int64(1)<<53 + 1)
	require.NoError(t, err)
	hugeIntNext, err := NewKey(int64(1)<<53 + 2)
	require.NoError(t, err)
	assert.Equal(t, -1, hugeInt.Compare(hugeIntNext))

	// A mixed pair goes through float64 and loses precision past 2^53
	hugeFloat, err := NewKey(float64(int64(1) << 53))
	require.NoError(t, err)
	assert.Equal(t, 0, hugeInt.Compare(hugeFloat))
}

func TestKey_SortStability(t *testing.T) {
	t.Parallel()

	words := []string{"pear", "apple", "orange", "banana", "cherry"}
	keys := make([]Key, 0, len(words))
	for _, word := range words {
		key, err := NewKey(word)
		require.NoError(t, err)
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})

	sorted := make([]string, 0, len(keys))
	for _, key := range keys {
		sorted = append(sorted, key.Str)
	}
	assert.Equal(t, []string{"apple", "banana", "cherry", "orange", "pear"}, sorted)
}

func TestKey_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, value := range []any{
		nil,
		true,
		int64(-123456789),
		3.14159,
		"hello world",
		[]byte{0xde, 0xad, 0xbe, 0xef},
		uuid.New(),
	} {
		key, err := NewKey(value)
		require.NoError(t, err)

		buf := make([]byte, key.Size())
		end := key.Marshal(buf, 0)
		require.Equal(t, key.Size(), end)

		decoded, next, err := unmarshalKey(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, end, next)
		assert.Equal(t, 0, key.Compare(decoded))
	}
}

func TestKey_UnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := NewKey([]any{int64(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedKeyType))
}

func TestKey_TooLarge(t *testing.T) {
	t.Parallel()

	key, err := NewKey(strings.Repeat("x", MaxIndexKeySize))
	require.NoError(t, err)
	err = key.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexKeyTooLarge))

	small, err := NewKey("fits")
	require.NoError(t, err)
	require.NoError(t, small.Validate())
}
