package minidoc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	ID    uuid.UUID
	Name  string
	Score int64
}

func testUserMapping() *EntityMapping {
	return &EntityMapping{
		Factory: func() any { return new(testUser) },
		Fields: []FieldDescriptor{
			{
				FieldName: IDField,
				AutoID:    true,
				Getter: func(entity any) (any, error) {
					return entity.(*testUser).ID, nil
				},
				Setter: func(entity, value any) error {
					id, ok := value.(uuid.UUID)
					if !ok {
						return fmt.Errorf("expected uuid identity, got %T", value)
					}
					entity.(*testUser).ID = id
					return nil
				},
			},
			{
				FieldName: "name",
				Getter: func(entity any) (any, error) {
					return entity.(*testUser).Name, nil
				},
				Setter: func(entity, value any) error {
					entity.(*testUser).Name = value.(string)
					return nil
				},
			},
			{
				FieldName: "score",
				Getter: func(entity any) (any, error) {
					return entity.(*testUser).Score, nil
				},
				Setter: func(entity, value any) error {
					entity.(*testUser).Score = value.(int64)
					return nil
				},
			},
		},
	}
}

func TestEntityMapping_RoundTrip(t *testing.T) {
	t.Parallel()

	mapping := testUserMapping()
	original := &testUser{ID: uuid.New(), Name: "rex", Score: 9000}

	doc, err := mapping.Dump(original)
	require.NoError(t, err)
	assert.Equal(t, original.ID, doc.ID())

	loaded, err := mapping.Load(doc)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestEntityMapping_LoadLeavesMissingFieldsZero(t *testing.T) {
	t.Parallel()

	mapping := testUserMapping()
	doc := NewDocument().Set("name", "partial")

	loaded, err := mapping.Load(doc)
	require.NoError(t, err)
	user := loaded.(*testUser)
	assert.Equal(t, "partial", user.Name)
	assert.Equal(t, uuid.Nil, user.ID)
	assert.Zero(t, user.Score)
}

func TestEntityMapping_LoadWithoutFactory(t *testing.T) {
	t.Parallel()

	mapping := &EntityMapping{}
	_, err := mapping.Load(NewDocument())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConstruction))

	mapping = &EntityMapping{Factory: func() any { return nil }}
	_, err = mapping.Load(NewDocument())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConstruction))
}

func TestMapperRegistry_ResolveBuildsOnce(t *testing.T) {
	t.Parallel()

	registry := NewMapperRegistry()

	var builds atomic.Int64
	build := func() (*EntityMapping, error) {
		builds.Add(1)
		return testUserMapping(), nil
	}

	var wg sync.WaitGroup
	results := make([]*EntityMapping, 10)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			mapping, err := registry.Resolve("testUser", build)
			assert.NoError(t, err)
			results[i] = mapping
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), builds.Load())
	for _, mapping := range results[1:] {
		assert.Same(t, results[0], mapping)
	}
}

func TestMapperRegistry_ResolveMemoizesErrors(t *testing.T) {
	t.Parallel()

	registry := NewMapperRegistry()
	buildErr := errors.New("no such type")

	var builds int
	for _i := 0; _i < 3; _i++ {
		_, err := registry.Resolve("broken", func() (*EntityMapping, error) {
			builds += 1
			return nil, buildErr
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, buildErr))
	}
	assert.Equal(t, 1, builds)
}
