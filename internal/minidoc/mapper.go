package minidoc

import (
	"fmt"
	"sync"
)

// FieldDescriptor describes how one field of an application type maps to
// a document field.
type FieldDescriptor struct {
	FieldName string
	AutoID    bool
	Getter    func(entity any) (any, error)
	Setter    func(entity, value any) error
}

// EntityMapping converts between application values and documents.
// Factory produces a fresh addressable instance for Load to fill in.
type EntityMapping struct {
	Factory func() any
	Fields  []FieldDescriptor
}

// Dump converts an application value into a document.
func (m *EntityMapping) Dump(entity any) (*Document, error) {
	doc := NewDocument()
	for _, field := range m.Fields {
		value, err := field.Getter(entity)
		if err != nil {
			return nil, fmt.Errorf("get field %q: %w", field.FieldName, err)
		}
		doc.Set(field.FieldName, value)
	}
	return doc, nil
}

// Load converts a document back into a fresh application value. Fields
// absent from the document are left at their zero value.
func (m *EntityMapping) Load(doc *Document) (any, error) {
	if m.Factory == nil {
		return nil, fmt.Errorf("%w: mapping has no factory", ErrConstruction)
	}
	entity := m.Factory()
	if entity == nil {
		return nil, fmt.Errorf("%w: factory returned nil", ErrConstruction)
	}
	for _, field := range m.Fields {
		value, ok := doc.Get(field.FieldName)
		if !ok {
			continue
		}
		if err := field.Setter(entity, value); err != nil {
			return nil, fmt.Errorf("set field %q: %w", field.FieldName, err)
		}
	}
	return entity, nil
}

// MapperRegistry memoizes entity mappings per type key. Building a
// mapping can be expensive, Resolve runs the build function at most once
// per key.
type MapperRegistry struct {
	mappings sync.Map
}

type mappingEntry struct {
	once    sync.Once
	mapping *EntityMapping
	err     error
}

func NewMapperRegistry() *MapperRegistry {
	return &MapperRegistry{}
}

// Resolve returns the memoized mapping for key, calling build on first
// use. A build error is memoized as well.
func (r *MapperRegistry) Resolve(key string, build func() (*EntityMapping, error)) (*EntityMapping, error) {
	actual, _ := r.mappings.LoadOrStore(key, &mappingEntry{})
	entry := actual.(*mappingEntry)
	entry.once.Do(func() {
		entry.mapping, entry.err = build()
	})
	return entry.mapping, entry.err
}
