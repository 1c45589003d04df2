package storage

import (
	"context"
	"iter"

	"github.com/inodb/vrs-registry/internal/vrs"
)

// NoopStore accepts writes and returns empty results on reads. Used
// when the service runs as a translation-only endpoint with no
// configured storage URI.
type NoopStore struct{}

var _ Store = (*NoopStore)(nil)

// NewNoopStore returns the no-op store.
func NewNoopStore() *NoopStore { return &NoopStore{} }

// Setup implements Store.
func (*NoopStore) Setup(context.Context) error { return nil }

// Close implements Store.
func (*NoopStore) Close() error { return nil }

// WaitForWrites implements Store.
func (*NoopStore) WaitForWrites(context.Context) error { return nil }

// WipeDB implements Store.
func (*NoopStore) WipeDB(context.Context) error { return nil }

// AddObjects implements Store; writes are discarded.
func (*NoopStore) AddObjects(context.Context, []vrs.Object) error { return nil }

// GetObjects implements Store.
func (*NoopStore) GetObjects(context.Context, ObjectType, []string) ([]vrs.Object, error) {
	return nil, nil
}

// GetAllObjectIDs implements Store.
func (*NoopStore) GetAllObjectIDs(context.Context) (iter.Seq[string], error) {
	return func(func(string) bool) {}, nil
}

// GetObjectCount implements Store.
func (*NoopStore) GetObjectCount(context.Context, ObjectType) (int64, error) { return 0, nil }

// DeleteObjects implements Store.
func (*NoopStore) DeleteObjects(context.Context, ObjectType, []string) error { return nil }

// AddMapping implements Store.
func (*NoopStore) AddMapping(_ context.Context, m Mapping) error { return ValidateMapping(m) }

// DeleteMapping implements Store.
func (*NoopStore) DeleteMapping(context.Context, Mapping) error { return nil }

// GetMappings implements Store.
func (*NoopStore) GetMappings(context.Context, string, MappingType) ([]Mapping, error) {
	return nil, nil
}

// AddAnnotation implements Store.
func (*NoopStore) AddAnnotation(context.Context, Annotation) (int64, error) { return 0, nil }

// DeleteAnnotation implements Store.
func (*NoopStore) DeleteAnnotation(context.Context, Annotation) error { return nil }

// GetAnnotations implements Store.
func (*NoopStore) GetAnnotations(context.Context, string, string) ([]Annotation, error) {
	return nil, nil
}

// SearchAlleles implements Store.
func (*NoopStore) SearchAlleles(_ context.Context, _ string, start, end int64) ([]*vrs.Allele, error) {
	if err := ValidateSearchRange(start, end); err != nil {
		return nil, err
	}
	return nil, nil
}
