// Package storage defines the uniform contract for VRS object stores:
// content-addressed CRUD, annotations, directed mappings, and range
// search. Implementations live in subpackages (duckdb, postgres) plus
// the in-memory and no-op stores in this package.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/inodb/vrs-registry/internal/vrs"
)

// ObjectType selects a class of stored objects.
type ObjectType string

// Supported object types.
const (
	ObjectTypeAllele            ObjectType = "Allele"
	ObjectTypeCopyNumberCount   ObjectType = "CopyNumberCount"
	ObjectTypeCopyNumberChange  ObjectType = "CopyNumberChange"
	ObjectTypeSequenceLocation  ObjectType = "SequenceLocation"
	ObjectTypeSequenceReference ObjectType = "SequenceReference"
)

// MappingType is a directed relation between two stored variations.
// Wire values are fixed for external compatibility.
type MappingType string

// Supported mapping types.
const (
	MappingLiftover      MappingType = "liftover"
	MappingTranscription MappingType = "transcription"
	MappingTranslation   MappingType = "translation"
)

// ValidMappingType reports whether t is one of the supported values.
func ValidMappingType(t MappingType) bool {
	switch t {
	case MappingLiftover, MappingTranscription, MappingTranslation:
		return true
	}
	return false
}

// Mapping is a directed edge between two variations, identified by the
// full (source, dest, type) tuple.
type Mapping struct {
	SourceID string      `json:"source_id"`
	DestID   string      `json:"dest_id"`
	Type     MappingType `json:"mapping_type"`
}

// Annotation attaches a free-form JSON value to a stored object.
// Identical annotations may be stored more than once.
type Annotation struct {
	ID       int64           `json:"annotation_id,omitempty"`
	ObjectID string          `json:"object_id"`
	Type     string          `json:"annotation_type"`
	Value    json.RawMessage `json:"annotation_value"`
}

// MaxRowsDefault bounds result sets for reads and searches; excess
// rows are truncated silently.
const MaxRowsDefault = 1024

// Store is the uniform storage contract. All implementations preserve
// these semantics; differences are limited to performance.
type Store interface {
	// Setup prepares the backend, creating tables/schema if absent.
	Setup(ctx context.Context) error

	// Close flushes pending writes and releases all resources.
	Close() error

	// WaitForWrites returns only after every previously accepted write
	// is durable. Reads begun after it returns see those writes.
	WaitForWrites(ctx context.Context) error

	// WipeDB removes all rows from all managed tables.
	WipeDB(ctx context.Context) error

	// AddObjects inserts the objects under insert-if-absent semantics;
	// duplicates are skipped silently. Variations must be fully
	// identified with materialized locations and references.
	AddObjects(ctx context.Context, objs []vrs.Object) error

	// GetObjects returns stored objects of the given type matching the
	// IDs, up to the row cap. Unknown IDs are skipped.
	GetObjects(ctx context.Context, typ ObjectType, ids []string) ([]vrs.Object, error)

	// GetAllObjectIDs lazily yields every known object ID.
	GetAllObjectIDs(ctx context.Context) (iter.Seq[string], error)

	// GetObjectCount returns the number of stored objects of the type.
	GetObjectCount(ctx context.Context, typ ObjectType) (int64, error)

	// DeleteObjects removes matching rows without cascading. Deleting
	// an object that others depend on is a DataIntegrityError.
	DeleteObjects(ctx context.Context, typ ObjectType, ids []string) error

	// AddMapping inserts a mapping idempotently. Both endpoints must
	// exist and differ.
	AddMapping(ctx context.Context, m Mapping) error

	// DeleteMapping removes the matching mapping; no-op if absent.
	DeleteMapping(ctx context.Context, m Mapping) error

	// GetMappings lists mappings from the source ID, optionally
	// filtered by type (empty type means all).
	GetMappings(ctx context.Context, sourceID string, typ MappingType) ([]Mapping, error)

	// AddAnnotation inserts an annotation; duplicates are allowed.
	// The target object must exist.
	AddAnnotation(ctx context.Context, a Annotation) (int64, error)

	// DeleteAnnotation removes the matching annotation row.
	DeleteAnnotation(ctx context.Context, a Annotation) error

	// GetAnnotations lists annotations for the object, optionally
	// filtered by type (empty type means all), up to the row cap.
	GetAnnotations(ctx context.Context, objectID, annotationType string) ([]Annotation, error)

	// SearchAlleles returns Alleles on the refget accession whose
	// location interval is contained within [start, end] inclusive.
	SearchAlleles(ctx context.Context, refgetAccession string, start, end int64) ([]*vrs.Allele, error)
}

// Batcher is implemented by stores that support the scoped batch mode
// with a background writer. While the scope is active, AddObjects
// accumulates rows in-process; leaving the scope enqueues the
// remainder and, if so configured, performs a flush barrier.
type Batcher interface {
	InBatch(ctx context.Context, fn func() error) error
}

// WithBatch runs fn inside the store's batch scope when the store
// supports batching, and directly otherwise.
func WithBatch(ctx context.Context, s Store, fn func() error) error {
	if b, ok := s.(Batcher); ok {
		return b.InBatch(ctx, fn)
	}
	return fn()
}

// ObjectTypeOf maps a VRS object to its storage type selector.
func ObjectTypeOf(obj vrs.Object) ObjectType {
	return ObjectType(obj.ObjectType())
}

// ValidateSearchRange enforces the shared search-parameter contract.
func ValidateSearchRange(start, end int64) error {
	if start < 0 || start > end {
		return &InvalidSearchParamsError{Start: start, End: end}
	}
	return nil
}

// ValidateMapping enforces the shared mapping-shape contract (endpoint
// existence is checked by the backend).
func ValidateMapping(m Mapping) error {
	if !ValidMappingType(m.Type) {
		return fmt.Errorf("unknown mapping type %q", m.Type)
	}
	if m.SourceID == m.DestID {
		return fmt.Errorf("mapping source and destination must differ (%s)", m.SourceID)
	}
	return nil
}
