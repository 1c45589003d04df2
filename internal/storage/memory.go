package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/inodb/vrs-registry/internal/vrs"
)

// MemoryStore is a trivial in-process collection implementation of the
// Store contract, used for tests and translation-only deployments that
// still want lookups.
type MemoryStore struct {
	mu          sync.RWMutex
	objects     map[ObjectType]map[string][]byte
	annotations []Annotation
	nextAnnID   int64
	mappings    map[Mapping]struct{}

	// reference counts for dependency checks on delete
	locationRefs map[string]int // location ID -> referencing variations
	seqRefRefs   map[string]int // refget accession -> referencing locations

	maxRows int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{maxRows: MaxRowsDefault}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.objects = map[ObjectType]map[string][]byte{
		ObjectTypeAllele:            {},
		ObjectTypeCopyNumberCount:   {},
		ObjectTypeCopyNumberChange:  {},
		ObjectTypeSequenceLocation:  {},
		ObjectTypeSequenceReference: {},
	}
	s.annotations = nil
	s.mappings = map[Mapping]struct{}{}
	s.locationRefs = map[string]int{}
	s.seqRefRefs = map[string]int{}
}

// Setup implements Store.
func (s *MemoryStore) Setup(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// WaitForWrites implements Store; all writes are synchronous.
func (s *MemoryStore) WaitForWrites(context.Context) error { return nil }

// WipeDB implements Store.
func (s *MemoryStore) WipeDB(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// AddObjects implements Store.
func (s *MemoryStore) AddObjects(_ context.Context, objs []vrs.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range objs {
		if err := s.addOne(obj); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) addOne(obj vrs.Object) error {
	if v, ok := obj.(vrs.Variation); ok {
		ref, loc, _, err := vrs.Decompose(v)
		if err != nil {
			return err
		}
		if err := s.put(ObjectTypeSequenceReference, ref.GetID(), ref); err != nil {
			return err
		}
		if _, exists := s.objects[ObjectTypeSequenceLocation][loc.ID]; !exists {
			s.seqRefRefs[ref.RefgetAccession]++
		}
		if err := s.put(ObjectTypeSequenceLocation, loc.ID, loc); err != nil {
			return err
		}
		typ := ObjectTypeOf(obj)
		if _, exists := s.objects[typ][v.GetID()]; !exists {
			s.locationRefs[loc.ID]++
		}
		return s.put(typ, v.GetID(), obj)
	}

	switch o := obj.(type) {
	case *vrs.SequenceReference:
		if o.RefgetAccession == "" {
			return &vrs.IncompleteObjectError{Type: vrs.TypeSequenceReference, Reason: "missing refget accession"}
		}
		return s.put(ObjectTypeSequenceReference, o.GetID(), o)
	case *vrs.SequenceLocation:
		if o.ID == "" {
			return &vrs.IncompleteObjectError{Type: vrs.TypeSequenceLocation, Reason: "missing id"}
		}
		return s.put(ObjectTypeSequenceLocation, o.ID, o)
	default:
		return fmt.Errorf("cannot store object of type %T", obj)
	}
}

// put inserts under insert-if-absent semantics.
func (s *MemoryStore) put(typ ObjectType, id string, obj vrs.Object) error {
	table := s.objects[typ]
	if _, exists := table[id]; exists {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}
	table[id] = data
	return nil
}

// GetObjects implements Store.
func (s *MemoryStore) GetObjects(_ context.Context, typ ObjectType, ids []string) ([]vrs.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.objects[typ]
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", typ)
	}
	var out []vrs.Object
	for _, id := range ids {
		data, found := table[id]
		if !found {
			continue
		}
		obj, err := vrs.FromJSON(data)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
		if len(out) >= s.maxRows {
			break
		}
	}
	return out, nil
}

// GetAllObjectIDs implements Store.
func (s *MemoryStore) GetAllObjectIDs(context.Context) (iter.Seq[string], error) {
	s.mu.RLock()
	var ids []string
	for _, table := range s.objects {
		for id := range table {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	return func(yield func(string) bool) {
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}, nil
}

// GetObjectCount implements Store.
func (s *MemoryStore) GetObjectCount(_ context.Context, typ ObjectType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.objects[typ]
	if !ok {
		return 0, fmt.Errorf("unknown object type %q", typ)
	}
	return int64(len(table)), nil
}

// DeleteObjects implements Store.
func (s *MemoryStore) DeleteObjects(_ context.Context, typ ObjectType, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.objects[typ]
	if !ok {
		return fmt.Errorf("unknown object type %q", typ)
	}
	for _, id := range ids {
		data, exists := table[id]
		if !exists {
			continue
		}
		if err := s.checkDeletable(typ, id); err != nil {
			return err
		}
		delete(table, id)
		s.releaseRefs(typ, data)
	}
	return nil
}

func (s *MemoryStore) checkDeletable(typ ObjectType, id string) error {
	switch typ {
	case ObjectTypeAllele, ObjectTypeCopyNumberCount, ObjectTypeCopyNumberChange:
		for _, a := range s.annotations {
			if a.ObjectID == id {
				return &DataIntegrityError{ID: id, Detail: "annotations reference it"}
			}
		}
		for m := range s.mappings {
			if m.SourceID == id || m.DestID == id {
				return &DataIntegrityError{ID: id, Detail: "mappings reference it"}
			}
		}
	case ObjectTypeSequenceLocation:
		if s.locationRefs[id] > 0 {
			return &DataIntegrityError{ID: id, Detail: "variations reference it"}
		}
	case ObjectTypeSequenceReference:
		if s.seqRefRefs[id] > 0 {
			return &DataIntegrityError{ID: id, Detail: "locations reference it"}
		}
	}
	return nil
}

// releaseRefs decrements dependency counters when a variation or
// location row is removed.
func (s *MemoryStore) releaseRefs(typ ObjectType, data []byte) {
	obj, err := vrs.FromJSON(data)
	if err != nil {
		return
	}
	switch o := obj.(type) {
	case vrs.Variation:
		if loc := o.GetLocation(); loc != nil {
			s.locationRefs[loc.ID]--
		}
	case *vrs.SequenceLocation:
		if o.SequenceReference != nil {
			s.seqRefRefs[o.SequenceReference.RefgetAccession]--
		}
	}
}

func (s *MemoryStore) exists(id string) bool {
	for _, table := range s.objects {
		if _, ok := table[id]; ok {
			return true
		}
	}
	return false
}

// AddMapping implements Store.
func (s *MemoryStore) AddMapping(_ context.Context, m Mapping) error {
	if err := ValidateMapping(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists(m.SourceID) {
		return &MissingReferenceError{ID: m.SourceID}
	}
	if !s.exists(m.DestID) {
		return &MissingReferenceError{ID: m.DestID}
	}
	s.mappings[m] = struct{}{}
	return nil
}

// DeleteMapping implements Store.
func (s *MemoryStore) DeleteMapping(_ context.Context, m Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, m)
	return nil
}

// GetMappings implements Store.
func (s *MemoryStore) GetMappings(_ context.Context, sourceID string, typ MappingType) ([]Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Mapping
	for m := range s.mappings {
		if m.SourceID != sourceID {
			continue
		}
		if typ != "" && m.Type != typ {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// AddAnnotation implements Store.
func (s *MemoryStore) AddAnnotation(_ context.Context, a Annotation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists(a.ObjectID) {
		return 0, &MissingReferenceError{ID: a.ObjectID}
	}
	s.nextAnnID++
	a.ID = s.nextAnnID
	s.annotations = append(s.annotations, a)
	return a.ID, nil
}

// DeleteAnnotation implements Store. Matching is field-wise; when the
// annotation carries an ID only that row is removed.
func (s *MemoryStore) DeleteAnnotation(_ context.Context, a Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.annotations[:0]
	removed := false
	for _, existing := range s.annotations {
		match := existing.ObjectID == a.ObjectID && existing.Type == a.Type
		if a.ID != 0 {
			match = existing.ID == a.ID
		}
		if match && !removed {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	s.annotations = kept
	return nil
}

// GetAnnotations implements Store.
func (s *MemoryStore) GetAnnotations(_ context.Context, objectID, annotationType string) ([]Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Annotation
	for _, a := range s.annotations {
		if a.ObjectID != objectID {
			continue
		}
		if annotationType != "" && a.Type != annotationType {
			continue
		}
		out = append(out, a)
		if len(out) >= s.maxRows {
			break
		}
	}
	return out, nil
}

// SearchAlleles implements Store.
func (s *MemoryStore) SearchAlleles(_ context.Context, refgetAccession string, start, end int64) ([]*vrs.Allele, error) {
	if err := ValidateSearchRange(start, end); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*vrs.Allele
	for _, data := range s.objects[ObjectTypeAllele] {
		obj, err := vrs.FromJSON(data)
		if err != nil {
			return nil, err
		}
		allele := obj.(*vrs.Allele)
		if LocationWithin(allele.Location, refgetAccession, start, end) {
			out = append(out, allele)
			if len(out) >= s.maxRows {
				break
			}
		}
	}
	return out, nil
}

// LocationWithin reports whether the location lies within [start, end]
// on the given reference. Range coordinates compare by their outer
// bound; a missing bound on the queried side excludes the location.
func LocationWithin(loc *vrs.SequenceLocation, refgetAccession string, start, end int64) bool {
	if loc == nil || loc.SequenceReference == nil ||
		loc.SequenceReference.RefgetAccession != refgetAccession {
		return false
	}
	effStart, ok := outerBound(loc.Start, true)
	if !ok {
		return false
	}
	effEnd, ok := outerBound(loc.End, false)
	if !ok {
		return false
	}
	return start <= effStart && effEnd <= end
}

// outerBound resolves a coordinate to its comparison value: the
// definite value, or for ranges the looser bound (lower for starts,
// upper for ends).
func outerBound(c *vrs.Coordinate, isStart bool) (int64, bool) {
	if c == nil {
		return 0, false
	}
	if c.Value != nil {
		return *c.Value, true
	}
	if isStart {
		if c.Lower == nil {
			return 0, false
		}
		return *c.Lower, true
	}
	if c.Upper == nil {
		return 0, false
	}
	return *c.Upper, true
}
