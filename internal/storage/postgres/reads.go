package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"

	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// GetObjects returns stored objects of the given type matching ids, up
// to the configured row cap. Unknown ids are skipped.
func (s *Store) GetObjects(ctx context.Context, typ storage.ObjectType, ids []string) ([]vrs.Object, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	t := s.opts.Tables
	switch typ {
	case storage.ObjectTypeAllele:
		q := fmt.Sprintf(alleleSelect+` WHERE a.id = ANY($1) LIMIT %d`,
			t.Alleles, t.Locations, t.SequenceReferences, s.opts.MaxRows)
		rows, err := s.pool.Query(ctx, q, ids)
		if err != nil {
			return nil, fmt.Errorf("query alleles: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			allele, err := scanAllele(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, allele)
		}
		return out, rows.Err()

	case storage.ObjectTypeCopyNumberCount, storage.ObjectTypeCopyNumberChange:
		q := fmt.Sprintf(`SELECT vrs_object FROM %s WHERE type = $1 AND vrs_id = ANY($2) LIMIT %d`,
			t.VrsObjects, s.opts.MaxRows)
		rows, err := s.pool.Query(ctx, q, string(typ), ids)
		if err != nil {
			return nil, fmt.Errorf("query vrs objects: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			var doc []byte
			if err := rows.Scan(&doc); err != nil {
				return nil, fmt.Errorf("scan vrs object row: %w", err)
			}
			obj, err := vrs.FromJSON(doc)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}
		return out, rows.Err()

	case storage.ObjectTypeSequenceLocation:
		q := fmt.Sprintf(`SELECT l.id, l.digest, l.sequence_reference_id,
			l."start", l."end", l.start_outer, l.start_inner, l.end_outer, l.end_inner,
			r.molecule_type
			FROM %s l JOIN %s r ON r.id = l.sequence_reference_id
			WHERE l.id = ANY($1) LIMIT %d`,
			t.Locations, t.SequenceReferences, s.opts.MaxRows)
		rows, err := s.pool.Query(ctx, q, ids)
		if err != nil {
			return nil, fmt.Errorf("query locations: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			var lr storage.LocationRow
			var molType *string
			if err := rows.Scan(&lr.ID, &lr.Digest, &lr.SequenceReferenceID,
				&lr.Start, &lr.End, &lr.StartOuter, &lr.StartInner, &lr.EndOuter, &lr.EndInner,
				&molType); err != nil {
				return nil, fmt.Errorf("scan location row: %w", err)
			}
			out = append(out, lr.Location(seqRef(lr.SequenceReferenceID, molType)))
		}
		return out, rows.Err()

	case storage.ObjectTypeSequenceReference:
		q := fmt.Sprintf(`SELECT id, molecule_type FROM %s WHERE id = ANY($1) LIMIT %d`,
			t.SequenceReferences, s.opts.MaxRows)
		rows, err := s.pool.Query(ctx, q, ids)
		if err != nil {
			return nil, fmt.Errorf("query sequence references: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			var id string
			var molType *string
			if err := rows.Scan(&id, &molType); err != nil {
				return nil, fmt.Errorf("scan sequence reference row: %w", err)
			}
			out = append(out, seqRef(id, molType))
		}
		return out, rows.Err()

	default:
		return nil, fmt.Errorf("unknown object type %q", typ)
	}
}

const alleleSelect = `SELECT a.id, a.digest, a.state,
	l.id, l.digest, l.sequence_reference_id, l."start", l."end",
	l.start_outer, l.start_inner, l.end_outer, l.end_inner,
	r.molecule_type
	FROM %s a
	JOIN %s l ON l.id = a.location_id
	JOIN %s r ON r.id = l.sequence_reference_id`

func scanAllele(rows pgx.Rows) (*vrs.Allele, error) {
	var ar storage.AlleleRow
	var lr storage.LocationRow
	var molType *string
	if err := rows.Scan(&ar.ID, &ar.Digest, &ar.State,
		&lr.ID, &lr.Digest, &lr.SequenceReferenceID,
		&lr.Start, &lr.End, &lr.StartOuter, &lr.StartInner, &lr.EndOuter, &lr.EndInner,
		&molType); err != nil {
		return nil, fmt.Errorf("scan allele row: %w", err)
	}
	return ar.Allele(lr.Location(seqRef(lr.SequenceReferenceID, molType)))
}

func seqRef(accession string, molType *string) *vrs.SequenceReference {
	ref := &vrs.SequenceReference{
		Type:            vrs.TypeSequenceReference,
		RefgetAccession: accession,
	}
	if molType != nil {
		ref.MoleculeType = *molType
	}
	return ref
}

// GetAllObjectIDs lazily yields every known variation and location ID.
func (s *Store) GetAllObjectIDs(ctx context.Context) (iter.Seq[string], error) {
	t := s.opts.Tables
	q := fmt.Sprintf(`SELECT id FROM %s UNION ALL SELECT vrs_id FROM %s UNION ALL SELECT id FROM %s`,
		t.Alleles, t.VrsObjects, t.Locations)
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query object ids: %w", err)
	}
	return func(yield func(string) bool) {
		defer rows.Close()
		for rows.Next() {
			var id string
			if rows.Scan(&id) != nil {
				return
			}
			if !yield(id) {
				return
			}
		}
	}, nil
}

// GetObjectCount returns the number of stored objects of the type.
func (s *Store) GetObjectCount(ctx context.Context, typ storage.ObjectType) (int64, error) {
	t := s.opts.Tables
	var q string
	var args []any
	switch typ {
	case storage.ObjectTypeAllele:
		q = "SELECT count(*) FROM " + t.Alleles
	case storage.ObjectTypeSequenceLocation:
		q = "SELECT count(*) FROM " + t.Locations
	case storage.ObjectTypeSequenceReference:
		q = "SELECT count(*) FROM " + t.SequenceReferences
	case storage.ObjectTypeCopyNumberCount, storage.ObjectTypeCopyNumberChange:
		q = fmt.Sprintf("SELECT count(*) FROM %s WHERE type = $1", t.VrsObjects)
		args = append(args, string(typ))
	default:
		return 0, fmt.Errorf("unknown object type %q", typ)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", typ, err)
	}
	return n, nil
}

// DeleteObjects removes matching rows without cascading.
func (s *Store) DeleteObjects(ctx context.Context, typ storage.ObjectType, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	t := s.opts.Tables
	switch typ {
	case storage.ObjectTypeAllele:
		if err := s.checkNoVariationDependents(ctx, ids); err != nil {
			return err
		}
		return s.deleteRows(ctx, t.Alleles, "id", ids)
	case storage.ObjectTypeCopyNumberCount, storage.ObjectTypeCopyNumberChange:
		if err := s.checkNoVariationDependents(ctx, ids); err != nil {
			return err
		}
		q := fmt.Sprintf("DELETE FROM %s WHERE type = $1 AND vrs_id = ANY($2)", t.VrsObjects)
		if _, err := s.pool.Exec(ctx, q, string(typ), ids); err != nil {
			return fmt.Errorf("delete from %s: %w", t.VrsObjects, err)
		}
		return nil
	case storage.ObjectTypeSequenceLocation:
		if err := s.checkNoDependents(ctx,
			fmt.Sprintf("SELECT location_id FROM %s WHERE location_id = ANY($1) LIMIT 1", t.Alleles),
			ids, "alleles still reference this location"); err != nil {
			return err
		}
		return s.deleteRows(ctx, t.Locations, "id", ids)
	case storage.ObjectTypeSequenceReference:
		if err := s.checkNoDependents(ctx,
			fmt.Sprintf("SELECT sequence_reference_id FROM %s WHERE sequence_reference_id = ANY($1) LIMIT 1", t.Locations),
			ids, "locations still reference this sequence"); err != nil {
			return err
		}
		return s.deleteRows(ctx, t.SequenceReferences, "id", ids)
	default:
		return fmt.Errorf("unknown object type %q", typ)
	}
}

func (s *Store) deleteRows(ctx context.Context, table, keyCol string, ids []string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", table, keyCol)
	if _, err := s.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// checkNoVariationDependents refuses a variation delete while
// annotations or mappings still reference any of the ids.
func (s *Store) checkNoVariationDependents(ctx context.Context, ids []string) error {
	t := s.opts.Tables
	if err := s.checkNoDependents(ctx,
		fmt.Sprintf("SELECT object_id FROM %s WHERE object_id = ANY($1) LIMIT 1", t.Annotations),
		ids, "annotations still reference this variation"); err != nil {
		return err
	}
	return s.checkNoDependents(ctx,
		fmt.Sprintf("SELECT source_id FROM %s WHERE source_id = ANY($1) OR dest_id = ANY($1) LIMIT 1", t.Mappings),
		ids, "mappings still reference this variation")
}

func (s *Store) checkNoDependents(ctx context.Context, query string, ids []string, detail string) error {
	var dependent string
	err := s.pool.QueryRow(ctx, query, ids).Scan(&dependent)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check dependents: %w", err)
	default:
		return &storage.DataIntegrityError{ID: dependent, Detail: detail}
	}
}

// AddMapping inserts a mapping idempotently after checking endpoints.
func (s *Store) AddMapping(ctx context.Context, m storage.Mapping) error {
	if err := storage.ValidateMapping(m); err != nil {
		return err
	}
	for _, id := range []string{m.SourceID, m.DestID} {
		ok, err := s.variationExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return &storage.MissingReferenceError{ID: id}
		}
	}
	q := fmt.Sprintf("INSERT INTO %s (source_id, dest_id, mapping_type) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		s.opts.Tables.Mappings)
	if _, err := s.pool.Exec(ctx, q, m.SourceID, m.DestID, string(m.Type)); err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}
	return nil
}

// DeleteMapping removes the matching tuple; absent tuples are a no-op.
func (s *Store) DeleteMapping(ctx context.Context, m storage.Mapping) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE source_id = $1 AND dest_id = $2 AND mapping_type = $3",
		s.opts.Tables.Mappings)
	if _, err := s.pool.Exec(ctx, q, m.SourceID, m.DestID, string(m.Type)); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

// GetMappings lists mappings from sourceID, optionally filtered by type.
func (s *Store) GetMappings(ctx context.Context, sourceID string, typ storage.MappingType) ([]storage.Mapping, error) {
	q := fmt.Sprintf(`SELECT source_id, dest_id, mapping_type FROM %s
		WHERE source_id = $1 AND ($2 = '' OR mapping_type = $2) LIMIT %d`,
		s.opts.Tables.Mappings, s.opts.MaxRows)
	rows, err := s.pool.Query(ctx, q, sourceID, string(typ))
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()
	var out []storage.Mapping
	for rows.Next() {
		var m storage.Mapping
		var mt string
		if err := rows.Scan(&m.SourceID, &m.DestID, &mt); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		m.Type = storage.MappingType(mt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddAnnotation inserts an annotation row and returns its id.
func (s *Store) AddAnnotation(ctx context.Context, a storage.Annotation) (int64, error) {
	ok, err := s.variationExists(ctx, a.ObjectID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &storage.MissingReferenceError{ID: a.ObjectID}
	}
	value := a.Value
	if value == nil {
		value = json.RawMessage("null")
	}
	q := fmt.Sprintf("INSERT INTO %s (object_id, annotation_type, annotation_value) VALUES ($1, $2, $3) RETURNING id",
		s.opts.Tables.Annotations)
	var id int64
	if err := s.pool.QueryRow(ctx, q, a.ObjectID, a.Type, string(value)).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert annotation: %w", err)
	}
	return id, nil
}

// DeleteAnnotation removes the annotation row by id when set, and by
// full value match otherwise.
func (s *Store) DeleteAnnotation(ctx context.Context, a storage.Annotation) error {
	t := s.opts.Tables
	if a.ID != 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", t.Annotations), a.ID); err != nil {
			return fmt.Errorf("delete annotation: %w", err)
		}
		return nil
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE object_id = $1 AND annotation_type = $2 AND annotation_value = $3", t.Annotations)
	if _, err := s.pool.Exec(ctx, q, a.ObjectID, a.Type, string(a.Value)); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

// GetAnnotations lists annotations for objectID, optionally filtered by
// type, up to the row cap.
func (s *Store) GetAnnotations(ctx context.Context, objectID, annotationType string) ([]storage.Annotation, error) {
	q := fmt.Sprintf(`SELECT id, object_id, annotation_type, annotation_value FROM %s
		WHERE object_id = $1 AND ($2 = '' OR annotation_type = $2)
		ORDER BY id LIMIT %d`,
		s.opts.Tables.Annotations, s.opts.MaxRows)
	rows, err := s.pool.Query(ctx, q, objectID, annotationType)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()
	var out []storage.Annotation
	for rows.Next() {
		var a storage.Annotation
		var value []byte
		if err := rows.Scan(&a.ID, &a.ObjectID, &a.Type, &value); err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}
		a.Value = json.RawMessage(value)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SearchAlleles returns Alleles on the refget accession whose effective
// location interval is contained within [start, end].
func (s *Store) SearchAlleles(ctx context.Context, refgetAccession string, start, end int64) ([]*vrs.Allele, error) {
	if err := storage.ValidateSearchRange(start, end); err != nil {
		return nil, err
	}
	t := s.opts.Tables
	q := fmt.Sprintf(alleleSelect+`
		WHERE l.sequence_reference_id = $1
		  AND COALESCE(l."start", l.start_outer) IS NOT NULL
		  AND COALESCE(l."end", l.end_outer) IS NOT NULL
		  AND COALESCE(l."start", l.start_outer) >= $2
		  AND COALESCE(l."end", l.end_outer) <= $3
		LIMIT %d`,
		t.Alleles, t.Locations, t.SequenceReferences, s.opts.MaxRows)
	rows, err := s.pool.Query(ctx, q, refgetAccession, start, end)
	if err != nil {
		return nil, fmt.Errorf("search alleles: %w", err)
	}
	defer rows.Close()
	var out []*vrs.Allele
	for rows.Next() {
		allele, err := scanAllele(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, allele)
	}
	return out, rows.Err()
}

// variationExists reports whether id is a stored Allele or a stored
// whole-document variation.
func (s *Store) variationExists(ctx context.Context, id string) (bool, error) {
	t := s.opts.Tables
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)
		OR EXISTS (SELECT 1 FROM %s WHERE vrs_id = $1)`,
		t.Alleles, t.VrsObjects)
	var ok bool
	if err := s.pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check object existence: %w", err)
	}
	return ok, nil
}
