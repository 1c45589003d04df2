package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"

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
		q := fmt.Sprintf(`SELECT a.id, a.digest, a.state,
			l.id, l.digest, l.sequence_reference_id, l."start", l."end",
			l.start_outer, l.start_inner, l.end_outer, l.end_inner,
			r.molecule_type
			FROM %s a
			JOIN %s l ON l.id = a.location_id
			JOIN %s r ON r.id = l.sequence_reference_id
			WHERE a.id IN (%s) LIMIT %d`,
			t.Alleles, t.Locations, t.SequenceReferences, placeholderList(len(ids)), s.opts.MaxRows)
		rows, err := s.db.QueryContext(ctx, q, idArgs(ids)...)
		if err != nil {
			return nil, fmt.Errorf("query alleles: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			var ar storage.AlleleRow
			var lr storage.LocationRow
			var state string
			var molType sql.NullString
			if err := rows.Scan(&ar.ID, &ar.Digest, &state,
				&lr.ID, &lr.Digest, &lr.SequenceReferenceID,
				&lr.Start, &lr.End, &lr.StartOuter, &lr.StartInner, &lr.EndOuter, &lr.EndInner,
				&molType); err != nil {
				return nil, fmt.Errorf("scan allele row: %w", err)
			}
			ar.State = []byte(state)
			ref := &vrs.SequenceReference{
				Type:            vrs.TypeSequenceReference,
				RefgetAccession: lr.SequenceReferenceID,
				MoleculeType:    molType.String,
			}
			allele, err := ar.Allele(lr.Location(ref))
			if err != nil {
				return nil, err
			}
			out = append(out, allele)
		}
		return out, rows.Err()

	case storage.ObjectTypeCopyNumberCount, storage.ObjectTypeCopyNumberChange:
		q := fmt.Sprintf(`SELECT vrs_object FROM %s WHERE type = ? AND vrs_id IN (%s) LIMIT %d`,
			t.VrsObjects, placeholderList(len(ids)), s.opts.MaxRows)
		args := append([]any{string(typ)}, idArgs(ids)...)
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("query vrs objects: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			var doc string
			if err := rows.Scan(&doc); err != nil {
				return nil, fmt.Errorf("scan vrs object row: %w", err)
			}
			obj, err := vrs.FromJSON([]byte(doc))
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
			WHERE l.id IN (%s) LIMIT %d`,
			t.Locations, t.SequenceReferences, placeholderList(len(ids)), s.opts.MaxRows)
		rows, err := s.db.QueryContext(ctx, q, idArgs(ids)...)
		if err != nil {
			return nil, fmt.Errorf("query locations: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			var lr storage.LocationRow
			var molType sql.NullString
			if err := rows.Scan(&lr.ID, &lr.Digest, &lr.SequenceReferenceID,
				&lr.Start, &lr.End, &lr.StartOuter, &lr.StartInner, &lr.EndOuter, &lr.EndInner,
				&molType); err != nil {
				return nil, fmt.Errorf("scan location row: %w", err)
			}
			ref := &vrs.SequenceReference{
				Type:            vrs.TypeSequenceReference,
				RefgetAccession: lr.SequenceReferenceID,
				MoleculeType:    molType.String,
			}
			out = append(out, lr.Location(ref))
		}
		return out, rows.Err()

	case storage.ObjectTypeSequenceReference:
		q := fmt.Sprintf(`SELECT id, molecule_type FROM %s WHERE id IN (%s) LIMIT %d`,
			t.SequenceReferences, placeholderList(len(ids)), s.opts.MaxRows)
		rows, err := s.db.QueryContext(ctx, q, idArgs(ids)...)
		if err != nil {
			return nil, fmt.Errorf("query sequence references: %w", err)
		}
		defer rows.Close()
		var out []vrs.Object
		for rows.Next() {
			var id string
			var molType sql.NullString
			if err := rows.Scan(&id, &molType); err != nil {
				return nil, fmt.Errorf("scan sequence reference row: %w", err)
			}
			out = append(out, &vrs.SequenceReference{
				Type:            vrs.TypeSequenceReference,
				RefgetAccession: id,
				MoleculeType:    molType.String,
			})
		}
		return out, rows.Err()

	default:
		return nil, fmt.Errorf("unknown object type %q", typ)
	}
}

// GetAllObjectIDs lazily yields every known variation and location ID.
func (s *Store) GetAllObjectIDs(ctx context.Context) (iter.Seq[string], error) {
	t := s.opts.Tables
	q := fmt.Sprintf(`SELECT id FROM %s UNION ALL SELECT vrs_id FROM %s UNION ALL SELECT id FROM %s`,
		t.Alleles, t.VrsObjects, t.Locations)
	rows, err := s.db.QueryContext(ctx, q)
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
		q = fmt.Sprintf("SELECT count(*) FROM %s WHERE type = ?", t.VrsObjects)
		args = append(args, string(typ))
	default:
		return 0, fmt.Errorf("unknown object type %q", typ)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", typ, err)
	}
	return n, nil
}

// DeleteObjects removes matching rows without cascading. Deleting a
// location or reference that dependents still point at is refused.
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
		q := fmt.Sprintf("DELETE FROM %s WHERE type = ? AND vrs_id IN (%s)", t.VrsObjects, placeholderList(len(ids)))
		args := append([]any{string(typ)}, idArgs(ids)...)
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", t.VrsObjects, err)
		}
		return nil
	case storage.ObjectTypeSequenceLocation:
		if err := s.checkNoDependents(ctx,
			fmt.Sprintf("SELECT location_id FROM %s WHERE location_id IN (%s) LIMIT 1", t.Alleles, placeholderList(len(ids))),
			ids, "alleles still reference this location"); err != nil {
			return err
		}
		return s.deleteRows(ctx, t.Locations, "id", ids)
	case storage.ObjectTypeSequenceReference:
		if err := s.checkNoDependents(ctx,
			fmt.Sprintf("SELECT sequence_reference_id FROM %s WHERE sequence_reference_id IN (%s) LIMIT 1", t.Locations, placeholderList(len(ids))),
			ids, "locations still reference this sequence"); err != nil {
			return err
		}
		return s.deleteRows(ctx, t.SequenceReferences, "id", ids)
	default:
		return fmt.Errorf("unknown object type %q", typ)
	}
}

func (s *Store) deleteRows(ctx context.Context, table, keyCol string, ids []string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, keyCol, placeholderList(len(ids)))
	if _, err := s.db.ExecContext(ctx, q, idArgs(ids)...); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// checkNoVariationDependents refuses a variation delete while
// annotations or mappings still reference any of the ids.
func (s *Store) checkNoVariationDependents(ctx context.Context, ids []string) error {
	t := s.opts.Tables
	if err := s.checkNoDependents(ctx,
		fmt.Sprintf("SELECT object_id FROM %s WHERE object_id IN (%s) LIMIT 1", t.Annotations, placeholderList(len(ids))),
		ids, "annotations still reference this variation"); err != nil {
		return err
	}
	q := fmt.Sprintf(`SELECT source_id FROM %s WHERE source_id IN (%s) OR dest_id IN (%s) LIMIT 1`,
		t.Mappings, placeholderList(len(ids)), placeholderList(len(ids)))
	var dependent string
	err := s.db.QueryRowContext(ctx, q, append(idArgs(ids), idArgs(ids)...)...).Scan(&dependent)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("check dependents: %w", err)
	default:
		return &storage.DataIntegrityError{ID: dependent, Detail: "mappings still reference this variation"}
	}
}

func (s *Store) checkNoDependents(ctx context.Context, query string, ids []string, detail string) error {
	var dependent string
	err := s.db.QueryRowContext(ctx, query, idArgs(ids)...).Scan(&dependent)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("check dependents: %w", err)
	default:
		return &storage.DataIntegrityError{ID: dependent, Detail: detail}
	}
}

// AddMapping inserts a mapping idempotently after checking that both
// endpoints exist and the shape is valid.
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
	q := fmt.Sprintf("INSERT INTO %s (source_id, dest_id, mapping_type) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		s.opts.Tables.Mappings)
	if _, err := s.db.ExecContext(ctx, q, m.SourceID, m.DestID, string(m.Type)); err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}
	return nil
}

// DeleteMapping removes the matching tuple; absent tuples are a no-op.
func (s *Store) DeleteMapping(ctx context.Context, m storage.Mapping) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE source_id = ? AND dest_id = ? AND mapping_type = ?",
		s.opts.Tables.Mappings)
	if _, err := s.db.ExecContext(ctx, q, m.SourceID, m.DestID, string(m.Type)); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

// GetMappings lists mappings from sourceID, optionally filtered by type.
func (s *Store) GetMappings(ctx context.Context, sourceID string, typ storage.MappingType) ([]storage.Mapping, error) {
	q := fmt.Sprintf("SELECT source_id, dest_id, mapping_type FROM %s WHERE source_id = ?", s.opts.Tables.Mappings)
	args := []any{sourceID}
	if typ != "" {
		q += " AND mapping_type = ?"
		args = append(args, string(typ))
	}
	q += fmt.Sprintf(" LIMIT %d", s.opts.MaxRows)
	rows, err := s.db.QueryContext(ctx, q, args...)
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

// AddAnnotation inserts an annotation row and returns its id. The
// target object must already be stored.
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
	q := fmt.Sprintf("INSERT INTO %s (object_id, annotation_type, annotation_value) VALUES (?, ?, ?) RETURNING id",
		s.opts.Tables.Annotations)
	var id int64
	if err := s.db.QueryRowContext(ctx, q, a.ObjectID, a.Type, string(value)).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert annotation: %w", err)
	}
	return id, nil
}

// DeleteAnnotation removes the annotation row by id when set, and by
// full value match otherwise.
func (s *Store) DeleteAnnotation(ctx context.Context, a storage.Annotation) error {
	t := s.opts.Tables
	if a.ID != 0 {
		q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.Annotations)
		if _, err := s.db.ExecContext(ctx, q, a.ID); err != nil {
			return fmt.Errorf("delete annotation: %w", err)
		}
		return nil
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE object_id = ? AND annotation_type = ? AND annotation_value = ?", t.Annotations)
	if _, err := s.db.ExecContext(ctx, q, a.ObjectID, a.Type, string(a.Value)); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

// GetAnnotations lists annotations for objectID, optionally filtered by
// type, up to the row cap.
func (s *Store) GetAnnotations(ctx context.Context, objectID, annotationType string) ([]storage.Annotation, error) {
	q := fmt.Sprintf("SELECT id, object_id, annotation_type, annotation_value FROM %s WHERE object_id = ?",
		s.opts.Tables.Annotations)
	args := []any{objectID}
	if annotationType != "" {
		q += " AND annotation_type = ?"
		args = append(args, annotationType)
	}
	q += fmt.Sprintf(" ORDER BY id LIMIT %d", s.opts.MaxRows)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()
	var out []storage.Annotation
	for rows.Next() {
		var a storage.Annotation
		var value string
		if err := rows.Scan(&a.ID, &a.ObjectID, &a.Type, &value); err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}
		a.Value = json.RawMessage(value)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SearchAlleles returns Alleles on the refget accession whose effective
// location interval is contained within [start, end]. Ranged bounds
// compare by their outer column; a missing bound on a queried side
// excludes the row.
func (s *Store) SearchAlleles(ctx context.Context, refgetAccession string, start, end int64) ([]*vrs.Allele, error) {
	if err := storage.ValidateSearchRange(start, end); err != nil {
		return nil, err
	}
	t := s.opts.Tables
	q := fmt.Sprintf(`SELECT a.id, a.digest, a.state,
		l.id, l.digest, l.sequence_reference_id, l."start", l."end",
		l.start_outer, l.start_inner, l.end_outer, l.end_inner,
		r.molecule_type
		FROM %s a
		JOIN %s l ON l.id = a.location_id
		JOIN %s r ON r.id = l.sequence_reference_id
		WHERE l.sequence_reference_id = ?
		  AND COALESCE(l."start", l.start_outer) IS NOT NULL
		  AND COALESCE(l."end", l.end_outer) IS NOT NULL
		  AND COALESCE(l."start", l.start_outer) >= ?
		  AND COALESCE(l."end", l.end_outer) <= ?
		LIMIT %d`,
		t.Alleles, t.Locations, t.SequenceReferences, s.opts.MaxRows)
	rows, err := s.db.QueryContext(ctx, q, refgetAccession, start, end)
	if err != nil {
		return nil, fmt.Errorf("search alleles: %w", err)
	}
	defer rows.Close()
	var out []*vrs.Allele
	for rows.Next() {
		var ar storage.AlleleRow
		var lr storage.LocationRow
		var state string
		var molType sql.NullString
		if err := rows.Scan(&ar.ID, &ar.Digest, &state,
			&lr.ID, &lr.Digest, &lr.SequenceReferenceID,
			&lr.Start, &lr.End, &lr.StartOuter, &lr.StartInner, &lr.EndOuter, &lr.EndInner,
			&molType); err != nil {
			return nil, fmt.Errorf("scan allele row: %w", err)
		}
		ar.State = []byte(state)
		ref := &vrs.SequenceReference{
			Type:            vrs.TypeSequenceReference,
			RefgetAccession: lr.SequenceReferenceID,
			MoleculeType:    molType.String,
		}
		allele, err := ar.Allele(lr.Location(ref))
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
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = ?)
		OR EXISTS (SELECT 1 FROM %s WHERE vrs_id = ?)`,
		t.Alleles, t.VrsObjects)
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, id, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check object existence: %w", err)
	}
	return ok, nil
}
