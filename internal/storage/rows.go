package storage

import (
	"encoding/json"
	"fmt"

	"github.com/inodb/vrs-registry/internal/vrs"
)

// SeqRefRow is a row of the sequence_references table.
type SeqRefRow struct {
	ID           string // refget accession
	MoleculeType string
}

// LocationRow is a row of the locations table. Exactly one of
// (Start) or (StartOuter, StartInner) is populated per coordinate;
// range bounds land in the outer/inner columns.
type LocationRow struct {
	ID                  string
	Digest              string
	SequenceReferenceID string
	Start               *int64
	End                 *int64
	StartOuter          *int64
	StartInner          *int64
	EndOuter            *int64
	EndInner            *int64
}

// AlleleRow is a row of the alleles table; the state is stored inline
// as structured JSON.
type AlleleRow struct {
	ID         string
	Digest     string
	LocationID string
	State      []byte
}

// VrsObjectRow is a row of the vrs_objects table, holding CopyNumber*
// variations as whole JSON documents keyed by VRS ID.
type VrsObjectRow struct {
	ID     string
	Type   string
	Object []byte
}

// Rows is one batch of the relational decomposition, kept in
// dependency order: references, then locations, then variations.
type Rows struct {
	SequenceReferences []SeqRefRow
	Locations          []LocationRow
	Alleles            []AlleleRow
	VrsObjects         []VrsObjectRow
}

// Len returns the total row count across all tables.
func (r *Rows) Len() int {
	return len(r.SequenceReferences) + len(r.Locations) + len(r.Alleles) + len(r.VrsObjects)
}

// Append decomposes one VRS object into rows.
func (r *Rows) Append(obj vrs.Object) error {
	switch o := obj.(type) {
	case *vrs.Allele:
		ref, loc, _, err := vrs.Decompose(o)
		if err != nil {
			return err
		}
		state, err := json.Marshal(o.State)
		if err != nil {
			return fmt.Errorf("marshal allele state: %w", err)
		}
		r.appendReference(ref)
		r.appendLocation(loc)
		r.Alleles = append(r.Alleles, AlleleRow{
			ID:         o.ID,
			Digest:     o.Digest,
			LocationID: loc.ID,
			State:      state,
		})
		return nil
	case *vrs.CopyNumberCount, *vrs.CopyNumberChange:
		v := obj.(vrs.Variation)
		ref, loc, _, err := vrs.Decompose(v)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", obj.ObjectType(), err)
		}
		r.appendReference(ref)
		r.appendLocation(loc)
		r.VrsObjects = append(r.VrsObjects, VrsObjectRow{
			ID:     v.GetID(),
			Type:   obj.ObjectType(),
			Object: doc,
		})
		return nil
	case *vrs.SequenceLocation:
		if o.ID == "" {
			return &vrs.IncompleteObjectError{Type: vrs.TypeSequenceLocation, Reason: "missing id"}
		}
		if o.SequenceReference != nil {
			r.appendReference(o.SequenceReference)
		}
		r.appendLocation(o)
		return nil
	case *vrs.SequenceReference:
		if o.RefgetAccession == "" {
			return &vrs.IncompleteObjectError{Type: vrs.TypeSequenceReference, Reason: "missing refget accession"}
		}
		r.appendReference(o)
		return nil
	default:
		return fmt.Errorf("cannot store object of type %T", obj)
	}
}

func (r *Rows) appendReference(ref *vrs.SequenceReference) {
	r.SequenceReferences = append(r.SequenceReferences, SeqRefRow{
		ID:           ref.RefgetAccession,
		MoleculeType: ref.MoleculeType,
	})
}

func (r *Rows) appendLocation(loc *vrs.SequenceLocation) {
	row := LocationRow{
		ID:     loc.ID,
		Digest: loc.Digest,
	}
	if loc.SequenceReference != nil {
		row.SequenceReferenceID = loc.SequenceReference.RefgetAccession
	}
	row.Start, row.StartOuter, row.StartInner = startColumns(loc.Start)
	row.End, row.EndInner, row.EndOuter = endColumns(loc.End)
	r.Locations = append(r.Locations, row)
}

// startColumns maps a start coordinate to (start, start_outer,
// start_inner): the outer bound of a start range is its lower bound.
func startColumns(c *vrs.Coordinate) (val, outer, inner *int64) {
	if c == nil {
		return nil, nil, nil
	}
	if c.Value != nil {
		return c.Value, nil, nil
	}
	return nil, c.Lower, c.Upper
}

// endColumns maps an end coordinate to (end, end_inner, end_outer):
// the outer bound of an end range is its upper bound.
func endColumns(c *vrs.Coordinate) (val, inner, outer *int64) {
	if c == nil {
		return nil, nil, nil
	}
	if c.Value != nil {
		return c.Value, nil, nil
	}
	return nil, c.Lower, c.Upper
}

// Location reconstructs a SequenceLocation from a LocationRow and its
// reference row.
func (lr *LocationRow) Location(ref *vrs.SequenceReference) *vrs.SequenceLocation {
	loc := &vrs.SequenceLocation{
		ID:                lr.ID,
		Type:              vrs.TypeSequenceLocation,
		Digest:            lr.Digest,
		SequenceReference: ref,
	}
	if lr.Start != nil {
		loc.Start = &vrs.Coordinate{Value: lr.Start}
	} else if lr.StartOuter != nil || lr.StartInner != nil {
		loc.Start = &vrs.Coordinate{Lower: lr.StartOuter, Upper: lr.StartInner}
	}
	if lr.End != nil {
		loc.End = &vrs.Coordinate{Value: lr.End}
	} else if lr.EndOuter != nil || lr.EndInner != nil {
		loc.End = &vrs.Coordinate{Lower: lr.EndInner, Upper: lr.EndOuter}
	}
	return loc
}

// Allele reconstructs a VRS Allele from an AlleleRow and its location.
func (ar *AlleleRow) Allele(loc *vrs.SequenceLocation) (*vrs.Allele, error) {
	var state vrs.State
	if err := json.Unmarshal(ar.State, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state of %s: %w", ar.ID, err)
	}
	return &vrs.Allele{
		ID:       ar.ID,
		Type:     vrs.TypeAllele,
		Digest:   ar.Digest,
		Location: loc,
		State:    &state,
	}, nil
}

// BuildRows decomposes a set of VRS objects into dependency-ordered
// rows.
func BuildRows(objs []vrs.Object) (Rows, error) {
	var rows Rows
	for _, obj := range objs {
		if err := rows.Append(obj); err != nil {
			return Rows{}, err
		}
	}
	return rows, nil
}
