package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/vrs"
)

func openStore(t *testing.T, opts storage.Options) *Store {
	t.Helper()
	s, err := Open("", opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newAllele(t *testing.T, accession string, start, end int64, seq string) *vrs.Allele {
	t.Helper()
	a := &vrs.Allele{
		Location: &vrs.SequenceLocation{
			SequenceReference: &vrs.SequenceReference{RefgetAccession: accession},
			Start:             vrs.Int(start),
			End:               vrs.Int(end),
		},
		State: &vrs.State{Type: vrs.StateLiteral, Sequence: seq},
	}
	require.NoError(t, vrs.RecursiveIdentify(a))
	return a
}

func newRangeAllele(t *testing.T, accession string, start, end *vrs.Coordinate, seq string) *vrs.Allele {
	t.Helper()
	a := &vrs.Allele{
		Location: &vrs.SequenceLocation{
			SequenceReference: &vrs.SequenceReference{RefgetAccession: accession},
			Start:             start,
			End:               end,
		},
		State: &vrs.State{Type: vrs.StateLiteral, Sequence: seq},
	}
	require.NoError(t, vrs.RecursiveIdentify(a))
	return a
}

func i64(v int64) *int64 { return &v }

const testAccession = "SQ.F-LrLMe1SRpfUZHkQmvkVKFEGaoDeHul"

func TestStore_AlleleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 140753335, 140753336, "T")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))

	got, err := s.GetObjects(ctx, storage.ObjectTypeAllele, []string{a.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)

	back := got[0].(*vrs.Allele)
	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, a.Digest, back.Digest)
	assert.Equal(t, a.Location.ID, back.Location.ID)
	assert.Equal(t, testAccession, back.Location.SequenceReference.RefgetAccession)
	assert.Equal(t, "T", back.State.Sequence)

	// The reconstructed object re-digests to the same identifier.
	require.NoError(t, vrs.RecursiveIdentify(back))
	assert.Equal(t, a.ID, back.ID)
}

func TestStore_AddObjectsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 100, 101, "A")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))

	n, err := s.GetObjectCount(ctx, storage.ObjectTypeAllele)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.GetObjectCount(ctx, storage.ObjectTypeSequenceReference)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_RangeLocationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newRangeAllele(t, testAccession,
		vrs.RangeCoord(i64(100), i64(110)),
		vrs.RangeCoord(i64(200), i64(210)), "G")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))

	got, err := s.GetObjects(ctx, storage.ObjectTypeAllele, []string{a.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)

	back := got[0].(*vrs.Allele)
	assert.True(t, a.Location.Start.Equal(back.Location.Start))
	assert.True(t, a.Location.End.Equal(back.Location.End))
}

func TestStore_CopyNumberRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	cn := &vrs.CopyNumberCount{
		Location: &vrs.SequenceLocation{
			SequenceReference: &vrs.SequenceReference{RefgetAccession: testAccession},
			Start:             vrs.Int(1000),
			End:               vrs.Int(2000),
		},
		Copies: vrs.Int(3),
	}
	require.NoError(t, vrs.RecursiveIdentify(cn))
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{cn}))

	got, err := s.GetObjects(ctx, storage.ObjectTypeCopyNumberCount, []string{cn.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	back := got[0].(*vrs.CopyNumberCount)
	assert.Equal(t, cn.ID, back.ID)
	assert.True(t, cn.Copies.Equal(back.Copies))

	// Wrong-type lookup yields nothing.
	got, err = s.GetObjects(ctx, storage.ObjectTypeCopyNumberChange, []string{cn.ID})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_GetObjectsSkipsUnknownIDs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 5, 6, "C")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))

	got, err := s.GetObjects(ctx, storage.ObjectTypeAllele, []string{a.ID, "ga4gh:VA.does-not-exist"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_GetAllObjectIDs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 10, 11, "A")
	b := newAllele(t, testAccession, 20, 21, "T")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a, b}))

	seq, err := s.GetAllObjectIDs(ctx)
	require.NoError(t, err)
	ids := map[string]bool{}
	for id := range seq {
		ids[id] = true
	}
	assert.True(t, ids[a.ID])
	assert.True(t, ids[b.ID])
	assert.True(t, ids[a.Location.ID])
}

func TestStore_DeleteIntegrity(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 30, 31, "G")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))

	// A location with a dependent allele cannot be deleted.
	err := s.DeleteObjects(ctx, storage.ObjectTypeSequenceLocation, []string{a.Location.ID})
	var integrity *storage.DataIntegrityError
	require.ErrorAs(t, err, &integrity)

	// Nor can a reference with a dependent location.
	err = s.DeleteObjects(ctx, storage.ObjectTypeSequenceReference, []string{testAccession})
	require.ErrorAs(t, err, &integrity)

	// Bottom-up deletion succeeds.
	require.NoError(t, s.DeleteObjects(ctx, storage.ObjectTypeAllele, []string{a.ID}))
	require.NoError(t, s.DeleteObjects(ctx, storage.ObjectTypeSequenceLocation, []string{a.Location.ID}))
	require.NoError(t, s.DeleteObjects(ctx, storage.ObjectTypeSequenceReference, []string{testAccession}))

	n, err := s.GetObjectCount(ctx, storage.ObjectTypeAllele)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Mappings(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 40, 41, "A")
	b := newAllele(t, testAccession, 50, 51, "C")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a, b}))

	m := storage.Mapping{SourceID: a.ID, DestID: b.ID, Type: storage.MappingLiftover}
	require.NoError(t, s.AddMapping(ctx, m))
	// Idempotent on the full tuple.
	require.NoError(t, s.AddMapping(ctx, m))

	got, err := s.GetMappings(ctx, a.ID, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].DestID)

	got, err = s.GetMappings(ctx, a.ID, storage.MappingTranscription)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Missing endpoints are rejected.
	var missing *storage.MissingReferenceError
	err = s.AddMapping(ctx, storage.Mapping{SourceID: a.ID, DestID: "ga4gh:VA.nope", Type: storage.MappingLiftover})
	require.ErrorAs(t, err, &missing)

	// Self-mappings are rejected before any lookup.
	err = s.AddMapping(ctx, storage.Mapping{SourceID: a.ID, DestID: a.ID, Type: storage.MappingLiftover})
	require.Error(t, err)

	require.NoError(t, s.DeleteMapping(ctx, m))
	got, err = s.GetMappings(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Deleting an absent mapping is a no-op.
	require.NoError(t, s.DeleteMapping(ctx, m))
}

func TestStore_Annotations(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 60, 61, "T")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))

	ann := storage.Annotation{
		ObjectID: a.ID,
		Type:     "creation_timestamp",
		Value:    json.RawMessage(`"2026-08-25T00:00:00Z"`),
	}
	id1, err := s.AddAnnotation(ctx, ann)
	require.NoError(t, err)
	// Duplicates are allowed and get distinct ids.
	id2, err := s.AddAnnotation(ctx, ann)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got, err := s.GetAnnotations(ctx, a.ID, "creation_timestamp")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `"2026-08-25T00:00:00Z"`, string(got[0].Value))

	got, err = s.GetAnnotations(ctx, a.ID, "other_type")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Annotating an unknown object fails.
	var missing *storage.MissingReferenceError
	_, err = s.AddAnnotation(ctx, storage.Annotation{ObjectID: "ga4gh:VA.nope", Type: "x"})
	require.ErrorAs(t, err, &missing)

	require.NoError(t, s.DeleteAnnotation(ctx, storage.Annotation{ID: id1}))
	got, err = s.GetAnnotations(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_SearchAlleles(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	inside := newAllele(t, testAccession, 100, 200, "A")
	boundary := newAllele(t, testAccession, 50, 300, "C")
	outside := newAllele(t, testAccession, 10, 20, "G")
	otherRef := newAllele(t, "SQ.other-reference-accession", 100, 200, "T")
	// A range location is placed by its outer bounds.
	ranged := newRangeAllele(t, testAccession,
		vrs.RangeCoord(i64(60), i64(80)),
		vrs.RangeCoord(i64(250), i64(290)), "AT")
	// A missing bound on a queried side excludes the row.
	halfOpen := newRangeAllele(t, testAccession,
		vrs.RangeCoord(nil, i64(120)),
		vrs.Int(150), "GC")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{inside, boundary, outside, otherRef, ranged, halfOpen}))

	got, err := s.SearchAlleles(ctx, testAccession, 50, 300)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, a := range got {
		ids[a.ID] = true
	}
	assert.True(t, ids[inside.ID])
	assert.True(t, ids[boundary.ID], "inclusive boundaries")
	assert.True(t, ids[ranged.ID], "ranges compare by outer bound")
	assert.False(t, ids[outside.ID])
	assert.False(t, ids[otherRef.ID])
	assert.False(t, ids[halfOpen.ID], "missing outer start bound excludes")

	// Invalid ranges are rejected up front.
	var invalid *storage.InvalidSearchParamsError
	_, err = s.SearchAlleles(ctx, testAccession, 300, 50)
	require.ErrorAs(t, err, &invalid)
	_, err = s.SearchAlleles(ctx, testAccession, -1, 50)
	require.ErrorAs(t, err, &invalid)
}

func TestStore_SearchTruncatesAtRowCap(t *testing.T) {
	ctx := context.Background()
	opts := storage.DefaultOptions()
	opts.MaxRows = 5
	s := openStore(t, opts)

	var objs []vrs.Object
	for i := range 10 {
		objs = append(objs, newAllele(t, testAccession, int64(100+i), int64(101+i), "A"))
	}
	require.NoError(t, s.AddObjects(ctx, objs))

	got, err := s.SearchAlleles(ctx, testAccession, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestStore_BatchModeFlushBarrier(t *testing.T) {
	ctx := context.Background()
	opts := storage.DefaultOptions()
	opts.BatchLimit = 3 // force mid-scope handoffs
	s := openStore(t, opts)

	var added []*vrs.Allele
	err := s.InBatch(ctx, func() error {
		for i := range 10 {
			a := newAllele(t, testAccession, int64(i*10), int64(i*10+1), "A")
			added = append(added, a)
			if err := s.AddObjects(ctx, []vrs.Object{a}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// FlushOnBatchExit makes everything visible once InBatch returns.
	n, err := s.GetObjectCount(ctx, storage.ObjectTypeAllele)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	got, err := s.GetObjects(ctx, storage.ObjectTypeAllele, []string{added[9].ID})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_BatchModeWithoutExitFlush(t *testing.T) {
	ctx := context.Background()
	opts := storage.DefaultOptions()
	opts.FlushOnBatchExit = false
	s := openStore(t, opts)

	a := newAllele(t, testAccession, 7, 8, "T")
	require.NoError(t, s.InBatch(ctx, func() error {
		return s.AddObjects(ctx, []vrs.Object{a})
	}))

	// An explicit barrier still makes the writes visible.
	require.NoError(t, s.WaitForWrites(ctx))
	n, err := s.GetObjectCount(ctx, storage.ObjectTypeAllele)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_BatchScopeErrorStillEnqueuesBuffer(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 70, 71, "C")
	sentinel := fmt.Errorf("caller failure")
	err := s.InBatch(ctx, func() error {
		if err := s.AddObjects(ctx, []vrs.Object{a}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	require.NoError(t, s.WaitForWrites(ctx))
	got, err := s.GetObjects(ctx, storage.ObjectTypeAllele, []string{a.ID})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_WipeDB(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.DefaultOptions())

	a := newAllele(t, testAccession, 90, 91, "G")
	b := newAllele(t, testAccession, 95, 96, "T")
	require.NoError(t, s.AddObjects(ctx, []vrs.Object{a, b}))
	require.NoError(t, s.AddMapping(ctx, storage.Mapping{SourceID: a.ID, DestID: b.ID, Type: storage.MappingLiftover}))
	_, err := s.AddAnnotation(ctx, storage.Annotation{ObjectID: a.ID, Type: "note", Value: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.NoError(t, s.WipeDB(ctx))

	for _, typ := range []storage.ObjectType{
		storage.ObjectTypeAllele,
		storage.ObjectTypeSequenceLocation,
		storage.ObjectTypeSequenceReference,
	} {
		n, err := s.GetObjectCount(ctx, typ)
		require.NoError(t, err)
		assert.Zero(t, n, string(typ))
	}
}

func TestStore_MergeStyles(t *testing.T) {
	for _, style := range []storage.MergeStyle{
		storage.MergeOnConflict,
		storage.MergeWhenNotMatch,
		storage.MergeLeftOuterJoin,
	} {
		t.Run(string(style), func(t *testing.T) {
			ctx := context.Background()
			opts := storage.DefaultOptions()
			opts.MergeStyle = style
			s := openStore(t, opts)

			a := newAllele(t, testAccession, 11, 12, "A")
			require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))
			require.NoError(t, s.AddObjects(ctx, []vrs.Object{a}))

			n, err := s.GetObjectCount(ctx, storage.ObjectTypeAllele)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}
