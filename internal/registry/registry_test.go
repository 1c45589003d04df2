package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vrs-registry/internal/liftover"
	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/translate"
	"github.com/inodb/vrs-registry/internal/vrs"
)

const (
	acc38 = "SQ.F-LrLMe1SRpfUZHkQmvkVKFEGaoDeHul"
	acc37 = "SQ.IW78mgV5Cqf6M24hy52hPjyyo5tCCd86"
)

func newAllele(t *testing.T, accession string, start, end int64, seq string) *vrs.Allele {
	t.Helper()
	allele := &vrs.Allele{
		Location: &vrs.SequenceLocation{
			SequenceReference: &vrs.SequenceReference{RefgetAccession: accession},
			Start:             vrs.Int(start),
			End:               vrs.Int(end),
		},
		State: &vrs.State{Type: vrs.StateLiteral, Sequence: seq},
	}
	require.NoError(t, vrs.RecursiveIdentify(allele))
	return allele
}

// offsetConverter shifts every coordinate by a fixed amount.
type offsetConverter struct{ offset int64 }

func (c *offsetConverter) Convert(_ context.Context, _, _, chrom string, pos int64) (string, int64, error) {
	return chrom, pos + c.offset, nil
}

// testProxy resolves the two pinned accessions to chr7 on either
// assembly.
type testProxy struct{}

func (testProxy) GetAliases(_ context.Context, accession string) ([]string, error) {
	switch accession {
	case acc38:
		return []string{"GRCh38:chr7"}, nil
	case acc37:
		return []string{"GRCh37:chr7"}, nil
	}
	return nil, nil
}

func (testProxy) FindAccession(_ context.Context, assembly, _ string) (string, error) {
	if assembly == "GRCh37" {
		return acc37, nil
	}
	return acc38, nil
}

func newTestRegistry(withLifter bool) (*Registry, *storage.MemoryStore, *translate.Fake) {
	store := storage.NewMemoryStore()
	fake := translate.NewFake()
	var lifter *liftover.Lifter
	if withLifter {
		lifter = liftover.New(&offsetConverter{offset: -100}, testProxy{})
	}
	return New(store, fake, lifter), store, fake
}

func TestRegisterTranslatesAndStores(t *testing.T) {
	reg, store, fake := newTestRegistry(false)
	allele := newAllele(t, acc38, 140753335, 140753336, "T")
	fake.Stub("NC_000007.14:g.140753336A>T", allele)

	res, err := reg.Register(context.Background(), "NC_000007.14:g.140753336A>T", translate.Options{})
	require.NoError(t, err)
	assert.Equal(t, allele.ID, res.ObjectID)
	assert.Empty(t, res.Messages)

	got, err := store.GetObjects(context.Background(), storage.ObjectTypeAllele, []string{allele.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRegisterVrsIsIdempotent(t *testing.T) {
	reg, store, _ := newTestRegistry(false)
	allele := newAllele(t, acc38, 100, 101, "G")

	first, err := reg.RegisterVrs(context.Background(), allele)
	require.NoError(t, err)
	second, err := reg.RegisterVrs(context.Background(), allele)
	require.NoError(t, err)
	assert.Equal(t, first.ObjectID, second.ObjectID)

	count, err := store.GetObjectCount(context.Background(), storage.ObjectTypeAllele)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRegisterPropagatesTranslationError(t *testing.T) {
	reg, _, _ := newTestRegistry(false)
	_, err := reg.Register(context.Background(), "NOT_A_VARIANT", translate.Options{})
	var terr *translate.TranslationError
	require.ErrorAs(t, err, &terr)
}

func TestRegisterWithExtrasTimestamp(t *testing.T) {
	reg, store, _ := newTestRegistry(false)
	reg.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	allele := newAllele(t, acc38, 100, 101, "G")

	res, err := reg.RegisterWithExtras(context.Background(), allele, Extras{Timestamp: true})
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	anns, err := store.GetAnnotations(context.Background(), allele.ID, AnnotationCreationTimestamp)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.JSONEq(t, `"2026-08-25T12:00:00Z"`, string(anns[0].Value))

	// A second registration must not add a second timestamp.
	_, err = reg.RegisterWithExtras(context.Background(), allele, Extras{Timestamp: true})
	require.NoError(t, err)
	anns, err = store.GetAnnotations(context.Background(), allele.ID, AnnotationCreationTimestamp)
	require.NoError(t, err)
	assert.Len(t, anns, 1)
}

func TestRegisterWithExtrasLiftover(t *testing.T) {
	reg, store, _ := newTestRegistry(true)
	allele := newAllele(t, acc38, 140753335, 140753336, "T")

	res, err := reg.RegisterWithExtras(context.Background(), allele, Extras{Liftover: true})
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	maps, err := store.GetMappings(context.Background(), allele.ID, storage.MappingLiftover)
	require.NoError(t, err)
	require.Len(t, maps, 1)

	lifted, err := store.GetObjects(context.Background(), storage.ObjectTypeAllele, []string{maps[0].DestID})
	require.NoError(t, err)
	require.Len(t, lifted, 1)
	loc := lifted[0].(*vrs.Allele).Location
	assert.Equal(t, acc37, loc.SequenceReference.RefgetAccession)
	assert.Equal(t, int64(140753235), *loc.Start.Value)
}

func TestRegisterWithExtrasLiftoverFailureIsMessage(t *testing.T) {
	// No lifter configured: registration still succeeds with a
	// message.
	reg, store, _ := newTestRegistry(false)
	allele := newAllele(t, acc38, 100, 101, "G")

	res, err := reg.RegisterWithExtras(context.Background(), allele, Extras{Liftover: true})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0], "liftover")

	count, err := store.GetObjectCount(context.Background(), storage.ObjectTypeAllele)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLookupDoesNotStore(t *testing.T) {
	reg, store, fake := newTestRegistry(false)
	allele := newAllele(t, acc38, 100, 101, "G")
	fake.Stub("some definition", allele)

	_, err := reg.Lookup(context.Background(), "some definition", translate.Options{})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, allele.ID, nf.ID)

	count, err := store.GetObjectCount(context.Background(), storage.ObjectTypeAllele)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = reg.RegisterVrs(context.Background(), allele)
	require.NoError(t, err)
	res, err := reg.Lookup(context.Background(), "some definition", translate.Options{})
	require.NoError(t, err)
	assert.Equal(t, allele.ID, res.ObjectID)
}

func TestGetResolvesByPrefix(t *testing.T) {
	reg, _, _ := newTestRegistry(false)
	allele := newAllele(t, acc38, 100, 101, "G")
	_, err := reg.RegisterVrs(context.Background(), allele)
	require.NoError(t, err)

	obj, err := reg.Get(context.Background(), allele.ID)
	require.NoError(t, err)
	assert.Equal(t, allele.ID, obj.GetID())

	obj, err = reg.Get(context.Background(), allele.Location.ID)
	require.NoError(t, err)
	assert.Equal(t, allele.Location.ID, obj.GetID())

	obj, err = reg.Get(context.Background(), acc38)
	require.NoError(t, err)
	assert.Equal(t, acc38, obj.GetID())

	_, err = reg.Get(context.Background(), "ga4gh:VA.doesnotexist")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSearchDelegatesToStore(t *testing.T) {
	reg, _, _ := newTestRegistry(false)
	inside := newAllele(t, acc38, 100, 101, "G")
	outside := newAllele(t, acc38, 500, 501, "C")
	for _, a := range []*vrs.Allele{inside, outside} {
		_, err := reg.RegisterVrs(context.Background(), a)
		require.NoError(t, err)
	}

	found, err := reg.Search(context.Background(), acc38, 90, 110)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, inside.ID, found[0].ID)
}

func TestMapRejectsInvalidType(t *testing.T) {
	reg, _, _ := newTestRegistry(false)
	a := newAllele(t, acc38, 100, 101, "G")
	b := newAllele(t, acc38, 200, 201, "T")
	for _, v := range []*vrs.Allele{a, b} {
		_, err := reg.RegisterVrs(context.Background(), v)
		require.NoError(t, err)
	}

	err := reg.Map(context.Background(), storage.Mapping{SourceID: a.ID, DestID: b.ID, Type: "sibling"})
	require.Error(t, err)

	err = reg.Map(context.Background(), storage.Mapping{SourceID: a.ID, DestID: b.ID, Type: storage.MappingTranscription})
	require.NoError(t, err)
	maps, err := reg.Mappings(context.Background(), a.ID, storage.MappingTranscription)
	require.NoError(t, err)
	assert.Len(t, maps, 1)
}
