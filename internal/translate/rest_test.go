package translate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vrs-registry/internal/vrs"
)

const brafVariationJSON = `{
	"type": "Allele",
	"location": {
		"type": "SequenceLocation",
		"sequenceReference": {"type": "SequenceReference", "refgetAccession": "SQ.F-LrLMe1SRpfUZHkQmvkVKFEGaoDeHul"},
		"start": 140753335,
		"end": 140753336
	},
	"state": {"type": "LiteralSequenceExpression", "sequence": "T"}
}`

func TestRESTTranslator_TranslateVariation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate_from", r.URL.Path)
		assert.Equal(t, "NC_000007.14:g.140753336A>T", r.URL.Query().Get("q"))
		assert.Equal(t, "GRCh38", r.URL.Query().Get("assembly"))
		fmt.Fprintf(w, `{"variation": %s, "warnings": []}`, brafVariationJSON)
	}))
	defer srv.Close()

	tr := NewRESTTranslator(srv.URL)
	v, err := tr.TranslateVariation(context.Background(),
		"NC_000007.14:g.140753336A>T", Options{AssemblyName: "GRCh38"})
	require.NoError(t, err)

	allele, ok := v.(*vrs.Allele)
	require.True(t, ok)
	assert.Equal(t, "ga4gh:VA.Otc5ovrw906Ack087o1fhegB4jDRqCAe", allele.ID)
}

func TestRESTTranslator_VCFRowSetsGnomadFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gnomad", r.URL.Query().Get("fmt"))
		assert.Equal(t, "7-140753336-A-T", r.URL.Query().Get("q"))
		fmt.Fprintf(w, `{"variation": %s}`, brafVariationJSON)
	}))
	defer srv.Close()

	tr := NewRESTTranslator(srv.URL)
	_, err := tr.TranslateVCFRow(context.Background(), "7-140753336-A-T", "GRCh38")
	require.NoError(t, err)
}

func TestRESTTranslator_RejectedDefinition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	tr := NewRESTTranslator(srv.URL)
	_, err := tr.TranslateVariation(context.Background(), "garbage", Options{})
	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "garbage", terr.Definition)
}

func TestRESTTranslator_NullVariationIsTranslationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"variation": null, "warnings": ["unable to parse"]}`)
	}))
	defer srv.Close()

	tr := NewRESTTranslator(srv.URL)
	_, err := tr.TranslateVariation(context.Background(), "chrQ:g.1A>T", Options{})
	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, "unable to parse")
}

func TestRESTTranslator_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"variation": %s}`, brafVariationJSON)
	}))
	defer srv.Close()

	tr := NewRESTTranslator(srv.URL)
	_, err := tr.TranslateVariation(context.Background(), "NC_000007.14:g.140753336A>T", Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestRESTTranslator_UnreachableIsConnectionError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // fail fast instead of backing off

	tr := NewRESTTranslator("http://127.0.0.1:1")
	_, err := tr.TranslateVariation(ctx, "NC_000007.14:g.140753336A>T", Options{})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
}
