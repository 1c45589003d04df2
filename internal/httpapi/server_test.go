package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vrs-registry/internal/annotate"
	"github.com/inodb/vrs-registry/internal/config"
	"github.com/inodb/vrs-registry/internal/jobs"
	"github.com/inodb/vrs-registry/internal/registry"
	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/translate"
	"github.com/inodb/vrs-registry/internal/vrs"
)

const testAccession = "SQ.F-LrLMe1SRpfUZHkQmvkVKFEGaoDeHul"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	store  *storage.MemoryStore
	fake   *translate.Fake
	cfg    *config.Config
	queue  *jobs.Queue
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	fake := translate.NewFake()
	cfg := &config.Config{
		ExpectedIDsPerSecond:   500,
		AsyncFailureStatusCode: 500,
	}
	if mutate != nil {
		mutate(cfg)
	}

	var queue *jobs.Queue
	if cfg.AsyncWorkDir != "" {
		queue = jobs.NewQueue(jobs.NewMemoryBackend(), func(context.Context) (storage.Store, error) {
			return store, nil
		}, jobs.Options{Workers: 1})
		t.Cleanup(queue.Stop)
	}

	reg := registry.New(store, fake, nil)
	ann := annotate.NewAnnotator(store, fake)
	srv := NewServer(cfg, reg, ann, fake, queue, nil)
	return &testEnv{router: srv.Router(), store: store, fake: fake, cfg: cfg, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func testAllele(t *testing.T, start, end int64, seq string) *vrs.Allele {
	t.Helper()
	allele := &vrs.Allele{
		Location: &vrs.SequenceLocation{
			SequenceReference: &vrs.SequenceReference{RefgetAccession: testAccession},
			Start:             vrs.Int(start),
			End:               vrs.Int(end),
		},
		State: &vrs.State{Type: vrs.StateLiteral, Sequence: seq},
	}
	require.NoError(t, vrs.RecursiveIdentify(allele))
	return allele
}

func TestGetInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["anyvar"]["version"])
	assert.Equal(t, "2.0", body["ga4gh_vrs"]["version"])
}

func TestGetServiceInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/service-info", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "org.ga4gh.vrs-registry", body["id"])
	typ := body["type"].(map[string]any)
	assert.Equal(t, "org.ga4gh", typ["group"])
}

func TestPutVariation(t *testing.T) {
	env := newTestEnv(t, nil)
	allele := testAllele(t, 140753335, 140753336, "T")
	env.fake.Stub("NC_000007.14:g.140753336A>T", allele)

	w := env.do(t, http.MethodPut, "/variation",
		`{"definition": "NC_000007.14:g.140753336A>T"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		ObjectID string   `json:"object_id"`
		Messages []string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, allele.ID, res.ObjectID)

	// A creation timestamp is attached on first registration.
	anns, err := env.store.GetAnnotations(context.Background(), allele.ID, "creation_timestamp")
	require.NoError(t, err)
	assert.Len(t, anns, 1)
}

func TestPutVariationUnprocessable(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPut, "/variation", `{"definition": "gibberish"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPutVariationsPreservesOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	first := testAllele(t, 100, 101, "G")
	third := testAllele(t, 300, 301, "C")
	env.fake.Stub("def-1", first)
	env.fake.Stub("def-3", third)

	w := env.do(t, http.MethodPut, "/variations",
		`[{"definition":"def-1"},{"definition":"def-2"},{"definition":"def-3"}]`)
	require.Equal(t, http.StatusOK, w.Code)

	var res []struct {
		ObjectID string   `json:"object_id"`
		Messages []string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res, 3)
	assert.Equal(t, first.ID, res[0].ObjectID)
	assert.Empty(t, res[1].ObjectID)
	assert.NotEmpty(t, res[1].Messages)
	assert.Equal(t, third.ID, res[2].ObjectID)
}

func TestPutVrsVariation(t *testing.T) {
	env := newTestEnv(t, nil)
	allele := testAllele(t, 140753335, 140753336, "T")
	raw, err := json.Marshal(allele)
	require.NoError(t, err)

	w := env.do(t, http.MethodPut, "/vrs_variation", string(raw))
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		ObjectID string `json:"object_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, allele.ID, res.ObjectID)

	w = env.do(t, http.MethodPut, "/vrs_variation", `{"type":"Waltz"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPostVariationLookup(t *testing.T) {
	env := newTestEnv(t, nil)
	allele := testAllele(t, 100, 101, "G")
	env.fake.Stub("some def", allele)

	w := env.do(t, http.MethodPost, "/variation", `{"definition":"some def"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, env.store.AddObjects(context.Background(), []vrs.Object{allele}))
	w = env.do(t, http.MethodPost, "/variation", `{"definition":"some def"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetObject(t *testing.T) {
	env := newTestEnv(t, nil)
	allele := testAllele(t, 100, 101, "G")
	require.NoError(t, env.store.AddObjects(context.Background(), []vrs.Object{allele}))

	w := env.do(t, http.MethodGet, "/object/"+allele.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Data *vrs.Allele `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, allele.ID, res.Data.ID)

	w = env.do(t, http.MethodGet, "/object/ga4gh:VA.missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnnotationEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	allele := testAllele(t, 100, 101, "G")
	require.NoError(t, env.store.AddObjects(context.Background(), []vrs.Object{allele}))

	w := env.do(t, http.MethodPost, "/object/"+allele.ID+"/annotations",
		`{"annotation_type":"note","annotation_value":"looks dubious"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var ann storage.Annotation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ann))
	assert.NotZero(t, ann.ID)
	assert.Equal(t, "note", ann.Type)

	w = env.do(t, http.MethodGet, "/object/"+allele.ID+"/annotations/note", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Annotations []storage.Annotation `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Annotations, 1)

	// Annotating an unknown object is a 404.
	w = env.do(t, http.MethodPost, "/object/ga4gh:VA.missing/annotations",
		`{"annotation_type":"note","annotation_value":1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMappingEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	a := testAllele(t, 100, 101, "G")
	b := testAllele(t, 200, 201, "T")
	require.NoError(t, env.store.AddObjects(context.Background(), []vrs.Object{a, b}))

	w := env.do(t, http.MethodPut, "/object/"+a.ID+"/mappings",
		`{"dest_id":"`+b.ID+`","mapping_type":"liftover"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/object/"+a.ID+"/mappings/liftover", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Mappings []storage.Mapping `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Mappings, 1)
	assert.Equal(t, b.ID, list.Mappings[0].DestID)

	// Unknown mapping type is unprocessable.
	w = env.do(t, http.MethodPut, "/object/"+a.ID+"/mappings",
		`{"dest_id":"`+b.ID+`","mapping_type":"cousin"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	inside := testAllele(t, 100, 101, "G")
	require.NoError(t, env.store.AddObjects(context.Background(), []vrs.Object{inside}))

	w := env.do(t, http.MethodGet, "/search?accession="+testAccession+"&start=90&end=110", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Variations []*vrs.Allele `json:"variations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Variations, 1)
	assert.Equal(t, inside.ID, res.Variations[0].ID)

	w = env.do(t, http.MethodGet, "/search?accession="+testAccession+"&start=110&end=90", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/search?accession="+testAccession+"&start=x&end=90", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, nil)
	a := testAllele(t, 100, 101, "G")
	b := testAllele(t, 200, 201, "T")
	require.NoError(t, env.store.AddObjects(context.Background(), []vrs.Object{a, b}))

	cn := &vrs.CopyNumberCount{
		Location: &vrs.SequenceLocation{
			SequenceReference: &vrs.SequenceReference{RefgetAccession: testAccession},
			Start:             vrs.Int(1000),
			End:               vrs.Int(2000),
		},
		Copies: vrs.Int(3),
	}
	require.NoError(t, vrs.RecursiveIdentify(cn))
	require.NoError(t, env.store.AddObjects(context.Background(), []vrs.Object{cn}))

	var res struct {
		VariationType string `json:"variation_type"`
		Count         int64  `json:"count"`
	}

	w := env.do(t, http.MethodGet, "/stats/allele", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "allele", res.VariationType)
	assert.Equal(t, int64(2), res.Count)

	w = env.do(t, http.MethodGet, "/stats/all", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(3), res.Count)

	w = env.do(t, http.MethodGet, "/stats/haplotype", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBearerTokenList(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.TokenList = []string{"sesame"}
	})

	w := env.do(t, http.MethodGet, "/info", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/info", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

const vcfBody = `##fileformat=VCFv4.2
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
chr7	140753336	rs113488022	A	T	.	PASS	DP=100
`

func TestPutVCFSync(t *testing.T) {
	env := newTestEnv(t, nil)
	allele := testAllele(t, 140753335, 140753336, "T")
	env.fake.Stub("7-140753336-A-T", allele)

	w := env.do(t, http.MethodPut, "/vcf?assembly=GRCh38", vcfBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "VRS_Allele_IDs="+allele.ID)

	got, err := env.store.GetObjects(context.Background(), storage.ObjectTypeAllele, []string{allele.ID})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPutVCFBadAssembly(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPut, "/vcf?assembly=hg19", vcfBody)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPutVCFAsyncNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPut, "/vcf?run_async=true", vcfBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/vcf/some-run", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAsyncVCFLifecycle(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.AsyncWorkDir = t.TempDir()
	})
	allele := testAllele(t, 140753335, 140753336, "T")
	env.fake.Stub("7-140753336-A-T", allele)

	w := env.do(t, http.MethodPut, "/vcf?run_async=true&run_id=run-42", vcfBody)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	var accepted struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, "run-42", accepted.RunID)
	assert.Equal(t, "PENDING", accepted.Status)

	// Re-submitting the same run ID is a conflict.
	w = env.do(t, http.MethodPut, "/vcf?run_async=true&run_id=run-42", vcfBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Poll until the annotated file comes back.
	deadline := 200
	for {
		w = env.do(t, http.MethodGet, "/vcf/run-42", "")
		if w.Code != http.StatusAccepted {
			break
		}
		time.Sleep(10 * time.Millisecond)
		deadline--
		require.Positive(t, deadline, "run never completed")
	}
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "VRS_Allele_IDs="+allele.ID)

	// The result is one-shot: the delivered run is forgotten and its
	// work files are gone.
	w = env.do(t, http.MethodGet, "/vcf/run-42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	entries, err := os.ReadDir(env.cfg.AsyncWorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Unknown runs are 404.
	w = env.do(t, http.MethodGet, "/vcf/never-submitted", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAsyncFailureStatusCode(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.AsyncWorkDir = t.TempDir()
		cfg.AsyncFailureStatusCode = http.StatusBadGateway
	})
	env.fake.StubError("7-140753336-A-T", &translate.ConnectionError{Err: context.DeadlineExceeded})

	w := env.do(t, http.MethodPut, "/vcf?run_async=true&run_id=doomed", vcfBody)
	require.Equal(t, http.StatusAccepted, w.Code)

	deadline := 200
	for {
		w = env.do(t, http.MethodGet, "/vcf/doomed", "")
		if w.Code != http.StatusAccepted {
			break
		}
		time.Sleep(10 * time.Millisecond)
		deadline--
		require.Positive(t, deadline, "run never completed")
	}
	require.Equal(t, http.StatusBadGateway, w.Code)
	var body struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(jobs.ErrRunFailure), body.ErrorCode)
}

const annotatedVCFBody = `##fileformat=VCFv4.2
##INFO=<ID=VRS_Allele_IDs,Number=.,Type=String,Description="x">
##INFO=<ID=VRS_Starts,Number=.,Type=String,Description="x">
##INFO=<ID=VRS_Ends,Number=.,Type=String,Description="x">
##INFO=<ID=VRS_States,Number=.,Type=String,Description="x">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
chr7	140753336	.	A	T	.	PASS	VRS_Allele_IDs=ga4gh:VA.bogus;VRS_Starts=140753335;VRS_Ends=140753336;VRS_States=T
`

func TestPutAnnotatedVCFSync(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.StubAccession("GRCh38", "7", testAccession)
	computed := testAllele(t, 140753335, 140753336, "T")

	// Without validation nothing is reported.
	w := env.do(t, http.MethodPut, "/annotated_vcf", annotatedVCFBody)
	require.Equal(t, http.StatusNoContent, w.Code)

	// With validation the bogus carried ID shows up as a conflict row.
	w = env.do(t, http.MethodPut, "/annotated_vcf?require_validation=true", annotatedVCFBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ga4gh:VA.bogus,"+computed.ID)

	got, err := env.store.GetObjects(context.Background(), storage.ObjectTypeAllele, []string{computed.ID})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPutAnnotatedVCFMissingDeclarations(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPut, "/annotated_vcf", vcfBody)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRequestBodyRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPut, "/variation", `{"no_definition": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/variations", `{"definition":"not an array"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
