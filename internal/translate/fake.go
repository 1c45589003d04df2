package translate

import (
	"context"
	"sync"

	"github.com/inodb/vrs-registry/internal/vrs"
)

// Fake is an in-memory Translator keyed on the raw query string, for
// tests and offline pipelines.
type Fake struct {
	mu         sync.Mutex
	results    map[string]vrs.Variation
	errs       map[string]error
	accessions map[string]string // "assembly/chrom" -> refget accession
	calls      []string
}

var _ Translator = (*Fake)(nil)

// NewFake returns an empty fake translator; unknown queries yield a
// TranslationError.
func NewFake() *Fake {
	return &Fake{
		results:    map[string]vrs.Variation{},
		errs:       map[string]error{},
		accessions: map[string]string{},
	}
}

// Stub registers a canned variation for the query.
func (f *Fake) Stub(query string, v vrs.Variation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[query] = v
}

// StubError registers a canned error for the query.
func (f *Fake) StubError(query string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[query] = err
}

// Calls returns the queries seen so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// TranslateVariation implements Translator.
func (f *Fake) TranslateVariation(_ context.Context, definition string, _ Options) (vrs.Variation, error) {
	return f.lookup(definition)
}

// TranslateVCFRow implements Translator.
func (f *Fake) TranslateVCFRow(_ context.Context, coords, _ string) (vrs.Variation, error) {
	return f.lookup(coords)
}

// StubAccession registers a refget accession for an assembly/chrom pair.
func (f *Fake) StubAccession(assembly, chrom, accession string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessions[assembly+"/"+chrom] = accession
}

// GetSequenceAccession implements Translator.
func (f *Fake) GetSequenceAccession(_ context.Context, assembly, chrom string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, ok := f.accessions[assembly+"/"+chrom]; ok {
		return acc, nil
	}
	return "", &TranslationError{Definition: assembly + "/" + chrom, Reason: "no stubbed accession"}
}

func (f *Fake) lookup(query string) (vrs.Variation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, query)
	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	if v, ok := f.results[query]; ok {
		return v, nil
	}
	return nil, &TranslationError{Definition: query, Reason: "no stubbed result"}
}
