// Package translate is the facade over the external variation
// normalization service: free-text variant definitions (HGVS, SPDI,
// gnomAD) in, VRS variations out. The registry never normalizes
// locally; everything goes through this interface.
package translate

import (
	"context"
	"fmt"

	"github.com/inodb/vrs-registry/internal/vrs"
)

// Options refine a translation request.
type Options struct {
	// InputType forces the input format (hgvs, spdi, gnomad); empty
	// lets the service infer it.
	InputType string
	// AssemblyName selects the reference assembly (GRCh37 or GRCh38)
	// for coordinate-based formats.
	AssemblyName string
	// Copies requests a CopyNumberCount with the given copies term.
	Copies *vrs.Coordinate
	// CopyChange requests a CopyNumberChange with the given EFO code.
	CopyChange string
}

// Translator converts variant definitions into VRS variations.
type Translator interface {
	// TranslateVariation normalizes a free-text definition.
	TranslateVariation(ctx context.Context, definition string, opts Options) (vrs.Variation, error)

	// TranslateVCFRow normalizes a gnomAD-style coordinate string
	// ("<chr>-<pos>-<ref>-<alt>") against the given assembly.
	TranslateVCFRow(ctx context.Context, coords, assembly string) (vrs.Variation, error)

	// GetSequenceAccession returns the refget accession for a
	// chromosome on an assembly.
	GetSequenceAccession(ctx context.Context, assembly, chrom string) (string, error)
}

// TranslationError reports a definition the service understood but
// could not normalize. Maps to 422 on the HTTP surface.
type TranslationError struct {
	Definition string
	Reason     string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("unable to translate %q: %s", e.Definition, e.Reason)
}

// ConnectionError reports that the translation service itself was
// unreachable or misbehaving. Maps to 500 on the HTTP surface.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("translation service unavailable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
