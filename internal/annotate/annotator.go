// Package annotate implements the VCF ingestion pipeline: streaming
// per-site translation into VRS alleles, registration through the
// storage layer, and emission of the annotated VCF. A second entry
// point ingests VCFs that already carry VRS annotations, optionally
// validating the carried identifiers.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/translate"
	"github.com/inodb/vrs-registry/internal/vcf"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// INFO keys written by the pipeline.
const (
	InfoAlleleIDs            = "VRS_Allele_IDs"
	InfoStarts               = "VRS_Starts"
	InfoEnds                 = "VRS_Ends"
	InfoStates               = "VRS_States"
	InfoLengths              = "VRS_Lengths"
	InfoRepeatSubunitLengths = "VRS_RepeatSubunitLengths"

	// errorPlaceholder fills the ID slot of an allele the translator
	// could not handle.
	errorPlaceholder = "VRS_Error"
)

var assemblyPattern = regexp.MustCompile(`^(GRCh38|GRCh37)$`)

// InvalidAssemblyError reports an assembly name outside the supported
// set.
type InvalidAssemblyError struct {
	Assembly string
}

func (e *InvalidAssemblyError) Error() string {
	return fmt.Sprintf("unsupported assembly %q: must match GRCh38 or GRCh37", e.Assembly)
}

// ValidateAssembly rejects assembly names before any work starts.
func ValidateAssembly(assembly string) error {
	if !assemblyPattern.MatchString(assembly) {
		return &InvalidAssemblyError{Assembly: assembly}
	}
	return nil
}

// Options configure one annotation run.
type Options struct {
	// Assembly is GRCh38 or GRCh37.
	Assembly string
	// ComputeForRef also translates the REF allele (slot 0).
	ComputeForRef bool
	// AddVRSAttributes additionally emits VRS_Starts, VRS_Ends,
	// VRS_States, VRS_Lengths and VRS_RepeatSubunitLengths.
	AddVRSAttributes bool
	// AllowAsyncWrite skips the flush barrier at end of stream.
	AllowAsyncWrite bool
	// Workers bounds the translation pool; 0 means NumCPU.
	Workers int
}

// Stats summarize a completed run.
type Stats struct {
	Rows       int
	Translated int
	Errors     int
}

// Annotator runs the VCF pipeline against a store and a translator.
type Annotator struct {
	store      storage.Store
	translator translate.Translator
	logger     *zap.Logger
}

// NewAnnotator creates an annotator. The logger defaults to no-op.
func NewAnnotator(store storage.Store, translator translate.Translator) *Annotator {
	return &Annotator{store: store, translator: translator, logger: zap.NewNop()}
}

// SetLogger replaces the default no-op logger.
func (a *Annotator) SetLogger(logger *zap.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// AnnotateVCF streams the input VCF, translates every allele, stores
// the resulting VRS objects, and writes the annotated VCF to out.
// Translator rejections become per-slot VRS_Error markers; a
// translator connection failure aborts the run.
func (a *Annotator) AnnotateVCF(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*Stats, error) {
	if err := ValidateAssembly(opts.Assembly); err != nil {
		return nil, err
	}
	parser, err := vcf.NewParserFromReader(in)
	if err != nil {
		return nil, err
	}

	writer := vcf.NewWriter(out)
	infoKeys := []string{InfoAlleleIDs}
	if opts.AddVRSAttributes {
		infoKeys = append(infoKeys, InfoStarts, InfoEnds, InfoStates,
			InfoLengths, InfoRepeatSubunitLengths)
	}
	if err := writer.WriteHeader(parser.Header(), vcf.InfoHeaderLines(infoKeys)); err != nil {
		return nil, err
	}

	stats := &Stats{}
	err = storage.WithBatch(ctx, a.store, func() error {
		items := make(chan workItem)
		errc := make(chan error, 1)
		go func() {
			defer close(items)
			seq := 0
			for {
				v, err := parser.Next()
				if err != nil {
					errc <- err
					return
				}
				if v == nil {
					errc <- nil
					return
				}
				select {
				case items <- workItem{seq: seq, variant: v}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
				seq++
			}
		}()

		results := a.parallelTranslate(ctx, items, opts)
		collectErr := orderedCollect(results, func(r workResult) error {
			if r.err != nil {
				return r.err
			}
			stats.Rows++
			stats.Translated += len(r.objects)
			stats.Errors += r.errorSlots
			if len(r.objects) > 0 {
				if err := a.store.AddObjects(ctx, r.objects); err != nil {
					return err
				}
			}
			r.variant.Info.Set(InfoAlleleIDs, strings.Join(r.ids, ","))
			if opts.AddVRSAttributes {
				r.variant.Info.Set(InfoStarts, strings.Join(r.starts, ","))
				r.variant.Info.Set(InfoEnds, strings.Join(r.ends, ","))
				r.variant.Info.Set(InfoStates, strings.Join(r.states, ","))
				r.variant.Info.Set(InfoLengths, strings.Join(r.lengths, ","))
				r.variant.Info.Set(InfoRepeatSubunitLengths, strings.Join(r.repeats, ","))
			}
			return writer.WriteVariant(r.variant)
		})
		if collectErr != nil {
			return collectErr
		}
		return <-errc
	})
	if err != nil {
		return nil, err
	}

	if !opts.AllowAsyncWrite {
		if err := a.store.WaitForWrites(ctx); err != nil {
			return nil, err
		}
	}
	if err := writer.Flush(); err != nil {
		return nil, err
	}
	a.logger.Info("annotated vcf",
		zap.Int("rows", stats.Rows),
		zap.Int("translated", stats.Translated),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

// translateRow resolves every allele slot of one row.
func (a *Annotator) translateRow(ctx context.Context, v *vcf.Variant, opts Options) workResult {
	r := workResult{variant: v}
	for _, coord := range v.GnomadCoords(opts.ComputeForRef) {
		variation, err := a.translator.TranslateVCFRow(ctx, coord, opts.Assembly)
		if err != nil {
			var terr *translate.TranslationError
			if errors.As(err, &terr) {
				a.logger.Debug("translator rejected allele",
					zap.String("coord", coord), zap.String("reason", terr.Reason))
				r.ids = append(r.ids, errorPlaceholder)
				r.starts = append(r.starts, "")
				r.ends = append(r.ends, "")
				r.states = append(r.states, "")
				r.lengths = append(r.lengths, "")
				r.repeats = append(r.repeats, "")
				r.errorSlots++
				continue
			}
			r.err = err
			return r
		}
		r.objects = append(r.objects, variation)
		r.ids = append(r.ids, variation.GetID())
		attrs := variationAttributes(variation)
		r.starts = append(r.starts, attrs.start)
		r.ends = append(r.ends, attrs.end)
		r.states = append(r.states, attrs.state)
		r.lengths = append(r.lengths, attrs.length)
		r.repeats = append(r.repeats, attrs.repeatSubunitLength)
	}
	return r
}

// slotAttributes are the per-allele INFO values; absent fields render
// as empty slots.
type slotAttributes struct {
	start               string
	end                 string
	state               string
	length              string
	repeatSubunitLength string
}

func variationAttributes(v vrs.Variation) slotAttributes {
	var a slotAttributes
	loc := v.GetLocation()
	if loc != nil {
		if loc.Start != nil && loc.Start.Value != nil {
			a.start = fmt.Sprint(*loc.Start.Value)
		}
		if loc.End != nil && loc.End.Value != nil {
			a.end = fmt.Sprint(*loc.End.Value)
		}
	}
	if allele, ok := v.(*vrs.Allele); ok && allele.State != nil {
		a.state = allele.State.Sequence
		if allele.State.Length != nil && allele.State.Length.Value != nil {
			a.length = fmt.Sprint(*allele.State.Length.Value)
		}
		if allele.State.RepeatSubunitLength != nil {
			a.repeatSubunitLength = fmt.Sprint(*allele.State.RepeatSubunitLength)
		}
	}
	return a
}
