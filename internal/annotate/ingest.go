package annotate

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/vcf"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// requiredInfoKeys must be declared by a pre-annotated VCF.
var requiredInfoKeys = []string{InfoAlleleIDs, InfoStarts, InfoEnds, InfoStates}

// RequiredAnnotationsError reports a pre-annotated VCF missing
// mandatory INFO declarations.
type RequiredAnnotationsError struct {
	Missing []string
}

func (e *RequiredAnnotationsError) Error() string {
	return fmt.Sprintf("input is missing required annotations: %s", strings.Join(e.Missing, ", "))
}

// IngestOptions configure one ingest run.
type IngestOptions struct {
	// Assembly is GRCh38 or GRCh37.
	Assembly string
	// RequireValidation recomputes each object's digest and reports
	// mismatches to the conflict stream.
	RequireValidation bool
	// AllowAsyncWrite skips the flush barrier at end of stream.
	AllowAsyncWrite bool
}

// IngestStats summarize a completed ingest run.
type IngestStats struct {
	Rows      int
	Stored    int
	Conflicts int
}

// IngestAnnotated registers the VRS alleles carried in a pre-annotated
// VCF. When validation is on, each carried identifier is checked
// against the recomputed digest; mismatches land in conflicts as CSV
// rows (chrom, pos, annotated_id, computed_id) and the recomputed ID
// wins.
func (a *Annotator) IngestAnnotated(ctx context.Context, in io.Reader, conflicts io.Writer, opts IngestOptions) (*IngestStats, error) {
	if err := ValidateAssembly(opts.Assembly); err != nil {
		return nil, err
	}
	parser, err := vcf.NewParserFromReader(in)
	if err != nil {
		return nil, err
	}
	if err := checkRequiredAnnotations(parser.Header()); err != nil {
		return nil, err
	}

	var report *csv.Writer
	if opts.RequireValidation && conflicts != nil {
		report = csv.NewWriter(conflicts)
	}

	// One accession lookup per chromosome.
	accessions := map[string]string{}
	accessionFor := func(chrom string) (string, error) {
		if acc, ok := accessions[chrom]; ok {
			return acc, nil
		}
		acc, err := a.translator.GetSequenceAccession(ctx, opts.Assembly, chrom)
		if err != nil {
			return "", err
		}
		accessions[chrom] = acc
		return acc, nil
	}

	stats := &IngestStats{}
	err = storage.WithBatch(ctx, a.store, func() error {
		for {
			v, err := parser.Next()
			if err != nil {
				return err
			}
			if v == nil {
				return nil
			}
			stats.Rows++
			if err := a.ingestRow(ctx, v, accessionFor, report, opts, stats); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if !opts.AllowAsyncWrite {
		if err := a.store.WaitForWrites(ctx); err != nil {
			return nil, err
		}
	}
	if report != nil {
		report.Flush()
		if err := report.Error(); err != nil {
			return nil, fmt.Errorf("write conflict report: %w", err)
		}
	}
	a.logger.Info("ingested annotated vcf",
		zap.Int("rows", stats.Rows),
		zap.Int("stored", stats.Stored),
		zap.Int("conflicts", stats.Conflicts))
	return stats, nil
}

func (a *Annotator) ingestRow(ctx context.Context, v *vcf.Variant,
	accessionFor func(string) (string, error), report *csv.Writer,
	opts IngestOptions, stats *IngestStats,
) error {
	ids, ok := v.Info.Get(InfoAlleleIDs)
	if !ok {
		return nil
	}
	starts, _ := v.Info.Get(InfoStarts)
	ends, _ := v.Info.Get(InfoEnds)
	states, _ := v.Info.Get(InfoStates)
	lengths, _ := v.Info.Get(InfoLengths)
	repeats, _ := v.Info.Get(InfoRepeatSubunitLengths)

	idSlots := strings.Split(ids, ",")
	startSlots := strings.Split(starts, ",")
	endSlots := strings.Split(ends, ",")
	stateSlots := strings.Split(states, ",")
	var lengthSlots, repeatSlots []string
	if lengths != "" {
		lengthSlots = strings.Split(lengths, ",")
	}
	if repeats != "" {
		repeatSlots = strings.Split(repeats, ",")
	}

	for i, annotatedID := range idSlots {
		if annotatedID == "" || annotatedID == errorPlaceholder {
			continue
		}
		if i >= len(startSlots) || i >= len(endSlots) || i >= len(stateSlots) {
			return &vcf.ParseError{Line: 0,
				Message: fmt.Sprintf("allele slot %d of %s:%d lacks VRS attributes", i, v.Chrom, v.Pos)}
		}
		start, err := strconv.ParseInt(startSlots[i], 10, 64)
		if err != nil {
			return fmt.Errorf("parse VRS_Starts slot %d at %s:%d: %w", i, v.Chrom, v.Pos, err)
		}
		end, err := strconv.ParseInt(endSlots[i], 10, 64)
		if err != nil {
			return fmt.Errorf("parse VRS_Ends slot %d at %s:%d: %w", i, v.Chrom, v.Pos, err)
		}
		accession, err := accessionFor(v.NormalizeChrom())
		if err != nil {
			return err
		}

		// Non-empty length slots mark a reference-length state; the
		// state column then only carries the (optional) repeat
		// sequence.
		state := &vrs.State{Type: vrs.StateLiteral, Sequence: stateSlots[i]}
		if i < len(lengthSlots) && i < len(repeatSlots) &&
			lengthSlots[i] != "" && repeatSlots[i] != "" {
			length, err := strconv.ParseInt(lengthSlots[i], 10, 64)
			if err != nil {
				return fmt.Errorf("parse %s slot %d at %s:%d: %w", InfoLengths, i, v.Chrom, v.Pos, err)
			}
			repeat, err := strconv.ParseInt(repeatSlots[i], 10, 64)
			if err != nil {
				return fmt.Errorf("parse %s slot %d at %s:%d: %w", InfoRepeatSubunitLengths, i, v.Chrom, v.Pos, err)
			}
			state = &vrs.State{
				Type:                vrs.StateReferenceLength,
				Length:              vrs.Int(length),
				RepeatSubunitLength: &repeat,
			}
		}

		allele := &vrs.Allele{
			Location: &vrs.SequenceLocation{
				SequenceReference: &vrs.SequenceReference{RefgetAccession: accession},
				Start:             vrs.Int(start),
				End:               vrs.Int(end),
			},
			State: state,
		}
		if err := vrs.RecursiveIdentify(allele); err != nil {
			return fmt.Errorf("identify allele at %s:%d: %w", v.Chrom, v.Pos, err)
		}

		// The recomputed identifier is authoritative.
		if opts.RequireValidation && allele.ID != annotatedID {
			stats.Conflicts++
			if report != nil {
				if err := report.Write([]string{
					v.Chrom, fmt.Sprint(v.Pos), annotatedID, allele.ID,
				}); err != nil {
					return fmt.Errorf("write conflict row: %w", err)
				}
			}
		}
		if err := a.store.AddObjects(ctx, []vrs.Object{allele}); err != nil {
			return err
		}
		stats.Stored++
	}
	return nil
}

// checkRequiredAnnotations verifies the header declares every VRS INFO
// field the ingest path depends on.
func checkRequiredAnnotations(header []string) error {
	declared := map[string]bool{}
	for _, line := range header {
		for _, key := range requiredInfoKeys {
			if strings.HasPrefix(line, "##INFO=<ID="+key+",") {
				declared[key] = true
			}
		}
	}
	var missing []string
	for _, key := range requiredInfoKeys {
		if !declared[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &RequiredAnnotationsError{Missing: missing}
	}
	return nil
}
