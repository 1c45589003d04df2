// Package liftover converts a variation between the GRCh37 and GRCh38
// reference assemblies. The raw per-position converter and the
// sequence alias resolver are injected; this package owns assembly
// resolution, chromosome naming, range-shape preservation, and
// re-identification of the lifted variant.
package liftover

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/vrs"
)

// Supported assemblies, in resolution priority order.
const (
	AssemblyGRCh38 = "GRCh38"
	AssemblyGRCh37 = "GRCh37"
)

// Class tags a liftover failure.
type Class string

// Failure classes.
const (
	ClassUnsupportedReferenceAssembly   Class = "UnsupportedReferenceAssembly"
	ClassAmbiguousReferenceAssembly     Class = "AmbiguousReferenceAssembly"
	ClassChromosomeResolution           Class = "ChromosomeResolution"
	ClassCoordinateConversion           Class = "CoordinateConversion"
	ClassAccessionConversion            Class = "AccessionConversion"
	ClassMalformedInput                 Class = "MalformedInput"
	ClassUnsupportedVariantLocationType Class = "UnsupportedVariantLocationType"
)

// Error is a classified liftover failure.
type Error struct {
	Class  Class
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("liftover failed (%s): %s", e.Class, e.Detail)
}

func classErr(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Detail: fmt.Sprintf(format, args...)}
}

// CoordinateConverter converts one interresidue position between
// assemblies. Implementations typically wrap chain files.
type CoordinateConverter interface {
	// Convert maps pos on chrom from one assembly to the other,
	// returning the target chromosome and position.
	Convert(ctx context.Context, fromAssembly, toAssembly, chrom string, pos int64) (string, int64, error)
}

// DataProxy resolves sequence accessions and their aliases.
type DataProxy interface {
	// GetAliases lists the namespaced aliases of a refget accession,
	// e.g. "GRCh38:chr7" or "refseq:NC_000007.14".
	GetAliases(ctx context.Context, refgetAccession string) ([]string, error)

	// FindAccession returns the refget accession for a chromosome on
	// an assembly.
	FindAccession(ctx context.Context, assembly, chrom string) (string, error)
}

// Lifter is the liftover facade.
type Lifter struct {
	conv   CoordinateConverter
	proxy  DataProxy
	logger *zap.Logger
}

// New returns a Lifter over the given converter and proxy.
func New(conv CoordinateConverter, proxy DataProxy) *Lifter {
	return &Lifter{conv: conv, proxy: proxy, logger: zap.NewNop()}
}

// SetLogger replaces the default no-op logger.
func (l *Lifter) SetLogger(logger *zap.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Lift returns the variation converted to the other supported
// assembly, fully re-identified. The input is not modified.
func (l *Lifter) Lift(ctx context.Context, v vrs.Variation) (vrs.Variation, error) {
	if v == nil {
		return nil, classErr(ClassMalformedInput, "nil variation")
	}
	loc := v.GetLocation()
	if loc == nil || loc.SequenceReference == nil || loc.SequenceReference.RefgetAccession == "" {
		return nil, classErr(ClassMalformedInput, "variation has no resolvable sequence location")
	}
	if loc.Start == nil || loc.End == nil {
		return nil, classErr(ClassUnsupportedVariantLocationType,
			"location must carry both start and end coordinates")
	}

	aliases, err := l.proxy.GetAliases(ctx, loc.SequenceReference.RefgetAccession)
	if err != nil {
		return nil, classErr(ClassChromosomeResolution,
			"resolve aliases of %s: %v", loc.SequenceReference.RefgetAccession, err)
	}
	fromAssembly, chrom, err := resolveAssembly(aliases)
	if err != nil {
		return nil, err
	}
	toAssembly := AssemblyGRCh37
	if fromAssembly == AssemblyGRCh37 {
		toAssembly = AssemblyGRCh38
	}

	newChrom := ""
	convert := func(pos int64) (int64, error) {
		c, p, err := l.conv.Convert(ctx, fromAssembly, toAssembly, chrom, pos)
		if err != nil {
			return 0, classErr(ClassCoordinateConversion,
				"convert %s:%d from %s to %s: %v", chrom, pos, fromAssembly, toAssembly, err)
		}
		if newChrom == "" {
			newChrom = c
		} else if newChrom != c {
			return 0, classErr(ClassCoordinateConversion,
				"endpoints of %s map to different chromosomes (%s vs %s)", chrom, newChrom, c)
		}
		return p, nil
	}

	start, err := liftCoordinate(loc.Start, convert)
	if err != nil {
		return nil, err
	}
	end, err := liftCoordinate(loc.End, convert)
	if err != nil {
		return nil, err
	}

	accession, err := l.proxy.FindAccession(ctx, toAssembly, newChrom)
	if err != nil {
		return nil, classErr(ClassAccessionConversion,
			"find accession for %s %s: %v", toAssembly, newChrom, err)
	}

	lifted, err := rebuild(v, accession, start, end)
	if err != nil {
		return nil, err
	}
	if err := vrs.RecursiveIdentify(lifted); err != nil {
		return nil, fmt.Errorf("identify lifted variation: %w", err)
	}
	l.logger.Debug("lifted variation",
		zap.String("from", fromAssembly),
		zap.String("to", toAssembly),
		zap.String("source_id", v.GetID()),
		zap.String("lifted_id", lifted.GetID()))
	return lifted, nil
}

// liftCoordinate converts a coordinate endpoint-wise, preserving its
// shape: definite stays definite, ranged stays ranged with absent
// bounds left absent.
func liftCoordinate(c *vrs.Coordinate, convert func(int64) (int64, error)) (*vrs.Coordinate, error) {
	if c.Value != nil {
		p, err := convert(*c.Value)
		if err != nil {
			return nil, err
		}
		return vrs.Int(p), nil
	}
	var lower, upper *int64
	if c.Lower != nil {
		p, err := convert(*c.Lower)
		if err != nil {
			return nil, err
		}
		lower = &p
	}
	if c.Upper != nil {
		p, err := convert(*c.Upper)
		if err != nil {
			return nil, err
		}
		upper = &p
	}
	return vrs.RangeCoord(lower, upper), nil
}

// resolveAssembly picks the source assembly from namespaced aliases,
// GRCh38 before GRCh37. Claims on both assemblies are ambiguous;
// claims on neither are unsupported; a claim whose chromosome name is
// unrecognizable is a chromosome-resolution failure.
func resolveAssembly(aliases []string) (assembly, chrom string, err error) {
	name38, on38 := aliasForAssembly(aliases, AssemblyGRCh38)
	name37, on37 := aliasForAssembly(aliases, AssemblyGRCh37)
	switch {
	case on38 && on37:
		return "", "", classErr(ClassAmbiguousReferenceAssembly,
			"accession is aliased on both GRCh38 (%s) and GRCh37 (%s)", name38, name37)
	case on38:
		assembly, chrom = AssemblyGRCh38, name38
	case on37:
		assembly, chrom = AssemblyGRCh37, name37
	default:
		return "", "", classErr(ClassUnsupportedReferenceAssembly,
			"accession is not aliased on a supported assembly")
	}
	normalized, ok := NormalizeChromosome(chrom)
	if !ok {
		return "", "", classErr(ClassChromosomeResolution,
			"unrecognized chromosome name %q on %s", chrom, assembly)
	}
	return assembly, normalized, nil
}

func aliasForAssembly(aliases []string, assembly string) (string, bool) {
	for _, alias := range aliases {
		ns, name, found := strings.Cut(alias, ":")
		if found && ns == assembly {
			return name, true
		}
	}
	return "", false
}

// NormalizeChromosome maps a chromosome name to its canonical
// chr-prefixed form (chr1..chr22, chrX, chrY, chrM). Unrecognized
// names are rejected.
func NormalizeChromosome(name string) (string, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "chr")
	switch name {
	case "X", "x":
		return "chrX", true
	case "Y", "y":
		return "chrY", true
	case "M", "MT", "m", "mt":
		return "chrM", true
	}
	for i := 1; i <= 22; i++ {
		if name == fmt.Sprint(i) {
			return "chr" + name, true
		}
	}
	return "", false
}

// rebuild clones the variation onto a new location, dropping stale
// digests so re-identification starts clean.
func rebuild(v vrs.Variation, accession string, start, end *vrs.Coordinate) (vrs.Variation, error) {
	loc := &vrs.SequenceLocation{
		Type: vrs.TypeSequenceLocation,
		SequenceReference: &vrs.SequenceReference{
			Type:            vrs.TypeSequenceReference,
			RefgetAccession: accession,
		},
		Start: start,
		End:   end,
	}
	switch o := v.(type) {
	case *vrs.Allele:
		state := *o.State
		return &vrs.Allele{Type: vrs.TypeAllele, Location: loc, State: &state}, nil
	case *vrs.CopyNumberCount:
		return &vrs.CopyNumberCount{Type: vrs.TypeCopyNumberCount, Location: loc, Copies: o.Copies}, nil
	case *vrs.CopyNumberChange:
		return &vrs.CopyNumberChange{Type: vrs.TypeCopyNumberChange, Location: loc, CopyChange: o.CopyChange}, nil
	default:
		return nil, classErr(ClassUnsupportedVariantLocationType,
			"cannot lift a %s", v.ObjectType())
	}
}
