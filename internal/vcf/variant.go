// Package vcf provides VCF reading and writing for the annotation
// pipeline: a streaming parser for plain or gzipped input and a writer
// that emits rows enriched with additional INFO fields.
package vcf

import (
	"fmt"
	"strings"
)

// Variant represents a single VCF data row. Alt holds all alternate
// alleles of the row; the pipeline annotates per allele without
// splitting multi-allelic rows.
type Variant struct {
	Chrom         string // Chromosome name (e.g., "7", "chr7")
	Pos           int64  // 1-based genomic position
	ID            string // Variant identifier (e.g., rs ID)
	Ref           string // Reference allele
	Alt           string // Alternate alleles, comma-separated
	Qual          string // Quality score, "." when absent
	Filter        string // Filter status (PASS or filter name)
	Info          Info   // INFO field, order-preserving
	SampleColumns string // FORMAT + sample columns verbatim, if present
}

// Alts returns the alternate alleles as a slice.
func (v *Variant) Alts() []string {
	if v.Alt == "" || v.Alt == "." {
		return nil
	}
	return strings.Split(v.Alt, ",")
}

// GnomadCoords returns the per-allele translation inputs in slot
// order: REF first when forRef is set, then each ALT.
func (v *Variant) GnomadCoords(forRef bool) []string {
	chrom := v.NormalizeChrom()
	var coords []string
	if forRef {
		coords = append(coords, fmt.Sprintf("%s-%d-%s-%s", chrom, v.Pos, v.Ref, v.Ref))
	}
	for _, alt := range v.Alts() {
		coords = append(coords, fmt.Sprintf("%s-%d-%s-%s", chrom, v.Pos, v.Ref, alt))
	}
	return coords
}

// NormalizeChrom returns the chromosome name without "chr" prefix.
func (v *Variant) NormalizeChrom() string {
	if len(v.Chrom) > 3 && v.Chrom[:3] == "chr" {
		return v.Chrom[3:]
	}
	return v.Chrom
}

// Info is an order-preserving INFO field. Keys without values are
// flags.
type Info struct {
	keys   []string
	values map[string]string
	flags  map[string]bool
}

// ParseInfo parses the raw INFO column.
func ParseInfo(raw string) Info {
	info := Info{values: map[string]string{}, flags: map[string]bool{}}
	if raw == "." || raw == "" {
		return info
	}
	for _, kv := range strings.Split(raw, ";") {
		key, value, found := strings.Cut(kv, "=")
		if _, seen := info.values[key]; !seen && !info.flags[key] {
			info.keys = append(info.keys, key)
		}
		if found {
			info.values[key] = value
		} else {
			info.flags[key] = true
		}
	}
	return info
}

// Get returns the value for key and whether it was present. Flags
// report present with an empty value.
func (i *Info) Get(key string) (string, bool) {
	if v, ok := i.values[key]; ok {
		return v, true
	}
	if i.flags[key] {
		return "", true
	}
	return "", false
}

// Set adds or replaces a key=value entry, preserving first-seen order.
func (i *Info) Set(key, value string) {
	if i.values == nil {
		i.values = map[string]string{}
		i.flags = map[string]bool{}
	}
	if _, seen := i.values[key]; !seen && !i.flags[key] {
		i.keys = append(i.keys, key)
	}
	delete(i.flags, key)
	i.values[key] = value
}

// String renders the INFO column; an empty field renders as ".".
func (i *Info) String() string {
	if len(i.keys) == 0 {
		return "."
	}
	parts := make([]string, 0, len(i.keys))
	for _, key := range i.keys {
		if i.flags[key] {
			parts = append(parts, key)
			continue
		}
		parts = append(parts, key+"="+i.values[key])
	}
	return strings.Join(parts, ";")
}
