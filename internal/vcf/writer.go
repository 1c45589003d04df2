package vcf

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Writer emits VCF rows, inserting additional ##INFO declarations
// ahead of the #CHROM line.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w in a VCF writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteHeader writes the header lines, splicing extraInfoLines in
// before the #CHROM line.
func (w *Writer) WriteHeader(header, extraInfoLines []string) error {
	for _, line := range header {
		if strings.HasPrefix(line, "#CHROM") {
			for _, extra := range extraInfoLines {
				if _, err := fmt.Fprintln(w.w, extra); err != nil {
					return fmt.Errorf("write header: %w", err)
				}
			}
		}
		if _, err := fmt.Fprintln(w.w, line); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	return nil
}

// WriteVariant writes one data row.
func (w *Writer) WriteVariant(v *Variant) error {
	fields := []string{
		v.Chrom,
		fmt.Sprint(v.Pos),
		orDot(v.ID),
		v.Ref,
		orDot(v.Alt),
		orDot(v.Qual),
		orDot(v.Filter),
		v.Info.String(),
	}
	if v.SampleColumns != "" {
		fields = append(fields, v.SampleColumns)
	}
	if _, err := fmt.Fprintln(w.w, strings.Join(fields, "\t")); err != nil {
		return fmt.Errorf("write variant: %w", err)
	}
	return nil
}

// Flush writes any buffered output.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func orDot(s string) string {
	if s == "" {
		return "."
	}
	return s
}

// InfoHeaderLines returns the ##INFO declarations for the annotation
// fields this pipeline can add.
func InfoHeaderLines(keys []string) []string {
	descriptions := map[string]string{
		"VRS_Allele_IDs":           "The computed identifiers for the GA4GH VRS Alleles corresponding to the values in the REF and ALT fields",
		"VRS_Starts":               "Interresidue coordinates used as the location starts for the GA4GH VRS Alleles corresponding to the values in the REF and ALT fields",
		"VRS_Ends":                 "Interresidue coordinates used as the location ends for the GA4GH VRS Alleles corresponding to the values in the REF and ALT fields",
		"VRS_States":               "The literal sequence states used for the GA4GH VRS Alleles corresponding to the values in the REF and ALT fields",
		"VRS_Lengths":              "The lengths of the sequence states used for the GA4GH VRS Alleles corresponding to the values in the REF and ALT fields",
		"VRS_RepeatSubunitLengths": "The repeat subunit lengths of the reference length expressions used for the GA4GH VRS Alleles corresponding to the values in the REF and ALT fields",
	}
	var lines []string
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf(
			`##INFO=<ID=%s,Number=.,Type=String,Description="%s">`,
			key, descriptions[key]))
	}
	return lines
}
