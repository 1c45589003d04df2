package vcf

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestVariant_GnomadCoords(t *testing.T) {
	v := &Variant{Chrom: "chr7", Pos: 140753336, Ref: "A", Alt: "T,G"}

	got := v.GnomadCoords(false)
	want := []string{"7-140753336-A-T", "7-140753336-A-G"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GnomadCoords(false) = %v, want %v", got, want)
	}

	got = v.GnomadCoords(true)
	want = []string{"7-140753336-A-A", "7-140753336-A-T", "7-140753336-A-G"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GnomadCoords(true) = %v, want %v", got, want)
	}
}

func TestVariant_NormalizeChrom(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"chr12", "12"},
		{"12", "12"},
		{"chrX", "X"},
		{"chr", "chr"},
	}
	for _, tt := range tests {
		v := &Variant{Chrom: tt.in}
		if got := v.NormalizeChrom(); got != tt.want {
			t.Errorf("NormalizeChrom(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestInfo_RoundTripPreservesOrder(t *testing.T) {
	info := ParseInfo("DP=100;AF=0.5;DB;AC=3")
	if got := info.String(); got != "DP=100;AF=0.5;DB;AC=3" {
		t.Errorf("Round trip changed INFO: %s", got)
	}

	// Flags report present with empty value.
	if v, ok := info.Get("DB"); !ok || v != "" {
		t.Errorf("Get(DB) = %q, %v", v, ok)
	}
	if _, ok := info.Get("missing"); ok {
		t.Error("Get(missing) reported present")
	}
}

func TestInfo_SetAppendsAndReplaces(t *testing.T) {
	info := ParseInfo("DP=100")
	info.Set("VRS_Allele_IDs", "ga4gh:VA.x,ga4gh:VA.y")
	info.Set("DP", "200")
	if got := info.String(); got != "DP=200;VRS_Allele_IDs=ga4gh:VA.x,ga4gh:VA.y" {
		t.Errorf("Unexpected INFO: %s", got)
	}
}

func TestInfo_EmptyRendersDot(t *testing.T) {
	info := ParseInfo(".")
	if got := info.String(); got != "." {
		t.Errorf("Empty INFO = %q, want .", got)
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	parser, err := NewParserFromReader(strings.NewReader(sampleVCF))
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	var out bytes.Buffer
	w := NewWriter(&out)
	extra := InfoHeaderLines([]string{"VRS_Allele_IDs"})
	if err := w.WriteHeader(parser.Header(), extra); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	for {
		v, err := parser.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if v == nil {
			break
		}
		v.Info.Set("VRS_Allele_IDs", "ga4gh:VA.test")
		if err := w.WriteVariant(v); err != nil {
			t.Fatalf("WriteVariant: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "##INFO=<ID=VRS_Allele_IDs") {
		t.Error("Missing VRS_Allele_IDs INFO declaration")
	}
	chromIdx := strings.Index(text, "#CHROM")
	infoIdx := strings.Index(text, "##INFO=<ID=VRS_Allele_IDs")
	if infoIdx > chromIdx {
		t.Error("INFO declaration must precede #CHROM line")
	}
	if !strings.Contains(text, "DP=100;VRS_Allele_IDs=ga4gh:VA.test") {
		t.Error("Annotated INFO field missing from output")
	}
}
