package quality

import (
	"strings"
	"testing"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
)

func TestScoreGate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		minWords int
		wantOCR  bool
	}{
		{"empty", "", 5, true},
		{"below threshold", "only three words", 5, true},
		{"enough words", "the quick brown fox jumps over the lazy dog", 5, false},
		{"punctuation only", "... --- ;;; !!! ??? ,,,", 1, true},
		{"junk glyphs", strings.Repeat("��� word ", 20), 5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.text, tc.minWords); got.NeedsOCR != tc.wantOCR {
				t.Fatalf("NeedsOCR = %v, want %v (words=%d)", got.NeedsOCR, tc.wantOCR, got.WordCount)
			}
		})
	}
}

func TestAssessCleanText(t *testing.T) {
	text := "Quarterly revenue increased by twelve percent.\nOperating costs were stable across all regions."
	r := Assess(text, config.DefaultQualityWeights())
	if r.Score < 0.9 {
		t.Fatalf("clean text scored %.3f: %+v", r.Score, r)
	}
}

func TestAssessDegradedText(t *testing.T) {
	clean := Assess("A perfectly ordinary paragraph of English prose.", config.DefaultQualityWeights())
	bad := Assess("xkcdqwrtz ��� zzzzzzzz\nq\nw\ne\nbrkfstmxl", config.DefaultQualityWeights())
	if bad.Score >= clean.Score {
		t.Fatalf("degraded %.3f >= clean %.3f", bad.Score, clean.Score)
	}
	if bad.EncodingAnomalyRatio == 0 || bad.GibberishRatio == 0 || bad.StructuralLoss == 0 {
		t.Fatalf("expected every signal to fire: %+v", bad)
	}
}

func TestAssessWeights(t *testing.T) {
	text := "a\nb\nc\nproper sentence here"
	onlyStructure := Assess(text, config.QualityWeights{StructuralLoss: 1})
	noStructure := Assess(text, config.QualityWeights{EncodingAnomaly: 1, Gibberish: 1})
	if onlyStructure.Score >= noStructure.Score {
		t.Fatalf("structural weight had no effect: %.3f vs %.3f", onlyStructure.Score, noStructure.Score)
	}
	zero := Assess(text, config.QualityWeights{})
	def := Assess(text, config.DefaultQualityWeights())
	if zero.Score != def.Score {
		t.Fatalf("zero weights should fall back to defaults")
	}
}

func TestAnnotateKeepsContent(t *testing.T) {
	text := "Some text � with issues"
	md := extract.NewMetadata("source", "test")
	Assess(text, config.DefaultQualityWeights()).Annotate(&md)
	if md.Keys()[0] != "source" {
		t.Fatalf("existing keys reordered: %v", md.Keys())
	}
	if _, ok := md.Get("quality_score"); !ok {
		t.Fatalf("quality_score missing")
	}
}
