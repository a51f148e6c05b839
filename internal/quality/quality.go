// Package quality scores extracted text. Scoring only annotates; it never
// changes the text it looks at.
package quality

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
)

// Decision is the text-layer gate used by the PDF extractor.
type Decision struct {
	WordCount int
	NeedsOCR  bool
}

// Score decides whether a page's text layer is good enough to keep or should
// be replaced by OCR.
func Score(text string, minWords int) Decision {
	words := CountWords(text)
	d := Decision{WordCount: words}
	if words < minWords {
		d.NeedsOCR = true
		return d
	}
	// A text layer made mostly of junk glyphs is as bad as none.
	if words > 0 && anomalyRatio(text) > 0.3 {
		d.NeedsOCR = true
	}
	return d
}

// CountWords counts whitespace-separated tokens that contain at least one
// letter or digit.
func CountWords(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			n++
		}
	}
	return n
}

type Report struct {
	EncodingAnomalyRatio float64
	GibberishRatio       float64
	StructuralLoss       float64
	Score                float64
}

// Assess computes the quality signals for text and combines them with w.
// Score is 1 for clean text and falls towards 0 as the weighted signals
// grow. Empty text scores 0.
func Assess(text string, w config.QualityWeights) Report {
	if strings.TrimSpace(text) == "" {
		return Report{}
	}
	r := Report{
		EncodingAnomalyRatio: anomalyRatio(text),
		GibberishRatio:       gibberishRatio(text),
		StructuralLoss:       structuralLoss(text),
	}
	total := w.EncodingAnomaly + w.Gibberish + w.StructuralLoss
	if total <= 0 {
		w = config.DefaultQualityWeights()
		total = w.EncodingAnomaly + w.Gibberish + w.StructuralLoss
	}
	penalty := (w.EncodingAnomaly*r.EncodingAnomalyRatio +
		w.Gibberish*r.GibberishRatio +
		w.StructuralLoss*r.StructuralLoss) / total
	r.Score = clamp01(1 - penalty)
	return r
}

// Annotate writes the report into metadata.
func (r Report) Annotate(m *extract.Metadata) {
	m.Set("quality_score", format(r.Score))
	m.Set("quality.encoding_anomaly_ratio", format(r.EncodingAnomalyRatio))
	m.Set("quality.gibberish_ratio", format(r.GibberishRatio))
	m.Set("quality.structural_loss", format(r.StructuralLoss))
}

func format(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }

// anomalyRatio is the share of runes that signal a decoding problem:
// replacement characters, invalid UTF-8, stray control codes, private-use
// glyphs and the classic UTF-8-read-as-Latin-1 lead bytes.
func anomalyRatio(text string) float64 {
	total, bad := 0, 0
	var prev rune
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		total++
		switch {
		case r == utf8.RuneError && size <= 1:
			bad++
		case r == unicode.ReplacementChar:
			bad++
		case r < 0x20 && r != '\n' && r != '\t' && r != '\r':
			bad++
		case r >= 0x7F && r < 0xA0:
			bad++
		case unicode.Is(unicode.Co, r):
			bad++
		case (prev == 'Ã' || prev == 'Â') && r >= 0x80 && r <= 0xBF:
			bad++
		}
		prev = r
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}

// gibberishRatio is the share of word tokens that do not look like words.
func gibberishRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	bad := 0
	for _, f := range fields {
		if isGibberish(f) {
			bad++
		}
	}
	return float64(bad) / float64(len(fields))
}

func isGibberish(word string) bool {
	word = strings.TrimFunc(word, unicode.IsPunct)
	n := utf8.RuneCountInString(word)
	if n < 4 {
		return false
	}
	if n > 45 && !strings.ContainsAny(word, "/.:") {
		return true
	}

	letters, vowels, symbols, run, maxRun := 0, 0, 0, 0, 0
	var last rune
	latin := true
	for _, r := range word {
		switch {
		case unicode.IsLetter(r):
			letters++
			if strings.ContainsRune("aeiouyAEIOUYàáâäèéêëìíîïòóôöùúûüÿ", r) {
				vowels++
			}
			if r > unicode.MaxLatin1 {
				latin = false
			}
		case unicode.IsDigit(r):
		default:
			symbols++
		}
		if r == last {
			run++
		} else {
			run = 1
		}
		maxRun = max(maxRun, run)
		last = r
	}
	if maxRun >= 4 {
		return true
	}
	if symbols*2 > n {
		return true
	}
	// Vowel checks only make sense for Latin script.
	if latin && letters >= 5 && vowels == 0 {
		return true
	}
	return false
}

// structuralLoss estimates how much layout was destroyed: many one- or
// two-character lines, or words split across lines with a hyphen.
func structuralLoss(text string) float64 {
	lines := strings.Split(text, "\n")
	nonEmpty, fragments, hyphenBreaks := 0, 0, 0
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		nonEmpty++
		if utf8.RuneCountInString(l) <= 2 {
			fragments++
		}
		if strings.HasSuffix(l, "-") && len(l) > 1 && unicode.IsLetter(rune(l[len(l)-2])) {
			hyphenBreaks++
		}
	}
	if nonEmpty == 0 {
		return 0
	}
	return clamp01(float64(fragments)/float64(nonEmpty) + 0.5*float64(hyphenBreaks)/float64(nonEmpty))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
