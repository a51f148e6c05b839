// Package langdetect tags text with the languages it is written in.
package langdetect

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/RadhiFadlillah/whatlanggo"

	"github.com/toricodesthings/docintel/internal/config"
)

// minSample is the shortest text, in runes, worth classifying.
const minSample = 20

// Detection is one language found in the text.
type Detection struct {
	Code       string  // ISO 639-1 when one exists, else ISO 639-3
	Confidence float64 // 0..1
	Share      float64 // fraction of classified runes
}

// Detect returns the languages of text, most prominent first. With
// DetectMultiple unset only the dominant language is returned. Detections
// below MinConfidence are dropped.
func Detect(text string, cfg config.LanguageDetectionConfig) []Detection {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minSample {
		return nil
	}

	if !cfg.DetectMultiple {
		d, ok := classify(text)
		if !ok || d.Confidence < cfg.MinConfidence {
			return nil
		}
		d.Share = 1
		return []Detection{d}
	}

	type tally struct {
		runes int
		conf  float64 // rune-weighted sum
	}
	byCode := make(map[string]*tally)
	total := 0
	for _, block := range segments(text) {
		d, ok := classify(block)
		if !ok || d.Confidence < cfg.MinConfidence {
			continue
		}
		n := utf8.RuneCountInString(block)
		t := byCode[d.Code]
		if t == nil {
			t = &tally{}
			byCode[d.Code] = t
		}
		t.runes += n
		t.conf += d.Confidence * float64(n)
		total += n
	}
	if total == 0 {
		return nil
	}

	out := make([]Detection, 0, len(byCode))
	for code, t := range byCode {
		out = append(out, Detection{
			Code:       code,
			Confidence: t.conf / float64(t.runes),
			Share:      float64(t.runes) / float64(total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Share != out[j].Share {
			return out[i].Share > out[j].Share
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// Codes flattens detections to their language codes.
func Codes(ds []Detection) []string {
	if len(ds) == 0 {
		return nil
	}
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Code
	}
	return out
}

func classify(text string) (Detection, bool) {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		code = info.Lang.Iso6393()
	}
	if code == "" {
		return Detection{}, false
	}
	return Detection{Code: code, Confidence: info.Confidence}, true
}

// segments splits text into paragraph-sized blocks, merging short ones so
// each has enough signal to classify.
func segments(text string) []string {
	var out []string
	var cur strings.Builder
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		if utf8.RuneCountInString(cur.String()) >= 4*minSample {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		if rest := cur.String(); len(out) > 0 && utf8.RuneCountInString(rest) < minSample {
			out[len(out)-1] += "\n\n" + rest
		} else {
			out = append(out, rest)
		}
	}
	return out
}
