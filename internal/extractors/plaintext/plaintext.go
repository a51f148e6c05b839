// Package plaintext extracts text-like formats: plain text, markdown, HTML
// and RTF.
package plaintext

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/toricodesthings/docintel/internal/extract"
)

// Extractor handles plain text and markdown. It is the fallback for any
// text/* type no dedicated extractor claims.
type Extractor struct {
	maxBytes int64
}

func New(maxBytes int64) *Extractor {
	return &Extractor{maxBytes: maxBytes}
}

func (e *Extractor) Name() string       { return "text" }
func (e *Extractor) MaxFileSize() int64 { return e.maxBytes }

// Priority is below the dedicated text extractors so text/* only lands here
// when nothing more specific is registered.
func (e *Extractor) Priority() int { return 10 }

func (e *Extractor) SupportedTypes() []string {
	return []string{"text/plain", "text/markdown", "text/x-rst", "text/*"}
}

func (e *Extractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	text, enc := Decode(in.Data)
	fileType := "text/plain"
	if in.MIMEType == "text/markdown" {
		text = stripFrontMatter(text)
		fileType = "text/markdown"
	}

	res := extract.Result{
		Content:  normalizeText(text),
		Method:   "native",
		FileType: fileType,
		MIMEType: in.MIMEType,
	}
	if enc != "" {
		res.Metadata.Set("encoding", enc)
	}
	return res, nil
}

// Decode converts b to UTF-8. Valid UTF-8 passes through with its BOM
// removed; anything else is decoded with the charset chardet reports, and
// the charset name is returned.
func Decode(b []byte) (string, string) {
	b = trimBOM(b)
	if utf8.Valid(b) {
		return string(b), ""
	}
	best, err := chardet.NewTextDetector().DetectBest(b)
	if err != nil || best == nil {
		return strings.ToValidUTF8(string(b), "\uFFFD"), ""
	}
	enc, name := charset.Lookup(best.Charset)
	if enc == nil {
		return strings.ToValidUTF8(string(b), "\uFFFD"), ""
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD"), ""
	}
	return string(out), name
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

var excessNewlines = regexp.MustCompile(`\n{4,}`)

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n\n")
	return strings.TrimSpace(s)
}

func stripFrontMatter(s string) string {
	if !strings.HasPrefix(s, "---\n") {
		return s
	}
	idx := strings.Index(s[4:], "\n---\n")
	if idx < 0 {
		return s
	}
	return s[4+idx+5:]
}
