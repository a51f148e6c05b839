// Package code extracts source files, Jupyter notebooks and LaTeX.
package code

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/extractors/plaintext"
	"github.com/toricodesthings/docintel/internal/filetype"
)

// maxLines is where a source file is summarized instead of reproduced.
const maxLines = 10000

type SourceExtractor struct {
	maxBytes int64
}

func NewSource(maxBytes int64) *SourceExtractor { return &SourceExtractor{maxBytes: maxBytes} }

func (e *SourceExtractor) Name() string             { return "source" }
func (e *SourceExtractor) MaxFileSize() int64       { return e.maxBytes }
func (e *SourceExtractor) SupportedTypes() []string { return filetype.SourceTypes() }

func (e *SourceExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	text, _ := plaintext.Decode(in.Data)
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	lang := filetype.Language(in.MIMEType)
	if lang == "" {
		lang = "text"
	}
	lines := strings.Count(text, "\n") + 1

	res := extract.Result{Method: "native", FileType: "source", MIMEType: in.MIMEType}
	if lines > maxLines {
		text = summarizeLargeCode(text)
		res.Metadata.Set("summarized", "true")
	}
	res.Content = fmt.Sprintf("```%s\n%s\n```", lang, text)
	res.Metadata.Set("programming_language", lang)
	res.Metadata.Set("line_count", strconv.Itoa(lines))
	return res, nil
}

// summarizeLargeCode keeps the head of the file plus declaration and
// comment lines.
func summarizeLargeCode(src string) string {
	lines := strings.Split(src, "\n")
	head := lines
	if len(head) > 50 {
		head = head[:50]
	}

	var sigs []string
	for _, line := range lines[len(head):] {
		trim := strings.TrimSpace(line)
		if trim == "" {
			continue
		}
		if isDeclaration(trim) || isComment(trim) {
			sigs = append(sigs, line)
		}
		if len(sigs) >= 500 {
			break
		}
	}
	return strings.TrimSpace(strings.Join(head, "\n") + "\n\n/* signatures + docs */\n" + strings.Join(sigs, "\n"))
}

var declPrefixes = []string{"func ", "class ", "def ", "interface ", "type ", "struct ", "fn ", "pub fn ", "public ", "export "}

func isDeclaration(s string) bool {
	for _, p := range declPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isComment(s string) bool {
	return strings.HasPrefix(s, "//") || strings.HasPrefix(s, "#") ||
		strings.HasPrefix(s, `"""`) || strings.HasPrefix(s, "/*")
}
