package code

import (
	"context"
	"regexp"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/extractors/plaintext"
)

type LaTeXExtractor struct {
	maxBytes int64
}

func NewLaTeX(maxBytes int64) *LaTeXExtractor { return &LaTeXExtractor{maxBytes: maxBytes} }

func (e *LaTeXExtractor) Name() string       { return "latex" }
func (e *LaTeXExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *LaTeXExtractor) SupportedTypes() []string {
	return []string{"application/x-latex", "application/x-tex", "text/x-tex"}
}

var (
	texComment    = regexp.MustCompile(`(?m)(^|[^\\])%.*$`)
	texTitle      = regexp.MustCompile(`\\title\{([^}]+)\}`)
	texAuthor     = regexp.MustCompile(`\\author\{([^}]+)\}`)
	texSection    = regexp.MustCompile(`\\section\*?\{([^}]+)\}`)
	texSubsection = regexp.MustCompile(`\\subsection\*?\{([^}]+)\}`)
	texSubsub     = regexp.MustCompile(`\\subsubsection\*?\{([^}]+)\}`)
	texEmphasis   = regexp.MustCompile(`\\(?:textbf|textit|emph|underline|texttt)\{([^}]*)\}`)
	texItem       = regexp.MustCompile(`\\item\s*`)
	texEnv        = regexp.MustCompile(`\\(?:begin|end)\{[^}]*\}`)
	texCommand    = regexp.MustCompile(`\\[a-zA-Z]+\*?(\[[^\]]*\])?(\{[^}]*\})?`)
	texBlankRuns  = regexp.MustCompile(`\n{3,}`)
)

func (e *LaTeXExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	s, _ := plaintext.Decode(in.Data)
	res := extract.Result{Method: "native", FileType: "application/x-latex", MIMEType: in.MIMEType}

	s = texComment.ReplaceAllString(s, "$1")
	if m := texTitle.FindStringSubmatch(s); m != nil {
		res.Metadata.Set("title", strings.TrimSpace(m[1]))
	}
	if m := texAuthor.FindStringSubmatch(s); m != nil {
		res.Metadata.Set("author", strings.TrimSpace(m[1]))
	}
	s = texSection.ReplaceAllString(s, "# $1")
	s = texSubsection.ReplaceAllString(s, "## $1")
	s = texSubsub.ReplaceAllString(s, "### $1")
	s = texEmphasis.ReplaceAllString(s, "$1")
	s = texItem.ReplaceAllString(s, "- ")
	s = texEnv.ReplaceAllString(s, "")
	s = texCommand.ReplaceAllString(s, "")
	s = strings.NewReplacer("{", "", "}", "", `\\`, "\n", "~", " ").Replace(s)

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = texBlankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	res.Content = strings.TrimSpace(s)
	return res, nil
}
