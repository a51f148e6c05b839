// Package postprocess holds the built-in post-processors.
package postprocess

import (
	"context"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

// Whitespace normalizes line endings, invisible characters and runs of
// blank lines in the content and every page. It runs early so later stages
// see stable text.
type Whitespace struct {
	// MaxBlankLines caps consecutive empty lines; 0 means 2.
	MaxBlankLines int
}

func (Whitespace) Name() string         { return "whitespace" }
func (Whitespace) Stage() extract.Stage { return extract.StageEarly }
func (Whitespace) Priority() int        { return 90 }

func (w Whitespace) Process(_ context.Context, res extract.Result) (extract.Result, error) {
	limit := w.MaxBlankLines
	if limit <= 0 {
		limit = 2
	}
	res.Content = Normalize(res.Content, limit)
	for i := range res.Pages {
		res.Pages[i].Text = Normalize(res.Pages[i].Text, limit)
		res.Pages[i].WordCount, _ = extract.BuildCounts(res.Pages[i].Text)
	}
	res.Finalize()
	return res, nil
}

// Normalize collapses intra-line whitespace while keeping indentation, and
// allows at most maxBlank empty lines in a row.
func Normalize(text string, maxBlank int) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u00AD':
			return -1
		case '\u00A0':
			return ' '
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank <= maxBlank {
				out = append(out, "")
			}
			continue
		}
		blank = 0

		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		out = append(out, indent+strings.Join(strings.Fields(line), " "))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
