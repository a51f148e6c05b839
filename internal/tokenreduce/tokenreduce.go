// Package tokenreduce shrinks extracted text before it is handed to
// token-billed consumers.
package tokenreduce

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/toricodesthings/docintel/internal/config"
)

const (
	ModeOff        = "off"
	ModeLight      = "light"
	ModeModerate   = "moderate"
	ModeAggressive = "aggressive"
)

var (
	reSpaces     = regexp.MustCompile(`[ \t\f\v]+`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
	reBlankLines = regexp.MustCompile(`\n{2,}`)
	rePunctRuns  = regexp.MustCompile(`([!?.,;:\-_=*~])\1{3,}`)
	reMdEmphasis = regexp.MustCompile(`(\*\*|__|\*|_|~~)(\S(?:.*?\S)?)(\*\*|__|\*|_|~~)`)
	reMdHeading  = regexp.MustCompile(`^#{1,6}\s+`)
	reMdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
)

// Reduce applies the configured mode to text. Modes are cumulative:
// moderate includes light and aggressive includes moderate.
func Reduce(text string, cfg config.TokenReductionConfig) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" || mode == ModeOff || text == "" {
		return text
	}
	text = norm.NFKC.String(text)

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}
		if cfg.PreserveMarkdown && (inFence || isTableRow(line)) {
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}
		out = append(out, reduceLine(line, mode, cfg.PreserveMarkdown))
	}

	text = strings.Join(out, "\n")
	if mode == ModeAggressive {
		text = reBlankLines.ReplaceAllString(text, "\n")
	} else {
		text = reBlankRuns.ReplaceAllString(text, "\n\n")
	}
	return strings.TrimSpace(text)
}

func reduceLine(line, mode string, preserveMarkdown bool) string {
	indent := ""
	if preserveMarkdown {
		trimmed := strings.TrimLeft(line, " \t")
		indent = line[:len(line)-len(trimmed)]
		line = trimmed
	}
	line = strings.TrimSpace(reSpaces.ReplaceAllString(line, " "))
	if mode == ModeLight || line == "" {
		return indent + line
	}

	line = rePunctRuns.ReplaceAllString(line, "$1$1$1")

	if mode == ModeAggressive && !preserveMarkdown {
		line = reMdHeading.ReplaceAllString(line, "")
		line = reMdLink.ReplaceAllString(line, "$1")
		line = reMdEmphasis.ReplaceAllString(line, "$2")
	}

	// Headings keep their words so document structure stays readable.
	if preserveMarkdown && reMdHeading.MatchString(line) {
		return indent + line
	}
	return indent + dropStopwords(line, mode == ModeAggressive)
}

func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) > 1 && t[0] == '|' && t[len(t)-1] == '|'
}

// dropStopwords removes function words. Aggressive mode also removes an
// immediately repeated word.
func dropStopwords(line string, dedupe bool) string {
	words := strings.Fields(line)
	kept := words[:0]
	prev := ""
	for _, w := range words {
		key := strings.ToLower(strings.Trim(w, `.,;:!?"'()[]{}`))
		if key != "" && stopwords[key] && key == strings.ToLower(w) {
			continue
		}
		if dedupe && key != "" && key == prev {
			continue
		}
		prev = key
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Only bare stopwords are dropped; a stopword carrying punctuation may end a
// sentence and is kept.
var stopwords = func() map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(`a an the and or but if of at by for with about
		to from in on into onto over under is are was were be been being am
		this that these those it its as so than then there here very just
		do does did doing has have had having can could would should shall
		will may might must such also`) {
		m[w] = true
	}
	return m
}()
