// Package chunking splits text into bounded, optionally overlapping chunks,
// preferring paragraph, line, sentence and word boundaries in that order.
package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/toricodesthings/docintel/internal/extract"
)

// Split cuts text into chunks of at most maxChars runes. Consecutive chunks
// share up to overlap runes. Chunk offsets are byte offsets into text, so
// text[c.Start:c.End] == c.Content.
func Split(text string, maxChars, overlap int) []extract.Chunk {
	if maxChars <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}

	var chunks []extract.Chunk
	pos := 0
	for pos < len(text) {
		limit := advanceRunes(text, pos, maxChars)
		end := limit
		if limit < len(text) {
			end = breakPoint(text, pos, limit, maxChars)
		}

		if strings.TrimSpace(text[pos:end]) != "" {
			chunks = append(chunks, extract.Chunk{
				Content: text[pos:end],
				Index:   len(chunks),
				Start:   pos,
				End:     end,
			})
		}
		if end >= len(text) {
			break
		}

		next := end
		if overlap > 0 {
			next = retreatRunes(text, end, overlap)
			next = wordStart(text, next, end)
		}
		if next <= pos {
			next = end
		}
		pos = next
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// breakPoint picks where to end a chunk starting at pos that may extend to
// limit. Boundaries in the first half of the window are ignored so chunks
// don't come out tiny.
func breakPoint(text string, pos, limit, maxChars int) int {
	window := text[pos:limit]
	minLen := len(window) / 2
	if maxChars < 4 {
		minLen = 0
	}

	for _, sep := range []string{"\n\n", "\n"} {
		if i := strings.LastIndex(window, sep); i > 0 && i >= minLen {
			return pos + i + len(sep)
		}
	}
	if i := lastSentenceEnd(window); i > 0 && i >= minLen {
		return pos + i
	}
	if i := strings.LastIndexAny(window, " \t"); i > 0 && i >= minLen {
		return pos + i + 1
	}
	return limit
}

// lastSentenceEnd returns the index just past the last ". ", "! " or "? "
// in s, or -1.
func lastSentenceEnd(s string) int {
	best := -1
	for _, p := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(s, p); i >= 0 && i+len(p) > best {
			best = i + len(p)
		}
	}
	return best
}

func advanceRunes(s string, from, n int) int {
	i := from
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}

func retreatRunes(s string, from, n int) int {
	i := from
	for n > 0 && i > 0 {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
		n--
	}
	return i
}

// wordStart moves i forward to the start of the next word if it landed in
// the middle of one, without passing limit.
func wordStart(s string, i, limit int) int {
	if i == 0 || isSpace(s[i-1]) {
		return i
	}
	for j := i; j < limit; j++ {
		if isSpace(s[j]) {
			return j + 1
		}
	}
	return i
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' || b == '\r' }
