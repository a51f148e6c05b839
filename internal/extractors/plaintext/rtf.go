package plaintext

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/toricodesthings/docintel/internal/extract"
)

type RTFExtractor struct {
	maxBytes int64
}

func NewRTF(maxBytes int64) *RTFExtractor { return &RTFExtractor{maxBytes: maxBytes} }

func (e *RTFExtractor) Name() string             { return "rtf" }
func (e *RTFExtractor) MaxFileSize() int64       { return e.maxBytes }
func (e *RTFExtractor) SupportedTypes() []string { return []string{"application/rtf", "text/rtf"} }

// Destinations whose contents are not document text.
var rtfSkipDest = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "header": true, "footer": true, "listtable": true,
	"listoverridetable": true, "generator": true, "themedata": true,
}

var rtfNewlines = regexp.MustCompile(`\n{3,}`)

func (e *RTFExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	s := string(in.Data)
	if !strings.HasPrefix(strings.TrimSpace(s), `{\rtf`) {
		return extract.Result{}, extract.Parsingf(e.Name(), "missing {\\rtf header")
	}
	return extract.Result{
		Content:  rtfText(s),
		Method:   "native",
		FileType: "application/rtf",
		MIMEType: in.MIMEType,
	}, nil
}

// rtfText walks the group structure, dropping control words and skipped
// destinations, and decodes \'hh (cp1252) and \uN escapes.
func rtfText(s string) string {
	var b strings.Builder
	depth := 0
	skipAt := -1 // group depth at which skipping started
	ucSkip := 0  // fallback chars to drop after \uN

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			depth++
			if i+2 < len(s) && s[i+1] == '\\' && s[i+2] == '*' && skipAt < 0 {
				skipAt = depth
			}
			continue
		case '}':
			if depth == skipAt {
				skipAt = -1
			}
			depth--
			continue
		case '\r', '\n':
			continue
		case '\\':
			word, param, next := rtfControlWord(s, i)
			i = next - 1
			if skipAt >= 0 {
				continue
			}
			switch {
			case word == "":
				if i < len(s) {
					switch sym := s[i]; sym {
					case '\\', '{', '}':
						b.WriteByte(sym)
					case '~':
						b.WriteRune('\u00A0')
					case '\'':
						if i+2 < len(s) {
							if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
								b.WriteRune(charmap.Windows1252.DecodeByte(byte(v)))
							}
							i += 2
						}
					}
				}
			case rtfSkipDest[word]:
				skipAt = depth
			case word == "par" || word == "line" || word == "sect" || word == "page":
				b.WriteByte('\n')
			case word == "tab":
				b.WriteByte('\t')
			case word == "u" && param != "":
				if n, err := strconv.Atoi(param); err == nil {
					if n < 0 {
						n += 65536
					}
					b.WriteRune(rune(n))
					ucSkip = 1
				}
			}
			continue
		}
		if skipAt >= 0 {
			continue
		}
		if ucSkip > 0 {
			ucSkip--
			continue
		}
		b.WriteByte(c)
	}
	return normalizeText(rtfNewlines.ReplaceAllString(b.String(), "\n\n"))
}

// rtfControlWord parses the control sequence starting at the backslash at
// i. It returns the word (empty for a control symbol), its numeric
// parameter and the index just past the sequence.
func rtfControlWord(s string, i int) (word, param string, next int) {
	j := i + 1
	for j < len(s) && isASCIILetter(s[j]) {
		j++
	}
	if j == i+1 {
		return "", "", i + 2
	}
	word = s[i+1 : j]
	k := j
	if k < len(s) && s[k] == '-' {
		k++
	}
	for k < len(s) && s[k] >= '0' && s[k] <= '9' {
		k++
	}
	param = s[j:k]
	if k < len(s) && s[k] == ' ' {
		k++
	}
	return word, param, k
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
