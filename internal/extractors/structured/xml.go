package structured

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/toricodesthings/docintel/internal/extract"
)

type XMLExtractor struct {
	maxBytes int64
}

func NewXML(maxBytes int64) *XMLExtractor { return &XMLExtractor{maxBytes: maxBytes} }

func (e *XMLExtractor) Name() string       { return "xml" }
func (e *XMLExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *XMLExtractor) SupportedTypes() []string {
	return []string{"application/xml", "text/xml", "image/svg+xml"}
}

// Priority keeps XML above the generic text fallback for text/xml.
func (e *XMLExtractor) Priority() int { return 60 }

func (e *XMLExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	d := xml.NewDecoder(bytes.NewReader(in.Data))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false

	res := extract.Result{Method: "native", FileType: "application/xml", MIMEType: in.MIMEType}
	var out []string
	root := ""
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(out) == 0 {
				return extract.Result{}, extract.Parsing(e.Name(), err)
			}
			res.Metadata.Set("truncated", "true")
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root == "" {
				root = t.Name.Local
			}
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				out = append(out, s)
			}
		}
	}
	if root != "" {
		res.Metadata.Set("root_element", root)
	}
	res.Content = strings.Join(out, "\n")
	return res, nil
}
