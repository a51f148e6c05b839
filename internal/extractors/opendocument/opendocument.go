// Package opendocument extracts ODF text, spreadsheet and presentation files.
package opendocument

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

const (
	nsText  = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
	nsTable = "urn:oasis:names:tc:opendocument:xmlns:table:1.0"

	maxMemberBytes = 64 << 20
	// maxRepeat caps number-columns-repeated, which spreadsheets use to pad
	// rows out to the sheet width.
	maxRepeat = 64
)

type Extractor struct {
	maxBytes int64
}

func New(maxBytes int64) *Extractor { return &Extractor{maxBytes: maxBytes} }

func (e *Extractor) Name() string       { return "opendocument" }
func (e *Extractor) MaxFileSize() int64 { return e.maxBytes }
func (e *Extractor) SupportedTypes() []string {
	return []string{
		"application/vnd.oasis.opendocument.text",
		"application/vnd.oasis.opendocument.spreadsheet",
		"application/vnd.oasis.opendocument.presentation",
	}
}

func (e *Extractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	zr, err := zip.NewReader(bytes.NewReader(in.Data), int64(len(in.Data)))
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("open archive: %w", err))
	}
	content, err := member(zr, "content.xml")
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), err)
	}

	res := extract.Result{Method: "native", FileType: "opendocument", MIMEType: in.MIMEType}
	if meta, err := member(zr, "meta.xml"); err == nil {
		parseMetadata(meta, &res.Metadata)
	}
	w := &walker{dec: xml.NewDecoder(bytes.NewReader(content))}
	res.Content = w.markdown()
	res.Tables = w.tables
	if len(res.Tables) > 0 {
		res.Metadata.Set("table_count", strconv.Itoa(len(res.Tables)))
	}
	return res, nil
}

func member(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxMemberBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(b) > maxMemberBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, maxMemberBytes)
	}
	return b, nil
}

type walker struct {
	dec    *xml.Decoder
	tables []extract.Table
}

// markdown walks content.xml. Every collector consumes its element's end
// tag.
func (w *walker) markdown() string {
	var blocks []string
	for {
		tok, err := w.dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case se.Name.Space == nsText && se.Name.Local == "h":
			level := 1
			if v, err := strconv.Atoi(attr(se, "outline-level")); err == nil && v >= 1 && v <= 6 {
				level = v
			}
			if text := w.text(); text != "" {
				blocks = append(blocks, strings.Repeat("#", level)+" "+text)
			}
		case se.Name.Space == nsText && se.Name.Local == "p":
			if text := w.text(); text != "" {
				blocks = append(blocks, text)
			}
		case se.Name.Space == nsText && se.Name.Local == "list":
			if items := w.list(0); len(items) > 0 {
				blocks = append(blocks, strings.Join(items, "\n"))
			}
		case se.Name.Space == nsTable && se.Name.Local == "table":
			name := attr(se, "name")
			if rows := w.table(); len(rows) > 0 {
				t := extract.NewTable(name, rows)
				w.tables = append(w.tables, t)
				blocks = append(blocks, t.Markdown)
			}
		}
	}
	return strings.Join(blocks, "\n\n")
}

// text collects character data up to the current element's end.
func (w *walker) text() string {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := w.dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tab":
				sb.WriteByte('\t')
			case "line-break":
				sb.WriteByte('\n')
			case "s":
				n, _ := strconv.Atoi(attr(t, "c"))
				sb.WriteString(strings.Repeat(" ", max(n, 1)))
			}
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return strings.TrimSpace(sb.String())
}

func (w *walker) list(level int) []string {
	var items []string
	indent := strings.Repeat("  ", level)
	depth := 1
	for depth > 0 {
		tok, err := w.dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p", "h":
				if text := w.text(); text != "" {
					items = append(items, indent+"- "+text)
				}
			case "list":
				items = append(items, w.list(level+1)...)
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	return items
}

func (w *walker) table() [][]string {
	var rows [][]string
	depth := 1
	for depth > 0 {
		tok, err := w.dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "table-row" {
				if row := w.row(); len(row) > 0 {
					rows = append(rows, row)
				}
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return padRows(rows)
}

// row returns the cells of one table-row, trailing empty cells dropped.
func (w *walker) row() []string {
	var cells []string
	depth := 1
	for depth > 0 {
		tok, err := w.dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "table-cell" || t.Name.Local == "covered-table-cell" {
				repeat, _ := strconv.Atoi(attr(t, "number-columns-repeated"))
				text := strings.Join(strings.Fields(w.text()), " ")
				for i := 0; i < min(max(repeat, 1), maxRepeat); i++ {
					cells = append(cells, text)
				}
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return cells
}

func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	for i := range rows {
		for len(rows[i]) < width {
			rows[i] = append(rows[i], "")
		}
	}
	return rows
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

var metaKeys = map[string]string{
	"title":           "title",
	"initial-creator": "author",
	"creator":         "author",
	"creation-date":   "created",
	"date":            "modified",
	"description":     "description",
	"subject":         "subject",
	"keyword":         "keywords",
}

func parseMetadata(b []byte, meta *extract.Metadata) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	tag := ""
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			tag = t.Name.Local
		case xml.CharData:
			if key, ok := metaKeys[tag]; ok {
				if v := strings.TrimSpace(string(t)); v != "" {
					if _, set := meta.Get(key); !set {
						meta.Set(key, v)
					}
				}
			}
		case xml.EndElement:
			tag = ""
		}
	}
}
