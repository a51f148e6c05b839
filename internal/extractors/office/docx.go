package office

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

type DOCXExtractor struct {
	maxBytes int64
}

func NewDOCX(maxBytes int64) *DOCXExtractor {
	return &DOCXExtractor{maxBytes: maxBytes}
}

func (e *DOCXExtractor) Name() string       { return "docx" }
func (e *DOCXExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *DOCXExtractor) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
}

func (e *DOCXExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	zr, err := openZip(in.Data)
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("open docx: %w", err))
	}
	body, err := readZipFile(zr, "word/document.xml", defaultMaxZipEntryBytes)
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), err)
	}

	res := extract.Result{Method: "native", FileType: "docx", MIMEType: in.MIMEType}
	parseCoreMetadata(zr, &res.Metadata)
	res.Content, res.Tables, err = docxToMarkdown(body)
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), err)
	}
	if len(res.Tables) > 0 {
		res.Metadata.Set("table_count", strconv.Itoa(len(res.Tables)))
	}
	return res, nil
}

// docxToMarkdown walks word/document.xml producing markdown blocks:
// headings from paragraph styles, list items from numbering, and tables.
func docxToMarkdown(b []byte) (string, []extract.Table, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	var blocks []string
	var tables []extract.Table
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "p":
			p, err := docxParagraph(dec)
			if err != nil {
				return "", nil, err
			}
			if p != "" {
				blocks = append(blocks, p)
			}
		case "tbl":
			rows, err := docxTable(dec)
			if err != nil {
				return "", nil, err
			}
			if len(rows) > 0 {
				t := extract.NewTable("", rows)
				tables = append(tables, t)
				blocks = append(blocks, t.Markdown)
			}
		}
	}
	return strings.Join(blocks, "\n\n"), tables, nil
}

// docxParagraph consumes one <w:p> and renders it.
func docxParagraph(dec *xml.Decoder) (string, error) {
	var style, numID, numLvl string
	var runs strings.Builder
	inText := false
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("paragraph: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "pStyle":
				style = attr(t, "val")
			case "numId":
				numID = attr(t, "val")
			case "ilvl":
				numLvl = attr(t, "val")
			case "t":
				inText = true
			case "tab":
				runs.WriteByte('\t')
			case "br", "cr":
				runs.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				runs.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
			depth--
		}
	}

	text := strings.TrimSpace(runs.String())
	if text == "" {
		return "", nil
	}
	if h := headingLevel(style); h > 0 {
		return strings.Repeat("#", h) + " " + text, nil
	}
	if numID != "" && numID != "0" {
		lvl, _ := strconv.Atoi(numLvl)
		return strings.Repeat("  ", lvl) + "- " + text, nil
	}
	return text, nil
}

// headingLevel maps OOXML paragraph styles to markdown heading levels.
func headingLevel(style string) int {
	s := strings.ToLower(style)
	switch s {
	case "title":
		return 1
	case "subtitle":
		return 2
	}
	if n, ok := strings.CutPrefix(s, "heading"); ok && len(n) == 1 && n[0] >= '1' && n[0] <= '6' {
		return int(n[0] - '0')
	}
	return 0
}

// docxTable consumes one <w:tbl>. Nested tables are flattened into their
// enclosing cell.
func docxTable(dec *xml.Decoder) ([][]string, error) {
	var rows [][]string
	var row []string
	var cell strings.Builder
	inText := false
	depth, cellDepth := 1, 0
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("table: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tr":
				if cellDepth == 0 {
					row = nil
				}
			case "tc":
				if cellDepth == 0 {
					cellDepth = depth
					cell.Reset()
				}
			case "p":
				if cellDepth > 0 && cell.Len() > 0 {
					cell.WriteByte(' ')
				}
			case "t":
				inText = true
			}
		case xml.CharData:
			if cellDepth > 0 && inText {
				cell.Write(t)
			}
		case xml.EndElement:
			switch {
			case t.Name.Local == "t":
				inText = false
			case t.Name.Local == "tc" && depth == cellDepth:
				row = append(row, strings.Join(strings.Fields(cell.String()), " "))
				cellDepth = 0
			case t.Name.Local == "tr" && cellDepth == 0:
				if len(row) > 0 {
					rows = append(rows, row)
				}
			}
			depth--
		}
	}
	return rows, nil
}
