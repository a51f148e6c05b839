// Package structured extracts delimited, JSON, XML, YAML and TOML data.
package structured

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/extractors/plaintext"
)

// maxRenderedRows bounds the markdown rendering; the table keeps every row.
const maxRenderedRows = 200

type CSVExtractor struct {
	maxBytes int64
}

func NewCSV(maxBytes int64) *CSVExtractor { return &CSVExtractor{maxBytes: maxBytes} }

func (e *CSVExtractor) Name() string       { return "csv" }
func (e *CSVExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *CSVExtractor) SupportedTypes() []string {
	return []string{"text/csv", "text/tab-separated-values"}
}

func (e *CSVExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	text, _ := plaintext.Decode(in.Data)
	res := extract.Result{Method: "native", FileType: "text/csv", MIMEType: in.MIMEType}

	first := ','
	if in.MIMEType == "text/tab-separated-values" {
		first = '\t'
	}
	recs, delim, err := readRecords([]byte(text), first)
	if err != nil {
		res.Content = strings.TrimSpace(text)
		return res, nil
	}

	table := extract.NewTable("", padRows(recs))
	res.Tables = []extract.Table{table}
	res.Content = renderPreview(table.Cells)
	res.Metadata.Set("rows", strconv.Itoa(len(recs)))
	res.Metadata.Set("columns", strconv.Itoa(maxCols(recs)))
	res.Metadata.Set("delimiter", string(delim))
	return res, nil
}

// readRecords tries the likely delimiters in turn, first the one the type
// suggests, and keeps the first that yields more than one column.
func readRecords(b []byte, first rune) ([][]string, rune, error) {
	delims := []rune{first}
	for _, d := range []rune{',', '\t', ';', '|'} {
		if d != first {
			delims = append(delims, d)
		}
	}
	for _, d := range delims {
		r := csv.NewReader(bytes.NewReader(b))
		r.Comma = d
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		recs, err := r.ReadAll()
		if err == nil && len(recs) > 0 && maxCols(recs) > 1 {
			return recs, d, nil
		}
	}
	return nil, ',', fmt.Errorf("no delimiter produced more than one column")
}

func maxCols(recs [][]string) int {
	m := 0
	for _, row := range recs {
		if len(row) > m {
			m = len(row)
		}
	}
	return m
}

func padRows(recs [][]string) [][]string {
	width := maxCols(recs)
	for i := range recs {
		for len(recs[i]) < width {
			recs[i] = append(recs[i], "")
		}
	}
	return recs
}

func renderPreview(rows [][]string) string {
	if len(rows) <= maxRenderedRows+1 {
		return extract.MarkdownTable(rows)
	}
	md := extract.MarkdownTable(rows[:maxRenderedRows+1])
	return md + fmt.Sprintf("\n\n... and %d more rows", len(rows)-maxRenderedRows-1)
}
