package office

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/toricodesthings/docintel/internal/extract"
)

// maxSheetRows bounds the markdown rendering of one sheet. The table keeps
// every row.
const maxSheetRows = 1000

type XLSXExtractor struct {
	maxBytes int64
}

func NewXLSX(maxBytes int64) *XLSXExtractor {
	return &XLSXExtractor{maxBytes: maxBytes}
}

func (e *XLSXExtractor) Name() string       { return "xlsx" }
func (e *XLSXExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *XLSXExtractor) SupportedTypes() []string {
	return []string{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel.sheet.macroenabled.12",
	}
}

// Extract turns every non-empty sheet into a table.
func (e *XLSXExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(in.Data))
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("open workbook: %w", err))
	}
	defer f.Close()

	res := extract.Result{Method: "native", FileType: "xlsx", MIMEType: in.MIMEType}
	sheets := f.GetSheetList()
	res.Metadata.Set("sheets", strconv.Itoa(len(sheets)))
	if props, err := f.GetDocProps(); err == nil && props != nil {
		if props.Title != "" {
			res.Metadata.Set("title", props.Title)
		}
		if props.Creator != "" {
			res.Metadata.Set("author", props.Creator)
		}
	}

	var sections []string
	totalRows := 0
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("sheet %q: %w", sheet, err))
		}
		rows = dropEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}
		totalRows += len(rows)

		table := extract.NewTable(sheet, padRows(rows))
		res.Tables = append(res.Tables, table)
		md := table.Markdown
		if len(rows) > maxSheetRows+1 {
			md = extract.MarkdownTable(rows[:maxSheetRows+1]) + fmt.Sprintf("\n\n... truncated to first %d data rows", maxSheetRows)
		}
		sections = append(sections, "## Sheet: "+sheet+"\n\n"+md)
	}

	res.Content = strings.Join(sections, "\n\n")
	res.Metadata.Set("total_rows", strconv.Itoa(totalRows))
	return res, nil
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
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
