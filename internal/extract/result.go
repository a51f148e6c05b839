package extract

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Result struct {
	Success           bool         `json:"success"`
	Content           string       `json:"content"`
	Method            string       `json:"method"`
	FileType          string       `json:"fileType"`
	MIMEType          string       `json:"mimeType"`
	Pages             []PageResult `json:"pages,omitempty"`
	Tables            []Table      `json:"tables,omitempty"`
	DetectedLanguages []string     `json:"detectedLanguages,omitempty"`
	Chunks            []Chunk      `json:"chunks,omitempty"`
	Metadata          Metadata     `json:"metadata"`
	WordCount         int          `json:"wordCount"`
	CharCount         int          `json:"charCount"`
	Error             *ErrorInfo   `json:"error,omitempty"`

	// Images carries embedded or rendered images to the OCR stage. The
	// pipeline drops the pixel data before returning.
	Images []Image `json:"-"`
}

type PageResult struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
	Method     string `json:"method"`
	WordCount  int    `json:"wordCount"`
}

// Table is a grid of cells plus a markdown rendering of it.
type Table struct {
	Cells      [][]string `json:"cells"`
	Markdown   string     `json:"markdown"`
	PageNumber int        `json:"pageNumber,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Chunk is a slice of Content; Start and End are byte offsets into it.
type Chunk struct {
	Content string `json:"content"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Image is an embedded or rendered image awaiting OCR.
type Image struct {
	Index      int
	PageNumber int // 0 when not tied to a page
	Format     string
	Data       []byte
	DPI        int // known render DPI, 0 when unknown

	// ReplacesPage marks a full-page render whose OCR text replaces the
	// page's text layer. ReplacesContent does the same for the whole document.
	ReplacesPage    bool
	ReplacesContent bool
}

// ErrorInfo is the structured error carried by failed batch items.
type ErrorInfo struct {
	Type    string `json:"error_type"`
	Message string `json:"message"`
}

// Clone returns a deep copy of r, image bytes included.
func (r Result) Clone() Result {
	out := r
	out.Pages = append([]PageResult(nil), r.Pages...)
	out.DetectedLanguages = append([]string(nil), r.DetectedLanguages...)
	out.Chunks = append([]Chunk(nil), r.Chunks...)
	out.Metadata = r.Metadata.Clone()
	if r.Tables != nil {
		out.Tables = make([]Table, len(r.Tables))
		for i, t := range r.Tables {
			out.Tables[i] = t
			if t.Cells == nil {
				continue
			}
			out.Tables[i].Cells = make([][]string, len(t.Cells))
			for j, row := range t.Cells {
				if row != nil {
					out.Tables[i].Cells[j] = append(make([]string, 0, len(row)), row...)
				}
			}
		}
	}
	if r.Images != nil {
		out.Images = make([]Image, len(r.Images))
		for i, im := range r.Images {
			out.Images[i] = im
			out.Images[i].Data = append([]byte(nil), im.Data...)
		}
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return out
}

// Finalize fills derived fields after content changes.
func (r *Result) Finalize() {
	r.WordCount, r.CharCount = BuildCounts(r.Content)
}

// Metadata is an insertion-ordered string map. The zero value is ready to use.
type Metadata struct {
	keys []string
	vals map[string]string
}

func NewMetadata(pairs ...string) Metadata {
	var m Metadata
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Set stores v under k. Re-setting a key keeps its original position.
func (m *Metadata) Set(k, v string) {
	if m.vals == nil {
		m.vals = make(map[string]string)
	}
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
}

func (m Metadata) Get(k string) (string, bool) {
	v, ok := m.vals[k]
	return v, ok
}

// Value returns the value for k or "".
func (m Metadata) Value(k string) string {
	return m.vals[k]
}

func (m *Metadata) Delete(k string) {
	if _, ok := m.vals[k]; !ok {
		return
	}
	delete(m.vals, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

func (m Metadata) Len() int { return len(m.keys) }

// Merge copies every entry of other into m, in other's order.
func (m *Metadata) Merge(other Metadata) {
	for _, k := range other.keys {
		m.Set(k, other.vals[k])
	}
}

func (m Metadata) Clone() Metadata {
	if len(m.keys) == 0 {
		return Metadata{}
	}
	out := Metadata{keys: append([]string(nil), m.keys...), vals: make(map[string]string, len(m.vals))}
	for k, v := range m.vals {
		out.vals[k] = v
	}
	return out
}

// Map returns an unordered copy.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.vals))
	for k, v := range m.vals {
		out[k] = v
	}
	return out
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = Metadata{}
		return nil
	}
	*m = Metadata{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		var v string
		if err := dec.Decode(&v); err != nil {
			return err
		}
		m.Set(kt.(string), v)
	}
	_, err = dec.Token()
	return err
}

func BuildCounts(text string) (wordCount int, charCount int) {
	charCount = len([]rune(text))
	wordCount = 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if inWord {
				wordCount++
				inWord = false
			}
			continue
		}
		inWord = true
	}
	if inWord {
		wordCount++
	}
	return
}

// MarkdownTable renders rows as a GitHub-flavoured markdown table, treating
// the first row as the header.
func MarkdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return ""
	}
	var b strings.Builder
	writeRow := func(r []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(r) {
				cell = strings.ReplaceAll(strings.TrimSpace(r[i]), "|", "\\|")
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	writeRow(rows[0])
	b.WriteString("|")
	for i := 0; i < width; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewTable builds a Table from rows, rendering its markdown.
func NewTable(name string, rows [][]string) Table {
	return Table{Name: name, Cells: rows, Markdown: MarkdownTable(rows)}
}

// DefaultPageSeparator joins page texts when no separator is configured.
const DefaultPageSeparator = "\n\n---\n\n"

// JoinPages concatenates the non-empty page texts in page order.
func JoinPages(pages []PageResult, sep string) string {
	if sep == "" {
		sep = DefaultPageSeparator
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, sep)
}
