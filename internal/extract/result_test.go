package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMetadataKeepsInsertionOrder(t *testing.T) {
	var m Metadata
	m.Set("zeta", "1")
	m.Set("alpha", "2")
	m.Set("mid", "3")
	m.Set("zeta", "4")

	got := strings.Join(m.Keys(), ",")
	if got != "zeta,alpha,mid" {
		t.Fatalf("unexpected key order %q", got)
	}
	if v := m.Value("zeta"); v != "4" {
		t.Fatalf("expected overwritten value 4, got %q", v)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"zeta":"4","alpha":"2","mid":"3"}` {
		t.Fatalf("unexpected json %s", raw)
	}

	var back Metadata
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.Join(back.Keys(), ",") != "zeta,alpha,mid" {
		t.Fatalf("order lost on unmarshal: %v", back.Keys())
	}

	m.Delete("alpha")
	if strings.Join(m.Keys(), ",") != "zeta,mid" {
		t.Fatalf("unexpected keys after delete: %v", m.Keys())
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := Result{
		Content: "hello",
		Tables:  []Table{NewTable("t", [][]string{{"a", "b"}, {"1", "2"}})},
		Images:  []Image{{Data: []byte{1, 2, 3}}},
	}
	orig.Metadata.Set("k", "v")

	c := orig.Clone()
	c.Tables[0].Cells[1][0] = "changed"
	c.Images[0].Data[0] = 9
	c.Metadata.Set("k", "other")

	if orig.Tables[0].Cells[1][0] != "1" {
		t.Fatalf("table cells aliased")
	}
	if orig.Images[0].Data[0] != 1 {
		t.Fatalf("image data aliased")
	}
	if orig.Metadata.Value("k") != "v" {
		t.Fatalf("metadata aliased")
	}
}

func TestBinaryCodecPreservesResult(t *testing.T) {
	in := Result{
		Success:           true,
		Content:           "Grüße aus Berlin",
		Method:            "text",
		FileType:          "plaintext",
		MIMEType:          "text/plain",
		Pages:             []PageResult{{PageNumber: 1, Text: "p1", Method: "text", WordCount: 1}},
		Tables:            []Table{NewTable("sheet", [][]string{{"h1", "h2"}, {"a", ""}})},
		DetectedLanguages: []string{"deu"},
		Chunks:            []Chunk{{Content: "Grüße", Index: 0, Total: 1, Start: 0, End: 7}},
		Images:            []Image{{Data: []byte("dropped")}},
	}
	in.Metadata.Set("quality_score", "0.91")
	in.Metadata.Set("a", "b")
	in.Finalize()

	raw, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Result
	if err := out.UnmarshalBinary(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.Content != in.Content || out.MIMEType != in.MIMEType || out.WordCount != in.WordCount {
		t.Fatalf("scalar fields differ: %+v", out)
	}
	if len(out.Tables) != 1 || out.Tables[0].Cells[1][0] != "a" || out.Tables[0].Markdown != in.Tables[0].Markdown {
		t.Fatalf("tables differ: %+v", out.Tables)
	}
	if strings.Join(out.Metadata.Keys(), ",") != "quality_score,a" {
		t.Fatalf("metadata order differs: %v", out.Metadata.Keys())
	}
	if len(out.Chunks) != 1 || out.Chunks[0].End != 7 {
		t.Fatalf("chunks differ: %+v", out.Chunks)
	}
	if out.Images != nil {
		t.Fatalf("images must not be persisted")
	}
}

func TestCodecAndCloneKeepEmptyTables(t *testing.T) {
	in := Result{Tables: []Table{
		{Name: "nil-cells"},
		{Name: "no-rows", Cells: [][]string{}},
		{Name: "empty-row", Cells: [][]string{{}, {"x"}}},
	}}
	want, _ := json.Marshal(in)

	raw, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var decoded Result
	if err := decoded.UnmarshalBinary(raw); err != nil {
		t.Fatal(err)
	}
	for name, r := range map[string]Result{"decoded": decoded, "clone": in.Clone()} {
		got, _ := json.Marshal(r)
		if string(got) != string(want) {
			t.Fatalf("%s JSON differs:\n got %s\nwant %s", name, got, want)
		}
	}
	if decoded.Tables[0].Cells != nil || decoded.Tables[1].Cells == nil {
		t.Fatalf("nil and empty cells not kept apart: %#v", decoded.Tables)
	}
}

func TestBinaryCodecRejectsTruncatedInput(t *testing.T) {
	in := Result{Content: strings.Repeat("x", 100)}
	raw, _ := in.MarshalBinary()

	var out Result
	if err := out.UnmarshalBinary(raw[:len(raw)/2]); err == nil {
		t.Fatalf("expected error for truncated input")
	}
	if err := out.UnmarshalBinary(append(raw, 0xff)); err == nil {
		t.Fatalf("expected error for trailing bytes")
	}
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		kind     Kind
	}{
		{Validationf("bad %s", "input"), ErrValidation, KindValidation},
		{Parsing("pdf", errors.New("broken xref")), ErrParsing, KindParsing},
		{OCR("tesseract", errors.New("boom")), ErrOCR, KindOCR},
		{MissingDependency("pdftotext", "install poppler-utils"), ErrMissingDependency, KindMissingDependency},
		{ValidationChain("min-content", errors.New("too short")), ErrValidationChain, KindValidationChain},
		{UnsupportedFormat("application/x-foo"), ErrUnsupportedFormat, KindUnsupportedFormat},
	}
	for _, c := range cases {
		wrapped := fmt.Errorf("outer: %w", c.err)
		if !errors.Is(wrapped, c.sentinel) {
			t.Fatalf("expected %v to match %s", c.err, c.kind)
		}
		if KindOf(wrapped) != c.kind {
			t.Fatalf("KindOf(%v) = %s, want %s", c.err, KindOf(wrapped), c.kind)
		}
	}
	if errors.Is(Parsing("pdf", errors.New("x")), ErrOCR) {
		t.Fatalf("parsing error must not match OCR sentinel")
	}
	if KindOf(errors.New("plain")) != KindParsing {
		t.Fatalf("untyped errors should classify as parsing")
	}
}

func TestFailedResultCarriesStructuredError(t *testing.T) {
	res := FailedResult(Parsing("docx", errors.New("zip: not a valid zip file")), "application/zip")

	if res.Success {
		t.Fatalf("expected success=false")
	}
	if res.Error == nil || res.Error.Type != "ParsingError" {
		t.Fatalf("unexpected error info %+v", res.Error)
	}
	if res.Metadata.Value("error_type") != "ParsingError" {
		t.Fatalf("metadata error_type missing: %v", res.Metadata.Map())
	}
	if !strings.HasPrefix(res.Content, "Error: ParsingError: docx: ") {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestMarkdownTablePadsShortRows(t *testing.T) {
	got := MarkdownTable([][]string{{"a", "b", "c"}, {"1"}})
	want := "| a | b | c |\n| --- | --- | --- |\n| 1 |  |  |"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
}
