package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/logger"
)

func TestParsePages(t *testing.T) {
	cases := []struct {
		name    string
		out     string
		want    int
		wantErr bool
	}{
		{"standard", "Title:          x\nPages:          12\nEncrypted:      no\n", 12, false},
		{"lowercase fallback", "pages: 3 \n", 3, false},
		{"zero", "Pages:          0\n", 0, true},
		{"huge", "Pages:          99999\n", 0, true},
		{"missing", "Title: nothing here\n", 0, true},
		{"garbage", "Pages: many\n", 0, true},
	}
	for _, tc := range cases {
		got, err := parsePages(tc.out)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %d", tc.name, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: got %d, %v; want %d", tc.name, got, err, tc.want)
		}
	}
}

func TestParseInfoFields(t *testing.T) {
	out := "Title:          Quarterly: Report\nAuthor:         Ada\nProducer:       \nPages:          2\nPDF version:    1.7\n"
	f := parseInfoFields(out)
	if f["Title"] != "Quarterly: Report" {
		t.Fatalf("title = %q", f["Title"])
	}
	if f["Author"] != "Ada" || f["PDF version"] != "1.7" {
		t.Fatalf("fields = %v", f)
	}
	if _, ok := f["Producer"]; ok {
		t.Fatalf("empty producer kept: %v", f)
	}
}

func TestClassify(t *testing.T) {
	p := &poppler{log: logger.Discard()}
	ctx := context.Background()
	exit := errors.New("exit status 1")

	if err := p.classify("pdfinfo", exit, ctx, "Command Line Error: Incorrect password", 0); !errors.Is(err, errPasswordProtected) {
		t.Fatalf("password: %v", err)
	}
	if err := p.classify("pdftotext", exit, ctx, "Syntax Error: Couldn't find trailer dictionary", 3); !errors.Is(err, errDamaged) {
		t.Fatalf("damaged: %v", err)
	}
	// Usage text mentions passwords too; it must not be read as one.
	usage := "pdftotext version 22.02.0\nUsage: pdftotext [options]\n  -upw <string> : user password (for encrypted files)"
	if err := p.classify("pdftotext", exit, ctx, usage, 0); errors.Is(err, errPasswordProtected) || !strings.Contains(err.Error(), "bad invocation") {
		t.Fatalf("usage: %v", err)
	}
	if err := p.classify("pdftotext", errOutputLimit, ctx, "", 4); !strings.Contains(err.Error(), "page 4") {
		t.Fatalf("limit: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	<-cctx.Done()
	if err := p.classify("pdfinfo", exit, cctx, "", 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline: %v", err)
	}
}

func TestPDFOptionsDefaults(t *testing.T) {
	got := pdfOptions(nil)
	if got.MinWordsThreshold != defaultMinWords || got.OCRTriggerRatio != defaultTriggerRatio {
		t.Fatalf("defaults = %+v", got)
	}
	got = pdfOptions(&config.ExtractionConfig{PDF: &config.PDFConfig{MinWordsThreshold: 3, MaxPages: 2}})
	if got.MinWordsThreshold != 3 || got.MaxPages != 2 || got.OCRTriggerRatio != defaultTriggerRatio {
		t.Fatalf("partial = %+v", got)
	}
}

func TestMissingBinaries(t *testing.T) {
	e := New(0, WithLogger(logger.Discard()))
	e.tools.pdfinfo = "docintel-no-such-pdfinfo"
	if err := e.Initialize(); err == nil || !strings.Contains(err.Error(), "poppler-utils") {
		t.Fatalf("Initialize = %v", err)
	}
}

// buildPDF writes a minimal PDF with one Helvetica text line per page.
func buildPDF(pages []string) []byte {
	var objs []string
	n := len(pages)
	// 1 catalog, 2 pages, 3 font, then page/content pairs.
	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range pages {
		stream := ""
		if text != "" {
			stream = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func requirePoppler(t *testing.T) *Extractor {
	t.Helper()
	for _, bin := range []string{"pdfinfo", "pdftotext", "pdftoppm"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
	e := New(0, WithLogger(logger.Discard()), WithWorkers(2))
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestExtractTextLayer(t *testing.T) {
	e := requirePoppler(t)
	data := buildPDF([]string{
		"alpha beta gamma delta epsilon",
		"zeta eta theta iota kappa",
	})
	cfg := &config.ExtractionConfig{PDF: &config.PDFConfig{MinWordsThreshold: 3, PageSeparator: "\n==\n"}}
	res, err := e.Extract(context.Background(), extract.Input{Data: data, FileName: "two.pdf", MIMEType: "application/pdf", Config: cfg})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Pages) != 2 || res.Pages[0].Method != "native" || res.Pages[1].WordCount != 5 {
		t.Fatalf("pages = %+v", res.Pages)
	}
	if res.Content != "alpha beta gamma delta epsilon\n==\nzeta eta theta iota kappa" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.Metadata.Value("page_count") != "2" || res.Metadata.Value("pdf.needs_ocr_pages") != "0" {
		t.Fatalf("metadata = %v", res.Metadata.Map())
	}
	if len(res.Images) != 0 {
		t.Fatalf("unexpected renders: %d", len(res.Images))
	}
}

func TestExtractRendersPagesForOCR(t *testing.T) {
	e := requirePoppler(t)
	data := buildPDF([]string{
		"one two three four five six",
		"",
		"seven eight nine ten eleven twelve",
		"thirteen fourteen fifteen sixteen seventeen",
	})
	cfg := &config.ExtractionConfig{
		OCR: &config.OCRConfig{TargetDPI: 72},
		PDF: &config.PDFConfig{MinWordsThreshold: 3, OCRTriggerRatio: 0.5},
	}
	res, err := e.Extract(context.Background(), extract.Input{Data: data, MIMEType: "application/pdf", Config: cfg})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Pages[1].Method != "needs-ocr" || res.Pages[1].Text != "" {
		t.Fatalf("blank page = %+v", res.Pages[1])
	}
	// One of four pages is below the 0.5 trigger, so only it is rendered.
	if len(res.Images) != 1 {
		t.Fatalf("renders = %d, want 1", len(res.Images))
	}
	im := res.Images[0]
	if im.PageNumber != 2 || !im.ReplacesPage || im.DPI != 72 || !bytes.HasPrefix(im.Data, []byte("\x89PNG")) {
		t.Fatalf("render = page %d replaces %v dpi %d", im.PageNumber, im.ReplacesPage, im.DPI)
	}
}

func TestExtractMaxPagesAndNoOCR(t *testing.T) {
	e := requirePoppler(t)
	data := buildPDF([]string{"", "a b c d e f", "g h i j k l"})
	cfg := &config.ExtractionConfig{PDF: &config.PDFConfig{MinWordsThreshold: 3, MaxPages: 2}}
	res, err := e.Extract(context.Background(), extract.Input{Data: data, MIMEType: "application/pdf", Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Pages) != 2 || res.Metadata.Value("pdf.pages_read") != "2" {
		t.Fatalf("pages = %d, metadata = %v", len(res.Pages), res.Metadata.Map())
	}
	if res.Method != "needs-ocr" || len(res.Images) != 0 {
		t.Fatalf("method = %q images = %d", res.Method, len(res.Images))
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	e := requirePoppler(t)
	_, err := e.Extract(context.Background(), extract.Input{Data: []byte("not a pdf at all"), MIMEType: "application/pdf"})
	if !errors.Is(err, extract.ErrParsing) {
		t.Fatalf("err = %v, want ParsingError", err)
	}
}
