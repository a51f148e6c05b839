package opendocument

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/toricodesthings/docintel/internal/extract"
)

const content = `<?xml version="1.0"?>
<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
  xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"
  xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0">
<office:body><office:text>
<text:h text:outline-level="2">Budget</text:h>
<text:p>Total<text:s text:c="2"/>spend</text:p>
<text:list><text:list-item><text:p>food</text:p>
  <text:list><text:list-item><text:p>bread</text:p></text:list-item></text:list>
</text:list-item></text:list>
<table:table table:name="Costs">
<table:table-row><table:table-cell><text:p>item</text:p></table:table-cell><table:table-cell><text:p>eur</text:p></table:table-cell></table:table-row>
<table:table-row><table:table-cell><text:p>rent</text:p></table:table-cell><table:table-cell><text:p>900</text:p></table:table-cell><table:table-cell table:number-columns-repeated="1000"/></table:table-row>
</table:table>
<text:p>After table</text:p>
</office:text></office:body></office:document-content>`

const meta = `<?xml version="1.0"?>
<office:document-meta xmlns:office="o" xmlns:meta="m" xmlns:dc="d"><office:meta>
<dc:title>Household</dc:title><meta:initial-creator>Kim</meta:initial-creator><dc:creator>Lee</dc:creator>
</office:meta></office:document-meta>`

func odt(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{"content.xml": content, "meta.xml": meta} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpenDocument(t *testing.T) {
	res, err := New(0).Extract(context.Background(), extract.Input{Data: odt(t)})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"## Budget", "Total  spend", "- food\n  - bread", "| item | eur |", "| rent | 900 |", "After table"}
	for _, w := range want {
		if !strings.Contains(res.Content, w) {
			t.Errorf("content missing %q:\n%s", w, res.Content)
		}
	}
	if len(res.Tables) != 1 || res.Tables[0].Name != "Costs" || len(res.Tables[0].Cells[1]) != 2 {
		t.Fatalf("tables = %+v", res.Tables)
	}
	if res.Metadata.Value("title") != "Household" || res.Metadata.Value("author") != "Kim" {
		t.Fatalf("metadata = %v", res.Metadata.Map())
	}
}

func TestOpenDocumentMissingContent(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_ = zw.Close()
	if _, err := New(0).Extract(context.Background(), extract.Input{Data: buf.Bytes()}); err == nil {
		t.Fatalf("expected error for archive without content.xml")
	}
}
