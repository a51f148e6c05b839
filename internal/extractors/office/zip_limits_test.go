package office

import (
	"strings"
	"testing"
)

func TestReadZipFileLimits(t *testing.T) {
	t.Parallel()

	zr, err := openZip(buildZip(t, map[string]string{"word/document.xml": "abcdef"}))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}

	if _, err := readZipFile(zr, "word/document.xml", 4); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected limit error, got %v", err)
	}
	b, err := readZipFile(zr, "word/document.xml", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "abcdef" {
		t.Fatalf("expected abcdef, got %q", string(b))
	}
	if _, err := readZipFile(zr, "missing.xml", 10); err == nil {
		t.Fatalf("expected missing member error")
	}
}
