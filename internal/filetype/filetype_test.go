package filetype

import "testing"

var pdfHeader = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")

func TestResolveTrustsRecognizedHint(t *testing.T) {
	got := Resolve("Application/PDF; charset=binary", "notes.txt", []byte("plain text"))
	if got != "application/pdf" {
		t.Fatalf("expected hinted type, got %q", got)
	}
}

func TestResolveExtensionWinsOverSniff(t *testing.T) {
	// PDF bytes behind a .txt name: the extension is authoritative.
	if got := Resolve("", "report.txt", pdfHeader); got != "text/plain" {
		t.Fatalf("expected extension to win, got %q", got)
	}
	if !Disagrees("text/plain", pdfHeader) {
		t.Fatalf("expected disagreement to be reported")
	}
}

func TestResolveSniffsWhenNoExtension(t *testing.T) {
	if got := Resolve("", "upload", pdfHeader); got != "application/pdf" {
		t.Fatalf("expected sniffed pdf, got %q", got)
	}
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	if got := Resolve("bogus-hint", "", png); got != "image/png" {
		t.Fatalf("expected sniffed png, got %q", got)
	}
}

func TestResolveSourceCodeAndCase(t *testing.T) {
	if got := Resolve("", "Main.GO", []byte("package main")); got != "text/x-go" {
		t.Fatalf("expected text/x-go, got %q", got)
	}
	if !Known("text/x-go") {
		t.Fatalf("source types should be known")
	}
}

func TestResolveFallsBackToUnknown(t *testing.T) {
	if got := Resolve("", "", nil); got != Unknown {
		t.Fatalf("expected %q, got %q", Unknown, got)
	}
}

func TestExtensionsRoundTrip(t *testing.T) {
	exts := Extensions("image/jpeg")
	if len(exts) != 2 || exts[0] != ".jpeg" || exts[1] != ".jpg" {
		t.Fatalf("unexpected extensions %v", exts)
	}
	if ByExtension("yml") != "application/yaml" {
		t.Fatalf("expected yaml for bare extension")
	}
}
