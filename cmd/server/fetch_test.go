package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateDownloadURL(t *testing.T) {
	t.Parallel()

	allowed := []string{".blob.example.net", "docs.example.org"}
	cases := []struct {
		url          string
		hosts        []string
		allowPrivate bool
		ok           bool
	}{
		{"https://acct.blob.example.net/a/file.pdf?sig=1", allowed, false, true},
		{"https://docs.example.org/file.pdf", allowed, false, true},
		{"https://evil-docs.example.org/file.pdf", allowed, false, false},
		{"https://other.example.com/file.pdf", allowed, false, false},
		{"https://other.example.com/file.pdf", nil, false, true},
		{"http://acct.blob.example.net/file.pdf", allowed, false, false},
		{"ftp://acct.blob.example.net/file.pdf", nil, false, false},
		{"https:///file.pdf", nil, false, false},
		{"https://localhost/file.pdf", nil, false, false},
		{"https://127.0.0.1/file.pdf", nil, false, false},
		{"https://10.0.0.4/file.pdf", nil, false, false},
		{"https://100.64.1.1/file.pdf", nil, false, false},
		{"https://[::1]/file.pdf", nil, false, false},
		{"http://127.0.0.1:8080/file.pdf", allowed, true, true},
		{"http://api.localhost/file.pdf", nil, true, true},
	}
	for _, c := range cases {
		err := validateDownloadURL(c.url, c.hosts, c.allowPrivate)
		if (err == nil) != c.ok {
			t.Errorf("%s (hosts=%v private=%v): err = %v", c.url, c.hosts, c.allowPrivate, err)
		}
	}
}

func TestFetchReadsBodyTypeAndName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/report.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf; charset=binary")
		_, _ = w.Write([]byte("%PDF-1.7 body"))
	}))
	defer srv.Close()

	f := newFetcher(5*time.Second, 1024, nil, true)
	got, err := f.fetch(context.Background(), srv.URL+"/files/report.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got.Data) != "%PDF-1.7 body" {
		t.Fatalf("data = %q", got.Data)
	}
	if got.MIMEType != "application/pdf" || got.FileName != "report.pdf" {
		t.Fatalf("mime=%q name=%q", got.MIMEType, got.FileName)
	}

	if _, err := f.fetch(context.Background(), srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected HTTP 404 error, got %v", err)
	}
}

func TestFetchIgnoresOctetStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("raw"))
	}))
	defer srv.Close()

	got, err := newFetcher(5*time.Second, 1024, nil, true).fetch(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if got.MIMEType != "" || got.FileName != "" {
		t.Fatalf("mime=%q name=%q", got.MIMEType, got.FileName)
	}
}

func TestFetchEnforcesSizeLimit(t *testing.T) {
	body := strings.Repeat("a", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("chunked") == "1" {
			// No Content-Length, so only the read limit applies.
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := newFetcher(5*time.Second, 16, nil, true)
	for _, q := range []string{"", "?chunked=1"} {
		if _, err := f.fetch(context.Background(), srv.URL+"/big.txt"+q); err == nil || !strings.Contains(err.Error(), "exceeds") {
			t.Fatalf("%q: expected size error, got %v", q, err)
		}
	}
}

func TestFetchRevalidatesRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://files.example.com/secret.pdf", http.StatusFound)
	}))
	defer srv.Close()

	f := newFetcher(5*time.Second, 1024, []string{"example.com"}, true)
	_, err := f.fetch(context.Background(), srv.URL+"/start.pdf")
	if err == nil || !strings.Contains(err.Error(), "https") {
		t.Fatalf("expected redirect to plain http public host to be refused, got %v", err)
	}
}

func TestFetchRefusesPrivateHostsByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	if _, err := newFetcher(time.Second, 1024, nil, false).fetch(context.Background(), srv.URL+"/x.pdf"); err == nil {
		t.Fatal("expected private host to be refused")
	}
}
