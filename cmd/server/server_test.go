package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/pipeline"
	"github.com/toricodesthings/docintel/internal/plugin"
)

const testSecret = "s3cret"

type upperExtractor struct{}

func (upperExtractor) Name() string             { return "upper" }
func (upperExtractor) SupportedTypes() []string { return []string{"text/plain"} }
func (upperExtractor) MaxFileSize() int64       { return 0 }
func (upperExtractor) Extract(_ context.Context, in extract.Input) (extract.Result, error) {
	return extract.Result{Content: strings.ToUpper(string(in.Data)), Method: "native"}, nil
}

type brokenExtractor struct{}

func (brokenExtractor) Name() string             { return "broken" }
func (brokenExtractor) SupportedTypes() []string { return []string{"text/csv"} }
func (brokenExtractor) MaxFileSize() int64       { return 0 }
func (brokenExtractor) Extract(context.Context, extract.Input) (extract.Result, error) {
	return extract.Result{}, extract.Parsingf("broken", "bad row 3")
}

func testServer(t *testing.T) *server {
	t.Helper()
	set := plugin.NewSet()
	t.Cleanup(func() { _ = set.Shutdown() })
	if err := set.RegisterExtractor(upperExtractor{}); err != nil {
		t.Fatal(err)
	}
	if err := set.RegisterExtractor(brokenExtractor{}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{
		InternalSharedSecret:  testSecret,
		MaxJSONBodyBytes:      1 << 20,
		MaxUploadBytes:        1 << 10,
		MaxFileBytes:          1 << 20,
		MaxBatchItems:         10,
		MaxConcurrentRequests: 4,
		BatchWorkers:          2,
		ExtractTimeout:        10 * time.Second,
		DownloadTimeout:       time.Second,
		RateLimitEvery:        time.Millisecond,
		RateLimitBurst:        100,
	}
	metrics := newServerMetrics()
	engine := pipeline.New(set, pipeline.WithLogger(logger.Discard()), pipeline.OnSuccess(metrics.extraction))
	s := newServer(cfg, engine, metrics)
	s.log = logger.Discard()
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-Internal-Auth", testSecret)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAuthRequired(t *testing.T) {
	h := testServer(t).routes()
	req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(`{}`))
	req.Header.Set("X-Internal-Auth", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestHealthIsOpen(t *testing.T) {
	h := testServer(t).routes()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "healthy" || body["extractors"] != float64(2) {
		t.Fatalf("health = %v", body)
	}
}

func TestExtractMethodNotAllowed(t *testing.T) {
	rec := do(t, testServer(t).routes(), http.MethodGet, "/extract", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
	}
}

func TestExtractInlineData(t *testing.T) {
	s := testServer(t)
	body := mustJSON(t, extractRequest{Data: []byte("hello world"), MIMEType: "text/plain"})
	rec := do(t, s.routes(), http.MethodPost, "/extract", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	res := decode[extract.Result](t, rec)
	if !res.Success || res.Content != "HELLO WORLD" {
		t.Fatalf("result = %+v", res)
	}
	if got := s.metrics.extractionsSnapshot()["text/plain"]; got != 1 {
		t.Fatalf("extractions = %d", got)
	}
}

func TestExtractErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		req  extractRequest
		code int
		kind extract.Kind
	}{
		{"parsing", extractRequest{Data: []byte("a,b"), MIMEType: "text/csv"}, http.StatusUnprocessableEntity, extract.KindParsing},
		{"unsupported", extractRequest{Data: []byte("%PDF-1.4"), MIMEType: "application/pdf"}, http.StatusUnsupportedMediaType, extract.KindUnsupportedFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, testServer(t).routes(), http.MethodPost, "/extract", mustJSON(t, tc.req), nil)
			if rec.Code != tc.code {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
			}
			res := decode[extract.Result](t, rec)
			if res.Success || res.Error == nil || res.Error.Type != string(tc.kind) {
				t.Fatalf("result = %+v", res)
			}
		})
	}
}

func TestExtractRejectsBadRequests(t *testing.T) {
	h := testServer(t).routes()
	cases := map[string]string{
		"neither":       `{}`,
		"both":          `{"url":"https://example.com/a.txt","data":"aGk="}`,
		"invalidConfig": `{"data":"aGk=","mimeType":"text/plain","config":{"forceOcr":true}}`,
		"unknownField":  `{"data":"aGk=","bogus":1}`,
		"privateURL":    `{"url":"https://127.0.0.1/a.txt"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/extract", []byte(body), nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
			}
		})
	}
}

func TestUploadMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("upload me"))
	_ = mw.Close()

	rec := do(t, testServer(t).routes(), http.MethodPost, "/extract/upload", buf.Bytes(),
		map[string]string{"Content-Type": mw.FormDataContentType()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if res := decode[extract.Result](t, rec); res.Content != "UPLOAD ME" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestUploadRawBodyTooLarge(t *testing.T) {
	rec := do(t, testServer(t).routes(), http.MethodPost, "/extract/upload?mimeType=text/plain",
		bytes.Repeat([]byte("x"), 2<<10), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
}

func TestBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	body := mustJSON(t, batchRequest{Items: []extractRequest{
		{Data: []byte("one"), MIMEType: "text/plain"},
		{Data: []byte("x,y"), MIMEType: "text/csv"},
		{URL: "http://10.0.0.1/doc.txt"},
		{Data: []byte("four"), MIMEType: "text/plain"},
	}})
	rec := do(t, testServer(t).routes(), http.MethodPost, "/batch", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	resp := decode[batchResponse](t, rec)
	if len(resp.Results) != 4 || resp.Succeeded != 2 || resp.Failed != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Results[0].Content != "ONE" || resp.Results[3].Content != "FOUR" {
		t.Fatalf("order lost: %q %q", resp.Results[0].Content, resp.Results[3].Content)
	}
	if e := resp.Results[1].Error; e == nil || e.Type != string(extract.KindParsing) {
		t.Fatalf("item 1 error = %+v", e)
	}
	if e := resp.Results[2].Error; e == nil || e.Type != string(extract.KindValidation) {
		t.Fatalf("item 2 error = %+v", e)
	}
}

func TestBatchLimits(t *testing.T) {
	h := testServer(t).routes()
	items := make([]extractRequest, 11)
	for i := range items {
		items[i] = extractRequest{Data: []byte("a"), MIMEType: "text/plain"}
	}
	for name, body := range map[string][]byte{
		"tooMany":   mustJSON(t, batchRequest{Items: items}),
		"badShared": []byte(`{"items":[{"data":"aGk="}],"config":{"timeout":-1}}`),
	} {
		t.Run(name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, "/batch", body, nil); rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
			}
		})
	}
}

func TestBatchEmptyItemsIsNotAnError(t *testing.T) {
	h := testServer(t).routes()
	rec := do(t, h, http.MethodPost, "/batch", []byte(`{"items":[]}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Fatalf("body = %s", rec.Body)
	}
	resp := decode[batchResponse](t, rec)
	if len(resp.Results) != 0 || resp.Succeeded != 0 || resp.Failed != 0 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	s := testServer(t)
	if !s.requestSem.TryAcquire(4) {
		t.Fatal("acquire")
	}
	defer s.requestSem.Release(4)
	body := mustJSON(t, extractRequest{Data: []byte("hi"), MIMEType: "text/plain"})
	if rec := do(t, s.routes(), http.MethodPost, "/extract", body, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := testServer(t)
	s.limiters = newLimiterSet(time.Hour, 1)
	h := s.routes()
	body := mustJSON(t, extractRequest{Data: []byte("hi"), MIMEType: "text/plain"})
	if rec := do(t, h, http.MethodPost, "/extract", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/extract", body, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("second status = %d", rec.Code)
	}
	if n := s.limiters.reset(); n != 1 {
		t.Fatalf("reset dropped %d limiters", n)
	}
}

func TestCacheDisabled(t *testing.T) {
	if rec := do(t, testServer(t).routes(), http.MethodGet, "/cache", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFormatsListsResolvedExtractors(t *testing.T) {
	rec := do(t, testServer(t).routes(), http.MethodGet, "/formats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	type format struct {
		MIMEType   string   `json:"mimeType"`
		Extractors []string `json:"extractors"`
	}
	for _, f := range decode[[]format](t, rec) {
		if f.MIMEType == "text/plain" {
			if len(f.Extractors) != 1 || f.Extractors[0] != "upper" {
				t.Fatalf("text/plain extractors = %v", f.Extractors)
			}
			return
		}
	}
	t.Fatal("text/plain not listed")
}

func TestStatusFor(t *testing.T) {
	cases := map[extract.Kind]int{
		extract.KindValidation:        http.StatusBadRequest,
		extract.KindUnsupportedFormat: http.StatusUnsupportedMediaType,
		extract.KindParsing:           http.StatusUnprocessableEntity,
		extract.KindValidationChain:   http.StatusUnprocessableEntity,
		extract.KindMissingDependency: http.StatusNotImplemented,
		extract.KindOCR:               http.StatusBadGateway,
		extract.KindTimeout:           http.StatusGatewayTimeout,
		extract.Kind("other"):         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestRecoveryCatchesPanics(t *testing.T) {
	s := testServer(t)
	h := s.withLogging(s.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
