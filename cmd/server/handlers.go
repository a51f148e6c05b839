package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/filetype"
	"github.com/toricodesthings/docintel/internal/pipeline"
)

// extractRequest names one document, either by URL or inline bytes
// (base64 in JSON). Config overrides the server defaults field by field.
type extractRequest struct {
	URL      string          `json:"url,omitempty"`
	Data     []byte          `json:"data,omitempty"`
	FileName string          `json:"fileName,omitempty"`
	MIMEType string          `json:"mimeType,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

type batchRequest struct {
	Items  []extractRequest `json:"items"`
	Config json.RawMessage  `json:"config,omitempty"`
}

type batchResponse struct {
	Results   []extract.Result `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active := s.metrics.get()
	status := "healthy"
	code := http.StatusOK

	ratio := s.cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}
	if active >= int64(float64(s.cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"active":     active,
		"extractors": s.engine.Plugins().Extractors.Len(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total, active := s.metrics.get()

	out := map[string]any{
		"activeRequests": active,
		"totalRequests":  total,
		"extractions":    s.metrics.extractionsSnapshot(),
		"failures":       s.metrics.failuresSnapshot(),
		"goroutines":     runtime.NumGoroutine(),
		"memAllocMB":     m.Alloc / (1 << 20),
		"memSysMB":       m.Sys / (1 << 20),
	}
	if c := s.engine.Cache(); c != nil {
		out["cache"] = c.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleFormats(w http.ResponseWriter, r *http.Request) {
	type format struct {
		MIMEType   string   `json:"mimeType"`
		Extensions []string `json:"extensions"`
		Extractors []string `json:"extractors"`
	}
	var out []format
	for _, mt := range filetype.KnownTypes() {
		f := format{MIMEType: mt, Extensions: filetype.Extensions(mt)}
		for _, c := range s.engine.Plugins().Extractors.Resolve(mt, nil) {
			f.Extractors = append(f.Extractors, c.Name())
		}
		out = append(out, f)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleCache(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Cache()
	if c == nil {
		writeErr(w, http.StatusNotFound, "cache_disabled", "Cache is disabled")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, c.Stats())
	case http.MethodDelete:
		if err := c.Clear(); err != nil {
			writeErr(w, http.StatusInternalServerError, "cache_error", sanitizeError(err))
			return
		}
		writeJSON(w, http.StatusOK, c.Stats())
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be GET or DELETE")
	}
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[extractRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	cfg, err := s.extractionConfig(req.Config)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_failed", sanitizeError(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExtractTimeout)
	defer cancel()

	preq, err := s.resolve(ctx, req, cfg)
	if err != nil {
		s.metrics.failure(extract.KindValidation)
		writeErr(w, http.StatusBadRequest, "download_failed", sanitizeError(err))
		return
	}
	s.respond(ctx, w, preq)
}

// handleUpload reads the document from a multipart "file" field or, for any
// other content type, from the raw body.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	q := r.URL.Query()
	fileName := q.Get("fileName")
	mimeType := q.Get("mimeType")
	rawCfg := q.Get("config")

	var data []byte
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err = r.ParseMultipartForm(32 << 20); err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()
		f, hdr, ferr := r.FormFile("file")
		if ferr != nil {
			writeErr(w, http.StatusBadRequest, "validation_failed", "file field required")
			return
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		if fileName == "" {
			fileName = hdr.Filename
		}
		if mimeType == "" {
			mimeType = hdr.Header.Get("Content-Type")
		}
		if v := r.FormValue("config"); v != "" {
			rawCfg = v
		}
	} else {
		data, err = io.ReadAll(r.Body)
		if mimeType == "" {
			mimeType = r.Header.Get("Content-Type")
		}
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeErr(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("upload exceeds %d bytes", mbe.Limit))
			return
		}
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if len(data) == 0 {
		writeErr(w, http.StatusBadRequest, "validation_failed", "empty upload")
		return
	}
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}

	cfg, err := s.extractionConfig(json.RawMessage(rawCfg))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_failed", sanitizeError(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExtractTimeout)
	defer cancel()
	s.respond(ctx, w, pipeline.Request{Data: data, FileName: fileName, MIMEType: mimeType, Config: cfg})
}

func (s *server) respond(ctx context.Context, w http.ResponseWriter, req pipeline.Request) {
	res, err := s.engine.Extract(ctx, req)
	if err != nil {
		kind := extract.KindOf(err)
		s.metrics.failure(kind)
		s.log.Debug("extraction failed", "request_id", requestID(ctx), "error_type", kind, "error", err)
		failed := extract.FailedResult(err, req.MIMEType)
		failed.Error.Message = sanitizeError(errors.New(failed.Error.Message))
		writeJSON(w, statusFor(kind), failed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[batchRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if s.cfg.MaxBatchItems > 0 && len(req.Items) > s.cfg.MaxBatchItems {
		writeErr(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("at most %d items per batch", s.cfg.MaxBatchItems))
		return
	}
	shared, err := s.extractionConfig(req.Config)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_failed", sanitizeError(err))
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusOK, batchResponse{Results: []extract.Result{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExtractTimeout)
	defer cancel()

	// Items that cannot be fetched fail alone, like any other item.
	results := make([]extract.Result, len(req.Items))
	reqs := make([]pipeline.Request, 0, len(req.Items))
	index := make([]int, 0, len(req.Items))
	prepared := make([]*pipeline.Request, len(req.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.BatchWorkers))
	for i, item := range req.Items {
		g.Go(func() error {
			var itemCfg *config.ExtractionConfig
			if len(item.Config) > 0 {
				c, err := s.extractionConfig(item.Config)
				if err != nil {
					results[i] = extract.FailedResult(&extract.Error{Kind: extract.KindValidation, Message: "invalid item configuration", Cause: err}, item.MIMEType)
					return nil
				}
				itemCfg = c
			}
			p, err := s.resolve(gctx, item, itemCfg)
			if err != nil {
				results[i] = extract.FailedResult(&extract.Error{Kind: extract.KindValidation, Message: sanitizeError(err)}, item.MIMEType)
				return nil
			}
			prepared[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range prepared {
		if p != nil {
			reqs = append(reqs, *p)
			index = append(index, i)
		}
	}
	out, err := s.batch.BatchAsync(ctx, reqs, shared).Wait(ctx)
	if err != nil {
		writeJSON(w, statusFor(extract.KindOf(err)), extract.FailedResult(err, ""))
		return
	}
	for j, res := range out {
		results[index[j]] = res
	}

	resp := batchResponse{Results: results}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
			if res.Error != nil {
				s.metrics.failure(extract.Kind(res.Error.Type))
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolve turns a request body item into a pipeline request, downloading
// the document when it is referenced by URL.
func (s *server) resolve(ctx context.Context, req extractRequest, cfg *config.ExtractionConfig) (pipeline.Request, error) {
	out := pipeline.Request{Data: req.Data, FileName: req.FileName, MIMEType: req.MIMEType, Config: cfg}
	switch {
	case len(req.Data) > 0 && req.URL != "":
		return out, fmt.Errorf("set either url or data, not both")
	case len(req.Data) > 0:
		return out, nil
	case strings.TrimSpace(req.URL) == "":
		return out, fmt.Errorf("url or data required")
	}
	f, err := s.fetch.fetch(ctx, req.URL)
	if err != nil {
		return out, err
	}
	out.Data = f.Data
	if out.FileName == "" {
		out.FileName = f.FileName
	}
	if out.MIMEType == "" {
		out.MIMEType = f.MIMEType
	}
	return out, nil
}

// extractionConfig overlays raw onto the server defaults. An empty raw
// message yields nil so the engine applies its own defaults.
func (s *server) extractionConfig(raw json.RawMessage) (*config.ExtractionConfig, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	cfg := s.engine.Defaults()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func statusFor(kind extract.Kind) int {
	switch kind {
	case extract.KindValidation:
		return http.StatusBadRequest
	case extract.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case extract.KindParsing, extract.KindValidationChain:
		return http.StatusUnprocessableEntity
	case extract.KindMissingDependency:
		return http.StatusNotImplemented
	case extract.KindOCR:
		return http.StatusBadGateway
	case extract.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ---------- Metrics ----------

type serverMetrics struct {
	totalRequests atomic.Int64
	activeReqs    atomic.Int64

	mu          sync.Mutex
	extractions map[string]int64 // by MIME type
	failures    map[extract.Kind]int64
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{extractions: make(map[string]int64), failures: make(map[extract.Kind]int64)}
}

func (m *serverMetrics) incActive() {
	m.activeReqs.Add(1)
	m.totalRequests.Add(1)
}

func (m *serverMetrics) decActive() { m.activeReqs.Add(-1) }

func (m *serverMetrics) get() (total, active int64) {
	return m.totalRequests.Load(), m.activeReqs.Load()
}

func (m *serverMetrics) extraction(mimeType string, _ int64, _ time.Duration) {
	m.mu.Lock()
	m.extractions[mimeType]++
	m.mu.Unlock()
}

func (m *serverMetrics) failure(kind extract.Kind) {
	m.mu.Lock()
	m.failures[kind]++
	m.mu.Unlock()
}

func (m *serverMetrics) extractionsSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.extractions))
	for k, v := range m.extractions {
		out[k] = v
	}
	return out
}

func (m *serverMetrics) failuresSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.failures))
	for k, v := range m.failures {
		out[string(k)] = v
	}
	return out
}

// ---------- Helpers ----------

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	// Nothing may follow the first JSON value.
	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
