// Package pipeline runs one extraction request end to end: type resolution,
// cache lookup, extractor dispatch and the fixed sequence of enrichment
// stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/toricodesthings/docintel/internal/cache"
	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/filetype"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/plugin"
)

// Engine is safe for concurrent use.
type Engine struct {
	plugins   *plugin.Set
	cache     *cache.Manager
	defaults  *config.ExtractionConfig
	log       *slog.Logger
	onSuccess func(mimeType string, size int64, took time.Duration)
}

type Option func(*Engine)

// WithCache enables result caching for requests that set UseCache.
func WithCache(m *cache.Manager) Option {
	return func(e *Engine) { e.cache = m }
}

// WithDefaults sets the configuration used by requests that carry none.
func WithDefaults(cfg *config.ExtractionConfig) Option {
	return func(e *Engine) { e.defaults = cfg.Clone() }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// OnSuccess registers a callback run after every successful extraction.
func OnSuccess(fn func(mimeType string, size int64, took time.Duration)) Option {
	return func(e *Engine) { e.onSuccess = fn }
}

func New(plugins *plugin.Set, opts ...Option) *Engine {
	e := &Engine{
		plugins:  plugins,
		defaults: &config.ExtractionConfig{Quality: config.DefaultQualityWeights()},
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logger.With("component", "pipeline")
	}
	return e
}

func (e *Engine) Plugins() *plugin.Set { return e.plugins }

// Cache returns the cache manager, or nil when caching is off.
func (e *Engine) Cache() *cache.Manager { return e.cache }

// Defaults returns a copy of the default configuration.
func (e *Engine) Defaults() *config.ExtractionConfig { return e.defaults.Clone() }

// Request is one document to extract. Exactly one of Data or Path should be
// set; Data wins when both are.
type Request struct {
	Data     []byte
	Path     string
	FileName string
	MIMEType string                   // hint; may be empty
	Config   *config.ExtractionConfig // nil uses the engine defaults
}

// Extract runs the full pipeline for req on the calling goroutine.
func (e *Engine) Extract(ctx context.Context, req Request) (extract.Result, error) {
	start := time.Now()

	cfg := req.Config
	if cfg == nil {
		cfg = e.defaults
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return extract.Result{}, &extract.Error{Kind: extract.KindValidation, Message: "invalid configuration", Cause: err}
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	in, src, err := load(req)
	if err != nil {
		return extract.Result{}, err
	}
	in.Config = cfg

	if err := checkpoint(ctx, "type resolution"); err != nil {
		return extract.Result{}, err
	}
	in.MIMEType = filetype.Resolve(req.MIMEType, in.FileName, in.Data)

	res, err := e.cached(ctx, in, src, cfg)
	if err != nil {
		e.log.Debug("extraction failed",
			"mime", in.MIMEType,
			"size", humanize.Bytes(uint64(in.Size())),
			"error_type", extract.KindOf(err),
			"error", err,
		)
		return extract.Result{}, err
	}

	took := time.Since(start)
	if e.onSuccess != nil {
		e.onSuccess(in.MIMEType, in.Size(), took)
	}
	e.log.Debug("extraction complete",
		"mime", in.MIMEType,
		"method", res.Method,
		"size", humanize.Bytes(uint64(in.Size())),
		"took", took,
	)
	return res, nil
}

func (e *Engine) cached(ctx context.Context, in extract.Input, src cache.SourceInfo, cfg *config.ExtractionConfig) (extract.Result, error) {
	if e.cache == nil || !cfg.UseCache {
		return e.process(ctx, in, cfg)
	}
	if err := checkpoint(ctx, "cache lookup"); err != nil {
		return extract.Result{}, err
	}

	key := cache.Fingerprint(in.MIMEType, in.Data, cfg.CacheKey())
	payload, hit, err := e.cache.GetOrCompute(ctx, key, src, func(ctx context.Context) ([]byte, error) {
		res, err := e.process(ctx, in, cfg)
		if err != nil {
			return nil, err
		}
		return res.MarshalBinary()
	})
	if err != nil {
		var xe *extract.Error
		if errors.As(err, &xe) {
			return extract.Result{}, err
		}
		if ctx.Err() != nil {
			return extract.Result{}, extract.Timeout("cache write", ctx.Err())
		}
		return extract.Result{}, extract.Parsing("cache", err)
	}

	var res extract.Result
	if err := res.UnmarshalBinary(payload); err != nil {
		e.log.Warn("cached result unreadable, recomputing", "key", key.String(), "error", err)
		e.cache.Invalidate(key)
		return e.process(ctx, in, cfg)
	}
	if hit {
		e.log.Debug("cache hit", "key", key.String(), "mime", in.MIMEType)
	}
	return res, nil
}

// load reads the request bytes. A referenced file that does not exist is a
// validation failure, not a parsing one.
func load(req Request) (extract.Input, cache.SourceInfo, error) {
	in := extract.Input{Path: req.Path, FileName: req.FileName}
	if in.FileName == "" && req.Path != "" {
		in.FileName = filepath.Base(req.Path)
	}

	if len(req.Data) > 0 {
		in.Data = req.Data
		return in, cache.SourceInfo{Size: int64(len(req.Data))}, nil
	}
	if req.Path == "" {
		return in, cache.SourceInfo{}, extract.Validationf("request has no content")
	}

	info, err := os.Stat(req.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return in, cache.SourceInfo{}, extract.Validationf("file not found: %s", req.Path)
	case err != nil:
		return in, cache.SourceInfo{}, &extract.Error{Kind: extract.KindValidation, Message: "stat input", Cause: err}
	case info.IsDir():
		return in, cache.SourceInfo{}, extract.Validationf("%s is a directory", req.Path)
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return in, cache.SourceInfo{}, &extract.Error{Kind: extract.KindValidation, Message: "read input", Cause: err}
	}
	in.Data = data
	return in, cache.SourceInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// ExtractBytes is Extract for an in-memory document.
func (e *Engine) ExtractBytes(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (extract.Result, error) {
	return e.Extract(ctx, Request{Data: data, MIMEType: mimeType, Config: cfg})
}

// ExtractFile is Extract for a document on disk.
func (e *Engine) ExtractFile(ctx context.Context, path, mimeType string, cfg *config.ExtractionConfig) (extract.Result, error) {
	return e.Extract(ctx, Request{Path: path, MIMEType: mimeType, Config: cfg})
}

// Future is the pending outcome of ExtractAsync.
type Future struct {
	done chan struct{}
	res  extract.Result
	err  error
}

// ExtractAsync runs Extract on its own goroutine.
func (e *Engine) ExtractAsync(ctx context.Context, req Request) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.res, f.err = e.Extract(ctx, req)
	}()
	return f
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the extraction finishes or ctx ends. Abandoning the wait
// does not cancel the extraction; cancel the context passed to
// ExtractAsync for that.
func (f *Future) Wait(ctx context.Context) (extract.Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return extract.Result{}, extract.Timeout("result", ctx.Err())
	}
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return extract.Timeout(stage, err)
	}
	return nil
}

func recovered(plugin string, r any) error {
	return extract.Parsing(plugin, fmt.Errorf("panic: %v", r))
}
