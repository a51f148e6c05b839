// Package pdf reads the text layer of PDF files page by page with poppler.
// Pages whose text layer is missing or junk are rendered so the OCR stage
// can replace them.
package pdf

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/postprocess"
	"github.com/toricodesthings/docintel/internal/quality"
)

const (
	methodTextLayer = "native"
	methodNeedsOCR  = "needs-ocr"

	defaultMinWords     = 20
	defaultTriggerRatio = 0.25
	defaultRenderDPI    = 300
)

type Extractor struct {
	tools    poppler
	maxBytes int64
	workers  int
	dpi      int
	log      *slog.Logger
}

type Option func(*Extractor)

// WithWorkers caps how many pages are read at once.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRenderDPI sets the render resolution used when OCR has no target DPI.
func WithRenderDPI(dpi int) Option {
	return func(e *Extractor) {
		if dpi > 0 {
			e.dpi = dpi
		}
	}
}

func WithTimeouts(t Timeouts) Option {
	return func(e *Extractor) { e.tools.timeouts = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

func New(maxBytes int64, opts ...Option) *Extractor {
	e := &Extractor{
		tools:    poppler{pdfinfo: "pdfinfo", pdftotext: "pdftotext", pdftoppm: "pdftoppm"},
		maxBytes: maxBytes,
		workers:  runtime.NumCPU(),
		dpi:      defaultRenderDPI,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logger.With("component", "pdf")
	}
	e.tools.timeouts = e.tools.timeouts.withDefaults()
	e.tools.log = e.log
	return e
}

func (e *Extractor) Name() string             { return "pdf" }
func (e *Extractor) MaxFileSize() int64       { return e.maxBytes }
func (e *Extractor) SupportedTypes() []string { return []string{"application/pdf"} }

// Initialize locates the poppler binaries.
func (e *Extractor) Initialize() error { return e.tools.lookup() }

type pageText struct {
	number   int
	text     string
	words    int
	needsOCR bool
}

func (e *Extractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	path, cleanup, err := in.LocalFile()
	if err != nil {
		return extract.Result{}, err
	}
	defer cleanup()

	info, err := e.tools.Info(ctx, path)
	if err != nil {
		return extract.Result{}, e.wrap(ctx, err)
	}

	opts := pdfOptions(in.Config)
	total := info.Pages
	if opts.MaxPages > 0 && total > opts.MaxPages {
		total = opts.MaxPages
	}
	pages := make([]int, total)
	for i := range pages {
		pages[i] = i + 1
	}

	texts := e.readPages(ctx, path, pages, opts.MinWordsThreshold)
	if ctx.Err() != nil {
		return extract.Result{}, extract.Timeout("pdf text layer", ctx.Err())
	}

	res := extract.Result{FileType: "pdf", MIMEType: in.MIMEType, Method: methodTextLayer}
	var needs []int
	for _, pt := range texts {
		p := extract.PageResult{PageNumber: pt.number, Text: pt.text, Method: methodTextLayer, WordCount: pt.words}
		if pt.needsOCR {
			p.Method = methodNeedsOCR
			p.Text = ""
			needs = append(needs, pt.number)
		}
		res.Pages = append(res.Pages, p)
	}
	res.Content = extract.JoinPages(res.Pages, opts.PageSeparator)

	e.annotate(&res, info, len(pages), len(needs))

	// Renders are only useful when the OCR stage will run.
	if in.Config == nil || in.Config.OCR == nil {
		if len(needs) > 0 {
			res.Method = methodNeedsOCR
		}
		return res, nil
	}

	// Past the trigger ratio the whole document is OCRed.
	full := in.Config.ForceOCR
	if len(needs) > 0 && float64(len(needs))/float64(len(pages)) >= opts.OCRTriggerRatio {
		full = true
	}
	render := needs
	if full {
		render = pages
	}
	if len(render) == 0 {
		return res, nil
	}
	if full {
		res.Metadata.Set("pdf.full_ocr", "true")
	}

	dpi := e.dpi
	if t := in.Config.OCR.TargetDPI; t > 0 {
		dpi = t
	}
	images, err := e.renderPages(ctx, path, render, dpi)
	if err != nil {
		return extract.Result{}, err
	}
	res.Images = images
	return res, nil
}

// pdfOptions fills in defaults for a missing or partial PDF configuration.
func pdfOptions(cfg *config.ExtractionConfig) config.PDFConfig {
	var out config.PDFConfig
	if cfg != nil && cfg.PDF != nil {
		out = *cfg.PDF
	}
	if out.MinWordsThreshold <= 0 {
		out.MinWordsThreshold = defaultMinWords
	}
	if out.OCRTriggerRatio <= 0 {
		out.OCRTriggerRatio = defaultTriggerRatio
	}
	return out
}

// readPages extracts every page's text layer in parallel. A page whose
// extraction fails is treated like a page without a text layer.
func (e *Extractor) readPages(ctx context.Context, path string, pages []int, minWords int) []pageText {
	results := make([]pageText, len(pages))

	workers := e.workers
	if workers > len(pages) {
		workers = len(pages)
	}
	if workers < 1 {
		workers = 1
	}

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	for i, page := range pages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = pageText{number: page, needsOCR: true}
				return
			}
			defer sem.Release(1)
			results[i] = e.readPage(ctx, path, page, minWords)
		}()
	}
	wg.Wait()
	return results
}

func (e *Extractor) readPage(ctx context.Context, path string, page, minWords int) pageText {
	out := pageText{number: page}
	text, err := e.tools.PageText(ctx, path, page)
	if err != nil {
		e.log.Debug("page text layer unreadable", "page", page, "error", err)
		out.needsOCR = true
		return out
	}
	text = postprocess.Normalize(text, 2)
	decision := quality.Score(text, minWords)
	out.text = text
	out.words = decision.WordCount
	out.needsOCR = decision.NeedsOCR
	return out
}

// renderPages rasterizes pages for OCR. A page that fails to render keeps
// its text layer result; cancellation aborts the whole document.
func (e *Extractor) renderPages(ctx context.Context, path string, pages []int, dpi int) ([]extract.Image, error) {
	images := make([]*extract.Image, len(pages))
	sem := semaphore.NewWeighted(int64(max(1, min(e.workers, len(pages)))))
	var wg sync.WaitGroup
	for i, page := range pages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			data, err := e.tools.RenderPage(ctx, path, page, dpi)
			if err != nil {
				e.log.Warn("page render failed", "page", page, "dpi", dpi, "error", err)
				return
			}
			images[i] = &extract.Image{PageNumber: page, Format: "png", Data: data, DPI: dpi, ReplacesPage: true}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil, extract.Timeout("pdf page render", ctx.Err())
	}

	out := make([]extract.Image, 0, len(images))
	for _, im := range images {
		if im != nil {
			im.Index = len(out)
			out = append(out, *im)
		}
	}
	return out, nil
}

func (e *Extractor) annotate(res *extract.Result, info Info, read, needs int) {
	res.Metadata.Set("page_count", strconv.Itoa(info.Pages))
	if read < info.Pages {
		res.Metadata.Set("pdf.pages_read", strconv.Itoa(read))
	}
	res.Metadata.Set("pdf.text_layer_pages", strconv.Itoa(read-needs))
	res.Metadata.Set("pdf.needs_ocr_pages", strconv.Itoa(needs))
	if info.Encrypted {
		res.Metadata.Set("pdf.encrypted", "true")
	}
	for _, f := range []struct{ field, key string }{
		{"Title", "title"},
		{"Author", "author"},
		{"Subject", "subject"},
		{"Keywords", "keywords"},
		{"Creator", "creator"},
		{"Producer", "producer"},
		{"CreationDate", "created"},
		{"ModDate", "modified"},
		{"PDF version", "pdf.version"},
	} {
		if v := strings.TrimSpace(info.Fields[f.field]); v != "" {
			res.Metadata.Set(f.key, v)
		}
	}
}

// wrap turns a poppler error into the engine's error taxonomy. Password
// protection and damage surface as parsing errors like any other.
func (e *Extractor) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return extract.Timeout("pdf info", ctx.Err())
	}
	return extract.Parsing(e.Name(), err)
}
