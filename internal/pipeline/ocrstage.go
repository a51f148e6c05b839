package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/ocr"
)

// selectBackend returns the configured backend, or the highest-priority
// registered backend that supports the language and initializes. The
// returned release func must be called once the backend is no longer used.
func (e *Engine) selectBackend(oc *config.OCRConfig) (ocr.Backend, string, func(), error) {
	lang := oc.Language
	if oc.Backend != "" {
		c, ok := e.plugins.OCR.Get(oc.Backend)
		if !ok {
			return nil, "", nil, extract.MissingDependency(oc.Backend, "OCR backend is not registered")
		}
		b, release, err := c.Acquire()
		if err != nil {
			return nil, "", nil, &extract.Error{Kind: extract.KindMissingDependency, Plugin: c.Name(), Cause: err}
		}
		if !ocr.Supports(b, lang) {
			release()
			return nil, "", nil, extract.MissingDependency(c.Name(), fmt.Sprintf("language %q is not supported", lang))
		}
		return b, c.Name(), release, nil
	}

	for _, c := range e.plugins.OCR.Resolve(lang, nil) {
		b, release, err := c.Acquire()
		if err != nil {
			e.log.Debug("skipping OCR backend", "name", c.Name(), "error", err)
			continue
		}
		return b, c.Name(), release, nil
	}
	return nil, "", nil, extract.MissingDependency("ocr", fmt.Sprintf("no OCR backend available for language %q", lang))
}

// runOCR recognizes the images attached to res, or the input itself when it
// is an image, and merges the text back in.
func (e *Engine) runOCR(ctx context.Context, in extract.Input, res extract.Result, cfg *config.ExtractionConfig) (extract.Result, error) {
	oc := cfg.OCR
	backend, name, release, err := e.selectBackend(oc)
	if err != nil {
		return extract.Result{}, err
	}
	defer release()

	images := res.Images
	if len(images) == 0 && strings.HasPrefix(in.MIMEType, "image/") {
		images = []extract.Image{{Format: strings.TrimPrefix(in.MIMEType, "image/"), Data: in.Data, ReplacesContent: true}}
	}
	if cfg.Images != nil && cfg.Images.MaxImages > 0 && len(images) > cfg.Images.MaxImages {
		images = images[:cfg.Images.MaxImages]
	}

	out := res.Clone()
	out.Metadata.Set("ocr.backend", name)
	if oc.Language != "" {
		out.Metadata.Set("ocr.language", oc.Language)
	}

	if len(images) == 0 {
		// Forced OCR of a document that produced no images: let the backend
		// read the file itself.
		return e.ocrFile(ctx, backend, name, in, out, oc)
	}

	pc := ocr.PreprocessConfigFrom(oc)
	outputs := make([]ocr.Output, len(images))
	plans := make([]ocr.Plan, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, im := range images {
		g.Go(func() error {
			data, plan, err := ocr.Preprocess(im.Data, im.DPI, pc)
			if err != nil {
				return extract.OCR(name, fmt.Errorf("preprocess image %d: %w", i, err))
			}
			plans[i] = plan
			o, err := ocr.Recognize(gctx, backend, data, oc.Language, oc.MaxRetries)
			if err != nil {
				if ctx.Err() != nil {
					return extract.Timeout("ocr completed", ctx.Err())
				}
				return e.backendFailure(name, err)
			}
			outputs[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return extract.Result{}, err
	}

	for i, p := range plans {
		prefix := "ocr."
		if len(plans) > 1 {
			prefix = "ocr.image." + strconv.Itoa(i) + "."
		}
		p.Annotate(&out.Metadata, prefix)
	}
	merge(&out, images, outputs, cfg)
	out.Images = nil
	return out, nil
}

func (e *Engine) ocrFile(ctx context.Context, backend ocr.Backend, name string, in extract.Input, out extract.Result, oc *config.OCRConfig) (extract.Result, error) {
	path, cleanup, err := in.LocalFile()
	if err != nil {
		return extract.Result{}, extract.OCR(name, err)
	}
	defer cleanup()

	o, err := backend.ProcessFile(ctx, path, oc.Language)
	if err != nil {
		if ctx.Err() != nil {
			return extract.Result{}, extract.Timeout("ocr completed", ctx.Err())
		}
		return extract.Result{}, e.backendFailure(name, err)
	}
	out.Content = ocr.CleanText(o.Content)
	out.Tables = append(out.Tables, o.Tables...)
	out.Method = "ocr"
	annotateOutputs(&out, []ocr.Output{o})
	return out, nil
}

// merge folds recognized text into res. Whole-document images replace the
// content, page renders replace their page's text, and embedded images are
// appended after the existing content.
func merge(res *extract.Result, images []extract.Image, outputs []ocr.Output, cfg *config.ExtractionConfig) {
	var replaced, embedded []string
	pagesReplaced := 0
	for i, im := range images {
		o := outputs[i]
		res.Tables = append(res.Tables, o.Tables...)
		text := strings.TrimSpace(o.Content)
		switch {
		case im.ReplacesContent:
			replaced = append(replaced, text)
		case im.ReplacesPage && im.PageNumber > 0:
			replacePage(res, im.PageNumber, text)
			pagesReplaced++
		case text != "":
			embedded = append(embedded, text)
		}
	}

	switch {
	case len(replaced) > 0:
		res.Content = strings.Join(replaced, "\n\n")
		res.Method = "ocr"
	case pagesReplaced > 0:
		sep := ""
		if cfg.PDF != nil {
			sep = cfg.PDF.PageSeparator
		}
		res.Content = extract.JoinPages(res.Pages, sep)
		res.Method = "hybrid"
		if pagesReplaced == len(res.Pages) {
			res.Method = "ocr"
		}
		res.Metadata.Set("ocr.pages", strconv.Itoa(pagesReplaced))
	}
	if len(embedded) > 0 {
		res.Content = strings.TrimSpace(res.Content + "\n\n" + strings.Join(embedded, "\n\n"))
		res.Metadata.Set("ocr.embedded_images", strconv.Itoa(len(embedded)))
	}
	res.Metadata.Set("ocr.images", strconv.Itoa(len(images)))
	annotateOutputs(res, outputs)
}

func replacePage(res *extract.Result, page int, text string) {
	for i := range res.Pages {
		if res.Pages[i].PageNumber == page {
			res.Pages[i].Text = text
			res.Pages[i].Method = "ocr"
			res.Pages[i].WordCount, _ = extract.BuildCounts(text)
			return
		}
	}
	res.Pages = append(res.Pages, extract.PageResult{PageNumber: page, Text: text, Method: "ocr"})
	res.Pages[len(res.Pages)-1].WordCount, _ = extract.BuildCounts(text)
	sort.Slice(res.Pages, func(i, j int) bool { return res.Pages[i].PageNumber < res.Pages[j].PageNumber })
}

// annotateOutputs records the mean reported confidence and any backend
// metadata, keys in sorted order so the result is reproducible.
func annotateOutputs(res *extract.Result, outputs []ocr.Output) {
	sum, n := 0.0, 0
	extra := make(map[string]string)
	for _, o := range outputs {
		if o.Confidence > 0 {
			sum += o.Confidence
			n++
		}
		for k, v := range o.Metadata {
			extra[k] = v
		}
	}
	if n > 0 {
		res.Metadata.Set("ocr.confidence", strconv.FormatFloat(sum/float64(n), 'f', 4, 64))
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		res.Metadata.Set("ocr."+k, extra[k])
	}
}

// backendFailure logs the raw backend error and reports a sanitized one, so
// provider responses and credentials never reach API callers.
func (e *Engine) backendFailure(name string, err error) error {
	e.log.Warn("OCR backend failed", "name", name, "error", err)
	return &extract.Error{Kind: extract.KindOCR, Plugin: name, Message: ocr.SanitizeError(err)}
}
