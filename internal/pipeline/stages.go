package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/toricodesthings/docintel/internal/chunking"
	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/langdetect"
	"github.com/toricodesthings/docintel/internal/plugin"
	"github.com/toricodesthings/docintel/internal/quality"
	"github.com/toricodesthings/docintel/internal/tokenreduce"
)

// process is everything after the cache lookup. Each stage hands the next
// a fresh copy of the result.
func (e *Engine) process(ctx context.Context, in extract.Input, cfg *config.ExtractionConfig) (extract.Result, error) {
	features := plugin.NewFeatures(cfg.Features()...)

	if err := checkpoint(ctx, "extraction"); err != nil {
		return extract.Result{}, err
	}
	res, err := e.dispatch(ctx, in, features)
	if err != nil {
		return extract.Result{}, err
	}

	if needsOCR(in.MIMEType, res, cfg) {
		if err := checkpoint(ctx, "ocr"); err != nil {
			return extract.Result{}, err
		}
		if res, err = e.runOCR(ctx, in, res, cfg); err != nil {
			return extract.Result{}, err
		}
	}

	if res, err = e.postProcess(ctx, extract.StageEarly, res, cfg, features); err != nil {
		return extract.Result{}, err
	}

	if err := checkpoint(ctx, "quality"); err != nil {
		return extract.Result{}, err
	}
	res = res.Clone()
	quality.Assess(res.Content, cfg.Quality).Annotate(&res.Metadata)

	if res, err = e.postProcess(ctx, extract.StageMiddle, res, cfg, features); err != nil {
		return extract.Result{}, err
	}

	if tr := cfg.TokenReduction; tr != nil {
		if err := checkpoint(ctx, "token reduction"); err != nil {
			return extract.Result{}, err
		}
		res = res.Clone()
		before := len(res.Content)
		res.Content = tokenreduce.Reduce(res.Content, *tr)
		res.Metadata.Set("token_reduction.mode", tr.Mode)
		if before > 0 {
			res.Metadata.Set("token_reduction.ratio", strconv.FormatFloat(float64(len(res.Content))/float64(before), 'f', 4, 64))
		}
	}

	if ld := cfg.LanguageDetection; ld != nil {
		if err := checkpoint(ctx, "language detection"); err != nil {
			return extract.Result{}, err
		}
		res = res.Clone()
		detections := langdetect.Detect(res.Content, *ld)
		res.DetectedLanguages = langdetect.Codes(detections)
		if len(detections) > 0 {
			res.Metadata.Set("language", detections[0].Code)
			res.Metadata.Set("language_confidence", strconv.FormatFloat(detections[0].Confidence, 'f', 4, 64))
		}
	}

	if ch := cfg.Chunking; ch != nil {
		if err := checkpoint(ctx, "chunking"); err != nil {
			return extract.Result{}, err
		}
		res = res.Clone()
		res.Chunks = chunking.Split(res.Content, ch.MaxChars, ch.Overlap)
		res.Metadata.Set("chunk_count", strconv.Itoa(len(res.Chunks)))
	}

	if res, err = e.postProcess(ctx, extract.StageLate, res, cfg, features); err != nil {
		return extract.Result{}, err
	}

	if err := checkpoint(ctx, "validation"); err != nil {
		return extract.Result{}, err
	}
	res.Images = nil
	res.Success = true
	res.Finalize()
	if err := e.validate(ctx, res); err != nil {
		return extract.Result{}, err
	}
	return res, nil
}

// dispatch hands the input to the highest-priority extractor that accepts
// it. Its failure ends the request; lower-priority extractors are not tried.
func (e *Engine) dispatch(ctx context.Context, in extract.Input, features plugin.Features) (extract.Result, error) {
	cands := e.plugins.Extractors.Resolve(in.MIMEType, features)
	if len(cands) == 0 {
		return extract.Result{}, extract.UnsupportedFormat(in.MIMEType)
	}
	c := cands[0]
	ex, release, err := c.Acquire()
	if err != nil {
		return extract.Result{}, &extract.Error{Kind: extract.KindMissingDependency, Plugin: c.Name(), Cause: err}
	}
	defer release()
	if limit := ex.MaxFileSize(); limit > 0 && in.Size() > limit {
		return extract.Result{}, extract.Validationf("%s: file is %s, limit is %s",
			c.Name(), humanize.Bytes(uint64(in.Size())), humanize.Bytes(uint64(limit)))
	}

	res, err := safeExtract(ctx, ex, in)
	if err != nil {
		if extract.KindOf(err) == extract.KindTimeout || ctx.Err() != nil {
			return extract.Result{}, extract.Timeout("extraction completed", err)
		}
		var xe *extract.Error
		if errors.As(err, &xe) {
			return extract.Result{}, err
		}
		return extract.Result{}, extract.Parsing(c.Name(), err)
	}

	res = res.Clone()
	if res.MIMEType == "" {
		res.MIMEType = in.MIMEType
	}
	if res.Method == "" {
		res.Method = "native"
	}
	res.Metadata.Set("extractor", c.Name())
	return res, nil
}

func safeExtract(ctx context.Context, ex extract.Extractor, in extract.Input) (res extract.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(ex.Name(), r)
		}
	}()
	return ex.Extract(ctx, in)
}

// postProcess runs the enabled post-processors of one phase. A failing
// processor is skipped and its error recorded; the result it was given
// carries on unchanged.
func (e *Engine) postProcess(ctx context.Context, stage extract.Stage, res extract.Result, cfg *config.ExtractionConfig, features plugin.Features) (extract.Result, error) {
	pc := cfg.PostProcessors
	if pc == nil || !pc.Enabled {
		return res, nil
	}
	if err := checkpoint(ctx, stage.String()+" post-processing"); err != nil {
		return extract.Result{}, err
	}

	for _, c := range e.plugins.PostProcessors.Resolve("", features) {
		if c.Plugin().Stage() != stage || !allowed(pc, c.Name()) {
			continue
		}
		p, release, err := c.Acquire()
		if err != nil {
			res = recordFailure(res, c.Name(), err)
			continue
		}
		out, err := safeProcess(ctx, p, res.Clone())
		release()
		if err != nil {
			e.log.Warn("post-processor failed", "name", c.Name(), "stage", stage.String(), "error", err)
			res = recordFailure(res, c.Name(), err)
			continue
		}
		res = out
	}
	return res, nil
}

func allowed(pc *config.PostProcessorConfig, name string) bool {
	for _, d := range pc.Disabled {
		if d == name {
			return false
		}
	}
	if len(pc.Only) == 0 {
		return true
	}
	for _, o := range pc.Only {
		if o == name {
			return true
		}
	}
	return false
}

func recordFailure(res extract.Result, name string, err error) extract.Result {
	res = res.Clone()
	entry := name + ": " + err.Error()
	if prev, ok := res.Metadata.Get("processing_errors"); ok && prev != "" {
		entry = prev + "; " + entry
	}
	res.Metadata.Set("processing_errors", entry)
	return res
}

func safeProcess(ctx context.Context, p extract.PostProcessor, res extract.Result) (out extract.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Process(ctx, res)
}

// validate runs every validator, highest priority first, and stops at the
// first rejection.
func (e *Engine) validate(ctx context.Context, res extract.Result) error {
	for _, c := range e.plugins.Validators.All() {
		v, release, err := c.Acquire()
		if err != nil {
			return extract.ValidationChain(c.Name(), err)
		}
		err = safeValidate(ctx, v, res.Clone())
		release()
		if err != nil {
			return extract.ValidationChain(c.Name(), err)
		}
	}
	return nil
}

func safeValidate(ctx context.Context, v extract.Validator, res extract.Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return v.Validate(ctx, res)
}

// needsOCR reports whether the OCR stage applies: image inputs, forced OCR,
// pages the extractor rendered for OCR, or embedded images when image OCR is
// on. It never runs without an OCR configuration.
func needsOCR(mimeType string, res extract.Result, cfg *config.ExtractionConfig) bool {
	if cfg.OCR == nil {
		return false
	}
	switch {
	case cfg.ForceOCR:
		return true
	case strings.HasPrefix(mimeType, "image/"):
		return true
	case len(res.Images) > 0 && cfg.Images != nil && cfg.Images.OCR:
		return true
	}
	for _, im := range res.Images {
		if im.ReplacesPage || im.ReplacesContent {
			return true
		}
	}
	return false
}
