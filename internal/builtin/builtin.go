// Package builtin registers the bundled extractors, OCR backends,
// post-processors and validators, and owns the process-wide default set.
package builtin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/extractors/code"
	"github.com/toricodesthings/docintel/internal/extractors/ebook"
	"github.com/toricodesthings/docintel/internal/extractors/image"
	"github.com/toricodesthings/docintel/internal/extractors/office"
	"github.com/toricodesthings/docintel/internal/extractors/opendocument"
	"github.com/toricodesthings/docintel/internal/extractors/pdf"
	"github.com/toricodesthings/docintel/internal/extractors/plaintext"
	"github.com/toricodesthings/docintel/internal/extractors/structured"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/ocr"
	"github.com/toricodesthings/docintel/internal/plugin"
	"github.com/toricodesthings/docintel/internal/postprocess"
	"github.com/toricodesthings/docintel/internal/validators"
)

// Register adds every bundled plugin to set, sized and tuned from cfg.
// Plugins whose dependencies are missing still register; they report
// MissingDependencyError when selected.
func Register(set *plugin.Set, cfg config.Config) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, e := range extractors(cfg) {
		add(set.RegisterExtractor(e))
	}

	add(set.RegisterOCR(ocr.NewMistral(ocr.MistralConfig{
		APIKey:   cfg.MistralAPIKey,
		Model:    cfg.DefaultOCRModel,
		Endpoint: cfg.MistralOCREndpoint,
		Timeout:  cfg.MistralRequestTimeout,
		Limiter:  ocr.NewLimiter(cfg.MaxOCRConcurrent, cfg.OCRRequestsPerSecond),
	})))
	add(set.RegisterOCR(ocr.NewVision(ocr.VisionConfig{
		APIKey:   cfg.OpenRouterAPIKey,
		Model:    cfg.VisionOCRModel,
		Endpoint: cfg.VisionOCREndpoint,
		Timeout:  cfg.VisionOCRTimeout,
		Limiter:  ocr.NewLimiter(cfg.MaxOCRConcurrent, cfg.OCRRequestsPerSecond),
	})))
	add(registerTesseract(set, cfg))

	add(set.RegisterPostProcessor(postprocess.Whitespace{}))
	add(set.RegisterPostProcessor(postprocess.Stats{}))

	if cfg.MinContentChars > 0 || cfg.MinContentWords > 0 {
		add(set.RegisterValidator(validators.MinContent{MinChars: cfg.MinContentChars, MinWords: cfg.MinContentWords}))
	}
	if cfg.ResultSchemaPath != "" {
		v, err := validators.LoadJSONSchema(cfg.ResultSchemaPath)
		if err != nil {
			add(fmt.Errorf("result schema: %w", err))
		} else {
			add(set.RegisterValidator(v))
		}
	}
	return errors.Join(errs...)
}

func extractors(cfg config.Config) []extract.Extractor {
	limit := cfg.MaxFileBytes
	return []extract.Extractor{
		pdf.New(cfg.MaxPDFBytes,
			pdf.WithWorkers(cfg.MaxPageWorkers),
			pdf.WithRenderDPI(cfg.DefaultTargetDPI),
			pdf.WithTimeouts(pdf.Timeouts{
				Info:   cfg.PDFInfoTimeout,
				Text:   cfg.PDFToTextTimeout,
				Render: cfg.PDFToPPMTimeout,
			}),
		),
		office.NewDOCX(limit),
		office.NewPPTX(limit),
		office.NewXLSX(limit),
		office.NewLegacy(cfg.LibreOfficeBinary, cfg.LibreOfficeTimeout, limit),
		opendocument.New(limit),
		ebook.NewEPUB(limit),
		plaintext.New(limit),
		plaintext.NewHTML(limit),
		plaintext.NewRTF(limit),
		structured.NewCSV(limit),
		structured.NewJSON(limit),
		structured.NewXML(limit),
		structured.NewYAML(limit),
		code.NewSource(cfg.MaxCodeFileBytes),
		code.NewNotebook(cfg.MaxCodeFileBytes),
		code.NewLaTeX(cfg.MaxCodeFileBytes),
		image.NewOCR(cfg.MaxImageBytes),
		image.NewMetadata(cfg.MaxImageBytes),
	}
}

var (
	mu         sync.Mutex
	defaultSet *plugin.Set
)

// Default returns the process-wide plugin set, building it from the
// environment on first use.
func Default() (*plugin.Set, error) {
	mu.Lock()
	defer mu.Unlock()
	if defaultSet != nil {
		return defaultSet, nil
	}
	set := plugin.NewSet()
	if err := Register(set, config.Load()); err != nil {
		_ = set.Shutdown()
		return nil, err
	}
	defaultSet = set
	return set, nil
}

// Reset shuts the default set down. The next Default call rebuilds it.
func Reset() error {
	mu.Lock()
	defer mu.Unlock()
	if defaultSet == nil {
		return nil
	}
	err := defaultSet.Shutdown()
	defaultSet = nil
	if err != nil {
		logger.Warn("plugin shutdown reported errors", "error", err)
	}
	return err
}
