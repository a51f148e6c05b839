//go:build tesseract

package builtin

import (
	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/ocr/tesseract"
	"github.com/toricodesthings/docintel/internal/plugin"
)

func registerTesseract(set *plugin.Set, cfg config.Config) error {
	return set.RegisterOCR(tesseract.New(cfg.TesseractLanguages...))
}
