//go:build tesseract

// Package tesseract wraps libtesseract through gosseract. It is only built
// with the "tesseract" build tag since it needs cgo and the native library.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/toricodesthings/docintel/internal/ocr"
)

// Backend runs a pool of gosseract clients. Clients are not safe for
// concurrent use, so each call takes one from the pool.
type Backend struct {
	languages []string
	pool      sync.Pool
	version   string
}

func New(languages ...string) *Backend {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Backend{languages: languages}
}

func (b *Backend) Name() string                 { return "tesseract" }
func (b *Backend) Version() string              { return b.version }
func (b *Backend) SupportedLanguages() []string { return append([]string(nil), b.languages...) }
func (b *Backend) Priority() int                { return 60 }

// Idempotent is false: a local engine failing once fails the same way again.
func (b *Backend) Idempotent() bool { return false }

func (b *Backend) Initialize() error {
	b.pool.New = func() any { return gosseract.NewClient() }
	c := b.pool.Get().(*gosseract.Client)
	defer b.pool.Put(c)
	b.version = gosseract.Version()
	if b.version == "" {
		return fmt.Errorf("libtesseract not available")
	}
	return nil
}

func (b *Backend) Shutdown() error {
	b.pool.New = nil
	for {
		c, ok := b.pool.Get().(*gosseract.Client)
		if !ok || c == nil {
			return nil
		}
		_ = c.Close()
	}
}

func (b *Backend) ProcessImage(ctx context.Context, image []byte, language string) (ocr.Output, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Output{}, err
	}
	c, ok := b.pool.Get().(*gosseract.Client)
	if !ok || c == nil {
		return ocr.Output{}, fmt.Errorf("tesseract backend not initialized")
	}
	defer b.pool.Put(c)

	if err := c.SetImageFromBytes(image); err != nil {
		return ocr.Output{}, fmt.Errorf("set image: %w", err)
	}
	langs := b.languages
	if language != "" {
		langs = strings.Split(language, "+")
	}
	if err := c.SetLanguage(langs...); err != nil {
		return ocr.Output{}, fmt.Errorf("set languages: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Output{}, fmt.Errorf("recognize text: %w", err)
	}
	return ocr.Output{
		Content:    strings.TrimSpace(text),
		Confidence: meanConfidence(c),
		Metadata:   map[string]string{"ocr_engine": "tesseract " + b.version},
	}, nil
}

func (b *Backend) ProcessFile(ctx context.Context, path string, language string) (ocr.Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ocr.Output{}, fmt.Errorf("read %s: %w", path, err)
	}
	return b.ProcessImage(ctx, data, language)
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, box := range boxes {
		sum += box.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
