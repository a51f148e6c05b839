// Package image handles raster image inputs. Text comes from the OCR
// stage; these extractors only describe the image and hand it over.
package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
)

var rasterTypes = []string{
	"image/png", "image/jpeg", "image/gif", "image/bmp", "image/tiff", "image/webp",
}

// OCRExtractor passes the image to the OCR stage, which replaces the empty
// content with the recognized text. It is only eligible when OCR is
// configured.
type OCRExtractor struct {
	maxBytes int64
}

func NewOCR(maxBytes int64) *OCRExtractor { return &OCRExtractor{maxBytes: maxBytes} }

func (e *OCRExtractor) Name() string               { return "image-ocr" }
func (e *OCRExtractor) MaxFileSize() int64         { return e.maxBytes }
func (e *OCRExtractor) SupportedTypes() []string   { return rasterTypes }
func (e *OCRExtractor) Priority() int              { return 60 }
func (e *OCRExtractor) RequiredFeatures() []string { return []string{config.FeatureOCR} }

func (e *OCRExtractor) Extract(_ context.Context, in extract.Input) (extract.Result, error) {
	res, format, err := describe(e.Name(), in)
	if err != nil {
		return extract.Result{}, err
	}
	res.Method = "ocr"
	res.Images = []extract.Image{{Format: format, Data: in.Data, ReplacesContent: true}}
	return res, nil
}

// MetadataExtractor reports dimensions and format without reading any
// text. It serves image requests made without OCR.
type MetadataExtractor struct {
	maxBytes int64
}

func NewMetadata(maxBytes int64) *MetadataExtractor { return &MetadataExtractor{maxBytes: maxBytes} }

func (e *MetadataExtractor) Name() string             { return "image-metadata" }
func (e *MetadataExtractor) MaxFileSize() int64       { return e.maxBytes }
func (e *MetadataExtractor) SupportedTypes() []string { return rasterTypes }
func (e *MetadataExtractor) Priority() int            { return 20 }

func (e *MetadataExtractor) Extract(_ context.Context, in extract.Input) (extract.Result, error) {
	res, _, err := describe(e.Name(), in)
	return res, err
}

// describe decodes only the image header.
func describe(plugin string, in extract.Input) (extract.Result, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		return extract.Result{}, "", extract.Parsing(plugin, fmt.Errorf("decode image header: %w", err))
	}
	res := extract.Result{FileType: "image", MIMEType: in.MIMEType}
	res.Metadata.Set("image.format", format)
	res.Metadata.Set("image.width", strconv.Itoa(cfg.Width))
	res.Metadata.Set("image.height", strconv.Itoa(cfg.Height))
	res.Metadata.Set("image.color_model", colorModelName(cfg))
	return res, format, nil
}

func colorModelName(cfg image.Config) string {
	if _, ok := cfg.ColorModel.(color.Palette); ok {
		return "paletted"
	}
	switch cfg.ColorModel {
	case color.RGBAModel, color.RGBA64Model:
		return "rgba"
	case color.NRGBAModel, color.NRGBA64Model:
		return "nrgba"
	case color.GrayModel, color.Gray16Model:
		return "gray"
	case color.YCbCrModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	}
	return "unknown"
}
