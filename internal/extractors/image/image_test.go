package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/toricodesthings/docintel/internal/extract"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.SetGray(x, h/2, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMetadataExtractor(t *testing.T) {
	data := pngBytes(t, 40, 30)
	res, err := NewMetadata(0).Extract(context.Background(), extract.Input{Data: data, MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Content != "" || len(res.Images) != 0 {
		t.Fatalf("metadata extractor produced content or images: %+v", res)
	}
	m := res.Metadata
	if m.Value("image.width") != "40" || m.Value("image.height") != "30" || m.Value("image.format") != "png" || m.Value("image.color_model") != "gray" {
		t.Fatalf("metadata = %v", m.Map())
	}
}

func TestOCRExtractorHandsImageOver(t *testing.T) {
	data := pngBytes(t, 8, 8)
	e := NewOCR(0)
	if len(e.RequiredFeatures()) != 1 || e.RequiredFeatures()[0] != "ocr" {
		t.Fatalf("required features = %v", e.RequiredFeatures())
	}
	res, err := e.Extract(context.Background(), extract.Input{Data: data, MIMEType: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 1 || !res.Images[0].ReplacesContent || !bytes.Equal(res.Images[0].Data, data) {
		t.Fatalf("images = %+v", res.Images)
	}
	if res.Method != "ocr" {
		t.Fatalf("method = %q", res.Method)
	}
}

func TestCorruptImage(t *testing.T) {
	_, err := NewMetadata(0).Extract(context.Background(), extract.Input{Data: []byte("\x89PNG garbage"), MIMEType: "image/png"})
	if !errors.Is(err, extract.ErrParsing) {
		t.Fatalf("err = %v, want ParsingError", err)
	}
}
