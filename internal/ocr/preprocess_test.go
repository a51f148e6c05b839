package ocr

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/toricodesthings/docintel/internal/extract"
)

func TestPlanAutoAdjustsLargeImageUnderBudget(t *testing.T) {
	// 20 MP scan with no stored density.
	cfg := PreprocessConfig{
		TargetDPI:         300,
		MinDPI:            72,
		MaxImageDimension: 20000,
		MemoryBudgetBytes: 256 << 20,
		AutoAdjustDPI:     true,
	}
	p := PlanResize(5472, 3648, 0, cfg)

	if !p.AutoAdjusted {
		t.Fatalf("expected auto-adjust to kick in: %+v", p)
	}
	if p.FinalDPI >= 300 {
		t.Fatalf("expected final DPI below 300, got %d", p.FinalDPI)
	}
	if p.ProjectedBytes > cfg.MemoryBudgetBytes {
		t.Fatalf("projected %d bytes exceeds budget %d", p.ProjectedBytes, cfg.MemoryBudgetBytes)
	}
	if p.TargetDPI != 300 || p.OriginalDPI != DefaultNativeDPI {
		t.Fatalf("unexpected recorded dpis: %+v", p)
	}
}

func TestPlanClampsWhenMinimumDPIStillTooLarge(t *testing.T) {
	cfg := PreprocessConfig{TargetDPI: 300, MinDPI: 200, MemoryBudgetBytes: 8 << 20, AutoAdjustDPI: true}
	p := PlanResize(6000, 4000, 72, cfg)

	if !p.DimensionClamped {
		t.Fatalf("expected clamping: %+v", p)
	}
	if p.ProjectedBytes > cfg.MemoryBudgetBytes {
		t.Fatalf("projected %d exceeds budget", p.ProjectedBytes)
	}
	if p.Resample != ResampleLanczos3 {
		t.Fatalf("expected downsampling kernel, got %s", p.Resample)
	}
}

func TestPlanWithoutAutoAdjustClampsDimensions(t *testing.T) {
	cfg := PreprocessConfig{TargetDPI: 300, MaxImageDimension: 4096}
	p := PlanResize(3000, 2000, 72, cfg)

	if p.AutoAdjusted {
		t.Fatalf("auto-adjust disabled but reported: %+v", p)
	}
	if !p.DimensionClamped || max(p.Width, p.Height) > 4096 {
		t.Fatalf("expected clamp to 4096, got %dx%d", p.Width, p.Height)
	}
}

func TestPlanResampleMethodFollowsDirection(t *testing.T) {
	cfg := PreprocessConfig{TargetDPI: 300, MaxImageDimension: 100000, MemoryBudgetBytes: 1 << 40}

	up := PlanResize(100, 100, 150, cfg)
	if up.Resample != ResampleCatmullRom || up.Width != 200 {
		t.Fatalf("expected catmull-rom upsample to 200px, got %+v", up)
	}
	down := PlanResize(1000, 1000, 600, cfg)
	if down.Resample != ResampleLanczos3 || down.Width != 500 {
		t.Fatalf("expected lanczos downsample to 500px, got %+v", down)
	}
	same := PlanResize(640, 480, 300, cfg)
	if same.Resample != ResampleNone || same.ScaleFactor != 1 {
		t.Fatalf("expected no resampling, got %+v", same)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	cfg := PreprocessConfig{TargetDPI: 300, MinDPI: 72, MaxImageDimension: 4096, MemoryBudgetBytes: 64 << 20, AutoAdjustDPI: true}
	a := PlanResize(4000, 3000, 0, cfg)
	for i := 0; i < 5; i++ {
		if b := PlanResize(4000, 3000, 0, cfg); b != a {
			t.Fatalf("plan differs between runs: %+v vs %+v", a, b)
		}
	}
}

func TestPreprocessResamplesAndAnnotates(t *testing.T) {
	src := testPNG(t, 40, 20, 150)
	out, plan, err := Preprocess(src, 0, PreprocessConfig{TargetDPI: 300, MaxImageDimension: 4096, MemoryBudgetBytes: 1 << 30})
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if plan.OriginalDPI < 149 || plan.OriginalDPI > 151 {
		t.Fatalf("expected stored density ~150, got %v", plan.OriginalDPI)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 40 {
		t.Fatalf("expected 80x40, got %dx%d", b.Dx(), b.Dy())
	}

	var md extract.Metadata
	plan.Annotate(&md, "ocr.")
	if md.Value("ocr.resample") != ResampleCatmullRom || md.Value("ocr.final_size") != "80x40" {
		t.Fatalf("unexpected annotations %v", md.Map())
	}
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	if _, _, err := Preprocess([]byte("not an image"), 0, PreprocessConfig{}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDetectDPIReadsJFIFDensity(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x01, 0x01, 0x2C, 0x01, 0x2C, 0x00, 0x00, 0xFF, 0xDA}
	if got := DetectDPI(jpeg); got != 300 {
		t.Fatalf("expected 300 dpi, got %v", got)
	}
	if got := DetectDPI([]byte("plain text")); got != 0 {
		t.Fatalf("expected 0 for unknown data, got %v", got)
	}
}

// testPNG encodes a w×h gradient and inserts a pHYs chunk for dpi.
func testPNG(t *testing.T, w, h, dpi int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 6), uint8(y * 12), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	ppm := uint32(float64(dpi)/0.0254 + 0.5)
	data := make([]byte, 9)
	binary.BigEndian.PutUint32(data[0:4], ppm)
	binary.BigEndian.PutUint32(data[4:8], ppm)
	data[8] = 1

	var chunk bytes.Buffer
	_ = binary.Write(&chunk, binary.BigEndian, uint32(len(data)))
	chunk.WriteString("pHYs")
	chunk.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte("pHYs"))
	crc.Write(data)
	_ = binary.Write(&chunk, binary.BigEndian, crc.Sum32())

	// signature (8) + IHDR chunk (4+4+13+4)
	const ihdrEnd = 8 + 25
	out := append([]byte{}, raw[:ihdrEnd]...)
	out = append(out, chunk.Bytes()...)
	return append(out, raw[ihdrEnd:]...)
}
