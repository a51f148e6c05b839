package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"strconv"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
)

const (
	DefaultNativeDPI    = 72
	DefaultTargetDPI    = 300
	DefaultMinDPI       = 72
	DefaultMaxDimension = 4096
	DefaultMemoryBudget = 256 << 20

	bytesPerPixel = 4 // RGBA working buffer
	dpiStep       = 0.9
)

// Resampling methods recorded in metadata.
const (
	ResampleNone       = "none"
	ResampleLanczos3   = "lanczos3"
	ResampleCatmullRom = "catmull-rom"
)

// lanczos3 is the windowed sinc kernel with a support of three lobes.
var lanczos3 = &draw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		if t == 0 {
			return 1
		}
		if t >= 3 {
			return 0
		}
		pt := math.Pi * t
		return 3 * math.Sin(pt) * math.Sin(pt/3) / (pt * pt)
	},
}

// PreprocessConfig controls how an image is scaled before OCR.
type PreprocessConfig struct {
	TargetDPI         int
	MinDPI            int
	MaxImageDimension int   // 0 disables the dimension cap
	MemoryBudgetBytes int64 // 0 disables the memory cap
	AutoAdjustDPI     bool
}

// PreprocessConfigFrom fills unset fields of c with defaults.
func PreprocessConfigFrom(c *config.OCRConfig) PreprocessConfig {
	pc := PreprocessConfig{
		TargetDPI:         DefaultTargetDPI,
		MinDPI:            DefaultMinDPI,
		MaxImageDimension: DefaultMaxDimension,
		MemoryBudgetBytes: DefaultMemoryBudget,
		AutoAdjustDPI:     true,
	}
	if c == nil {
		return pc
	}
	if c.TargetDPI > 0 {
		pc.TargetDPI = c.TargetDPI
	}
	if c.MinDPI > 0 {
		pc.MinDPI = c.MinDPI
	}
	if c.MaxImageDimension > 0 {
		pc.MaxImageDimension = c.MaxImageDimension
	}
	if c.MemoryBudgetBytes > 0 {
		pc.MemoryBudgetBytes = c.MemoryBudgetBytes
	}
	pc.AutoAdjustDPI = c.AutoAdjustDPI
	return pc
}

// Plan records every scaling decision made for one image.
type Plan struct {
	OriginalWidth    int
	OriginalHeight   int
	OriginalDPI      float64
	TargetDPI        int
	FinalDPI         int
	ScaleFactor      float64
	Width            int
	Height           int
	ProjectedBytes   int64
	AutoAdjusted     bool
	DimensionClamped bool
	Resample         string
}

// PlanResize decides the output size for a w×h image scanned at nativeDPI
// (0 when unknown). The result always fits the configured caps.
func PlanResize(w, h int, nativeDPI float64, cfg PreprocessConfig) Plan {
	if nativeDPI <= 0 {
		nativeDPI = DefaultNativeDPI
	}
	target := cfg.TargetDPI
	if target <= 0 {
		target = DefaultTargetDPI
	}
	minDPI := float64(cfg.MinDPI)
	if minDPI <= 0 || minDPI > float64(target) {
		minDPI = math.Min(DefaultMinDPI, float64(target))
	}

	p := Plan{OriginalWidth: w, OriginalHeight: h, OriginalDPI: nativeDPI, TargetDPI: target}

	fits := func(dpi float64) (int, int, int64, bool) {
		s := dpi / nativeDPI
		nw, nh := scaleDim(w, s), scaleDim(h, s)
		mem := int64(nw) * int64(nh) * bytesPerPixel
		ok := (cfg.MaxImageDimension <= 0 || max(nw, nh) <= cfg.MaxImageDimension) &&
			(cfg.MemoryBudgetBytes <= 0 || mem <= cfg.MemoryBudgetBytes)
		return nw, nh, mem, ok
	}

	dpi := float64(target)
	nw, nh, mem, ok := fits(dpi)
	if !ok && cfg.AutoAdjustDPI {
		p.AutoAdjusted = true
		for !ok && dpi > minDPI {
			dpi = math.Max(math.Floor(dpi*dpiStep), minDPI)
			nw, nh, mem, ok = fits(dpi)
		}
	}

	scale := dpi / nativeDPI
	if !ok {
		if cfg.MaxImageDimension > 0 {
			scale = math.Min(scale, float64(cfg.MaxImageDimension)/float64(max(w, h)))
		}
		if cfg.MemoryBudgetBytes > 0 {
			scale = math.Min(scale, math.Sqrt(float64(cfg.MemoryBudgetBytes)/(float64(w)*float64(h)*bytesPerPixel)))
		}
		nw, nh = floorDim(w, scale), floorDim(h, scale)
		mem = int64(nw) * int64(nh) * bytesPerPixel
		dpi = nativeDPI * scale
		p.DimensionClamped = true
	}

	p.FinalDPI = int(math.Round(dpi))
	p.ScaleFactor = scale
	p.Width, p.Height = nw, nh
	p.ProjectedBytes = mem
	switch {
	case nw == w && nh == h:
		p.Resample = ResampleNone
	case nw*nh < w*h:
		p.Resample = ResampleLanczos3
	default:
		p.Resample = ResampleCatmullRom
	}
	return p
}

func scaleDim(n int, s float64) int {
	return max(1, int(math.Round(float64(n)*s)))
}

func floorDim(n int, s float64) int {
	return max(1, int(math.Floor(float64(n)*s)))
}

// Annotate writes the plan into m under prefix.
func (p Plan) Annotate(m *extract.Metadata, prefix string) {
	m.Set(prefix+"original_dpi", strconv.FormatFloat(p.OriginalDPI, 'f', -1, 64))
	m.Set(prefix+"target_dpi", strconv.Itoa(p.TargetDPI))
	m.Set(prefix+"final_dpi", strconv.Itoa(p.FinalDPI))
	m.Set(prefix+"scale_factor", strconv.FormatFloat(p.ScaleFactor, 'f', 4, 64))
	m.Set(prefix+"auto_adjusted", strconv.FormatBool(p.AutoAdjusted))
	m.Set(prefix+"resample", p.Resample)
	m.Set(prefix+"dimension_clamped", strconv.FormatBool(p.DimensionClamped))
	m.Set(prefix+"original_size", fmt.Sprintf("%dx%d", p.OriginalWidth, p.OriginalHeight))
	m.Set(prefix+"final_size", fmt.Sprintf("%dx%d", p.Width, p.Height))
}

// Preprocess scales an encoded image according to cfg. knownDPI overrides
// the density stored in the file when positive. Images that need no
// resampling are returned unchanged; others are re-encoded as PNG.
func Preprocess(data []byte, knownDPI int, cfg PreprocessConfig) ([]byte, Plan, error) {
	ic, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, Plan{}, fmt.Errorf("decode image header: %w", err)
	}
	if ic.Width <= 0 || ic.Height <= 0 {
		return nil, Plan{}, fmt.Errorf("image has no pixels")
	}

	native := float64(knownDPI)
	if native <= 0 {
		native = DetectDPI(data)
	}
	plan := PlanResize(ic.Width, ic.Height, native, cfg)
	if plan.Resample == ResampleNone {
		return data, plan, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, plan, fmt.Errorf("decode image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, plan.Width, plan.Height))
	kernel := draw.CatmullRom
	if plan.Resample == ResampleLanczos3 {
		kernel = lanczos3
	}
	kernel.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, plan, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), plan, nil
}
