package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Feature names advertised by an ExtractionConfig. Plugins declare the
// features they need and are skipped when one is missing.
const (
	FeatureOCR               = "ocr"
	FeatureImages            = "images"
	FeatureChunking          = "chunking"
	FeatureTokenReduction    = "token_reduction"
	FeatureLanguageDetection = "language_detection"
	FeaturePostProcessing    = "post_processing"
)

// ExtractionConfig is the per-request configuration tree. A nil
// sub-configuration disables the corresponding feature.
type ExtractionConfig struct {
	UseCache bool          `yaml:"use_cache" json:"useCache"`
	ForceOCR bool          `yaml:"force_ocr" json:"forceOcr"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	OCR               *OCRConfig               `yaml:"ocr" json:"ocr,omitempty"`
	Images            *ImageConfig             `yaml:"images" json:"images,omitempty"`
	Chunking          *ChunkingConfig          `yaml:"chunking" json:"chunking,omitempty"`
	PDF               *PDFConfig               `yaml:"pdf" json:"pdf,omitempty"`
	TokenReduction    *TokenReductionConfig    `yaml:"token_reduction" json:"tokenReduction,omitempty"`
	LanguageDetection *LanguageDetectionConfig `yaml:"language_detection" json:"languageDetection,omitempty"`
	PostProcessors    *PostProcessorConfig     `yaml:"post_processors" json:"postProcessors,omitempty"`

	Quality QualityWeights `yaml:"quality" json:"quality"`
}

type OCRConfig struct {
	Backend           string `yaml:"backend" json:"backend,omitempty"`
	Language          string `yaml:"language" json:"language,omitempty"`
	TargetDPI         int    `yaml:"target_dpi" json:"targetDpi,omitempty" validate:"omitempty,min=36,max=1200"`
	MinDPI            int    `yaml:"min_dpi" json:"minDpi,omitempty" validate:"omitempty,min=1,max=1200"`
	MaxImageDimension int    `yaml:"max_image_dimension" json:"maxImageDimension,omitempty" validate:"omitempty,min=64"`
	MemoryBudgetBytes int64  `yaml:"memory_budget_bytes" json:"memoryBudgetBytes,omitempty" validate:"omitempty,min=1024"`
	AutoAdjustDPI     bool   `yaml:"auto_adjust_dpi" json:"autoAdjustDpi"`
	MaxRetries        int    `yaml:"max_retries" json:"maxRetries,omitempty" validate:"gte=0,lte=10"`
}

type ImageConfig struct {
	// OCR runs the OCR stage over images the extractor reports.
	OCR       bool `yaml:"ocr" json:"ocr"`
	MaxImages int  `yaml:"max_images" json:"maxImages,omitempty" validate:"gte=0"`
}

type ChunkingConfig struct {
	MaxChars int `yaml:"max_chars" json:"maxChars" validate:"required,min=16"`
	Overlap  int `yaml:"overlap" json:"overlap" validate:"gte=0"`
}

type PDFConfig struct {
	MinWordsThreshold int     `yaml:"min_words_threshold" json:"minWordsThreshold,omitempty" validate:"gte=0"`
	OCRTriggerRatio   float64 `yaml:"ocr_trigger_ratio" json:"ocrTriggerRatio,omitempty" validate:"gte=0,lte=1"`
	PageSeparator     string  `yaml:"page_separator" json:"pageSeparator,omitempty"`
	MaxPages          int     `yaml:"max_pages" json:"maxPages,omitempty" validate:"gte=0"`
}

type TokenReductionConfig struct {
	Mode             string `yaml:"mode" json:"mode" validate:"required,oneof=off light moderate aggressive"`
	PreserveMarkdown bool   `yaml:"preserve_markdown" json:"preserveMarkdown"`
}

type LanguageDetectionConfig struct {
	MinConfidence  float64 `yaml:"min_confidence" json:"minConfidence" validate:"gte=0,lte=1"`
	DetectMultiple bool    `yaml:"detect_multiple" json:"detectMultiple"`
}

type PostProcessorConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Only     []string `yaml:"only" json:"only,omitempty"`
	Disabled []string `yaml:"disabled" json:"disabled,omitempty"`
}

// QualityWeights tune how the quality score combines its signals.
type QualityWeights struct {
	EncodingAnomaly float64 `yaml:"encoding_anomaly" json:"encodingAnomaly" validate:"gte=0"`
	Gibberish       float64 `yaml:"gibberish" json:"gibberish" validate:"gte=0"`
	StructuralLoss  float64 `yaml:"structural_loss" json:"structuralLoss" validate:"gte=0"`
}

func DefaultQualityWeights() QualityWeights {
	return QualityWeights{EncodingAnomaly: 0.4, Gibberish: 0.4, StructuralLoss: 0.2}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field ranges and the cross-field rules struct tags cannot express.
func (c *ExtractionConfig) Validate() error {
	if c == nil {
		return nil
	}
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s", formatFieldError(verrs[0]))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Chunking != nil && c.Chunking.Overlap >= c.Chunking.MaxChars {
		return fmt.Errorf("invalid config: chunking overlap (%d) must be smaller than max_chars (%d)", c.Chunking.Overlap, c.Chunking.MaxChars)
	}
	if c.ForceOCR && c.OCR == nil {
		return fmt.Errorf("invalid config: force_ocr requires an ocr section")
	}
	if c.OCR != nil && c.OCR.MinDPI > 0 && c.OCR.TargetDPI > 0 && c.OCR.MinDPI > c.OCR.TargetDPI {
		return fmt.Errorf("invalid config: ocr min_dpi (%d) exceeds target_dpi (%d)", c.OCR.MinDPI, c.OCR.TargetDPI)
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Namespace())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", e.Namespace(), e.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", e.Namespace(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", e.Namespace(), e.Param())
	default:
		return fmt.Sprintf("%s failed validation '%s'", e.Namespace(), e.Tag())
	}
}

// Features lists the optional capabilities this configuration turns on.
func (c *ExtractionConfig) Features() []string {
	if c == nil {
		return nil
	}
	var out []string
	if c.OCR != nil {
		out = append(out, FeatureOCR)
	}
	if c.Images != nil {
		out = append(out, FeatureImages)
	}
	if c.Chunking != nil {
		out = append(out, FeatureChunking)
	}
	if c.TokenReduction != nil {
		out = append(out, FeatureTokenReduction)
	}
	if c.LanguageDetection != nil {
		out = append(out, FeatureLanguageDetection)
	}
	if c.PostProcessors != nil && c.PostProcessors.Enabled {
		out = append(out, FeaturePostProcessing)
	}
	return out
}

// CacheKey renders the fields that influence extraction output in a fixed
// order. UseCache and Timeout are deliberately absent.
func (c *ExtractionConfig) CacheKey() string {
	if c == nil {
		return "cfg:nil"
	}
	var b strings.Builder
	kv := func(k, v string) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte(';')
	}

	kv("force_ocr", strconv.FormatBool(c.ForceOCR))
	if o := c.OCR; o != nil {
		kv("ocr.backend", o.Backend)
		kv("ocr.language", o.Language)
		kv("ocr.target_dpi", strconv.Itoa(o.TargetDPI))
		kv("ocr.min_dpi", strconv.Itoa(o.MinDPI))
		kv("ocr.max_dim", strconv.Itoa(o.MaxImageDimension))
		kv("ocr.budget", strconv.FormatInt(o.MemoryBudgetBytes, 10))
		kv("ocr.auto", strconv.FormatBool(o.AutoAdjustDPI))
	} else {
		kv("ocr", "-")
	}
	if im := c.Images; im != nil {
		kv("images.ocr", strconv.FormatBool(im.OCR))
		kv("images.max", strconv.Itoa(im.MaxImages))
	} else {
		kv("images", "-")
	}
	if ch := c.Chunking; ch != nil {
		kv("chunking.max", strconv.Itoa(ch.MaxChars))
		kv("chunking.overlap", strconv.Itoa(ch.Overlap))
	} else {
		kv("chunking", "-")
	}
	if p := c.PDF; p != nil {
		kv("pdf.min_words", strconv.Itoa(p.MinWordsThreshold))
		kv("pdf.trigger", strconv.FormatFloat(p.OCRTriggerRatio, 'g', -1, 64))
		kv("pdf.sep", strconv.Quote(p.PageSeparator))
		kv("pdf.max_pages", strconv.Itoa(p.MaxPages))
	} else {
		kv("pdf", "-")
	}
	if t := c.TokenReduction; t != nil {
		kv("tokens.mode", t.Mode)
		kv("tokens.md", strconv.FormatBool(t.PreserveMarkdown))
	} else {
		kv("tokens", "-")
	}
	if l := c.LanguageDetection; l != nil {
		kv("lang.min", strconv.FormatFloat(l.MinConfidence, 'g', -1, 64))
		kv("lang.multi", strconv.FormatBool(l.DetectMultiple))
	} else {
		kv("lang", "-")
	}
	if pp := c.PostProcessors; pp != nil {
		only := append([]string(nil), pp.Only...)
		disabled := append([]string(nil), pp.Disabled...)
		sort.Strings(only)
		sort.Strings(disabled)
		kv("pp.enabled", strconv.FormatBool(pp.Enabled))
		kv("pp.only", strings.Join(only, ","))
		kv("pp.disabled", strings.Join(disabled, ","))
	} else {
		kv("pp", "-")
	}
	q := c.Quality
	kv("quality", fmt.Sprintf("%g/%g/%g", q.EncodingAnomaly, q.Gibberish, q.StructuralLoss))
	return b.String()
}

// Clone returns a deep copy so a request can own its snapshot.
func (c *ExtractionConfig) Clone() *ExtractionConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.OCR != nil {
		v := *c.OCR
		out.OCR = &v
	}
	if c.Images != nil {
		v := *c.Images
		out.Images = &v
	}
	if c.Chunking != nil {
		v := *c.Chunking
		out.Chunking = &v
	}
	if c.PDF != nil {
		v := *c.PDF
		out.PDF = &v
	}
	if c.TokenReduction != nil {
		v := *c.TokenReduction
		out.TokenReduction = &v
	}
	if c.LanguageDetection != nil {
		v := *c.LanguageDetection
		out.LanguageDetection = &v
	}
	if c.PostProcessors != nil {
		v := *c.PostProcessors
		v.Only = append([]string(nil), c.PostProcessors.Only...)
		v.Disabled = append([]string(nil), c.PostProcessors.Disabled...)
		out.PostProcessors = &v
	}
	return &out
}

// LoadExtractionFile reads a YAML extraction config on top of base.
func LoadExtractionFile(path string, base *ExtractionConfig) (*ExtractionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := base.Clone()
	if cfg == nil {
		cfg = &ExtractionConfig{Quality: DefaultQualityWeights()}
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
