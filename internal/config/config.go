package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port string

	// Secrets
	InternalSharedSecret string
	MistralAPIKey        string

	// Limits
	MaxJSONBodyBytes int64
	MaxUploadBytes   int64
	MaxPDFBytes      int64
	MaxFileBytes     int64
	MaxCodeFileBytes int64
	MaxImageBytes    int64
	MaxBatchItems    int

	// Concurrency
	MaxConcurrentRequests int64
	MaxOCRConcurrent      int64
	MaxPageWorkers        int // per-document page extraction workers cap
	BatchWorkers          int

	// Server timeouts
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Request timeouts
	ExtractTimeout time.Duration

	// Download
	DownloadTimeout          time.Duration
	AllowedDownloadHosts     []string // host suffixes; empty allows any public host
	AllowPrivateDownloadURLs bool

	// Poppler timeouts
	PDFInfoTimeout   time.Duration
	PDFToTextTimeout time.Duration
	PDFToPPMTimeout  time.Duration

	// rate limiting (per IP)
	RateLimitEvery time.Duration
	RateLimitBurst int

	// housekeeping
	CleanupInterval time.Duration

	// health
	HealthDegradeRatio float64

	// http
	MaxHeaderBytes int

	// Cache
	CacheEnabled      bool
	CacheDir          string
	CacheMaxAge       time.Duration
	CacheMaxBytes     int64
	CacheMinFreeBytes int64
	CacheSweepEvery   time.Duration

	// OCR defaults (used when request options omit values)
	DefaultOCRBackend     string
	DefaultOCRLanguage    string
	DefaultOCRModel       string
	DefaultTargetDPI      int
	DefaultMaxImageDim    int
	DefaultOCRMemBudget   int64
	OCRRequestsPerSecond  float64
	OCRMaxRetries         int
	MistralOCREndpoint    string
	MistralRequestTimeout time.Duration
	TesseractLanguages    []string

	// Vision-model OCR over an OpenAI-compatible chat endpoint
	OpenRouterAPIKey  string
	VisionOCRModel    string
	VisionOCREndpoint string
	VisionOCRTimeout  time.Duration

	// PDF text-layer defaults
	DefaultMinWordsThreshold int
	DefaultOCRTriggerRatio   float64
	DefaultPageSeparator     string

	// Conversion binaries
	LibreOfficeTimeout time.Duration
	LibreOfficeBinary  string

	// Built-in validators; zero or empty leaves them unregistered
	MinContentChars  int
	MinContentWords  int
	ResultSchemaPath string

	// Logging
	LogLevel string
	LogJSON  bool
}

func Load() Config {
	return Config{
		Port: envStr("PORT", "8080"),

		InternalSharedSecret: envStr("INTERNAL_SHARED_SECRET", ""),
		MistralAPIKey:        envStr("MISTRAL_API_KEY", ""),

		MaxJSONBodyBytes: int64(envInt("MAX_JSON_BODY_BYTES", 2<<20)),
		MaxUploadBytes:   int64(envInt("MAX_UPLOAD_BYTES", int(200<<20))),
		MaxPDFBytes:      int64(envInt("MAX_PDF_BYTES", int(200<<20))),
		MaxFileBytes:     int64(envInt("MAX_FILE_BYTES", int(500<<20))),
		MaxCodeFileBytes: int64(envInt("MAX_CODE_FILE_BYTES", int(10<<20))),
		MaxImageBytes:    int64(envInt("MAX_IMAGE_BYTES", int(40<<20))),
		MaxBatchItems:    envInt("MAX_BATCH_ITEMS", 64),

		MaxConcurrentRequests: int64(envInt("MAX_CONCURRENT_REQUESTS", 15)),
		MaxOCRConcurrent:      int64(envInt("MAX_OCR_CONCURRENT", 3)),
		MaxPageWorkers:        envInt("MAX_PAGE_WORKERS", 8),
		BatchWorkers:          envInt("BATCH_WORKERS", 4),

		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       envDur("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),

		ExtractTimeout: envDur("EXTRACT_TIMEOUT", 300*time.Second),

		DownloadTimeout:          envDur("DOWNLOAD_TIMEOUT", 25*time.Second),
		AllowedDownloadHosts:     envList("ALLOWED_DOWNLOAD_HOSTS", ""),
		AllowPrivateDownloadURLs: envBool("ALLOW_PRIVATE_DOWNLOAD_URLS", false),

		PDFInfoTimeout:   envDur("PDFINFO_TIMEOUT", 5*time.Second),
		PDFToTextTimeout: envDur("PDFTOTEXT_TIMEOUT", 10*time.Second),
		PDFToPPMTimeout:  envDur("PDFTOPPM_TIMEOUT", 30*time.Second),

		RateLimitEvery: envDur("RATE_LIMIT_EVERY", 600*time.Millisecond),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),

		CleanupInterval: envDur("CLEANUP_INTERVAL", 5*time.Minute),

		HealthDegradeRatio: envFloat("HEALTH_DEGRADE_RATIO", 0.9),

		MaxHeaderBytes: envInt("MAX_HEADER_BYTES", 1<<20),

		CacheEnabled:      envBool("CACHE_ENABLED", true),
		CacheDir:          envStr("CACHE_DIR", defaultCacheDir()),
		CacheMaxAge:       envDur("CACHE_MAX_AGE", 30*24*time.Hour),
		CacheMaxBytes:     int64(envInt("CACHE_MAX_BYTES", int(500<<20))),
		CacheMinFreeBytes: int64(envInt("CACHE_MIN_FREE_BYTES", int(1<<30))),
		CacheSweepEvery:   envDur("CACHE_SWEEP_EVERY", 10*time.Minute),

		DefaultOCRBackend:     envStr("DEFAULT_OCR_BACKEND", ""),
		DefaultOCRLanguage:    envStr("DEFAULT_OCR_LANGUAGE", "eng"),
		DefaultOCRModel:       envStr("DEFAULT_OCR_MODEL", "mistral-ocr-latest"),
		DefaultTargetDPI:      envInt("DEFAULT_TARGET_DPI", 300),
		DefaultMaxImageDim:    envInt("DEFAULT_MAX_IMAGE_DIMENSION", 4096),
		DefaultOCRMemBudget:   int64(envInt("DEFAULT_OCR_MEMORY_BUDGET", int(256<<20))),
		OCRRequestsPerSecond:  envFloat("OCR_REQUESTS_PER_SECOND", 4),
		OCRMaxRetries:         envInt("OCR_MAX_RETRIES", 2),
		MistralOCREndpoint:    envStr("MISTRAL_OCR_ENDPOINT", "https://api.mistral.ai/v1/ocr"),
		MistralRequestTimeout: envDur("MISTRAL_REQUEST_TIMEOUT", 120*time.Second),
		TesseractLanguages:    envList("TESSERACT_LANGUAGES", "eng"),

		OpenRouterAPIKey:  envStr("OPENROUTER_API_KEY", ""),
		VisionOCRModel:    envStr("VISION_OCR_MODEL", "google/gemma-3-27b-it"),
		VisionOCREndpoint: envStr("VISION_OCR_ENDPOINT", "https://openrouter.ai/api/v1/chat/completions"),
		VisionOCRTimeout:  envDur("VISION_OCR_TIMEOUT", 60*time.Second),

		DefaultMinWordsThreshold: envInt("DEFAULT_MIN_WORDS", 20),
		DefaultOCRTriggerRatio:   envFloat("DEFAULT_OCR_TRIGGER_RATIO", 0.25),
		DefaultPageSeparator:     envStr("DEFAULT_PAGE_SEPARATOR", "\n\n---\n\n"),

		LibreOfficeTimeout: envDur("LIBREOFFICE_TIMEOUT", 60*time.Second),
		LibreOfficeBinary:  envStr("LIBREOFFICE_BINARY", "soffice"),

		MinContentChars:  envInt("MIN_CONTENT_CHARS", 0),
		MinContentWords:  envInt("MIN_CONTENT_WORDS", 0),
		ResultSchemaPath: envStr("RESULT_SCHEMA_PATH", ""),

		LogLevel: envStr("LOG_LEVEL", "info"),
		LogJSON:  envBool("LOG_JSON", false),
	}
}

func (c Config) Validate() error {
	if len(strings.TrimSpace(c.InternalSharedSecret)) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	if c.CacheEnabled && strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("CACHE_DIR must be set when the cache is enabled")
	}
	return nil
}

// DefaultExtraction builds the extraction tree used when a caller supplies
// none. Registered post-processors run; OCR, chunking and the other
// optional stages stay disabled.
func (c Config) DefaultExtraction() *ExtractionConfig {
	return &ExtractionConfig{
		UseCache:       c.CacheEnabled,
		Timeout:        c.ExtractTimeout,
		PostProcessors: &PostProcessorConfig{Enabled: true},
		PDF: &PDFConfig{
			MinWordsThreshold: c.DefaultMinWordsThreshold,
			OCRTriggerRatio:   c.DefaultOCRTriggerRatio,
			PageSeparator:     c.DefaultPageSeparator,
		},
		Quality: DefaultQualityWeights(),
	}
}

// DefaultOCR returns an OCR sub-configuration seeded from the environment.
func (c Config) DefaultOCR() *OCRConfig {
	return &OCRConfig{
		Backend:           c.DefaultOCRBackend,
		Language:          c.DefaultOCRLanguage,
		TargetDPI:         c.DefaultTargetDPI,
		MaxImageDimension: c.DefaultMaxImageDim,
		MemoryBudgetBytes: c.DefaultOCRMemBudget,
		AutoAdjustDPI:     true,
		MinDPI:            72,
		MaxRetries:        c.OCRMaxRetries,
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "docintel", "extraction")
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key, fallback string) []string {
	var out []string
	for _, item := range strings.Split(envStr(key, fallback), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
