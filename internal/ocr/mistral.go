package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

type mistralPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type mistralResponse struct {
	Pages     []mistralPage `json:"pages"`
	Model     string        `json:"model"`
	UsageInfo struct {
		PagesProcessed int  `json:"pages_processed"`
		DocSizeBytes   *int `json:"doc_size_bytes"`
	} `json:"usage_info"`
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const (
	defaultMistralEndpoint = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel    = "mistral-ocr-latest"
	maxMistralResponse     = 100 << 20
	maxMistralPageBytes    = 10 << 20
)

// MistralConfig configures the hosted OCR backend.
type MistralConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
	Limiter  *Limiter
	Client   *http.Client
}

// Mistral sends images to the Mistral OCR API as base64 data URIs.
type Mistral struct {
	cfg    MistralConfig
	client *http.Client
}

func NewMistral(cfg MistralConfig) *Mistral {
	if cfg.Model == "" {
		cfg.Model = defaultMistralModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultMistralEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Mistral{cfg: cfg, client: cfg.Client}
}

func (m *Mistral) Name() string    { return "mistral" }
func (m *Mistral) Version() string { return m.cfg.Model }

// SupportedLanguages is empty: the hosted model detects language itself.
func (m *Mistral) SupportedLanguages() []string { return nil }

func (m *Mistral) Idempotent() bool { return true }

// Priority sits below a local engine so tesseract wins when both are built in.
func (m *Mistral) Priority() int { return 40 }

func (m *Mistral) Initialize() error {
	if strings.TrimSpace(m.cfg.APIKey) == "" {
		return fmt.Errorf("MISTRAL_API_KEY not configured")
	}
	if m.client == nil {
		m.client = &http.Client{
			Timeout: m.cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return nil
}

func (m *Mistral) Shutdown() error {
	if m.client != nil {
		m.client.CloseIdleConnections()
	}
	return nil
}

func (m *Mistral) ProcessImage(ctx context.Context, image []byte, language string) (Output, error) {
	if len(image) == 0 {
		return Output{}, fmt.Errorf("empty image")
	}
	mt := mimetype.Detect(image).String()
	body := map[string]any{
		"model": m.cfg.Model,
		"document": map[string]any{
			"type":      "image_url",
			"image_url": dataURI(mt, image),
		},
	}
	return m.run(ctx, body)
}

func (m *Mistral) ProcessFile(ctx context.Context, path string, language string) (Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{}, fmt.Errorf("read %s: %w", path, err)
	}
	mt := mimetype.Detect(data).String()
	if !strings.HasPrefix(mt, "application/pdf") {
		return m.ProcessImage(ctx, data, language)
	}
	body := map[string]any{
		"model": m.cfg.Model,
		"document": map[string]any{
			"type":         "document_url",
			"document_url": dataURI("application/pdf", data),
		},
	}
	return m.run(ctx, body)
}

func (m *Mistral) run(ctx context.Context, body map[string]any) (Output, error) {
	if m.client == nil {
		if err := m.Initialize(); err != nil {
			return Output{}, err
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Output{}, fmt.Errorf("marshal: %w", err)
	}
	return m.cfg.Limiter.Do(ctx, func() (Output, error) {
		resp, err := m.execute(ctx, payload)
		if err != nil {
			return Output{}, err
		}
		return Output{
			Content: combinePages(resp.Pages),
			Metadata: map[string]string{
				"ocr_model":       resp.Model,
				"pages_processed": fmt.Sprint(resp.UsageInfo.PagesProcessed),
			},
		}, nil
	})
}

func (m *Mistral) execute(ctx context.Context, payload []byte) (mistralResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return mistralResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docintel/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return mistralResponse{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mistralResponse{}, parseErrorResponse(resp)
	}

	var out mistralResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMistralResponse)).Decode(&out); err != nil {
		return mistralResponse{}, fmt.Errorf("decode: %w", err)
	}
	if len(out.Pages) == 0 {
		return mistralResponse{}, fmt.Errorf("OCR returned no pages")
	}
	for i, page := range out.Pages {
		if page.Index < 0 {
			return mistralResponse{}, fmt.Errorf("invalid page index at %d: %d", i, page.Index)
		}
		if len(page.Markdown) > maxMistralPageBytes {
			return mistralResponse{}, fmt.Errorf("page %d markdown too large: %dMB", page.Index, len(page.Markdown)/(1<<20))
		}
	}
	return out, nil
}

func parseErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var er mistralErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: er.Error.Message, Type: er.Error.Type}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: string(raw), Type: "unknown"}
}

// APIError is a non-2xx answer from the OCR service.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mistral OCR %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// Permanent is true for client errors other than rate limiting.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

func combinePages(pages []mistralPage) string {
	var parts []string
	for _, p := range pages {
		md := strings.TrimSpace(p.Markdown)
		if md == "" || md == "." {
			continue
		}
		parts = append(parts, md)
	}
	return strings.Join(parts, "\n\n")
}

func dataURI(mimeType string, data []byte) string {
	if i := strings.Index(mimeType, ";"); i > 0 {
		mimeType = mimeType[:i]
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
