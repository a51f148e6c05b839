package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultVisionEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	defaultVisionModel    = "google/gemma-3-27b-it"
	maxVisionResponse     = 4 << 20
)

const transcriptionPrompt = `Transcribe all readable text in this image. Respond ONLY with the requested JSON.

"text": every word visible in the image, in reading order. Keep line breaks and use markdown tables for tabular data. Empty string when there is no text.
"contentType": "text" when text is the primary content, "visual" when text is absent or incidental, "mixed" otherwise.
"imageType": the single best label from: handwriting, document, screenshot, whiteboard, photo, diagram, chart, artwork, other.`

var transcriptionFormat = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "image_transcription",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
				"contentType": map[string]any{
					"type": "string",
					"enum": []string{"text", "visual", "mixed"},
				},
				"imageType": map[string]any{
					"type": "string",
					"enum": []string{"handwriting", "document", "screenshot", "whiteboard", "photo", "diagram", "chart", "artwork", "other"},
				},
			},
			"required":             []string{"text", "contentType", "imageType"},
			"additionalProperties": false,
		},
	},
}

type transcription struct {
	Text        string `json:"text"`
	ContentType string `json:"contentType"`
	ImageType   string `json:"imageType"`
}

// Only the fields we read; providers add more.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// VisionConfig configures the vision-model backend.
type VisionConfig struct {
	APIKey   string
	Model    string
	Endpoint string // OpenAI-compatible chat completions URL
	Timeout  time.Duration
	Limiter  *Limiter
	Client   *http.Client
}

// Vision transcribes images with a multimodal chat model. It suits photos,
// handwriting and whiteboards that a classic OCR engine reads poorly.
type Vision struct {
	cfg    VisionConfig
	client *http.Client
}

func NewVision(cfg VisionConfig) *Vision {
	if cfg.Model == "" {
		cfg.Model = defaultVisionModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultVisionEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Vision{cfg: cfg, client: cfg.Client}
}

func (v *Vision) Name() string                 { return "vision" }
func (v *Vision) Version() string              { return v.cfg.Model }
func (v *Vision) SupportedLanguages() []string { return nil }
func (v *Vision) Idempotent() bool             { return true }
func (v *Vision) Priority() int                { return 30 }

func (v *Vision) Initialize() error {
	if strings.TrimSpace(v.cfg.APIKey) == "" {
		return fmt.Errorf("OPENROUTER_API_KEY not configured")
	}
	if v.client == nil {
		v.client = &http.Client{
			Timeout: v.cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return nil
}

func (v *Vision) Shutdown() error {
	if v.client != nil {
		v.client.CloseIdleConnections()
	}
	return nil
}

func (v *Vision) ProcessFile(ctx context.Context, path string, language string) (Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{}, fmt.Errorf("read %s: %w", path, err)
	}
	return v.ProcessImage(ctx, data, language)
}

func (v *Vision) ProcessImage(ctx context.Context, image []byte, language string) (Output, error) {
	if len(image) == 0 {
		return Output{}, fmt.Errorf("empty image")
	}
	mt := mimetype.Detect(image).String()
	if !strings.HasPrefix(mt, "image/") {
		return Output{}, &VisionError{StatusCode: http.StatusUnsupportedMediaType, Code: "unsupported_input", Message: mt + " is not an image"}
	}
	if v.client == nil {
		if err := v.Initialize(); err != nil {
			return Output{}, err
		}
	}

	prompt := transcriptionPrompt
	if language != "" {
		prompt += "\n\nThe text is most likely in language " + language + "."
	}
	payload, err := json.Marshal(map[string]any{
		"model": v.cfg.Model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "image_url", "image_url": map[string]any{"url": dataURI(mt, image)}},
				{"type": "text", "text": prompt},
			},
		}},
		"response_format": transcriptionFormat,
		"temperature":     0.0,
	})
	if err != nil {
		return Output{}, fmt.Errorf("marshal: %w", err)
	}

	return v.cfg.Limiter.Do(ctx, func() (Output, error) {
		t, model, err := v.execute(ctx, payload)
		if err != nil {
			return Output{}, err
		}
		return Output{
			Content: t.Text,
			Metadata: map[string]string{
				"ocr_model":          model,
				"image.content_type": t.ContentType,
				"image.type":         t.ImageType,
			},
		}, nil
	})
}

func (v *Vision) execute(ctx context.Context, payload []byte) (transcription, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, v.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return transcription{}, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docintel/1.0")

	resp, err := v.client.Do(req)
	if err != nil {
		return transcription{}, "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxVisionResponse))
	if err != nil {
		return transcription{}, "", fmt.Errorf("read body: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(raw, &out)

	// Some providers answer 200 with an inline error object.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && out.Error != nil && out.Error.Message != "") {
		ve := &VisionError{StatusCode: resp.StatusCode, Code: "unknown", Message: truncateMsg(string(raw), 500)}
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			ve.Code = fmt.Sprint(out.Error.Code)
			ve.Message = out.Error.Message
		}
		return transcription{}, "", ve
	}
	if decodeErr != nil {
		return transcription{}, "", fmt.Errorf("decode response: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return transcription{}, "", fmt.Errorf("empty choices in response")
	}

	content := strings.TrimSpace(out.Choices[0].Message.Content)
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```json"), "```")
	var t transcription
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &t); err != nil {
		return transcription{}, "", fmt.Errorf("decode structured output: %w (raw: %.200s)", err, content)
	}
	if t.ContentType == "" {
		t.ContentType = "visual"
	}
	if t.ImageType == "" {
		t.ImageType = "other"
	}
	return t, out.Model, nil
}

// VisionError is a failed answer from the chat endpoint.
type VisionError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *VisionError) Error() string {
	return fmt.Sprintf("vision OCR %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Permanent is true for client errors other than rate limiting.
func (e *VisionError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

func truncateMsg(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
