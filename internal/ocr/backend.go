package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/toricodesthings/docintel/internal/extract"
)

// Backend recognizes text in images.
type Backend interface {
	Name() string
	Version() string
	SupportedLanguages() []string
	ProcessImage(ctx context.Context, image []byte, language string) (Output, error)
	ProcessFile(ctx context.Context, path string, language string) (Output, error)
}

// Idempotent backends may be retried after a failure.
type Idempotent interface {
	Idempotent() bool
}

// Output is what a backend returns for one image or file.
type Output struct {
	Content    string
	Confidence float64 // 0 when the backend does not report one
	Tables     []extract.Table
	Metadata   map[string]string
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError interface {
	Permanent() bool
}

var retryDelay = 2 * time.Second

// Recognize runs b over image, retrying up to maxRetries times when the
// backend reports itself idempotent and the error is not permanent. The
// delay grows linearly with the attempt number.
func Recognize(ctx context.Context, b Backend, image []byte, language string, maxRetries int) (Output, error) {
	retries := 0
	if id, ok := b.(Idempotent); ok && id.Idempotent() {
		retries = maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Output{}, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		out, err := b.ProcessImage(ctx, image, language)
		if err == nil {
			out.Content = CleanText(out.Content)
			return out, nil
		}
		lastErr = err

		if isPermanent(err) || ctx.Err() != nil {
			break
		}
	}
	if retries > 0 {
		return Output{}, fmt.Errorf("%s failed after %d attempts: %w", b.Name(), retries+1, lastErr)
	}
	return Output{}, lastErr
}

func isPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p) && p.Permanent()
}

// Supports reports whether b lists language, or lists nothing at all.
func Supports(b Backend, language string) bool {
	langs := b.SupportedLanguages()
	if len(langs) == 0 || language == "" {
		return true
	}
	for _, l := range langs {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}
