package office

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/extractors/plaintext"
)

// LegacyExtractor converts .doc/.xls/.ppt to text with a headless
// LibreOffice.
type LegacyExtractor struct {
	binary  string
	timeout time.Duration
	maxSize int64
	path    string // resolved binary
}

func NewLegacy(binary string, timeout time.Duration, maxSize int64) *LegacyExtractor {
	if strings.TrimSpace(binary) == "" {
		binary = "soffice"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LegacyExtractor{binary: binary, timeout: timeout, maxSize: maxSize}
}

func (e *LegacyExtractor) Name() string       { return "legacy-office" }
func (e *LegacyExtractor) MaxFileSize() int64 { return e.maxSize }
func (e *LegacyExtractor) SupportedTypes() []string {
	return []string{"application/msword", "application/vnd.ms-excel", "application/vnd.ms-powerpoint"}
}

// Initialize locates the LibreOffice binary.
func (e *LegacyExtractor) Initialize() error {
	p, err := exec.LookPath(e.binary)
	if err != nil {
		return fmt.Errorf("%s not found on PATH: install LibreOffice to read legacy Office files", e.binary)
	}
	e.path = p
	return nil
}

func (e *LegacyExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if e.path == "" {
		return extract.Result{}, extract.MissingDependency(e.Name(), e.binary+" is not available")
	}
	localCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	src, cleanup, err := in.LocalFile()
	if err != nil {
		return extract.Result{}, err
	}
	defer cleanup()
	outDir, err := os.MkdirTemp("", "docintel-soffice-")
	if err != nil {
		return extract.Result{}, fmt.Errorf("mkdtemp: %w", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(localCtx, e.path, "--headless", "--convert-to", "txt:Text", "--outdir", outDir, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		if errors.Is(localCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return extract.Result{}, extract.Parsingf(e.Name(), "conversion timed out after %s", e.timeout)
		}
		return extract.Result{}, extract.Parsingf(e.Name(), "libreoffice conversion failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	txtPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".txt")
	b, err := os.ReadFile(txtPath)
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("read converted text: %w", err))
	}
	text, _ := plaintext.Decode(b)
	return extract.Result{
		Content:  strings.TrimSpace(text),
		Method:   "libreoffice",
		FileType: "legacy-office",
		MIMEType: in.MIMEType,
	}, nil
}
