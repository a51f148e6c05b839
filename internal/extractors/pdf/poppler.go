package pdf

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Timeouts bounds each poppler invocation.
type Timeouts struct {
	Info   time.Duration
	Text   time.Duration
	Render time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	out := t
	if out.Info <= 0 {
		out.Info = 5 * time.Second
	}
	if out.Text <= 0 {
		out.Text = 10 * time.Second
	}
	if out.Render <= 0 {
		out.Render = 30 * time.Second
	}
	return out
}

var (
	errPasswordProtected = errors.New("PDF is password protected")
	errDamaged           = errors.New("PDF is damaged or invalid")
)

// Info is what pdfinfo reports about a document.
type Info struct {
	Pages     int
	Encrypted bool
	Fields    map[string]string // Title, Author, Producer, ...
}

var (
	pageCountRegex = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)
	encryptedRegex = regexp.MustCompile(`(?mi)^Encrypted:\s+yes`)
)

const (
	maxPageTextBytes = 10 << 20
	maxRenderBytes   = 200 << 20
	maxInfoBytes     = 1 << 20
)

// poppler runs the poppler-utils binaries.
type poppler struct {
	pdfinfo, pdftotext, pdftoppm string
	timeouts                     Timeouts
	log                          *slog.Logger
}

// lookup resolves every binary on PATH.
func (p *poppler) lookup() error {
	for _, bin := range []*string{&p.pdfinfo, &p.pdftotext, &p.pdftoppm} {
		path, err := exec.LookPath(*bin)
		if err != nil {
			return fmt.Errorf("%s not found on PATH: install poppler-utils to read PDF files", *bin)
		}
		*bin = path
	}
	return nil
}

// Info runs pdfinfo once.
func (p *poppler) Info(ctx context.Context, path string) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Info)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.pdfinfo, "-enc", "UTF-8", path)
	out, stderr, err := runCommandCaptureLimited(cmd, maxInfoBytes)
	if err != nil {
		return Info{}, p.classify("pdfinfo", err, ctx, stderr, 0)
	}
	pages, err := parsePages(out)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Pages:     pages,
		Encrypted: encryptedRegex.MatchString(out),
		Fields:    parseInfoFields(out),
	}, nil
}

// PageText extracts one page's text layer with pdftotext.
func (p *poppler) PageText(ctx context.Context, path string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("invalid page number: %d (must be >= 1)", page)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Text)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.pdftotext,
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-layout",
		"-nopgbrk",
		"-enc", "UTF-8",
		path,
		"-",
	)
	text, stderr, err := runCommandCaptureLimited(cmd, maxPageTextBytes+1)
	if err != nil {
		return "", p.classify("pdftotext", err, ctx, stderr, page)
	}
	return text, nil
}

// RenderPage rasterizes one page to PNG at dpi.
func (p *poppler) RenderPage(ctx context.Context, path string, page, dpi int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Render)
	defer cancel()

	dir, err := os.MkdirTemp("", "docintel-render-")
	if err != nil {
		return nil, fmt.Errorf("mkdtemp: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, p.pdftoppm,
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-r", strconv.Itoa(dpi),
		"-png",
		"-singlefile",
		path,
		prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, p.classify("pdftoppm", err, ctx, stderr.String(), page)
	}

	f, err := os.Open(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w", page, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxRenderBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read render: %w", err)
	}
	if len(data) > maxRenderBytes {
		return nil, fmt.Errorf("page %d render exceeds %d bytes", page, maxRenderBytes)
	}
	return data, nil
}

// --- internals ---

func parsePages(pdfinfoOut string) (int, error) {
	if m := pageCountRegex.FindStringSubmatch(pdfinfoOut); len(m) == 2 {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("pdfinfo: invalid page count: %w", err)
		}
		return validatePages(n)
	}

	// Some builds pad or re-case the field.
	sc := bufio.NewScanner(strings.NewReader(pdfinfoOut))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(strings.ToLower(line), "pages:") {
			continue
		}
		fields := strings.Fields(line[len("pages:"):])
		if len(fields) == 0 {
			break
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, fmt.Errorf("pdfinfo: invalid page count: %w", err)
		}
		return validatePages(n)
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("pdfinfo: scan failed: %w", err)
	}
	return 0, fmt.Errorf("pdfinfo: pages field not found in output")
}

func validatePages(count int) (int, error) {
	if count <= 0 || count > 50000 {
		return 0, fmt.Errorf("pdfinfo: unreasonable page count: %d", count)
	}
	return count, nil
}

// parseInfoFields reads the "Key:   value" lines of pdfinfo output.
func parseInfoFields(out string) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if _, seen := fields[k]; !seen {
			fields[k] = v
		}
	}
	return fields
}

// runCommandCaptureLimited runs cmd and captures stdout up to maxBytes. A
// full buffer is reported as an error so callers never see truncated text.
func runCommandCaptureLimited(cmd *exec.Cmd, maxBytes int64) (string, string, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start: %w", err)
	}

	out, readErr := io.ReadAll(io.LimitReader(stdoutPipe, maxBytes))
	if readErr != nil || int64(len(out)) >= maxBytes {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	stderrStr := strings.TrimSpace(stderr.String())

	switch {
	case readErr != nil:
		return "", stderrStr, fmt.Errorf("read stdout: %w", readErr)
	case int64(len(out)) >= maxBytes:
		return "", stderrStr, errOutputLimit
	case waitErr != nil:
		return "", stderrStr, waitErr
	}
	return string(out), stderrStr, nil
}

var errOutputLimit = errors.New("output exceeds limit")

// isHelpOrUsageOutput reports whether stderr is a usage dump rather than a
// processing error.
func isHelpOrUsageOutput(stderr string) bool {
	return strings.Contains(stderr, "version ") && strings.Contains(stderr, "Usage:")
}

// classify maps poppler failures onto the errors the extractor reports.
// Deadline errors keep context.DeadlineExceeded in the chain.
func (p *poppler) classify(tool string, err error, ctx context.Context, stderr string, page int) error {
	where := tool
	if page > 0 {
		where = fmt.Sprintf("%s page %d", tool, page)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out: %w", where, ctx.Err())
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s canceled: %w", where, ctx.Err())
	}
	if errors.Is(err, errOutputLimit) {
		return fmt.Errorf("%s: extracted output too large", where)
	}

	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("%s failed: %w", where, err)
	}
	p.logStderr(tool, stderr, page)

	switch {
	case isHelpOrUsageOutput(stderr):
		return fmt.Errorf("%s failed (bad invocation)", where)
	case containsAny(stderr, "Incorrect password"):
		return errPasswordProtected
	case containsAny(stderr, "PDF file is damaged", "Syntax Error", "Couldn't find trailer dictionary", "May not be a PDF file"):
		return errDamaged
	case strings.Contains(stderr, "I/O Error") && strings.Contains(stderr, "Couldn't open file"):
		return fmt.Errorf("%s: unable to open PDF", where)
	}
	return fmt.Errorf("%s failed: %s", where, truncate(stderr, 200))
}

func (p *poppler) logStderr(tool, stderr string, page int) {
	if p.log == nil {
		return
	}
	args := []any{"tool", tool, "stderr", truncate(stderr, 500)}
	if page > 0 {
		args = append(args, "page", page)
	}
	p.log.Debug("poppler error", args...)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
