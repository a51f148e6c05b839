package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/pipeline"
)

func (c *cli) extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract one document",
		Long: `Extract text, tables and metadata from a single document.

The document type is taken from --mime when given, otherwise from the
file extension and content. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: c.runExtract,
	}
	addExtractionFlags(cmd)
	cmd.Flags().String("mime", "", "MIME type hint")
	cmd.Flags().StringP("format", "f", "json", "output format: json, text")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	return cmd
}

func (c *cli) runExtract(cmd *cobra.Command, args []string) error {
	cfg := c.serviceConfig()
	ecfg, err := extractionConfig(cmd, cfg)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "text" {
		return fmt.Errorf("unknown format %q", format)
	}

	engine, shutdown, err := c.engine(cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	req, err := requestFor(args[0], ecfg)
	if err != nil {
		return err
	}
	req.MIMEType, _ = cmd.Flags().GetString("mime")

	start := time.Now()
	res, err := engine.Extract(cmdContext(cmd), req)
	if err != nil {
		logger.Error("extraction failed", "file", args[0], "error_type", extract.KindOf(err), "error", err)
		return err
	}
	logger.Info("extracted",
		"file", args[0],
		"mime", res.MIMEType,
		"method", res.Method,
		"chars", humanize.Comma(int64(len(res.Content))),
		"took", time.Since(start).Round(time.Millisecond),
	)

	out, closeOut, err := outputWriter(cmd)
	if err != nil {
		return err
	}
	defer closeOut()

	if format == "text" {
		_, err = fmt.Fprintln(out, res.Content)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// addExtractionFlags registers the flags that tune a single extraction.
// extract and batch share them.
func addExtractionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("extraction", "x", "", "extraction config YAML")
	f.Bool("ocr", false, "enable OCR for images and scanned pages")
	f.Bool("force-ocr", false, "OCR every page even when a text layer exists")
	f.String("ocr-backend", "", "OCR backend name (implies --ocr)")
	f.String("language", "", "OCR language (implies --ocr)")
	f.Int("max-pages", 0, "stop after this many PDF pages (0 = all)")
	f.Int("chunk-size", 0, "split content into chunks of at most this many characters")
	f.Int("chunk-overlap", 0, "characters shared by consecutive chunks")
	f.Bool("detect-language", false, "detect content languages")
	f.String("token-reduction", "", "token reduction mode: light, moderate, aggressive")
	f.Duration("timeout", 0, "per-document timeout (0 = service default)")
}

// extractionConfig layers the --extraction file and individual flags over
// the service defaults.
func extractionConfig(cmd *cobra.Command, cfg config.Config) (*config.ExtractionConfig, error) {
	f := cmd.Flags()
	out := cfg.DefaultExtraction()
	if path, _ := f.GetString("extraction"); path != "" {
		loaded, err := config.LoadExtractionFile(path, out)
		if err != nil {
			return nil, err
		}
		out = loaded
	}

	ensureOCR := func() *config.OCRConfig {
		if out.OCR == nil {
			out.OCR = cfg.DefaultOCR()
		}
		return out.OCR
	}
	if on, _ := f.GetBool("ocr"); on {
		ensureOCR()
	}
	if b, _ := f.GetString("ocr-backend"); b != "" {
		ensureOCR().Backend = b
	}
	if l, _ := f.GetString("language"); l != "" {
		ensureOCR().Language = l
	}
	if force, _ := f.GetBool("force-ocr"); force {
		ensureOCR()
		out.ForceOCR = true
	}
	if n, _ := f.GetInt("max-pages"); n > 0 {
		if out.PDF == nil {
			out.PDF = &config.PDFConfig{}
		}
		out.PDF.MaxPages = n
	}
	if n, _ := f.GetInt("chunk-size"); n > 0 {
		overlap, _ := f.GetInt("chunk-overlap")
		out.Chunking = &config.ChunkingConfig{MaxChars: n, Overlap: overlap}
	}
	if on, _ := f.GetBool("detect-language"); on && out.LanguageDetection == nil {
		out.LanguageDetection = &config.LanguageDetectionConfig{}
	}
	if mode, _ := f.GetString("token-reduction"); mode != "" {
		out.TokenReduction = &config.TokenReductionConfig{Mode: mode}
	}
	if d, _ := f.GetDuration("timeout"); d > 0 {
		out.Timeout = d
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// requestFor builds a pipeline request for a path, or for stdin when path
// is "-".
func requestFor(path string, cfg *config.ExtractionConfig) (pipeline.Request, error) {
	if path != "-" {
		return pipeline.Request{Path: path, Config: cfg}, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("read stdin: %w", err)
	}
	return pipeline.Request{Data: data, Config: cfg}, nil
}

func outputWriter(cmd *cobra.Command) (io.Writer, func(), error) {
	path, _ := cmd.Flags().GetString("output")
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
