// Package commands implements the docextract CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toricodesthings/docintel/internal/builtin"
	"github.com/toricodesthings/docintel/internal/cache"
	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/pipeline"
	"github.com/toricodesthings/docintel/internal/plugin"
)

// cli carries the per-invocation viper instance so commands can be built
// more than once in a process.
type cli struct {
	v *viper.Viper
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "docextract",
		Short: "Extract text, tables and metadata from documents",
		Long: `docextract runs the document extraction pipeline locally.

Examples:
  # Extract a single PDF as JSON
  docextract extract report.pdf

  # Plain text only, with OCR for scanned pages
  docextract extract scan.pdf --ocr --format text

  # Extract many files in parallel, one JSON line per file
  docextract batch docs/*.docx --workers 8

  # Inspect or clear the result cache
  docextract cache stats`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.initConfig()
			logger.Init(logger.Options{
				Level: c.v.GetString("log_level"),
				JSON:  c.v.GetBool("json_logs"),
			})
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default $HOME/.docextract.yaml)")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.Bool("json-logs", false, "log JSON lines to stderr")
	pf.String("cache-dir", "", "result cache directory")
	pf.Bool("no-cache", false, "disable the result cache")

	_ = c.v.BindPFlag("config", pf.Lookup("config"))
	_ = c.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = c.v.BindPFlag("json_logs", pf.Lookup("json-logs"))
	_ = c.v.BindPFlag("cache_dir", pf.Lookup("cache-dir"))
	_ = c.v.BindPFlag("no_cache", pf.Lookup("no-cache"))

	root.AddCommand(
		c.extractCmd(),
		c.batchCmd(),
		c.cacheCmd(),
		c.formatsCmd(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func (c *cli) initConfig() {
	if cfgFile := c.v.GetString("config"); cfgFile != "" {
		c.v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(home)
		}
		c.v.AddConfigPath(".")
		c.v.SetConfigName(".docextract")
		c.v.SetConfigType("yaml")
	}

	c.v.SetEnvPrefix("DOCINTEL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	_ = c.v.BindEnv("mistral_api_key", "DOCINTEL_MISTRAL_API_KEY", "MISTRAL_API_KEY")

	// Missing config file is fine.
	_ = c.v.ReadInConfig()
}

// serviceConfig is the environment configuration with CLI and config-file
// overrides applied.
func (c *cli) serviceConfig() config.Config {
	cfg := config.Load()
	if dir := c.v.GetString("cache_dir"); dir != "" {
		cfg.CacheDir = dir
	}
	if c.v.GetBool("no_cache") {
		cfg.CacheEnabled = false
	}
	if key := c.v.GetString("mistral_api_key"); key != "" {
		cfg.MistralAPIKey = key
	}
	if b := c.v.GetString("ocr_backend"); b != "" {
		cfg.DefaultOCRBackend = b
	}
	if l := c.v.GetString("ocr_language"); l != "" {
		cfg.DefaultOCRLanguage = l
	}
	if n := c.v.GetInt("workers"); n > 0 {
		cfg.BatchWorkers = n
	}
	if p := c.v.GetString("result_schema"); p != "" {
		cfg.ResultSchemaPath = p
	}
	return cfg
}

func (c *cli) openCache(cfg config.Config) (*cache.Manager, error) {
	return cache.Open(cache.Options{
		Dir:          cfg.CacheDir,
		MaxAge:       cfg.CacheMaxAge,
		MaxBytes:     cfg.CacheMaxBytes,
		MinFreeBytes: cfg.CacheMinFreeBytes,
	})
}

// engine builds a pipeline over the built-in plugins. The returned func
// shuts the plugins down.
func (c *cli) engine(cfg config.Config) (*pipeline.Engine, func(), error) {
	set := plugin.NewSet()
	if err := builtin.Register(set, cfg); err != nil {
		_ = set.Shutdown()
		return nil, nil, fmt.Errorf("register plugins: %w", err)
	}

	opts := []pipeline.Option{pipeline.WithDefaults(cfg.DefaultExtraction())}
	if cfg.CacheEnabled {
		cm, err := c.openCache(cfg)
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", "dir", cfg.CacheDir, "error", err)
		} else {
			opts = append(opts, pipeline.WithCache(cm))
		}
	}
	return pipeline.New(set, opts...), func() { _ = set.Shutdown() }, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
