package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/docintel/internal/batch"
	"github.com/toricodesthings/docintel/internal/builtin"
	"github.com/toricodesthings/docintel/internal/cache"
	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/pipeline"
)

type server struct {
	cfg        config.Config
	engine     *pipeline.Engine
	batch      *batch.Coordinator
	fetch      *fetcher
	requestSem *semaphore.Weighted
	limiters   *limiterSet
	metrics    *serverMetrics
	log        *slog.Logger
	started    time.Time
}

func newServer(cfg config.Config, engine *pipeline.Engine, metrics *serverMetrics) *server {
	if metrics == nil {
		metrics = newServerMetrics()
	}
	return &server{
		cfg:        cfg,
		engine:     engine,
		batch:      batch.New(engine, batch.WithWorkers(cfg.BatchWorkers)),
		fetch:      newFetcher(cfg.DownloadTimeout, cfg.MaxFileBytes, cfg.AllowedDownloadHosts, cfg.AllowPrivateDownloadURLs),
		requestSem: semaphore.NewWeighted(max(1, cfg.MaxConcurrentRequests)),
		limiters:   newLimiterSet(cfg.RateLimitEvery, cfg.RateLimitBurst),
		metrics:    metrics,
		log:        logger.With("component", "http"),
		started:    time.Now(),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.withInternalAuth(s.handleMetrics))
	mux.HandleFunc("/formats", s.withInternalAuth(withMethod(http.MethodGet, s.handleFormats)))
	mux.HandleFunc("/cache", s.withInternalAuth(s.handleCache))

	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return s.withInternalAuth(s.withRateLimit(withMethod(http.MethodPost, s.withConcurrencyLimit(h))))
	}
	mux.HandleFunc("/extract", guard(s.handleExtract))
	mux.HandleFunc("/extract/upload", guard(s.handleUpload))
	mux.HandleFunc("/batch", guard(s.handleBatch))

	return s.withLogging(s.withRecovery(mux))
}

func main() {
	cfg := config.Load()
	log := logger.Init(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plugins, err := builtin.Default()
	if err != nil {
		log.Error("plugin registration failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = builtin.Reset() }()

	metrics := newServerMetrics()
	opts := []pipeline.Option{
		pipeline.WithDefaults(cfg.DefaultExtraction()),
		pipeline.OnSuccess(metrics.extraction),
	}
	if cfg.CacheEnabled {
		cm, err := cache.Open(cache.Options{
			Dir:          cfg.CacheDir,
			MaxAge:       cfg.CacheMaxAge,
			MaxBytes:     cfg.CacheMaxBytes,
			MinFreeBytes: cfg.CacheMinFreeBytes,
		})
		if err != nil {
			log.Warn("cache unavailable, continuing without it", "dir", cfg.CacheDir, "error", err)
		} else {
			cm.StartSweeper(ctx, cfg.CacheSweepEvery)
			opts = append(opts, pipeline.WithCache(cm))
		}
	}
	engine := pipeline.New(plugins, opts...)
	s := newServer(cfg, engine, metrics)

	maxHeaderBytes := 1 << 20
	if cfg.MaxHeaderBytes > 0 {
		maxHeaderBytes = cfg.MaxHeaderBytes
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	if strings.TrimSpace(cfg.MistralAPIKey) == "" {
		log.Warn("MISTRAL_API_KEY not set; hosted OCR is unavailable")
	}

	go s.housekeeping(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("docintel listening",
		"addr", srv.Addr,
		"max_concurrent", cfg.MaxConcurrentRequests,
		"ocr_concurrent", cfg.MaxOCRConcurrent,
		"extractors", plugins.Extractors.Len(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// housekeeping logs runtime stats and drops idle rate limiters.
func (s *server) housekeeping(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		total, active := s.metrics.get()
		s.log.Info("stats",
			"active", active,
			"total", total,
			"goroutines", runtime.NumGoroutine(),
			"mem", humanize.Bytes(m.Alloc),
			"limiters_dropped", s.limiters.reset(),
		)
	}
}
