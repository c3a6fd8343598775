package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/remiPra/seo-crawler/internal/api"
	"github.com/remiPra/seo-crawler/internal/config"
	"github.com/remiPra/seo-crawler/internal/crawler"
	"github.com/remiPra/seo-crawler/internal/metrics"
	"github.com/remiPra/seo-crawler/internal/storage"
)

type options struct {
	Config         string `short:"c" long:"config" description:"Path to YAML configuration (defaults are used when empty)" env:"SEO_CRAWLER_CONFIG"`
	Addr           string `long:"addr" description:"HTTP listen address, overrides server.addr" env:"SEO_CRAWLER_ADDR"`
	MaxConcurrency int    `long:"max-concurrency" description:"Maximum concurrent crawls, overrides server.max_concurrent_crawls"`
	DSN            string `long:"dsn" description:"PostgreSQL DSN, overrides db.dsn" env:"SEO_CRAWLER_DSN"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := cfg.Logging.NewLogger(os.Stdout)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("api server stopped")
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.MaxConcurrency > 0 {
		cfg.Server.MaxConcurrentCrawl = opts.MaxConcurrency
	}
	if opts.DSN != "" {
		cfg.DB.DSN = opts.DSN
	}
	return cfg, cfg.Validate()
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	siteCrawler, err := crawler.NewFromConfig(cfg, logger, collector)
	if err != nil {
		return fmt.Errorf("crawler: %w", err)
	}

	var store storage.Store
	if cfg.DB.Enabled() {
		sqlStore, err := storage.NewSQLStore(cfg.DB)
		if err != nil {
			return fmt.Errorf("initialise crawl store: %w", err)
		}
		store = sqlStore
	} else {
		logger.Info("no database configured, keeping crawls in memory")
		store = storage.NewMemoryStore(0)
	}
	defer store.Close()

	service := api.NewCrawlService(siteCrawler, store, cfg, logger)
	server := api.NewServer(service, logger, api.WithMetrics(cfg.Server.MetricsPath, collector.Handler()))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	logger.Info("api server listening",
		"addr", cfg.Server.Addr,
		"max_concurrency", cfg.Server.MaxConcurrentCrawl,
		"render", siteCrawler.CanRender(),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
