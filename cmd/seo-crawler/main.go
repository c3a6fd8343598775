package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/remiPra/seo-crawler/internal/config"
	"github.com/remiPra/seo-crawler/internal/crawler"
	"github.com/remiPra/seo-crawler/internal/report"
)

type options struct {
	Config   string `short:"c" long:"config" description:"Path to YAML configuration (defaults are used when empty)"`
	MaxPages int    `short:"n" long:"max-pages" description:"Maximum number of pages to crawl" default:"60"`
	JS       bool   `long:"js" description:"Render pages with headless Chrome"`
	Format   string `short:"f" long:"format" description:"Report format" choice:"table" choice:"json" default:"table"`
	Output   string `short:"o" long:"output" description:"Write the report to this file instead of stdout"`
	Quiet    bool   `short:"q" long:"quiet" description:"Hide the progress bar"`

	Args struct {
		URL string `positional-arg-name:"url" description:"Start URL (http or https)"`
	} `positional-args:"yes" required:"yes"`
}

type jsonReport struct {
	URL       string              `json:"url"`
	Pages     int                 `json:"pages"`
	StartedAt time.Time           `json:"started_at"`
	Data      []report.PageRecord `json:"data"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] url"
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "seo-crawler: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if opts.JS {
		cfg.Rendering.Enabled = true
	}
	if !opts.Quiet && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	siteCrawler, err := crawler.NewFromConfig(cfg, logger, nil)
	if err != nil {
		return err
	}
	limit := cfg.Crawl.ClampMaxPages(opts.MaxPages)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		progress *mpb.Progress
		bar      *mpb.Bar
	)
	crawlOpts := crawler.CrawlOptions{MaxPages: limit, Render: opts.JS}
	if !opts.Quiet {
		progress = mpb.NewWithContext(ctx, mpb.WithOutput(os.Stderr), mpb.WithWidth(48))
		bar = progress.AddBar(int64(limit),
			mpb.PrependDecorators(
				decor.Name(opts.Args.URL, decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.CountersNoUnit("[%d / %d]", decor.WCSyncWidth),
				decor.Percentage(decor.WCSyncSpace),
				decor.OnComplete(
					decor.EwmaETA(decor.ET_STYLE_GO, 30, decor.WCSyncSpace), "done",
				),
			),
		)
		last := time.Now()
		crawlOpts.OnPage = func(_ report.PageRecord, done, _ int) {
			bar.EwmaSetCurrent(int64(done), time.Since(last))
			last = time.Now()
		}
	}

	started := time.Now().UTC()
	records, crawlErr := siteCrawler.CrawlWithOptions(ctx, opts.Args.URL, crawlOpts)
	if bar != nil {
		// The crawl may stop short of the limit when the site runs out of pages.
		bar.SetTotal(-1, true)
		progress.Wait()
	}
	if crawlErr != nil && !errors.Is(crawlErr, context.Canceled) {
		return crawlErr
	}
	if crawlErr != nil {
		fmt.Fprintf(os.Stderr, "crawl interrupted, reporting %d pages\n", len(records))
	}
	report.SortWorstFirst(records)

	out := io.Writer(os.Stdout)
	if opts.Output != "" {
		fh, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer fh.Close()
		out = fh
	}

	switch opts.Format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonReport{URL: opts.Args.URL, Pages: len(records), StartedAt: started, Data: records})
	default:
		return report.RenderTable(out, records)
	}
}
