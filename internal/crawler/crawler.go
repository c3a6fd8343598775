// Package crawler walks one site breadth-first and scores every page it reaches.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/remiPra/seo-crawler/internal/config"
	"github.com/remiPra/seo-crawler/internal/extras"
	"github.com/remiPra/seo-crawler/internal/fetcher"
	"github.com/remiPra/seo-crawler/internal/report"
	"github.com/remiPra/seo-crawler/internal/robots"
	"github.com/remiPra/seo-crawler/internal/rules"
	"github.com/remiPra/seo-crawler/internal/signals"
	"github.com/remiPra/seo-crawler/pkg/types"
)

// ErrInvalidURL is returned when the start URL is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid start url")

// Page outcomes reported to the Recorder.
const (
	OutcomeScored        = "scored"
	OutcomeHTTPError     = "http_error"
	OutcomeFetchFailed   = "fetch_failed"
	OutcomeRobotsBlocked = "robots_blocked"
	OutcomeOffHost       = "off_host"
)

// PageFetcher downloads a page, optionally through a JavaScript renderer.
type PageFetcher interface {
	FetchMode(ctx context.Context, target *url.URL, render bool) (*types.Page, error)
}

// HeaderSource returns the lower-cased response headers of a HEAD request,
// empty when the request fails.
type HeaderSource interface {
	Head(ctx context.Context, target *url.URL) types.Headers
}

// RobotsInspector reads robots.txt for a host.
type RobotsInspector interface {
	Inspect(ctx context.Context, base *url.URL) robots.Policy
}

// SiteSource returns the memoised site-wide extras of a host.
type SiteSource interface {
	Get(ctx context.Context, base *url.URL) extras.Site
}

// Recorder receives crawl telemetry. metrics.Collector implements it.
type Recorder interface {
	ObservePage(outcome string, scoreGlobal int)
	ObserveRuleFailure(rule string)
	ObserveCrawl(d time.Duration)
}

// Options wires a Crawler. Fetcher and Engine are required.
type Options struct {
	Fetcher PageFetcher
	Headers HeaderSource
	Robots  RobotsInspector
	Extras  SiteSource
	Engine  *rules.Engine
	Pacer   *Pacer
	Metrics Recorder
	Logger  *slog.Logger

	// MaxLinksPerPage bounds link discovery on a single page; 0 means no bound.
	MaxLinksPerPage int
	// CanRender reports whether CrawlOptions.Render has any effect.
	CanRender bool
}

// CrawlOptions tunes a single crawl.
type CrawlOptions struct {
	MaxPages int
	// Render fetches pages through the JavaScript renderer when one is configured.
	Render bool
	// OnPage is called after each record is appended, with the running count.
	OnPage func(rec report.PageRecord, done, limit int)
}

// Crawler runs crawls. A Crawler is safe for concurrent Crawl calls as long
// as its collaborators are; each call owns its own frontier.
type Crawler struct {
	fetcher   PageFetcher
	headers   HeaderSource
	robots    RobotsInspector
	extras    SiteSource
	engine    *rules.Engine
	pacer     *Pacer
	metrics   Recorder
	logger    *slog.Logger
	maxLinks  int
	canRender bool
}

// New builds a Crawler from explicit collaborators.
func New(opts Options) (*Crawler, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("crawler: rule engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		fetcher:   opts.Fetcher,
		headers:   opts.Headers,
		robots:    opts.Robots,
		extras:    opts.Extras,
		engine:    opts.Engine,
		pacer:     opts.Pacer,
		metrics:   opts.Metrics,
		logger:    logger,
		maxLinks:  opts.MaxLinksPerPage,
		canRender: opts.CanRender,
	}, nil
}

// NewFromConfig builds the production crawler: HTTP fetcher, optional
// chromedp renderer, robots agent, process-wide extras cache and the default
// rule catalog minus rules.disabled.
func NewFromConfig(cfg config.Config, logger *slog.Logger, rec Recorder) (*Crawler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Crawl.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.GetTimeout.Duration,
		HeadTimeout:  cfg.Fetch.HeadTimeout.Duration,
		ProbeTimeout: cfg.Extras.Timeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}

	var renderer fetcher.Renderer
	if cfg.Rendering.Enabled {
		renderer = fetcher.NewChromedpRenderer(fetcher.RenderOptions{
			Timeout:            cfg.Rendering.Timeout.Duration,
			WaitForSelector:    cfg.Rendering.WaitForSelector,
			UserAgent:          cfg.Crawl.UserAgent,
			Headers:            cfg.Fetch.Headers,
			MaxBodyBytes:       cfg.Crawl.MaxBodyBytes,
			DisableHeadless:    cfg.Rendering.DisableHeadless,
			ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
		}, logger)
	}
	composite := fetcher.NewComposite(httpFetcher, renderer, logger)

	return New(Options{
		Fetcher: composite,
		Headers: httpFetcher,
		Robots:  robots.NewAgent(cfg.Robots, httpFetcher, logger),
		Extras:  extras.NewCache(httpFetcher),
		Engine:  rules.Default(logger).Without(cfg.Rules.Disabled...),
		Pacer: NewPacer(cfg.Crawl.PageDelay.Duration, RateSettings{
			Requests: cfg.Crawl.RateLimit.Requests,
			Window:   cfg.Crawl.RateLimit.Window.Duration,
		}),
		Metrics:         rec,
		Logger:          logger,
		MaxLinksPerPage: cfg.Crawl.MaxLinksPerPage,
		CanRender:       composite.CanRender(),
	})
}

// ParseStartURL validates a caller-supplied start URL.
func ParseStartURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Scheme = scheme
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// CanRender reports whether JavaScript rendering is available.
func (c *Crawler) CanRender() bool {
	return c.canRender
}

// Crawl fetches up to maxPages same-host pages breadth-first from startURL.
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxPages int) ([]report.PageRecord, error) {
	return c.CrawlWithOptions(ctx, startURL, CrawlOptions{MaxPages: maxPages})
}

// CrawlWithOptions is Crawl with rendering and progress reporting. Per-page
// failures become records; only an invalid start URL or a cancelled context
// produce an error, the latter alongside the records gathered so far.
func (c *Crawler) CrawlWithOptions(ctx context.Context, startURL string, opts CrawlOptions) ([]report.PageRecord, error) {
	start, err := ParseStartURL(startURL)
	if err != nil {
		return nil, err
	}
	limit := max(opts.MaxPages, 1)
	began := time.Now()
	if c.metrics != nil {
		defer func() { c.metrics.ObserveCrawl(time.Since(began)) }()
	}

	run := &crawlRun{
		Crawler:  c,
		start:    start,
		limit:    limit,
		render:   opts.Render,
		onPage:   opts.OnPage,
		frontier: NewFrontier(),
		records:  make([]report.PageRecord, 0, limit),
	}
	return run.execute(ctx)
}

type crawlRun struct {
	*Crawler

	start  *url.URL
	limit  int
	render bool
	onPage func(report.PageRecord, int, int)

	frontier *Frontier
	policy   robots.Policy
	site     extras.Site
	records  []report.PageRecord
}

func (r *crawlRun) execute(ctx context.Context) ([]report.PageRecord, error) {
	base := &url.URL{Scheme: r.start.Scheme, Host: r.start.Host}

	if r.robots != nil {
		r.policy = r.robots.Inspect(ctx, base)
		if r.policy.Blocked {
			r.logger.Info("crawl blocked by robots.txt", "host", base.Host)
			r.append(report.Blocked(base.String()), OutcomeRobotsBlocked)
			return r.records, nil
		}
	}
	if r.extras != nil {
		r.site = r.extras.Get(ctx, base)
	}

	r.frontier.Push(r.start)
	for r.frontier.Len() > 0 && len(r.records) < r.limit {
		if err := ctx.Err(); err != nil {
			return r.records, err
		}
		target, ok := r.frontier.Pop()
		if !ok {
			break
		}
		if !r.policy.Allowed(target.EscapedPath()) {
			r.logger.Debug("path disallowed by robots.txt", "url", target.String())
			continue
		}
		if err := r.pacer.Wait(ctx, target.Host); err != nil {
			return r.records, err
		}
		if err := r.visit(ctx, target); err != nil {
			return r.records, err
		}
	}
	return r.records, nil
}

// visit fetches and scores one page. It only returns an error when ctx ends.
func (r *crawlRun) visit(ctx context.Context, target *url.URL) error {
	page, err := r.fetcher.FetchMode(ctx, target, r.render && r.canRender)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Warn("fetch failed", "url", target.String(), "error", err)
		r.append(report.Failed(target.String(), 0, report.ErrMsgFetchFailed), OutcomeFetchFailed)
		return nil
	}

	location := page.Location()
	if location == nil {
		location = target
	}
	r.frontier.MarkVisited(location)

	// Records stay keyed on the start host; a redirect elsewhere is not scored.
	if !strings.EqualFold(location.Host, r.start.Host) {
		r.logger.Debug("redirected off-host", "url", target.String(), "location", location.String())
		r.append(report.Failed(target.String(), page.StatusCode, report.ErrMsgOffHost), OutcomeOffHost)
		return nil
	}

	if page.StatusCode >= http.StatusBadRequest {
		r.logger.Debug("page returned error status", "url", location.String(), "status", page.StatusCode)
		r.append(report.Failed(location.String(), page.StatusCode, fmt.Sprintf("HTTP %d", page.StatusCode)), OutcomeHTTPError)
		return nil
	}

	sig := signals.Extract(page.Body)
	headers := types.Headers{}
	if r.headers != nil {
		headers = r.headers.Head(ctx, location)
	}
	rep := r.engine.Run(rules.Input{
		Signals: &sig,
		HTML:    page.Body,
		URL:     location,
		Headers: headers,
		Extras:  r.site,
	})
	if r.metrics != nil {
		for _, id := range rep.Failures() {
			r.metrics.ObserveRuleFailure(id)
		}
	}

	rec := report.Build(location.String(), page.StatusCode, &sig, rep)
	r.append(rec, OutcomeScored)
	r.logger.Debug("page scored", "url", rec.URL, "status", rec.Status, "score", rec.ScoreGlobal)
	r.pacer.Done(target.Host)

	r.discover(&sig, location)
	return nil
}

func (r *crawlRun) discover(sig *signals.PageSignals, location *url.URL) {
	added := 0
	for _, link := range sig.TraversableLinks(location) {
		if r.maxLinks > 0 && added >= r.maxLinks {
			break
		}
		if !strings.EqualFold(link.Host, r.start.Host) {
			continue
		}
		if r.frontier.Push(link) {
			added++
		}
	}
}

func (r *crawlRun) append(rec report.PageRecord, outcome string) {
	r.records = append(r.records, rec)
	if r.metrics != nil {
		r.metrics.ObservePage(outcome, rec.ScoreGlobal)
	}
	if r.onPage != nil {
		r.onPage(rec, len(r.records), r.limit)
	}
}
