package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/remiPra/seo-crawler/internal/config"
	"github.com/remiPra/seo-crawler/internal/crawler"
	"github.com/remiPra/seo-crawler/internal/report"
	"github.com/remiPra/seo-crawler/internal/storage"
)

// ErrTooManyCrawls signals that the concurrent crawl limit has been reached.
var ErrTooManyCrawls = errors.New("maximum concurrent crawls reached")

// SiteCrawler runs one crawl. *crawler.Crawler satisfies it.
type SiteCrawler interface {
	CrawlWithOptions(ctx context.Context, startURL string, opts crawler.CrawlOptions) ([]report.PageRecord, error)
	CanRender() bool
}

// CrawlService validates crawl requests, bounds how many run at once and
// keeps finished crawls in a store.
type CrawlService struct {
	crawler SiteCrawler
	store   storage.Store
	limits  config.CrawlConfig
	sem     *semaphore.Weighted
	logger  *slog.Logger
	now     func() time.Time
}

// NewCrawlService constructs a service. A nil store keeps crawls in memory.
func NewCrawlService(c SiteCrawler, store storage.Store, cfg config.Config, logger *slog.Logger) *CrawlService {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = storage.NewMemoryStore(0)
	}
	maxConcurrent := cfg.Server.MaxConcurrentCrawl
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &CrawlService{
		crawler: c,
		store:   store,
		limits:  cfg.Crawl,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger,
		now:     time.Now,
	}
}

// Store exposes the backing store for read endpoints.
func (s *CrawlService) Store() storage.Store {
	return s.store
}

// CanRender reports whether js=true requests will actually be rendered.
func (s *CrawlService) CanRender() bool {
	return s.crawler.CanRender()
}

// Run executes a crawl synchronously. onPage may be nil.
func (s *CrawlService) Run(ctx context.Context, req CrawlRequest, onPage func(rec report.PageRecord, done, limit int)) (storage.Crawl, error) {
	start, err := crawler.ParseStartURL(req.URL)
	if err != nil {
		return storage.Crawl{}, err
	}
	requested := 0
	if req.MaxPages != nil {
		requested = *req.MaxPages
	}
	maxPages := s.limits.ClampMaxPages(requested)

	if !s.sem.TryAcquire(1) {
		return storage.Crawl{}, ErrTooManyCrawls
	}
	defer s.sem.Release(1)

	if req.JS && !s.crawler.CanRender() {
		s.logger.Info("js rendering requested but unavailable, using plain http", "url", start.String())
	}

	crawl := storage.Crawl{
		ID:        uuid.New(),
		StartURL:  start.String(),
		MaxPages:  maxPages,
		Rendered:  req.JS && s.crawler.CanRender(),
		StartedAt: s.now().UTC(),
	}
	records, err := s.crawler.CrawlWithOptions(ctx, crawl.StartURL, crawler.CrawlOptions{
		MaxPages: maxPages,
		Render:   req.JS,
		OnPage:   onPage,
	})
	if err != nil {
		return storage.Crawl{}, fmt.Errorf("crawl %s: %w", crawl.StartURL, err)
	}
	report.SortWorstFirst(records)
	crawl.Pages = records
	crawl.FinishedAt = s.now().UTC()

	// A storage failure must not cost the caller the report it waited for.
	if err := s.store.SaveCrawl(context.WithoutCancel(ctx), crawl); err != nil {
		s.logger.Warn("save crawl failed", "crawl_id", crawl.ID, "error", err)
	}
	s.logger.Info("crawl completed", "crawl_id", crawl.ID, "url", crawl.StartURL, "pages", len(records))
	return crawl, nil
}
