package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/remiPra/seo-crawler/internal/report"
)

// MemoryStore keeps the most recent crawls in process memory. It backs the
// API when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []uuid.UUID
	crawls   map[uuid.UUID]Crawl
}

// NewMemoryStore keeps at most capacity crawls, evicting the oldest.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryStore{capacity: capacity, crawls: make(map[uuid.UUID]Crawl)}
}

// SaveCrawl stores a copy of the crawl.
func (m *MemoryStore) SaveCrawl(_ context.Context, crawl Crawl) error {
	crawl.Pages = append([]report.PageRecord(nil), crawl.Pages...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.crawls[crawl.ID]; !exists {
		m.order = append(m.order, crawl.ID)
	}
	m.crawls[crawl.ID] = crawl
	for len(m.order) > m.capacity {
		delete(m.crawls, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// GetCrawl returns the crawl with pages worst first.
func (m *MemoryStore) GetCrawl(_ context.Context, id uuid.UUID) (Crawl, error) {
	m.mu.RLock()
	crawl, ok := m.crawls[id]
	m.mu.RUnlock()
	if !ok {
		return Crawl{}, ErrNotFound
	}
	crawl.Pages = append([]report.PageRecord{}, crawl.Pages...)
	report.SortWorstFirst(crawl.Pages)
	return crawl, nil
}

// ListCrawls returns the most recent crawls first.
func (m *MemoryStore) ListCrawls(_ context.Context, params ListParams) (CrawlList, error) {
	params = params.Normalise()
	m.mu.RLock()
	items := make([]CrawlSummary, 0, len(m.crawls))
	for _, c := range m.crawls {
		if params.Search != "" && !strings.Contains(strings.ToLower(c.StartURL), strings.ToLower(params.Search)) {
			continue
		}
		items = append(items, summarise(c))
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].StartedAt.After(items[j].StartedAt) })
	result := CrawlList{Total: int64(len(items)), Page: params.Page, PageSize: params.PageSize, Items: []CrawlSummary{}}
	start := (params.Page - 1) * params.PageSize
	if start < len(items) {
		result.Items = items[start:min(start+params.PageSize, len(items))]
	}
	return result, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func summarise(c Crawl) CrawlSummary {
	s := CrawlSummary{
		ID:         c.ID,
		StartURL:   c.StartURL,
		PageCount:  len(c.Pages),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
	}
	scored, total := 0, 0
	for _, p := range c.Pages {
		if !p.Scored() {
			continue
		}
		if scored == 0 || p.ScoreGlobal < s.WorstScore {
			s.WorstScore = p.ScoreGlobal
		}
		scored++
		total += p.ScoreGlobal
	}
	if scored > 0 {
		s.AvgScore = float64(total) / float64(scored)
	}
	return s
}
