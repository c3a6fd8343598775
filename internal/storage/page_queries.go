package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remiPra/seo-crawler/internal/report"
	"github.com/remiPra/seo-crawler/internal/rules"
)

// ListParams controls pagination and filtering of stored crawls.
type ListParams struct {
	Page     int
	PageSize int
	// Search filters on a substring of the start URL.
	Search string
}

// CrawlSummary represents a stored crawl in list view.
type CrawlSummary struct {
	ID         uuid.UUID `json:"crawl_id"`
	StartURL   string    `json:"url"`
	PageCount  int       `json:"pages"`
	WorstScore int       `json:"worst_score"`
	AvgScore   float64   `json:"avg_score"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// CrawlList wraps summaries with pagination metadata.
type CrawlList struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []CrawlSummary `json:"items"`
}

// Normalise clamps pagination into sane bounds.
func (p ListParams) Normalise() ListParams {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 || p.PageSize > 200 {
		p.PageSize = 20
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

// ListCrawls returns the most recent crawls first.
func (s *SQLStore) ListCrawls(ctx context.Context, params ListParams) (CrawlList, error) {
	if s == nil || s.db == nil {
		return CrawlList{}, errors.New("sql store not initialised")
	}
	params = params.Normalise()
	result := CrawlList{Page: params.Page, PageSize: params.PageSize, Items: []CrawlSummary{}}

	where := ""
	args := []any{}
	if params.Search != "" {
		where = "WHERE c.start_url ILIKE $1"
		args = append(args, "%"+params.Search+"%")
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM crawls c "+where, args...).Scan(&result.Total); err != nil {
		return CrawlList{}, fmt.Errorf("count crawls: %w", err)
	}

	limitPos := len(args) + 1
	query := fmt.Sprintf(`
        SELECT c.id, c.start_url, c.page_count, c.started_at, c.finished_at,
               COALESCE(MIN(p.score_global), 0), COALESCE(AVG(p.score_global), 0)
        FROM crawls c
        LEFT JOIN crawl_pages p ON p.crawl_id = c.id AND p.error = ''
        %s
        GROUP BY c.id
        ORDER BY c.started_at DESC
        LIMIT $%d OFFSET $%d`, where, limitPos, limitPos+1)
	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return CrawlList{}, fmt.Errorf("list crawls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item CrawlSummary
		if err := rows.Scan(&item.ID, &item.StartURL, &item.PageCount, &item.StartedAt, &item.FinishedAt, &item.WorstScore, &item.AvgScore); err != nil {
			return CrawlList{}, fmt.Errorf("scan crawl: %w", err)
		}
		result.Items = append(result.Items, item)
	}
	if err := rows.Err(); err != nil {
		return CrawlList{}, fmt.Errorf("iterate crawls: %w", err)
	}
	return result, nil
}

// pageRow holds the JSONB columns of a stored page record.
type pageRow struct {
	recommendations []byte
	summary         []byte
}

// encodePage splits a record into its recommendations and the remaining summary fields.
func encodePage(page report.PageRecord) (pageRow, error) {
	recs := page.Recommendations
	if recs == nil {
		recs = []rules.Issue{}
	}
	recJSON, err := json.Marshal(recs)
	if err != nil {
		return pageRow{}, err
	}
	page.Recommendations = nil
	page.RuleFailures = nil
	summary, err := json.Marshal(page)
	if err != nil {
		return pageRow{}, err
	}
	return pageRow{recommendations: recJSON, summary: summary}, nil
}

// decodePage rebuilds a record; columns win over the summary copy.
func decodePage(cols report.PageRecord, failures []string, row pageRow) (report.PageRecord, error) {
	var page report.PageRecord
	if len(row.summary) > 0 {
		if err := json.Unmarshal(row.summary, &page); err != nil {
			return report.PageRecord{}, fmt.Errorf("decode summary for %s: %w", cols.URL, err)
		}
	}
	page.URL = cols.URL
	page.Status = cols.Status
	page.Error = cols.Error
	page.ScoreLegacy = cols.ScoreLegacy
	page.ScoreRules = cols.ScoreRules
	page.ScoreGlobal = cols.ScoreGlobal
	page.RuleFailures = failures
	page.Recommendations = []rules.Issue{}
	if len(row.recommendations) > 0 {
		if err := json.Unmarshal(row.recommendations, &page.Recommendations); err != nil {
			return report.PageRecord{}, fmt.Errorf("decode recommendations for %s: %w", cols.URL, err)
		}
	}
	return page, nil
}
