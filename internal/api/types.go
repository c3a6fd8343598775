package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/remiPra/seo-crawler/internal/report"
)

// CrawlRequest is the payload accepted by POST /crawl.
type CrawlRequest struct {
	URL string `json:"url"`
	// MaxPages is clamped into [1, crawl.max_pages_limit]; absent or zero selects the default.
	MaxPages *int `json:"max_pages,omitempty"`
	JS       bool `json:"js"`
}

// CrawlResponse is returned once a crawl completes. Data is ordered worst score first.
type CrawlResponse struct {
	CrawlID uuid.UUID           `json:"crawl_id"`
	Pages   int                 `json:"pages"`
	Data    []report.PageRecord `json:"data"`
}

// ProgressEvent is streamed to /crawl/stream clients after each page.
type ProgressEvent struct {
	Done   int               `json:"done"`
	Limit  int               `json:"limit"`
	Record report.PageRecord `json:"record"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Render    bool      `json:"render"`
	Timestamp time.Time `json:"timestamp"`
}
