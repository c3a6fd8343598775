package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remiPra/seo-crawler/internal/crawler"
	"github.com/remiPra/seo-crawler/internal/report"
	"github.com/remiPra/seo-crawler/internal/storage"
)

const maxRequestBody = 1 << 20

// Server exposes the crawl API.
type Server struct {
	service *CrawlService
	mux     *http.ServeMux
	handler http.Handler
	logger  *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics mounts a metrics handler at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		if path != "" && h != nil {
			s.mux.Handle(path, h)
		}
	}
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(service *CrawlService, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service: service,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.routes()
	for _, opt := range opts {
		opt(s)
	}
	s.handler = withCORS(s.mux)
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/crawl", s.handleCrawl)
	s.mux.HandleFunc("/crawl/stream", s.handleCrawlStream)
	s.mux.HandleFunc("/crawls", s.handleCrawls)
	s.mux.HandleFunc("/crawls/", s.handleCrawlByID)
	s.mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	s.mux.HandleFunc("/docs", s.handleDocs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:        true,
		Render:    s.service.CanRender(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req, ok := decodeCrawlRequest(w, r)
	if !ok {
		return
	}
	crawl, err := s.service.Run(r.Context(), req, nil)
	if err != nil {
		s.writeCrawlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CrawlResponse{CrawlID: crawl.ID, Pages: len(crawl.Pages), Data: crawl.Pages})
}

// handleCrawlStream runs a crawl and reports each page as a server-sent event.
// Errors raised before the first page are returned as plain JSON errors.
func (s *Server) handleCrawlStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	req, ok := decodeCrawlRequest(w, r)
	if !ok {
		return
	}

	started := false
	send := func(event string, payload any) {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\n", event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	crawl, err := s.service.Run(r.Context(), req, func(rec report.PageRecord, done, limit int) {
		send("page", ProgressEvent{Done: done, Limit: limit, Record: rec})
	})
	if err != nil {
		if !started {
			s.writeCrawlError(w, err)
			return
		}
		send("error", ErrorResponse{Error: err.Error()})
		return
	}
	send("done", CrawlResponse{CrawlID: crawl.ID, Pages: len(crawl.Pages), Data: crawl.Pages})
}

func (s *Server) handleCrawls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	params := storage.ListParams{Search: q.Get("search")}
	params.Page, _ = strconv.Atoi(q.Get("page"))
	params.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	list, err := s.service.Store().ListCrawls(r.Context(), params)
	if err != nil {
		s.logger.Error("list crawls failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list crawls failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCrawlByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/crawls/"), "/")
	if raw == "" {
		http.NotFound(w, r)
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid crawl id")
		return
	}
	crawl, err := s.service.Store().GetCrawl(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("load crawl failed", "crawl_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "load crawl failed")
	default:
		writeJSON(w, http.StatusOK, crawl)
	}
}

func (s *Server) writeCrawlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTooManyCrawls):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error("crawl failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeCrawlRequest(w http.ResponseWriter, r *http.Request) (CrawlRequest, bool) {
	var req CrawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json payload: %v", err))
		return CrawlRequest{}, false
	}
	return req, true
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
