// Package storage keeps crawl reports in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	pq "github.com/lib/pq"

	"github.com/remiPra/seo-crawler/internal/config"
	"github.com/remiPra/seo-crawler/internal/report"
)

// ErrNotFound is returned when a crawl id is unknown.
var ErrNotFound = errors.New("crawl not found")

// Crawl is one stored crawl and its page records.
type Crawl struct {
	ID         uuid.UUID           `json:"crawl_id"`
	StartURL   string              `json:"url"`
	MaxPages   int                 `json:"max_pages"`
	Rendered   bool                `json:"js"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Pages      []report.PageRecord `json:"data"`
}

// Store persists crawls.
type Store interface {
	SaveCrawl(ctx context.Context, crawl Crawl) error
	GetCrawl(ctx context.Context, id uuid.UUID) (Crawl, error)
	ListCrawls(ctx context.Context, params ListParams) (CrawlList, error)
	Close() error
}

// SQLStore implements Store on database/sql with the lib/pq driver.
type SQLStore struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLStore opens and pings the database, creating it and the schema when configured to.
func NewSQLStore(cfg config.SQLConfig) (*SQLStore, error) {
	if !cfg.Enabled() {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if !cfg.CreateIfMissing || !shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		_ = db.Close()
		if err := createDatabase(ctx, cfg); err != nil {
			return nil, err
		}
		db, err = sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	store := &SQLStore{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// SaveCrawl writes the crawl row and every page record in one transaction.
func (s *SQLStore) SaveCrawl(ctx context.Context, crawl Crawl) error {
	if s == nil || s.db == nil {
		return nil
	}
	if crawl.ID == uuid.Nil {
		return errors.New("crawl id is required")
	}
	err := s.insertCrawl(ctx, crawl)
	if err != nil && s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		err = s.insertCrawl(ctx, crawl)
	}
	if err != nil {
		return fmt.Errorf("save crawl %s: %w", crawl.ID, err)
	}
	return nil
}

func (s *SQLStore) insertCrawl(ctx context.Context, crawl Crawl) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `
        INSERT INTO crawls (id, start_url, max_pages, rendered, page_count, started_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		crawl.ID, crawl.StartURL, crawl.MaxPages, crawl.Rendered, len(crawl.Pages), crawl.StartedAt, crawl.FinishedAt,
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO crawl_pages (crawl_id, position, url, status, error, score_legacy, score_rules, score_global, rule_failures, recommendations, summary)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, page := range crawl.Pages {
		row, encErr := encodePage(page)
		if encErr != nil {
			return fmt.Errorf("encode %s: %w", page.URL, encErr)
		}
		if _, err = stmt.ExecContext(ctx,
			crawl.ID, i, page.URL, page.Status, page.Error,
			page.ScoreLegacy, page.ScoreRules, page.ScoreGlobal,
			pq.Array(page.RuleFailures), row.recommendations, row.summary,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetCrawl loads a crawl with its pages ordered worst score first.
func (s *SQLStore) GetCrawl(ctx context.Context, id uuid.UUID) (Crawl, error) {
	if s == nil || s.db == nil {
		return Crawl{}, errors.New("sql store not initialised")
	}
	crawl := Crawl{ID: id}
	err := s.db.QueryRowContext(ctx, `
        SELECT start_url, max_pages, rendered, started_at, finished_at
        FROM crawls WHERE id = $1`, id,
	).Scan(&crawl.StartURL, &crawl.MaxPages, &crawl.Rendered, &crawl.StartedAt, &crawl.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Crawl{}, ErrNotFound
	}
	if err != nil {
		return Crawl{}, fmt.Errorf("load crawl %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT url, status, error, score_legacy, score_rules, score_global, rule_failures, recommendations, summary
        FROM crawl_pages WHERE crawl_id = $1
        ORDER BY score_global ASC, position ASC`, id)
	if err != nil {
		return Crawl{}, fmt.Errorf("load pages for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			page     report.PageRecord
			failures []string
			row      pageRow
		)
		if err := rows.Scan(&page.URL, &page.Status, &page.Error, &page.ScoreLegacy, &page.ScoreRules, &page.ScoreGlobal,
			pq.Array(&failures), &row.recommendations, &row.summary); err != nil {
			return Crawl{}, fmt.Errorf("scan page: %w", err)
		}
		page, err = decodePage(page, failures, row)
		if err != nil {
			return Crawl{}, err
		}
		crawl.Pages = append(crawl.Pages, page)
	}
	if err := rows.Err(); err != nil {
		return Crawl{}, fmt.Errorf("iterate pages: %w", err)
	}
	if crawl.Pages == nil {
		crawl.Pages = []report.PageRecord{}
	}
	return crawl, nil
}

// Close closes the underlying DB connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crawls (
		    id UUID PRIMARY KEY,
		    start_url TEXT NOT NULL,
		    max_pages INT NOT NULL,
		    rendered BOOLEAN NOT NULL DEFAULT FALSE,
		    page_count INT NOT NULL,
		    started_at TIMESTAMPTZ NOT NULL,
		    finished_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crawls_started_at ON crawls (started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS crawl_pages (
		    crawl_id UUID NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		    position INT NOT NULL,
		    url TEXT NOT NULL,
		    status INT NOT NULL,
		    error TEXT NOT NULL DEFAULT '',
		    score_legacy INT NOT NULL,
		    score_rules INT NOT NULL,
		    score_global INT NOT NULL,
		    rule_failures TEXT[],
		    recommendations JSONB NOT NULL DEFAULT '[]',
		    summary JSONB NOT NULL DEFAULT '{}',
		    PRIMARY KEY (crawl_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_pages_score ON crawl_pages (crawl_id, score_global)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
