package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent identifies the crawler to the sites it audits.
const DefaultUserAgent = "SEO-Tool/1.0 (+https://example.com/bot)"

// Config captures everything needed to build a crawler and its transports.
type Config struct {
	Crawl     CrawlConfig     `yaml:"crawl"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Robots    RobotsConfig    `yaml:"robots"`
	Extras    ExtrasConfig    `yaml:"extras"`
	Rules     RulesConfig     `yaml:"rules"`
	Rendering RenderingConfig `yaml:"rendering"`
	DB        SQLConfig       `yaml:"db"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CrawlConfig bounds a single crawl and controls its politeness.
type CrawlConfig struct {
	UserAgent       string          `yaml:"user_agent"`
	MaxPages        int             `yaml:"max_pages"`
	MaxPagesLimit   int             `yaml:"max_pages_limit"`
	PageDelay       Duration        `yaml:"page_delay"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes"`
	MaxLinksPerPage int             `yaml:"max_links_per_page"`
}

// RateLimitConfig applies a token bucket on top of the fixed page delay.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// FetchConfig tunes the HTTP client.
type FetchConfig struct {
	GetTimeout  Duration          `yaml:"get_timeout"`
	HeadTimeout Duration          `yaml:"head_timeout"`
	Headers     map[string]string `yaml:"headers"`
	ProxyURL    string            `yaml:"proxy_url"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect      bool     `yaml:"respect"`
	EnforcePaths bool     `yaml:"enforce_paths"`
	UserAgent    string   `yaml:"user_agent"`
	Timeout      Duration `yaml:"timeout"`
}

// ExtrasConfig controls the site-wide AEO file probes.
type ExtrasConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// RulesConfig selects which scoring rules run.
type RulesConfig struct {
	Disabled []string `yaml:"disabled"`
}

// RenderingConfig controls optional JavaScript rendering.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// SQLConfig describes the relational database used to keep crawl reports.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
}

// Enabled reports whether a database is configured.
func (c SQLConfig) Enabled() bool {
	return c.Driver != "" && c.DSN != ""
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	MaxConcurrentCrawl int    `yaml:"max_concurrent_crawls"`
	MetricsPath        string `yaml:"metrics_path"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			UserAgent:       DefaultUserAgent,
			MaxPages:        60,
			MaxPagesLimit:   200,
			PageDelay:       DurationFrom(200 * time.Millisecond),
			MaxBodyBytes:    6 * 1024 * 1024,
			MaxLinksPerPage: 500,
		},
		Fetch: FetchConfig{
			GetTimeout:  DurationFrom(15 * time.Second),
			HeadTimeout: DurationFrom(10 * time.Second),
			Headers:     map[string]string{},
		},
		Robots: RobotsConfig{
			Respect:   true,
			UserAgent: DefaultUserAgent,
			Timeout:   DurationFrom(6 * time.Second),
		},
		Extras: ExtrasConfig{
			Timeout: DurationFrom(5 * time.Second),
		},
		Rendering: RenderingConfig{
			Timeout:            DurationFrom(30 * time.Second),
			ConcurrentSessions: 1,
		},
		DB: SQLConfig{
			Driver:      "postgres",
			AutoMigrate: true,
		},
		Server: ServerConfig{
			Addr:               ":8080",
			MaxConcurrentCrawl: 4,
			MetricsPath:        "/metrics",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawl.UserAgent) == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Crawl.MaxPagesLimit <= 0 {
		return fmt.Errorf("crawl.max_pages_limit must be > 0 (got %d)", c.Crawl.MaxPagesLimit)
	}
	if c.Crawl.MaxPages <= 0 || c.Crawl.MaxPages > c.Crawl.MaxPagesLimit {
		return fmt.Errorf("crawl.max_pages must be in [1, %d] (got %d)", c.Crawl.MaxPagesLimit, c.Crawl.MaxPages)
	}
	if c.Crawl.PageDelay.Duration < 0 {
		return fmt.Errorf("crawl.page_delay must be >= 0 (got %s)", c.Crawl.PageDelay)
	}
	if rl := c.Crawl.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if c.Fetch.GetTimeout.Duration <= 0 {
		return fmt.Errorf("fetch.get_timeout must be > 0 (got %s)", c.Fetch.GetTimeout)
	}
	if c.Fetch.HeadTimeout.Duration <= 0 {
		return fmt.Errorf("fetch.head_timeout must be > 0 (got %s)", c.Fetch.HeadTimeout)
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	if c.Server.MaxConcurrentCrawl <= 0 {
		return fmt.Errorf("server.max_concurrent_crawls must be > 0 (got %d)", c.Server.MaxConcurrentCrawl)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalise() {
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Robots.UserAgent == "" {
		c.Robots.UserAgent = c.Crawl.UserAgent
	}
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = make(map[string]string)
	}
	c.Fetch.ProxyURL = strings.TrimSpace(c.Fetch.ProxyURL)
	if len(c.Rules.Disabled) > 0 {
		c.Rules.Disabled = dedupeUpper(c.Rules.Disabled)
	}
	c.Server.MetricsPath = strings.TrimSpace(c.Server.MetricsPath)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// ClampMaxPages brings a caller-supplied page budget into [1, MaxPagesLimit].
// Zero selects the configured default.
func (c CrawlConfig) ClampMaxPages(requested int) int {
	if requested == 0 {
		requested = c.MaxPages
	}
	limit := c.MaxPagesLimit
	if limit <= 0 {
		limit = 200
	}
	return max(1, min(requested, limit))
}

// Enabled reports whether token-bucket rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

func dedupeUpper(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
