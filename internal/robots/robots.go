package robots

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/remiPra/seo-crawler/internal/config"
)

// Getter performs a bounded GET returning status and body.
type Getter interface {
	Get(ctx context.Context, rawURL string, timeout time.Duration) (int, []byte, error)
}

// Agent fetches and interprets robots.txt for a crawl.
type Agent struct {
	getter       Getter
	userAgent    string
	timeout      time.Duration
	respect      bool
	enforcePaths bool
	logger       *slog.Logger
}

// NewAgent constructs a robots agent from configuration.
func NewAgent(cfg config.RobotsConfig, getter Getter, logger *slog.Logger) *Agent {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		getter:       getter,
		userAgent:    cfg.UserAgent,
		timeout:      timeout,
		respect:      cfg.Respect,
		enforcePaths: cfg.EnforcePaths,
		logger:       logger,
	}
}

// Policy is the outcome of reading robots.txt for one host.
type Policy struct {
	// Blocked is set when the file opts the whole site out of crawling.
	Blocked bool

	group *robotstxt.Group
}

// Allowed reports whether a path may be fetched. Without path enforcement
// every path is allowed.
func (p Policy) Allowed(path string) bool {
	if p.group == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return p.group.Test(path)
}

// Inspect fetches /robots.txt once for the base URL's host. Missing,
// unreachable or unparsable files allow everything.
func (a *Agent) Inspect(ctx context.Context, base *url.URL) Policy {
	if a == nil || !a.respect || base == nil || a.getter == nil {
		return Policy{}
	}
	robotsURL := base.Scheme + "://" + base.Host + "/robots.txt"
	status, body, err := a.getter.Get(ctx, robotsURL, a.timeout)
	if err != nil {
		a.logger.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
		return Policy{}
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return Policy{}
	}

	policy := Policy{Blocked: BlanketDisallow(body)}
	if a.enforcePaths && !policy.Blocked {
		data, err := robotstxt.FromStatusAndBytes(status, body)
		if err != nil {
			a.logger.Debug("robots.txt parse failed", "url", robotsURL, "error", err)
			return policy
		}
		policy.group = data.FindGroup(a.userAgent)
	}
	return policy
}

// BlanketDisallow reports whether the file contains a "Disallow: /" line and
// no "Allow: /" line, regardless of user-agent grouping.
func BlanketDisallow(body []byte) bool {
	var disallowAll, allowAll bool
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value != "/" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "disallow":
			disallowAll = true
		case "allow":
			allowAll = true
		}
	}
	return disallowAll && !allowAll
}
