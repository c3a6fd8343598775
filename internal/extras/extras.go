// Package extras probes and memoises host-level AEO signals such as the
// presence of /llms.txt and /ai.txt.
package extras

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Site holds the probe statuses for one host. A status of 0 means the probe failed.
type Site struct {
	Host          string `json:"host"`
	LLMSTxtStatus int    `json:"llms_txt_status"`
	AITxtStatus   int    `json:"ai_txt_status"`
}

// Prober returns the HTTP status of a single GET, 0 on failure.
type Prober interface {
	Status(ctx context.Context, rawURL string) int
}

// Cache is a read-through, populate-once store of Site values keyed by hostname.
// It is safe for concurrent use and lives as long as the service process.
type Cache struct {
	prober Prober

	mu    sync.RWMutex
	sites map[string]Site
	group singleflight.Group
}

// NewCache builds an empty cache backed by the prober.
func NewCache(prober Prober) *Cache {
	return &Cache{prober: prober, sites: make(map[string]Site)}
}

// Get returns the cached Site for base's host, probing it on first use.
// Concurrent first calls for the same host share one probe.
func (c *Cache) Get(ctx context.Context, base *url.URL) Site {
	if c == nil || base == nil {
		return Site{}
	}
	host := strings.ToLower(base.Host)

	c.mu.RLock()
	site, ok := c.sites[host]
	c.mu.RUnlock()
	if ok {
		return site
	}

	v, _, _ := c.group.Do(host, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.sites[host]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		// The cached result is shared by every caller in the flight; each
		// probe keeps its own timeout.
		probeCtx := context.WithoutCancel(ctx)
		root := base.Scheme + "://" + base.Host
		fresh := Site{
			Host:          host,
			LLMSTxtStatus: c.prober.Status(probeCtx, root+"/llms.txt"),
			AITxtStatus:   c.prober.Status(probeCtx, root+"/ai.txt"),
		}
		c.mu.Lock()
		c.sites[host] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	return v.(Site)
}

// Len reports how many hosts have been probed.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sites)
}
