package crawler

import (
	"net/url"
	"strings"
)

// Frontier is the FIFO queue of a single crawl. Every URL is admitted at most
// once, keyed by its canonical form, and a popped URL is visited at most once.
type Frontier struct {
	queue   []*url.URL
	seen    map[string]struct{}
	visited map[string]struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		seen:    make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// Push enqueues u unless an equivalent URL was already admitted.
func (f *Frontier) Push(u *url.URL) bool {
	if u == nil {
		return false
	}
	key := canonicalKey(u)
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = struct{}{}
	f.queue = append(f.queue, u)
	return true
}

// MarkVisited records u as fetched, e.g. the target of a redirect, so it is
// neither admitted nor popped again.
func (f *Frontier) MarkVisited(u *url.URL) {
	if u == nil {
		return
	}
	key := canonicalKey(u)
	f.seen[key] = struct{}{}
	f.visited[key] = struct{}{}
}

// Pop removes the oldest unvisited URL and marks it visited.
func (f *Frontier) Pop() (*url.URL, bool) {
	for len(f.queue) > 0 {
		u := f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]
		key := canonicalKey(u)
		if _, done := f.visited[key]; done {
			continue
		}
		f.visited[key] = struct{}{}
		return u, true
	}
	return nil, false
}

// Len reports how many URLs are waiting.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// Visited reports how many distinct URLs were fetched or marked.
func (f *Frontier) Visited() int {
	return len(f.visited)
}

// canonicalKey lower-cases scheme and host, drops default ports and the
// fragment, and maps an empty path to "/".
func canonicalKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
