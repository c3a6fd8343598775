package types

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Page represents the fetched content.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}

// Location returns the post-redirect URL, falling back to the requested one.
func (p *Page) Location() *url.URL {
	if p == nil {
		return nil
	}
	if p.FinalURL != nil {
		return p.FinalURL
	}
	return p.URL
}

// Headers maps lower-cased response header names to their first value.
type Headers map[string]string

// HeadersFrom flattens an http.Header into lower-cased keys.
func HeadersFrom(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = v[0]
	}
	return out
}

// Has reports whether the header is present, case-insensitively.
func (h Headers) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}
