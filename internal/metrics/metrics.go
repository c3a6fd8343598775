// Package metrics exposes crawl telemetry as Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seo"

// Collector records page outcomes, rule failures and crawl durations.
type Collector struct {
	registry *prometheus.Registry

	pages        *prometheus.CounterVec
	ruleFailures *prometheus.CounterVec
	crawlTime    prometheus.Histogram
	pageScore    prometheus.Histogram
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Crawled pages by outcome.",
		}, []string{"outcome"}),
		ruleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_failures_total",
			Help:      "Scoring rules that failed on a page.",
		}, []string{"rule"}),
		crawlTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_duration_seconds",
			Help:      "Wall time of complete crawls.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		pageScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_score_global",
			Help:      "Global score of scored pages.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
	}
	for _, col := range []prometheus.Collector{c.pages, c.ruleFailures, c.crawlTime, c.pageScore} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// ObservePage counts a page. Only scored pages feed the score histogram.
func (c *Collector) ObservePage(outcome string, scoreGlobal int) {
	c.pages.WithLabelValues(outcome).Inc()
	if outcome == "scored" {
		c.pageScore.Observe(float64(scoreGlobal))
	}
}

// ObserveRuleFailure counts a failed rule invocation.
func (c *Collector) ObserveRuleFailure(rule string) {
	c.ruleFailures.WithLabelValues(rule).Inc()
}

// ObserveCrawl records how long a crawl took.
func (c *Collector) ObserveCrawl(d time.Duration) {
	c.crawlTime.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
