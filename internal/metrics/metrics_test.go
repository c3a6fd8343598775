package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorCounts(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.ObservePage("scored", 72)
	c.ObservePage("scored", 40)
	c.ObservePage("http_error", 0)
	c.ObserveRuleFailure("CWV")
	c.ObserveCrawl(1500 * time.Millisecond)

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case "seo_pages_total":
				got["pages:"+m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			case "seo_rule_failures_total":
				got["rule:"+m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			case "seo_page_score_global":
				got["scores"] = float64(m.GetHistogram().GetSampleCount())
			case "seo_crawl_duration_seconds":
				got["crawls"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	want := map[string]float64{"pages:scored": 2, "pages:http_error": 1, "rule:CWV": 1, "scores": 2, "crawls": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	c.ObservePage("fetch_failed", 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `seo_pages_total{outcome="fetch_failed"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
