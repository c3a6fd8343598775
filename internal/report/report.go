// Package report turns scored pages into the records returned by a crawl.
package report

import (
	"sort"
	"unicode/utf8"

	"github.com/remiPra/seo-crawler/internal/rules"
	"github.com/remiPra/seo-crawler/internal/signals"
)

// StatusRobotsBlocked marks the single record emitted when robots.txt
// disallows the whole site.
const StatusRobotsBlocked = 999

// Error messages carried by non-scored records.
const (
	ErrMsgRobotsBlocked = "blocked by robots.txt"
	ErrMsgFetchFailed   = "fetch-failed"
	ErrMsgOffHost       = "redirected off-host"
)

// PageRecord is the final per-page output. It is never modified once built.
type PageRecord struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`

	ScoreLegacy     int           `json:"score_legacy"`
	ScoreRules      int           `json:"score_rules"`
	ScoreGlobal     int           `json:"score_global"`
	Recommendations []rules.Issue `json:"recommendations"`
	RuleFailures    []string      `json:"rule_failures,omitempty"`

	Title                 string            `json:"title,omitempty"`
	TitleLength           int               `json:"title_length"`
	MetaDescription       string            `json:"meta_description,omitempty"`
	MetaDescriptionLength int               `json:"meta_description_length"`
	MetaRobots            string            `json:"meta_robots,omitempty"`
	Canonical             string            `json:"canonical,omitempty"`
	H1Count               int               `json:"h1_count"`
	H1                    []string          `json:"h1,omitempty"`
	H2Count               int               `json:"h2_count"`
	Headings              []signals.Heading `json:"headings,omitempty"`
	ImagesCount           int               `json:"images_count"`
	ImagesWithoutAlt      int               `json:"images_without_alt"`
	OGTitle               bool              `json:"og_title"`
	OGImage               bool              `json:"og_image"`
	TwitterCard           bool              `json:"twitter_card"`
	WordCount             int               `json:"word_count"`
	ApproxHTMLSize        int               `json:"approx_html_size"`
}

// Scored reports whether the record went through the rule engine.
func (r PageRecord) Scored() bool {
	return r.Error == ""
}

// LegacyScore is the simplified baseline kept for older report consumers.
// It depends only on the signals, never on which rules ran.
func LegacyScore(sig *signals.PageSignals) int {
	score := 100
	if n := utf8.RuneCountInString(sig.Title); sig.Title == "" || n < 10 || n > 70 {
		score -= 10
	}
	if n := utf8.RuneCountInString(sig.MetaDescription); sig.MetaDescription == "" || n < 50 || n > 170 {
		score -= 8
	}
	if len(sig.HeadingsAt(1)) != 1 {
		score -= 8
	}
	if sig.CanonicalURL == "" {
		score -= 4
	}
	if sig.Noindex() {
		score -= 30
	}
	return max(score, 0)
}

// Build assembles the record for a successfully scored page.
func Build(pageURL string, status int, sig *signals.PageSignals, rep rules.Report) PageRecord {
	legacy := LegacyScore(sig)
	_, ogTitle := sig.Property("og:title")
	_, ogImage := sig.Property("og:image")
	_, twitter := sig.Meta("twitter:card")

	recs := rep.Issues
	if recs == nil {
		recs = []rules.Issue{}
	}
	h1 := sig.HeadingsAt(1)
	return PageRecord{
		URL:                   pageURL,
		Status:                status,
		ScoreLegacy:           legacy,
		ScoreRules:            rep.ScoreDelta,
		ScoreGlobal:           clamp(legacy+rep.ScoreDelta, 0, 100),
		Recommendations:       recs,
		RuleFailures:          rep.Failures(),
		Title:                 sig.Title,
		TitleLength:           utf8.RuneCountInString(sig.Title),
		MetaDescription:       sig.MetaDescription,
		MetaDescriptionLength: utf8.RuneCountInString(sig.MetaDescription),
		MetaRobots:            sig.MetaRobots,
		Canonical:             sig.CanonicalURL,
		H1Count:               len(h1),
		H1:                    h1,
		H2Count:               len(sig.HeadingsAt(2)),
		Headings:              sig.Headings,
		ImagesCount:           len(sig.Images),
		ImagesWithoutAlt:      sig.ImagesWithoutAlt(),
		OGTitle:               ogTitle,
		OGImage:               ogImage,
		TwitterCard:           twitter,
		WordCount:             sig.WordCount,
		ApproxHTMLSize:        sig.RawHTMLSize,
	}
}

// Blocked is the only record of a crawl refused by robots.txt.
func Blocked(base string) PageRecord {
	return Failed(base, StatusRobotsBlocked, ErrMsgRobotsBlocked)
}

// Failed records a page that could not be scored.
func Failed(pageURL string, status int, msg string) PageRecord {
	return PageRecord{URL: pageURL, Status: status, Error: msg, Recommendations: []rules.Issue{}}
}

// SortWorstFirst orders records by ascending global score. Unscored records
// sort by their zero score; ties keep crawl order.
func SortWorstFirst(records []PageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ScoreGlobal < records[j].ScoreGlobal
	})
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
