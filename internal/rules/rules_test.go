package rules

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/remiPra/seo-crawler/internal/extras"
	"github.com/remiPra/seo-crawler/internal/signals"
	"github.com/remiPra/seo-crawler/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func inputFor(t *testing.T, html string) Input {
	t.Helper()
	sig := signals.Extract([]byte(html))
	u, err := url.Parse("https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	return Input{Signals: &sig, HTML: []byte(html), URL: u, Headers: types.Headers{}}
}

func hasIssue(res Result, id string) bool {
	for _, is := range res.Issues {
		if is.RuleID == id {
			return true
		}
	}
	return false
}

func TestHeadingsRule(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		delta int
		issue string
	}{
		{"none", `<p>text</p>`, -20, "HEADINGS_NONE"},
		{"no h1", `<h2>a</h2><h3>b</h3>`, -15, "H1_MISSING"},
		{"two h1", `<h1>a</h1><h1>b</h1>`, -10, "H1_MULTIPLE"},
		{"one h1", `<h1>a</h1><h2>b</h2>`, 3, "H1_OK"},
		{"skip once", `<h1>a</h1><h3>b</h3><h2>c</h2><h4>d</h4>`, 0, "HIERARCHY_LOGIC_BROKEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := headingsRule(inputFor(t, tc.body))
			if err != nil {
				t.Fatal(err)
			}
			if res.ScoreDelta != tc.delta {
				t.Errorf("delta = %d, want %d", res.ScoreDelta, tc.delta)
			}
			if !hasIssue(res, tc.issue) {
				t.Errorf("expected issue %s in %+v", tc.issue, res.Issues)
			}
		})
	}
}

func TestHeadingsSingleH1ScoresHighest(t *testing.T) {
	single, _ := headingsRule(inputFor(t, `<h1>a</h1>`))
	for _, body := range []string{`<h2>a</h2>`, `<h1>a</h1><h1>b</h1>`, `<p>none</p>`} {
		other, _ := headingsRule(inputFor(t, body))
		if other.ScoreDelta >= single.ScoreDelta {
			t.Fatalf("%q scored %d, not below single h1 %d", body, other.ScoreDelta, single.ScoreDelta)
		}
	}
}

func TestMetaRule(t *testing.T) {
	title := strings.Repeat("t", 55)
	desc := strings.Repeat("d", 140)

	clean := fmt.Sprintf(`<title>%s</title><meta name="description" content="%s"><link rel="canonical" href="/">`, title, desc)
	res, _ := metaRule(inputFor(t, clean))
	if res.ScoreDelta != 5 || len(res.Issues) != 0 {
		t.Fatalf("clean page: delta %d issues %+v", res.ScoreDelta, res.Issues)
	}

	res, _ = metaRule(inputFor(t, `<title>short</title><meta name="robots" content="NOINDEX">`))
	// -6 title length, -6 no description, -4 no canonical, -30 noindex
	if res.ScoreDelta != -46 {
		t.Fatalf("delta = %d, want -46", res.ScoreDelta)
	}
	for _, id := range []string{"META_TITLE_LENGTH", "META_DESC_MISSING", "CANONICAL_MISSING", "ROBOTS_NOINDEX"} {
		if !hasIssue(res, id) {
			t.Errorf("missing issue %s", id)
		}
	}

	res, _ = metaRule(inputFor(t, `<p>nothing</p>`))
	if !hasIssue(res, "META_TITLE_MISSING") {
		t.Fatalf("expected META_TITLE_MISSING, got %+v", res.Issues)
	}
}

func TestEEATRule(t *testing.T) {
	body := `<a href="/privacy">p</a><a href="/terms">t</a><a href="/about">About</a><a href="/x">Contact us</a>
<script type="application/ld+json">{"@graph":[{"@type":"Person","name":"A"}]}</script>`
	res, _ := eeatRule(inputFor(t, body))
	if res.ScoreDelta != 13 {
		t.Fatalf("delta = %d, want 13", res.ScoreDelta)
	}

	res, _ = eeatRule(inputFor(t, `<a href="/about">a</a><script type="application/ld+json">{broken</script>`))
	if res.ScoreDelta != -11 || !hasIssue(res, "EAT_LEGAL_MISSING") || !hasIssue(res, "EAT_AUTHOR_SCHEMA_MISSING") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSchemaRule(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		delta int
	}{
		{"none", `<p>x</p>`, -3},
		{"faq and article", `<script type="application/ld+json">[{"@type":"FAQPage"},{"@type":["NewsArticle"]}]</script>`, 8},
		{"howto", `<script type="application/ld+json">{"@type":"HowTo"}</script>`, 4},
		{"other type", `<script type="application/ld+json">{"@type":"Organization"}</script>`, -3},
		{"malformed skipped", `<script type="application/ld+json">{"@type":"FAQPage"</script><script type="application/ld+json">{"@type":"HowTo"}</script>`, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := schemaRule(inputFor(t, tc.body))
			if err != nil {
				t.Fatal(err)
			}
			if res.ScoreDelta != tc.delta {
				t.Errorf("delta = %d, want %d (%+v)", res.ScoreDelta, tc.delta, res.Issues)
			}
		})
	}
}

func TestImageRules(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, `<img src="/%d.png">`, i)
	}
	in := inputFor(t, b.String())

	res, _ := imageAltRule(in)
	if res.ScoreDelta != -10 {
		t.Errorf("alt delta = %d, want -10 (capped)", res.ScoreDelta)
	}
	res, _ = coreWebVitalsRule(in)
	if res.ScoreDelta != -5 {
		t.Errorf("cwv delta = %d, want -5", res.ScoreDelta)
	}
	res, _ = imageFormatRule(in)
	if res.ScoreDelta != 0 || !hasIssue(res, "IMG_FORMATS") {
		t.Errorf("format result %+v", res)
	}

	res, _ = imageFormatRule(inputFor(t, `<img src="/hero.AVIF" alt="x">`))
	if res.ScoreDelta != 1 {
		t.Errorf("avif delta = %d, want 1", res.ScoreDelta)
	}
}

func TestCoreWebVitalsFetchPriority(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		delta int
		issue string
	}{
		{"high priority with dimensions", `<img src="/hero.webp" fetchpriority="HIGH" width="800" height="400">`, 6, "CWV_FETCHPRIORITY_IMG"},
		{"low priority", `<img src="/hero.webp" fetchpriority="low" width="800" height="400">`, 0, "CWV_FETCHPRIORITY_MISSING"},
		{"no images", `<p>text</p>`, 0, "CWV_FETCHPRIORITY_MISSING"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := coreWebVitalsRule(inputFor(t, tc.body))
			if err != nil {
				t.Fatal(err)
			}
			if res.ScoreDelta != tc.delta {
				t.Errorf("delta = %d, want %d", res.ScoreDelta, tc.delta)
			}
			if !hasIssue(res, tc.issue) {
				t.Errorf("expected issue %s in %+v", tc.issue, res.Issues)
			}
		})
	}
}

type ruleCase struct {
	name  string
	body  string
	delta int
	// issues lists every issue id expected; empty means none.
	issues []string
}

func runRuleCases(t *testing.T, rule func(Input) (Result, error), cases []ruleCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule(inputFor(t, tc.body))
			if err != nil {
				t.Fatal(err)
			}
			if res.ScoreDelta != tc.delta {
				t.Errorf("delta = %d, want %d", res.ScoreDelta, tc.delta)
			}
			if len(res.Issues) != len(tc.issues) {
				t.Errorf("issues = %+v, want %v", res.Issues, tc.issues)
			}
			for _, id := range tc.issues {
				if !hasIssue(res, id) {
					t.Errorf("expected issue %s in %+v", id, res.Issues)
				}
			}
		})
	}
}

func paragraphOf(n int) string {
	return "<p>" + strings.Repeat("word ", n) + "</p>"
}

func TestAEOMetaRule(t *testing.T) {
	runRuleCases(t, aeoMetaRule, []ruleCase{
		{"none", `<meta name="description" content="x">`, -3, []string{"AEO_NO_OPTIMIZATION"}},
		{"ai declaration", `<meta name="ai-content-declaration" content="human">`, 5, []string{"AEO_EARLY_ADOPTER"}},
		{"llm friendly", `<meta name="LLM-Friendly" content="true">`, 5, []string{"AEO_EARLY_ADOPTER"}},
		{"all three", `<meta name="ai-content-declaration" content="a"><meta name="llm-friendly" content="b"><meta name="content-summary" content="c">`, 5, []string{"AEO_EARLY_ADOPTER"}},
	})
}

func TestI18nMobileRule(t *testing.T) {
	viewport := `<meta name="viewport" content="width=device-width">`
	manifest := `<link rel="manifest" href="/site.webmanifest">`
	runRuleCases(t, i18nMobileRule, []ruleCase{
		{"bare", `<html><body></body></html>`, -8, []string{"I18N_LANG_MISSING", "MOBILE_VIEWPORT_MISSING"}},
		{"lang only", `<html lang="fr"><body></body></html>`, -3, []string{"MOBILE_VIEWPORT_MISSING"}},
		{"viewport only", `<html><head>` + viewport + `</head></html>`, -1, []string{"I18N_LANG_MISSING"}},
		{"lang and viewport", `<html lang="en"><head>` + viewport + `</head></html>`, 4, nil},
		{"full pwa", `<html lang="en"><head>` + viewport + manifest + `</head></html>`, 7, []string{"PWA_READY"}},
		{"blank lang", `<html lang="  "><head>` + viewport + `</head></html>`, -1, []string{"I18N_LANG_MISSING"}},
	})
}

func TestContentRule(t *testing.T) {
	runRuleCases(t, contentRule, []ruleCase{
		{"empty", `<p></p>`, -3, []string{"CONTENT_SHORT"}},
		{"just under 300", paragraphOf(299), -3, []string{"CONTENT_SHORT"}},
		{"300", paragraphOf(300), 2, nil},
		{"999", paragraphOf(999), 2, nil},
		{"1000", paragraphOf(1000), 5, []string{"CONTENT_EXCELLENT_LENGTH"}},
		{"script text ignored", `<script>` + strings.Repeat("var x; ", 400) + `</script>` + paragraphOf(10), -3, []string{"CONTENT_SHORT"}},
	})
}

func TestSocialRule(t *testing.T) {
	ogTitle := `<meta property="og:title" content="t">`
	ogImage := `<meta property="og:image" content="/i.png">`
	card := `<meta name="twitter:card" content="summary">`
	runRuleCases(t, socialRule, []ruleCase{
		{"nothing", `<p>x</p>`, -3, []string{"SOCIAL_OG_MISSING", "SOCIAL_TWITTER_MISSING"}},
		{"title without image", ogTitle + card, -1, []string{"SOCIAL_OG_MISSING"}},
		{"og complete", ogTitle + ogImage, 0, []string{"SOCIAL_TWITTER_MISSING"}},
		{"og as name attribute", `<meta name="og:title" content="t"><meta name="og:image" content="i">` + card, -1, []string{"SOCIAL_OG_MISSING"}},
		{"all present", ogTitle + ogImage + card, 2, nil},
	})
}

func TestLinksRule(t *testing.T) {
	runRuleCases(t, linksRule, []ruleCase{
		{"no links", `<p>x</p>`, -3, []string{"LINKS_INTERNAL_ZERO"}},
		{"absolute only", `<a href="https://example.com/a">a</a><a href="mailto:x@example.com">m</a>`, -3, []string{"LINKS_INTERNAL_ZERO"}},
		{"relative without slash", `<a href="about.html">about</a>`, -3, []string{"LINKS_INTERNAL_ZERO"}},
		{"root relative", `<a href="https://other.test/">o</a><a href="/about">about</a>`, 0, nil},
		{"fragment", `<a href="#top">top</a>`, 0, nil},
	})
}

func TestLandmarksRule(t *testing.T) {
	runRuleCases(t, landmarksRule, []ruleCase{
		{"all four", `<header></header><nav></nav><main></main><footer></footer>`, 1, nil},
		{"missing footer", `<header></header><nav></nav><main></main>`, 0, []string{"LANDMARKS_MISSING"}},
		{"none", `<div>x</div>`, 0, []string{"LANDMARKS_MISSING"}},
	})
}

func TestSeparateInputRules(t *testing.T) {
	res, _ := SecurityHeaders{}.EvaluateHeaders(types.Headers{"content-security-policy": "default-src 'self'", "x-frame-options": "DENY"})
	if res.ScoreDelta != 3 {
		t.Errorf("secure headers delta = %d", res.ScoreDelta)
	}
	res, _ = SecurityHeaders{}.EvaluateHeaders(types.Headers{})
	if res.ScoreDelta != -4 {
		t.Errorf("empty headers delta = %d", res.ScoreDelta)
	}

	res, _ = AEOFiles{}.EvaluateSite(extras.Site{Host: "example.com", LLMSTxtStatus: 200, AITxtStatus: 200})
	if res.ScoreDelta != 2 {
		t.Errorf("both files delta = %d", res.ScoreDelta)
	}
	res, _ = AEOFiles{}.EvaluateSite(extras.Site{Host: "example.com", LLMSTxtStatus: 200})
	if res.ScoreDelta != -1 {
		t.Errorf("missing ai.txt delta = %d", res.ScoreDelta)
	}
	res, _ = AEOFiles{}.EvaluateSite(extras.Site{})
	if res.ScoreDelta != 0 || len(res.Issues) != 0 {
		t.Errorf("unknown site should be neutral, got %+v", res)
	}
}

func TestEngineIsolatesFailures(t *testing.T) {
	list := []Rule{
		New("A", func(Input) (Result, error) { return Result{ScoreDelta: 2, Issues: []Issue{{RuleID: "A_ISSUE"}}}, nil }),
		New("BOOM", func(Input) (Result, error) { panic("nil map") }),
		New("ERR", func(Input) (Result, error) { return Result{ScoreDelta: 50}, errors.New("bad input") }),
		New("C", func(Input) (Result, error) { return Result{ScoreDelta: -1}, nil }),
	}
	engine := NewEngine(list, SecurityHeaders{}, nil, quietLogger())
	report := engine.Run(inputFor(t, `<h1>x</h1>`))

	if report.ScoreDelta != 2-1-4 {
		t.Fatalf("ScoreDelta = %d, want %d", report.ScoreDelta, 2-1-4)
	}
	if len(report.Outcomes) != 5 {
		t.Fatalf("expected 5 outcomes, got %d", len(report.Outcomes))
	}
	if !errors.Is(report.Outcomes[1].Err, ErrRulePanic) {
		t.Fatalf("expected panic outcome, got %v", report.Outcomes[1].Err)
	}
	if got := strings.Join(report.Failures(), ","); got != "BOOM,ERR" {
		t.Fatalf("Failures = %q", got)
	}
	if len(report.Issues) != 2 || report.Issues[0].RuleID != "A_ISSUE" {
		t.Fatalf("unexpected issues %+v", report.Issues)
	}
}

func TestEngineWithout(t *testing.T) {
	engine := Default(quietLogger())
	if got := len(engine.IDs()); got != 15 {
		t.Fatalf("default catalog has %d rules, want 15", got)
	}
	trimmed := engine.Without("cwv", " SECURITY_HEADERS ", IDAEOFiles)
	ids := strings.Join(trimmed.IDs(), ",")
	for _, gone := range []string{IDCoreWebVitals, IDSecurityHeaders, IDAEOFiles} {
		if strings.Contains(","+ids+",", ","+gone+",") {
			t.Fatalf("%s still present in %s", gone, ids)
		}
	}
	if trimmed.IDs()[0] != IDMeta || len(trimmed.IDs()) != 12 {
		t.Fatalf("unexpected order %s", ids)
	}
	if len(engine.IDs()) != 15 {
		t.Fatalf("Without must not mutate the receiver")
	}
}

func TestDefaultEngineIsDeterministic(t *testing.T) {
	in := inputFor(t, `<!DOCTYPE html><html lang="en"><head><title>x</title></head><body><h1>x</h1><a href="/">home</a></body></html>`)
	engine := Default(quietLogger())
	a := engine.Run(in)
	b := engine.Run(in)
	if a.ScoreDelta != b.ScoreDelta || len(a.Issues) != len(b.Issues) {
		t.Fatalf("runs differ: %d/%d vs %d/%d", a.ScoreDelta, len(a.Issues), b.ScoreDelta, len(b.Issues))
	}
	for i := range a.Issues {
		if a.Issues[i].RuleID != b.Issues[i].RuleID {
			t.Fatalf("issue order differs at %d", i)
		}
	}
}
