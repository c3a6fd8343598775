package rules

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/remiPra/seo-crawler/internal/extras"
	"github.com/remiPra/seo-crawler/internal/signals"
	"github.com/remiPra/seo-crawler/pkg/types"
)

// Rule ids, as accepted by rules.disabled.
const (
	IDMeta            = "META"
	IDHeadings        = "HEADINGS"
	IDAEOMeta         = "AEO_META"
	IDEEAT            = "EEAT"
	IDCoreWebVitals   = "CWV"
	IDSchema          = "SCHEMA"
	IDI18nMobile      = "I18N_MOBILE"
	IDContent         = "CONTENT"
	IDSocial          = "SOCIAL"
	IDLinks           = "LINKS"
	IDImageAlt        = "IMG_ALT"
	IDImageFormat     = "IMG_FORMAT"
	IDLandmarks       = "LANDMARKS"
	IDSecurityHeaders = "SECURITY_HEADERS"
	IDAEOFiles        = "AEO_LLM_FILES"
)

// DefaultRules returns the page rules in execution order.
func DefaultRules() []Rule {
	return []Rule{
		New(IDMeta, metaRule),
		New(IDHeadings, headingsRule),
		New(IDAEOMeta, aeoMetaRule),
		New(IDEEAT, eeatRule),
		New(IDCoreWebVitals, coreWebVitalsRule),
		New(IDSchema, schemaRule),
		New(IDI18nMobile, i18nMobileRule),
		New(IDContent, contentRule),
		New(IDSocial, socialRule),
		New(IDLinks, linksRule),
		New(IDImageAlt, imageAltRule),
		New(IDImageFormat, imageFormatRule),
		New(IDLandmarks, landmarksRule),
	}
}

type builder struct {
	res Result
}

func (b *builder) add(delta int) {
	b.res.ScoreDelta += delta
}

func (b *builder) issue(delta int, id, topic string, sev Severity, msg string, evidence map[string]any) {
	b.res.ScoreDelta += delta
	b.res.Issues = append(b.res.Issues, Issue{RuleID: id, Topic: topic, Severity: sev, Message: msg, Evidence: evidence})
}

func (b *builder) done() (Result, error) {
	return b.res, nil
}

func metaRule(in Input) (Result, error) {
	var b builder
	sig := in.Signals

	title := sig.Title
	switch n := utf8.RuneCountInString(title); {
	case title == "":
		b.issue(-12, "META_TITLE_MISSING", "meta", SeverityError, "Page has no <title>.", nil)
	case n < 50 || n > 70:
		b.issue(-6, "META_TITLE_LENGTH", "meta", SeverityWarn, "Title should be between 50 and 70 characters.", map[string]any{"length": n})
	default:
		b.add(2)
	}

	desc := strings.TrimSpace(sig.MetaDescription)
	switch n := utf8.RuneCountInString(desc); {
	case desc == "":
		b.issue(-6, "META_DESC_MISSING", "meta", SeverityWarn, "Page has no meta description.", nil)
	case n < 120 || n > 160:
		b.issue(-2, "META_DESC_LENGTH", "meta", SeverityInfo, "Meta description should be between 120 and 160 characters.", map[string]any{"length": n})
	default:
		b.add(2)
	}

	if sig.CanonicalURL == "" {
		b.issue(-4, "CANONICAL_MISSING", "meta", SeverityWarn, "No <link rel=\"canonical\"> declared.", nil)
	} else {
		b.add(1)
	}

	if sig.Noindex() {
		b.issue(-30, "ROBOTS_NOINDEX", "indexing", SeverityError, "Meta robots forbids indexing of this page.", map[string]any{"meta_robots": sig.MetaRobots})
	}
	return b.done()
}

func headingsRule(in Input) (Result, error) {
	var b builder
	headings := in.Signals.Headings
	if len(headings) == 0 {
		b.issue(-20, "HEADINGS_NONE", "headings", SeverityError, "Page has no headings.", nil)
		return b.done()
	}

	switch h1 := len(in.Signals.HeadingsAt(1)); {
	case h1 == 0:
		b.issue(-15, "H1_MISSING", "headings", SeverityError, "Page has no <h1>.", nil)
	case h1 > 1:
		b.issue(-10, "H1_MULTIPLE", "headings", SeverityWarn, "Page has more than one <h1>.", map[string]any{"count": h1})
	default:
		b.issue(3, "H1_OK", "headings", SeverityInfo, "Exactly one <h1>.", nil)
	}

	for i := 1; i < len(headings); i++ {
		prev, cur := headings[i-1].Level, headings[i].Level
		if cur > prev+1 {
			b.issue(-3, "HIERARCHY_LOGIC_BROKEN", "headings", SeverityWarn, "Heading levels skip a level.",
				map[string]any{"from": prev, "to": cur, "text": headings[i].Text})
			break
		}
	}
	return b.done()
}

var aeoMetaNames = []string{"ai-content-declaration", "llm-friendly", "content-summary"}

func aeoMetaRule(in Input) (Result, error) {
	var b builder
	var found []string
	for _, name := range aeoMetaNames {
		if _, ok := in.Signals.Meta(name); ok {
			found = append(found, name)
		}
	}
	if len(found) > 0 {
		b.issue(5, "AEO_EARLY_ADOPTER", "aeo", SeverityInfo, "AI-oriented meta tags declared.", map[string]any{"tags": found})
	} else {
		b.issue(-3, "AEO_NO_OPTIMIZATION", "aeo", SeverityInfo, "No AI-oriented meta tags (ai-content-declaration, llm-friendly, content-summary).", nil)
	}
	return b.done()
}

var legalKeywords = []string{"privacy", "terms", "legal", "mentions", "about", "contact"}

func eeatRule(in Input) (Result, error) {
	var b builder
	var haystack strings.Builder
	for _, l := range in.Signals.Links {
		haystack.WriteString(strings.ToLower(l.Href))
		haystack.WriteByte(' ')
		haystack.WriteString(strings.ToLower(l.Text))
		haystack.WriteByte('\n')
	}
	text := haystack.String()
	var found []string
	for _, kw := range legalKeywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	if len(found) < 4 {
		b.issue(-8, "EAT_LEGAL_MISSING", "eeat", SeverityWarn, "Few trust pages linked (privacy, terms, legal, about, contact).", map[string]any{"found": found})
	} else {
		b.issue(8, "EAT_LEGAL_OK", "eeat", SeverityInfo, "Trust pages are linked.", map[string]any{"found": found})
	}

	if _, ok := jsonLDTypes(in.Signals.JSONLDBlocks).types["Person"]; ok {
		b.issue(5, "EAT_AUTHOR_SCHEMA", "eeat", SeverityInfo, "Author declared with Person structured data.", nil)
	} else {
		b.issue(-3, "EAT_AUTHOR_SCHEMA_MISSING", "eeat", SeverityInfo, "No Person structured data for the author.", nil)
	}
	return b.done()
}

func coreWebVitalsRule(in Input) (Result, error) {
	var b builder
	images := in.Signals.Images

	priority := false
	withDims := 0
	for _, img := range images {
		if img.FetchPriority == "high" {
			priority = true
		}
		if img.HasDimensions {
			withDims++
		}
	}
	if priority {
		b.issue(4, "CWV_FETCHPRIORITY_IMG", "performance", SeverityInfo, "Hero image uses fetchpriority=high.", nil)
	} else {
		b.issue(-2, "CWV_FETCHPRIORITY_MISSING", "performance", SeverityInfo, "No image uses fetchpriority=high for the LCP candidate.", nil)
	}

	if len(images) > 0 && float64(withDims)/float64(len(images)) < 0.8 {
		b.issue(-3, "CWV_IMG_DIMENSIONS_MISSING", "performance", SeverityWarn, "Images lack explicit width and height, causing layout shift.",
			map[string]any{"with_dimensions": withDims, "images": len(images)})
	} else {
		b.add(2)
	}
	return b.done()
}

var aeoSchemas = []struct {
	name  string
	delta int
}{
	{"FAQPage", 5},
	{"HowTo", 4},
	{"Article", 3},
}

func schemaRule(in Input) (Result, error) {
	var b builder
	blocks := in.Signals.JSONLDBlocks
	if len(blocks) == 0 {
		b.issue(-3, "SCHEMA_NO_JSONLD", "schema", SeverityWarn, "No JSON-LD structured data.", nil)
		return b.done()
	}

	parsed := jsonLDTypes(blocks)
	if parsed.malformed > 0 {
		b.issue(0, "SCHEMA_JSONLD_INVALID", "schema", SeverityWarn, "Some JSON-LD blocks are not valid JSON.", map[string]any{"invalid_blocks": parsed.malformed})
	}

	var matched []string
	delta := 0
	for _, s := range aeoSchemas {
		if parsed.has(s.name) {
			matched = append(matched, s.name)
			delta += s.delta
		}
	}
	if len(matched) == 0 {
		b.issue(-3, "SCHEMA_AEO_MISSING", "schema", SeverityInfo, "No answer-oriented schema (FAQPage, HowTo, Article).", nil)
	} else {
		b.issue(delta, "SCHEMA_AEO_OPTIMIZED", "schema", SeverityInfo, "Answer-oriented schema found.", map[string]any{"types": matched})
	}
	return b.done()
}

func i18nMobileRule(in Input) (Result, error) {
	var b builder
	sig := in.Signals
	if sig.Lang == "" {
		b.issue(-3, "I18N_LANG_MISSING", "i18n", SeverityWarn, "<html> has no lang attribute.", nil)
	} else {
		b.add(2)
	}
	if _, ok := sig.Meta("viewport"); ok {
		b.add(2)
	} else {
		b.issue(-5, "MOBILE_VIEWPORT_MISSING", "mobile", SeverityError, "No viewport meta tag.", nil)
	}
	if sig.HasManifest {
		b.issue(3, "PWA_READY", "mobile", SeverityInfo, "Web app manifest linked.", nil)
	}
	return b.done()
}

func contentRule(in Input) (Result, error) {
	var b builder
	switch words := in.Signals.WordCount; {
	case words < 300:
		b.issue(-3, "CONTENT_SHORT", "content", SeverityWarn, "Thin content: fewer than 300 words.", map[string]any{"words": words})
	case words >= 1000:
		b.issue(5, "CONTENT_EXCELLENT_LENGTH", "content", SeverityInfo, "In-depth content.", map[string]any{"words": words})
	default:
		b.add(2)
	}
	return b.done()
}

func socialRule(in Input) (Result, error) {
	var b builder
	_, title := in.Signals.Property("og:title")
	_, image := in.Signals.Property("og:image")
	if title && image {
		b.add(1)
	} else {
		b.issue(-2, "SOCIAL_OG_MISSING", "social", SeverityInfo, "Open Graph title or image missing.",
			map[string]any{"og_title": title, "og_image": image})
	}
	if _, ok := in.Signals.Meta("twitter:card"); ok {
		b.add(1)
	} else {
		b.issue(-1, "SOCIAL_TWITTER_MISSING", "social", SeverityInfo, "No twitter:card meta tag.", nil)
	}
	return b.done()
}

func linksRule(in Input) (Result, error) {
	var b builder
	for _, l := range in.Signals.Links {
		if strings.HasPrefix(l.Href, "/") || strings.HasPrefix(l.Href, "#") {
			return b.done()
		}
	}
	b.issue(-3, "LINKS_INTERNAL_ZERO", "links", SeverityWarn, "No internal links found.", nil)
	return b.done()
}

func imageAltRule(in Input) (Result, error) {
	var b builder
	missing := in.Signals.ImagesWithoutAlt()
	if missing == 0 {
		b.add(2)
		return b.done()
	}
	b.issue(-min(10, missing), "IMG_NOALT", "accessibility", SeverityWarn, "Images without alt text.", map[string]any{"count": missing})
	return b.done()
}

func imageFormatRule(in Input) (Result, error) {
	var b builder
	for _, img := range in.Signals.Images {
		src := strings.ToLower(img.Src)
		if strings.Contains(src, ".webp") || strings.Contains(src, ".avif") {
			b.add(1)
			return b.done()
		}
	}
	if len(in.Signals.Images) > 0 {
		b.issue(0, "IMG_FORMATS", "performance", SeverityInfo, "Consider serving images as WebP or AVIF.", nil)
	}
	return b.done()
}

func landmarksRule(in Input) (Result, error) {
	var b builder
	var missing []string
	for _, tag := range signals.Landmarks {
		if !in.Signals.Landmarks[tag] {
			missing = append(missing, tag)
		}
	}
	if len(missing) == 0 {
		b.add(1)
	} else {
		b.issue(0, "LANDMARKS_MISSING", "accessibility", SeverityInfo, "Missing landmark elements.", map[string]any{"missing": missing})
	}
	return b.done()
}

var securityHeaders = []string{"content-security-policy", "x-frame-options"}

// SecurityHeaders scores the HEAD response headers.
type SecurityHeaders struct{}

func (SecurityHeaders) ID() string { return IDSecurityHeaders }

func (SecurityHeaders) EvaluateHeaders(headers types.Headers) (Result, error) {
	var b builder
	var missing []string
	for _, name := range securityHeaders {
		if !headers.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		b.issue(-4, "SEC_HEADERS", "security", SeverityWarn, "Security headers missing.", map[string]any{"missing": missing})
	} else {
		b.add(3)
	}
	return b.done()
}

// AEOFiles scores the host-wide /llms.txt and /ai.txt probes.
type AEOFiles struct{}

func (AEOFiles) ID() string { return IDAEOFiles }

func (AEOFiles) EvaluateSite(site extras.Site) (Result, error) {
	var b builder
	if site == (extras.Site{}) {
		return b.done()
	}
	if site.LLMSTxtStatus != 200 || site.AITxtStatus != 200 {
		b.issue(-1, "AEO_LLM_FILES", "aeo", SeverityInfo, "llms.txt or ai.txt not served.",
			map[string]any{"llms_txt": site.LLMSTxtStatus, "ai_txt": site.AITxtStatus})
	} else {
		b.add(2)
	}
	return b.done()
}

type jsonLDSummary struct {
	types     map[string]struct{}
	malformed int
}

// has matches exact types and their more specific variants (NewsArticle for Article).
func (s jsonLDSummary) has(name string) bool {
	for t := range s.types {
		if t == name || strings.HasSuffix(t, name) {
			return true
		}
	}
	return false
}

// jsonLDTypes collects every @type in the blocks, skipping blocks that do not parse.
func jsonLDTypes(blocks []string) jsonLDSummary {
	out := jsonLDSummary{types: map[string]struct{}{}}
	for _, raw := range blocks {
		var doc any
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
			out.malformed++
			continue
		}
		collectTypes(doc, out.types)
	}
	return out
}

func collectTypes(node any, into map[string]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		switch t := v["@type"].(type) {
		case string:
			into[t] = struct{}{}
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					into[s] = struct{}{}
				}
			}
		}
		for key, child := range v {
			if key != "@type" {
				collectTypes(child, into)
			}
		}
	case []any:
		for _, child := range v {
			collectTypes(child, into)
		}
	}
}
