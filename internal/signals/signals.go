// Package signals parses an HTML document once into the structured facts
// consumed by the scoring rules.
package signals

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Heading is one h1-h6 element with non-empty text.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Image summarises one <img> element.
type Image struct {
	Src           string `json:"src"`
	HasAlt        bool   `json:"has_alt"`
	HasDimensions bool   `json:"has_dimensions"`
	FetchPriority string `json:"fetch_priority,omitempty"`
}

// Link is one <a href> element, kept verbatim for link-quality rules.
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel,omitempty"`
	Text string `json:"text,omitempty"`
}

// Landmark element names checked for accessibility.
var Landmarks = []string{"main", "nav", "header", "footer"}

// PageSignals is the extraction result for one page. It is built once by
// Extract and treated as read-only afterwards.
type PageSignals struct {
	Title           string `json:"title"`
	MetaDescription string `json:"meta_description"`
	MetaRobots      string `json:"meta_robots"`
	CanonicalURL    string `json:"canonical_url"`
	Lang            string `json:"lang"`
	HasDoctype      bool   `json:"has_doctype"`
	HasManifest     bool   `json:"has_manifest"`

	// MetaNames maps lower-cased <meta name> values to their content.
	MetaNames map[string]string `json:"meta_names"`
	// MetaProperties maps lower-cased <meta property> values (og:*) to their content.
	MetaProperties map[string]string `json:"meta_properties"`

	Headings     []Heading       `json:"headings"`
	Images       []Image         `json:"images"`
	Links        []Link          `json:"links"`
	JSONLDBlocks []string        `json:"json_ld_blocks"`
	Landmarks    map[string]bool `json:"landmarks"`

	WordCount   int `json:"word_count"`
	RawHTMLSize int `json:"raw_html_size"`
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Extract parses the document exactly once. Malformed markup never fails:
// missing elements simply leave their fields empty.
func Extract(body []byte) PageSignals {
	sig := PageSignals{
		MetaNames:      map[string]string{},
		MetaProperties: map[string]string{},
		Landmarks:      map[string]bool{},
		RawHTMLSize:    len(body),
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return sig
	}
	doc := goquery.NewDocumentFromNode(root)

	sig.HasDoctype = hasDoctype(root)
	sig.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		sig.Lang = strings.TrimSpace(lang)
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := s.AttrOr("content", "")
		if name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", ""))); name != "" {
			if _, seen := sig.MetaNames[name]; !seen {
				sig.MetaNames[name] = content
			}
		}
		if prop := strings.ToLower(strings.TrimSpace(s.AttrOr("property", ""))); prop != "" {
			if _, seen := sig.MetaProperties[prop]; !seen {
				sig.MetaProperties[prop] = content
			}
		}
	})
	sig.MetaDescription = sig.MetaNames["description"]
	sig.MetaRobots = strings.ToLower(sig.MetaNames["robots"])

	doc.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		rels := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		for _, rel := range rels {
			switch rel {
			case "canonical":
				if sig.CanonicalURL == "" {
					sig.CanonicalURL = strings.TrimSpace(s.AttrOr("href", ""))
				}
			case "manifest":
				sig.HasManifest = true
			}
		}
	})

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		level := int(goquery.NodeName(s)[1] - '0')
		sig.Headings = append(sig.Headings, Heading{Level: level, Text: text})
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		width := strings.TrimSpace(s.AttrOr("width", ""))
		height := strings.TrimSpace(s.AttrOr("height", ""))
		sig.Images = append(sig.Images, Image{
			Src:           strings.TrimSpace(s.AttrOr("src", "")),
			HasAlt:        strings.TrimSpace(s.AttrOr("alt", "")) != "",
			HasDimensions: width != "" && height != "",
			FetchPriority: strings.ToLower(strings.TrimSpace(s.AttrOr("fetchpriority", ""))),
		})
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		sig.Links = append(sig.Links, Link{
			Href: strings.TrimSpace(s.AttrOr("href", "")),
			Rel:  strings.ToLower(strings.TrimSpace(s.AttrOr("rel", ""))),
			Text: strings.Join(strings.Fields(s.Text()), " "),
		})
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		kind := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if kind, _, _ = strings.Cut(kind, ";"); strings.TrimSpace(kind) != "application/ld+json" {
			return
		}
		sig.JSONLDBlocks = append(sig.JSONLDBlocks, s.Text())
	})

	for _, tag := range Landmarks {
		if doc.Find(tag).Length() > 0 {
			sig.Landmarks[tag] = true
		}
	}

	sig.WordCount = len(wordPattern.FindAllString(visibleText(root), -1))
	return sig
}

// Meta returns the content of <meta name=...> and whether the tag exists.
func (p *PageSignals) Meta(name string) (string, bool) {
	v, ok := p.MetaNames[strings.ToLower(name)]
	return v, ok
}

// Property returns the content of <meta property=...> and whether the tag exists.
func (p *PageSignals) Property(name string) (string, bool) {
	v, ok := p.MetaProperties[strings.ToLower(name)]
	return v, ok
}

// Noindex reports whether meta robots forbids indexing.
func (p *PageSignals) Noindex() bool {
	return strings.Contains(p.MetaRobots, "noindex")
}

// HeadingsAt returns the heading texts at the given level.
func (p *PageSignals) HeadingsAt(level int) []string {
	var out []string
	for _, h := range p.Headings {
		if h.Level == level {
			out = append(out, h.Text)
		}
	}
	return out
}

// ImagesWithoutAlt counts images whose alt is missing or blank.
func (p *PageSignals) ImagesWithoutAlt() int {
	n := 0
	for _, img := range p.Images {
		if !img.HasAlt {
			n++
		}
	}
	return n
}

var nonTraversable = []string{"mailto:", "tel:", "javascript:"}

// TraversableLinks resolves hrefs against base and returns the distinct
// http(s) URLs in document order, fragments removed.
func (p *PageSignals) TraversableLinks(base *url.URL) []*url.URL {
	if base == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(p.Links))
	out := make([]*url.URL, 0, len(p.Links))
outer:
	for _, link := range p.Links {
		if link.Href == "" {
			continue
		}
		lower := strings.ToLower(link.Href)
		for _, prefix := range nonTraversable {
			if strings.HasPrefix(lower, prefix) {
				continue outer
			}
		}
		u, err := base.Parse(link.Href)
		if err != nil {
			continue
		}
		u.Fragment = ""
		u.RawFragment = ""
		if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
			continue
		}
		key := u.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}
