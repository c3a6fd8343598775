package signals

import (
	"strings"

	"golang.org/x/net/html"
)

var hiddenTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"head":     {},
	"title":    {},
	"svg":      {},
}

var blockLevelTags = map[string]struct{}{
	"p":          {},
	"div":        {},
	"section":    {},
	"article":    {},
	"main":       {},
	"header":     {},
	"footer":     {},
	"nav":        {},
	"aside":      {},
	"h1":         {},
	"h2":         {},
	"h3":         {},
	"h4":         {},
	"h5":         {},
	"h6":         {},
	"ul":         {},
	"ol":         {},
	"li":         {},
	"table":      {},
	"tr":         {},
	"td":         {},
	"th":         {},
	"figure":     {},
	"figcaption": {},
	"blockquote": {},
	"pre":        {},
}

func findFirstElement(node *html.Node, tag string) *html.Node {
	if node == nil {
		return nil
	}
	if node.Type == html.ElementNode && strings.EqualFold(node.Data, tag) {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirstElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func hasDoctype(root *html.Node) bool {
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.DoctypeNode && strings.EqualFold(child.Data, "html") {
			return true
		}
	}
	return false
}

// textAccumulator joins text nodes with single spaces, breaking at block boundaries.
type textAccumulator struct {
	builder  strings.Builder
	lastRune rune
	hasLast  bool
}

func (t *textAccumulator) String() string {
	return t.builder.String()
}

func (t *textAccumulator) append(value string) {
	if value == "" {
		return
	}
	t.builder.WriteString(value)
	for _, r := range value {
		t.lastRune = r
		t.hasLast = true
	}
}

func (t *textAccumulator) separate(sep string) {
	if !t.hasLast || t.lastRune == ' ' || t.lastRune == '\n' {
		return
	}
	t.append(sep)
}

func accumulateVisibleText(node *html.Node, acc *textAccumulator) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		text := strings.Join(strings.Fields(node.Data), " ")
		if text == "" {
			return
		}
		acc.separate(" ")
		acc.append(text)
	case html.ElementNode, html.DocumentNode:
		tag := strings.ToLower(node.Data)
		if _, hidden := hiddenTags[tag]; hidden && node.Type == html.ElementNode {
			return
		}
		if tag == "br" {
			acc.separate("\n")
			return
		}
		_, block := blockLevelTags[tag]
		if block {
			acc.separate("\n")
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			accumulateVisibleText(child, acc)
		}
		if block {
			acc.separate("\n")
		}
	}
}

// visibleText returns the rendered-ish text of the document body.
func visibleText(root *html.Node) string {
	content := findFirstElement(root, "body")
	if content == nil {
		content = root
	}
	acc := &textAccumulator{}
	accumulateVisibleText(content, acc)
	return strings.TrimSpace(acc.String())
}
