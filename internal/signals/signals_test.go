package signals

import (
	"net/url"
	"reflect"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html lang="fr">
<head>
  <title>  Drums of the Earth  </title>
  <meta name="description" content="Handmade frame drums.">
  <meta name="Robots" content="NoIndex, follow">
  <meta name="viewport" content="width=device-width">
  <meta property="og:title" content="Drums">
  <link rel="canonical" href=" https://example.com/drums ">
  <link rel="manifest" href="/site.webmanifest">
  <script type="application/ld+json">{"@type":"Person","name":"Lise"}</script>
  <script type="application/ld+json; charset=utf-8">{"@type": "FAQPage"</script>
  <script>var ignored = "not counted words";</script>
</head>
<body>
  <header><nav><a href="/about">About us</a></nav></header>
  <main>
    <h1>Frame drums</h1>
    <h2>  </h2>
    <h3>Care   guide</h3>
    <p>Hello world, these are words.</p>
    <img src="/a.webp" alt="A drum" width="10" height="10" fetchpriority="HIGH">
    <img src="/b.jpg" alt="  ">
    <a href="mailto:hi@example.com">Mail</a>
    <a href="#top">Top</a>
  </main>
  <footer>Footer</footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	sig := Extract([]byte(samplePage))

	if sig.Title != "Drums of the Earth" {
		t.Fatalf("unexpected title %q", sig.Title)
	}
	if sig.MetaDescription != "Handmade frame drums." {
		t.Fatalf("unexpected description %q", sig.MetaDescription)
	}
	if !sig.Noindex() {
		t.Fatalf("expected noindex from %q", sig.MetaRobots)
	}
	if sig.CanonicalURL != "https://example.com/drums" {
		t.Fatalf("unexpected canonical %q", sig.CanonicalURL)
	}
	if sig.Lang != "fr" || !sig.HasDoctype || !sig.HasManifest {
		t.Fatalf("unexpected document facts lang=%q doctype=%v manifest=%v", sig.Lang, sig.HasDoctype, sig.HasManifest)
	}
	if _, ok := sig.Meta("viewport"); !ok {
		t.Fatalf("expected viewport meta")
	}
	if v, ok := sig.Property("og:title"); !ok || v != "Drums" {
		t.Fatalf("expected og:title, got %q", v)
	}

	wantHeadings := []Heading{{Level: 1, Text: "Frame drums"}, {Level: 3, Text: "Care guide"}}
	if !reflect.DeepEqual(sig.Headings, wantHeadings) {
		t.Fatalf("unexpected headings %+v", sig.Headings)
	}

	if len(sig.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(sig.Images))
	}
	if !sig.Images[0].HasAlt || !sig.Images[0].HasDimensions || sig.Images[0].FetchPriority != "high" {
		t.Fatalf("unexpected first image %+v", sig.Images[0])
	}
	if sig.Images[1].HasAlt || sig.Images[1].HasDimensions {
		t.Fatalf("unexpected second image %+v", sig.Images[1])
	}
	if sig.ImagesWithoutAlt() != 1 {
		t.Fatalf("expected 1 image without alt, got %d", sig.ImagesWithoutAlt())
	}

	if len(sig.Links) != 3 {
		t.Fatalf("expected all 3 links kept as signals, got %d", len(sig.Links))
	}
	if sig.Links[0].Href != "/about" || sig.Links[0].Text != "About us" {
		t.Fatalf("unexpected first link %+v", sig.Links[0])
	}

	if len(sig.JSONLDBlocks) != 2 {
		t.Fatalf("expected 2 json-ld blocks (malformed kept raw), got %d", len(sig.JSONLDBlocks))
	}
	for _, tag := range Landmarks {
		if !sig.Landmarks[tag] {
			t.Fatalf("expected landmark %s", tag)
		}
	}

	// About us / Frame drums / Care guide / Hello world these are words / Mail / Top / Footer
	if sig.WordCount != 14 {
		t.Fatalf("expected 14 visible words, got %d", sig.WordCount)
	}
	if sig.RawHTMLSize != len(samplePage) {
		t.Fatalf("unexpected raw size %d", sig.RawHTMLSize)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	a := Extract([]byte(samplePage))
	b := Extract([]byte(samplePage))
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("extraction of identical bytes must be identical")
	}
}

func TestExtractDegradesOnGarbage(t *testing.T) {
	inputs := []string{"", "not html at all", "<html><head><title>unclosed", "<<<>>>\x00\xff"}
	for _, in := range inputs {
		sig := Extract([]byte(in))
		if sig.RawHTMLSize != len(in) {
			t.Fatalf("unexpected raw size for %q", in)
		}
		if len(sig.Headings) != 0 || sig.CanonicalURL != "" {
			t.Fatalf("unexpected signals for %q: %+v", in, sig)
		}
	}
	if got := Extract([]byte("<html><head><title>unclosed")).Title; got != "unclosed" {
		t.Fatalf("expected lenient title parse, got %q", got)
	}
}

func TestTraversableLinks(t *testing.T) {
	page := `<a href="/a#frag">a</a>
<a href="b?x=1">b</a>
<a href="/a">dup</a>
<a href="MAILTO:x@y.z">m</a>
<a href="tel:+33">t</a>
<a href="javascript:void(0)">j</a>
<a href="ftp://example.com/f">f</a>
<a href="https://other.example/c">c</a>
<a href="">empty</a>`
	sig := Extract([]byte(page))
	base, _ := url.Parse("https://example.com/dir/page")

	var got []string
	for _, u := range sig.TraversableLinks(base) {
		got = append(got, u.String())
	}
	want := []string{
		"https://example.com/a",
		"https://example.com/dir/b?x=1",
		"https://other.example/c",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("TraversableLinks = %v, want %v", got, want)
	}
}
