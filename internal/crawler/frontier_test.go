package crawler

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func TestCanonicalKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM", "https://example.com/"},
		{"https://example.com:443/a?b=1#frag", "https://example.com/a?b=1"},
		{"http://example.com:8080/a", "http://example.com:8080/a"},
		{"http://example.com:80/", "http://example.com/"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			u, err := url.Parse(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if got := canonicalKey(u); got != tc.want {
				t.Errorf("canonicalKey(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFrontierFIFOAndDedup(t *testing.T) {
	f := NewFrontier()
	for _, raw := range []string{"https://example.com", "https://example.com/a", "https://EXAMPLE.com/", "https://example.com/a#x", "https://example.com/b"} {
		u, _ := url.Parse(raw)
		f.Push(u)
	}
	if f.Len() != 3 {
		t.Fatalf("expected 3 queued URLs, got %d", f.Len())
	}

	redirected, _ := url.Parse("https://example.com/b")
	first, _ := f.Pop()
	f.MarkVisited(redirected)

	var order []string
	order = append(order, first.Path)
	for {
		u, ok := f.Pop()
		if !ok {
			break
		}
		order = append(order, u.Path)
	}
	if len(order) != 2 || order[0] != "" || order[1] != "/a" {
		t.Fatalf("unexpected pop order %q", order)
	}
	if f.Visited() != 3 {
		t.Fatalf("expected 3 visited, got %d", f.Visited())
	}
}

func TestPacerDelaysAfterDone(t *testing.T) {
	p := NewPacer(50*time.Millisecond, RateSettings{})
	ctx := context.Background()

	start := time.Now()
	if err := p.Wait(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatalf("first wait should not block")
	}

	p.Done("Example.com")
	start = time.Now()
	if err := p.Wait(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected pause after a scored page, waited %s", elapsed)
	}

	start = time.Now()
	if err := p.Wait(ctx, "other.example"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatalf("pacing must be per host")
	}
}

func TestPacerHonoursContext(t *testing.T) {
	p := NewPacer(time.Hour, RateSettings{})
	p.Done("example.com")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx, "example.com"); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNilPacer(t *testing.T) {
	var p *Pacer
	if err := p.Wait(context.Background(), "example.com"); err != nil {
		t.Fatal(err)
	}
	p.Done("example.com")
}
