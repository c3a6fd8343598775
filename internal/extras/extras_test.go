package extras

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingProber struct {
	calls atomic.Int64
	delay time.Duration
}

func (p *countingProber) Status(ctx context.Context, rawURL string) int {
	p.calls.Add(1)
	time.Sleep(p.delay)
	if strings.HasSuffix(rawURL, "/llms.txt") {
		return 200
	}
	return 404
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestGetProbesOncePerHost(t *testing.T) {
	prober := &countingProber{}
	cache := NewCache(prober)

	first := cache.Get(context.Background(), mustURL(t, "https://example.com/a"))
	second := cache.Get(context.Background(), mustURL(t, "https://EXAMPLE.com/b"))

	if first != second {
		t.Fatalf("expected identical cached values, got %+v and %+v", first, second)
	}
	if first.LLMSTxtStatus != 200 || first.AITxtStatus != 404 {
		t.Fatalf("unexpected statuses %+v", first)
	}
	if got := prober.calls.Load(); got != 2 {
		t.Fatalf("expected 2 probes (llms.txt + ai.txt), got %d", got)
	}

	cache.Get(context.Background(), mustURL(t, "https://other.example/"))
	if cache.Len() != 2 {
		t.Fatalf("expected 2 cached hosts, got %d", cache.Len())
	}
}

func TestGetConcurrentSameHost(t *testing.T) {
	prober := &countingProber{delay: 20 * time.Millisecond}
	cache := NewCache(prober)
	target := mustURL(t, "https://example.com/")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get(context.Background(), target)
		}()
	}
	wg.Wait()

	if got := prober.calls.Load(); got != 2 {
		t.Fatalf("expected a single population (2 probes), got %d", got)
	}
}

func TestGetNilBase(t *testing.T) {
	cache := NewCache(&countingProber{})
	if got := cache.Get(context.Background(), nil); got != (Site{}) {
		t.Fatalf("expected zero Site, got %+v", got)
	}
}

// liveProber fails every request made on a cancelled context, the way an
// http.Client would.
type liveProber struct{}

func (liveProber) Status(ctx context.Context, rawURL string) int {
	if ctx.Err() != nil {
		return 0
	}
	if strings.HasSuffix(rawURL, "/llms.txt") {
		return 200
	}
	return 404
}

func TestGetIgnoresCallerCancellation(t *testing.T) {
	cache := NewCache(liveProber{})
	base := mustURL(t, "https://example.com/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	want := Site{Host: "example.com", LLMSTxtStatus: 200, AITxtStatus: 404}

	if got := cache.Get(ctx, base); got != want {
		t.Fatalf("cancelled caller: got %+v, want %+v", got, want)
	}
	if got := cache.Get(context.Background(), base); got != want {
		t.Fatalf("later caller: got %+v, want %+v", got, want)
	}
}
