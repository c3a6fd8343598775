package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateSettings configures an optional token bucket per host.
type RateSettings struct {
	Requests int
	Window   time.Duration
}

// Pacer keeps a crawl polite: a fixed pause after each scored page on a host,
// plus an optional token bucket on every request.
type Pacer struct {
	delay time.Duration
	rate  RateSettings

	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewPacer creates a pacer. A zero delay and zero rate disable pacing.
func NewPacer(delay time.Duration, rateCfg RateSettings) *Pacer {
	p := &Pacer{
		delay: delay,
		last:  make(map[string]time.Time),
	}
	if rateCfg.Requests > 0 && rateCfg.Window > 0 {
		p.rate = rateCfg
		p.limiters = make(map[string]*rate.Limiter)
	}
	return p
}

// Wait blocks until the host may be requested again.
func (p *Pacer) Wait(ctx context.Context, host string) error {
	if p == nil || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter

	p.mu.Lock()
	if p.delay > 0 {
		if last, ok := p.last[host]; ok {
			if rest := time.Until(last.Add(p.delay)); rest > 0 {
				sleep = rest
			}
		}
	}
	if p.limiters != nil {
		limiter = p.limiterLocked(host)
	}
	p.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

// Done starts the pause for host. Failed fetches do not call it.
func (p *Pacer) Done(host string) {
	if p == nil || p.delay <= 0 || host == "" {
		return
	}
	p.mu.Lock()
	p.last[strings.ToLower(host)] = time.Now()
	p.mu.Unlock()
}

func (p *Pacer) limiterLocked(host string) *rate.Limiter {
	if l, ok := p.limiters[host]; ok {
		return l
	}
	interval := p.rate.Window / time.Duration(p.rate.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	l := rate.NewLimiter(rate.Every(interval), p.rate.Requests)
	p.limiters[host] = l
	return l
}
