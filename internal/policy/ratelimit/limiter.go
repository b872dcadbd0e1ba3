// Package ratelimit spaces out Tier-1 requests per supplier site. Buckets are
// keyed by registrable domain, so www.shop.ru and shop.ru share one.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/metrics"
)

const (
	defaultIdleTTL = 10 * time.Minute
	unknownSite    = "unknown"
)

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling. Buckets unused for IdleTTL are dropped on the next sweep.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	IdleTTL      time.Duration
	Now          func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// Limiter hands out one token bucket per site.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	every     rate.Limit
	burst     int
	idleTTL   time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	every := rate.Inf
	if cfg.DefaultRPS > 0 {
		every = rate.Limit(cfg.DefaultRPS)
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		every:   every,
		burst:   max(cfg.DefaultBurst, 1),
		idleTTL: cfg.IdleTTL,
		now:     cfg.Now,
	}
	if l.idleTTL <= 0 {
		l.idleTTL = defaultIdleTTL
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Wait blocks until rawURL's site may be fetched again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	site := enrich.NormalizeDomain(rawURL)
	if site == "" {
		site = unknownSite
	}
	lim := l.acquire(site)

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", site, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, waited)
	}
	return nil
}

// Len reports how many site buckets are currently held.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) acquire(site string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[site]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[site] = b
	}
	b.lastUsed = now
	return b.lim
}

// sweep drops idle buckets. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	for site, b := range l.buckets {
		if now.Sub(b.lastUsed) >= l.idleTTL {
			delete(l.buckets, site)
		}
	}
	l.lastSweep = now
}
