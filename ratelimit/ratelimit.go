// Package ratelimit gates outbound navigations per target domain.
//
// One token bucket exists per target domain, created lazily on first use,
// plus a single global bucket bounding aggregate throughput regardless of
// how many distinct domains are in play. Buckets idle for an hour are
// evicted by a background loop so the domain map cannot grow without bound.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/snaredev/snare/config"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is the per-domain admission gate. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*bucket
	global  *rate.Limiter
	cfg     config.RateLimitConfig
	done    chan struct{}
}

// New creates a Limiter and starts its eviction loop.
func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		domains: make(map[string]*bucket),
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Stop terminates the eviction loop.
func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) forDomain(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.domains[domain]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.PerDomainRate), l.cfg.PerDomainBurst),
		}
		l.domains[domain] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// Admit is the non-blocking admission check: true when both the domain
// bucket and the global bucket have a token available right now.
func (l *Limiter) Admit(domain string) bool {
	// Reserve the global token first so a domain-level denial does not
	// burn aggregate capacity.
	gr := l.global.Reserve()
	if !gr.OK() || gr.Delay() > 0 {
		gr.Cancel()
		return false
	}
	if !l.forDomain(domain).Allow() {
		gr.Cancel()
		return false
	}
	return true
}

// Wait blocks until both buckets admit the domain or ctx is done. The
// caller's context carries the task's own deadline, so a task never waits
// past its budget.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	if err := l.forDomain(domain).Wait(ctx); err != nil {
		return err
	}
	return l.global.Wait(ctx)
}

// DomainCount returns the number of live domain buckets.
func (l *Limiter) DomainCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.domains)
}

// evictLoop drops domain buckets not seen in the last hour, every 5 minutes.
func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-1 * time.Hour)
			l.mu.Lock()
			for domain, b := range l.domains {
				if b.lastSeen.Before(cutoff) {
					delete(l.domains, domain)
				}
			}
			l.mu.Unlock()
		}
	}
}
