package osc

import (
	"sync"
	"time"
)

// RateLimiter is a per-source-address token bucket applied ahead of
// message dispatch. Unconfigured (nil), it is a no-op and the receiver
// accepts at any rate.
type RateLimiter struct {
	maxPerSecond float64

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter builds a RateLimiter allowing up to maxPerSecond
// messages per source address, replenished continuously.
func NewRateLimiter(maxPerSecond float64) *RateLimiter {
	return &RateLimiter{maxPerSecond: maxPerSecond, buckets: make(map[string]*bucket)}
}

// Allow consumes one token for host, returning false if the bucket is
// exhausted.
func (r *RateLimiter) Allow(host string) bool {
	if r == nil || r.maxPerSecond <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[host]
	now := time.Now()
	if !ok {
		b = &bucket{tokens: r.maxPerSecond, lastFill: now}
		r.buckets[host] = b
	}
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * r.maxPerSecond
	if b.tokens > r.maxPerSecond {
		b.tokens = r.maxPerSecond
	}
	b.lastFill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Allowlist is a source-address accept list applied ahead of message
// dispatch. Unconfigured (nil), it accepts traffic from any source.
type Allowlist struct {
	hosts map[string]struct{}
}

// NewAllowlist builds an Allowlist accepting only the given hosts.
func NewAllowlist(hosts ...string) *Allowlist {
	al := &Allowlist{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		al.hosts[h] = struct{}{}
	}
	return al
}

// Allowed reports whether host is permitted.
func (a *Allowlist) Allowed(host string) bool {
	if a == nil || len(a.hosts) == 0 {
		return true
	}
	_, ok := a.hosts[host]
	return ok
}
