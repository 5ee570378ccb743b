// Package ratelimit spaces successive requests to the same domain.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Limiter manages per-domain spacing.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	observe  func(domain string, waited time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	// Delay is the minimum spacing between requests to one domain. Zero
	// disables spacing.
	Delay time.Duration
	// Observe, when set, receives every non-trivial wait.
	Observe func(domain string, waited time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	every := rate.Inf
	if cfg.Delay > 0 {
		every = rate.Every(cfg.Delay)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		every:    every,
		observe:  cfg.Observe,
	}
}

// Wait blocks until the domain of rawURL may be contacted again.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain, err := ingest.Hostname(rawURL)
	if err != nil {
		domain = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.every, 1)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.observe != nil {
		l.observe(domain, waited)
	}
	return nil
}

// Domains reports how many domains have been seen.
func (l *Limiter) Domains() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
