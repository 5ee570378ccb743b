// Package breaker isolates failing domains from the ingestion queue.
package breaker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

const (
	// DefaultThreshold is the failure streak that blocks a domain.
	DefaultThreshold = 5
	// DefaultResetWindow is how long a blocked domain stays blocked after its
	// last failure.
	DefaultResetWindow = time.Hour
)

// Config tunes the registry.
type Config struct {
	Threshold   int
	ResetWindow time.Duration
}

// state is one domain's streak. trialSince is set while the single half-open
// attempt is in flight.
type state struct {
	failures    int
	lastFailure time.Time
	trialSince  time.Time
}

func (st *state) trial() bool { return !st.trialSince.IsZero() }

// Registry tracks consecutive failures per hostname. State lives in memory
// only and is shared by every worker of one process.
type Registry struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	clock     ingest.Clock
	logger    *zap.Logger
	states    map[string]*state
	onChange  func(blocked int)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New builds a Registry. Zero config values fall back to the defaults.
func New(cfg Config, clock ingest.Clock, logger *zap.Logger) *Registry {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = DefaultResetWindow
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		threshold: cfg.Threshold,
		window:    cfg.ResetWindow,
		clock:     clock,
		logger:    logger,
		states:    make(map[string]*state),
	}
}

// OnChange registers a callback invoked with the blocked-domain count after
// every state change, outside the registry lock.
func (r *Registry) OnChange(fn func(blocked int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func key(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// Allow reports whether an attempt against domain may proceed. A blocked
// domain whose reset window has elapsed lets exactly one trial attempt
// through; others are refused until that attempt records a success or a
// failure. A trial that never reports back lapses after another window.
func (r *Registry) Allow(domain string) bool {
	k := key(domain)
	now := r.clock.Now()
	r.mu.Lock()
	st, ok := r.states[k]
	if !ok {
		r.mu.Unlock()
		return true
	}
	if st.trial() {
		if now.Sub(st.trialSince) < r.window {
			r.mu.Unlock()
			return false
		}
		st.trialSince = now
		r.mu.Unlock()
		r.logger.Info("circuit trial lapsed, allowing another", zap.String("domain", k))
		return true
	}
	if st.failures < r.threshold {
		r.mu.Unlock()
		return true
	}
	if now.Sub(st.lastFailure) < r.window {
		r.mu.Unlock()
		return false
	}
	st.failures = 0
	st.trialSince = now
	blocked := r.blockedLocked()
	fn := r.onChange
	r.mu.Unlock()
	r.logger.Info("circuit half-open", zap.String("domain", k))
	notify(fn, blocked)
	return true
}

// RecordFailure adds a failure to domain's streak and reports whether the
// domain is now blocked.
func (r *Registry) RecordFailure(domain string) bool {
	k := key(domain)
	if k == "" {
		return false
	}
	r.mu.Lock()
	st, ok := r.states[k]
	if !ok {
		st = &state{}
		r.states[k] = st
	}
	st.failures++
	st.lastFailure = r.clock.Now()
	st.trialSince = time.Time{}
	failures := st.failures
	isBlocked := failures >= r.threshold
	blocked := r.blockedLocked()
	fn := r.onChange
	r.mu.Unlock()

	if failures == r.threshold {
		r.logger.Warn("circuit opened", zap.String("domain", k), zap.Int("failures", failures))
	}
	notify(fn, blocked)
	return isBlocked
}

// RecordSuccess clears any state held for domain.
func (r *Registry) RecordSuccess(domain string) {
	r.Reset(domain)
}

// Reset clears domain's state and reports whether anything was held.
func (r *Registry) Reset(domain string) bool {
	k := key(domain)
	r.mu.Lock()
	_, ok := r.states[k]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.states, k)
	blocked := r.blockedLocked()
	fn := r.onChange
	r.mu.Unlock()
	notify(fn, blocked)
	return true
}

// ResetAll clears every domain and returns how many were held.
func (r *Registry) ResetAll() int {
	r.mu.Lock()
	n := len(r.states)
	r.states = make(map[string]*state)
	fn := r.onChange
	r.mu.Unlock()
	notify(fn, 0)
	return n
}

// Sweep drops states whose last failure is older than the reset window and
// returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	r.mu.Lock()
	removed := 0
	for k, st := range r.states {
		since := st.lastFailure
		if st.trial() {
			since = st.trialSince
		}
		if now.Sub(since) >= r.window {
			delete(r.states, k)
			removed++
		}
	}
	blocked := r.blockedLocked()
	fn := r.onChange
	r.mu.Unlock()
	if removed > 0 {
		r.logger.Debug("circuit sweep", zap.Int("removed", removed))
		notify(fn, blocked)
	}
	return removed
}

// Failures returns the current streak for domain.
func (r *Registry) Failures(domain string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key(domain)]; ok {
		return st.failures
	}
	return 0
}

// Blocked lists domains currently refused, most recent failure first.
func (r *Registry) Blocked() []ingest.BlockedDomain {
	now := r.clock.Now()
	r.mu.Lock()
	out := make([]ingest.BlockedDomain, 0)
	for k, st := range r.states {
		if st.failures < r.threshold || now.Sub(st.lastFailure) >= r.window {
			continue
		}
		out = append(out, ingest.BlockedDomain{
			Domain:       k,
			Failures:     st.failures,
			LastFailure:  st.lastFailure,
			BlockedUntil: st.lastFailure.Add(r.window),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastFailure.Equal(out[j].LastFailure) {
			return out[i].Domain < out[j].Domain
		}
		return out[i].LastFailure.After(out[j].LastFailure)
	})
	return out
}

// Run sweeps expired states every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) blockedLocked() int {
	n := 0
	for _, st := range r.states {
		if st.failures >= r.threshold {
			n++
		}
	}
	return n
}

func notify(fn func(int), blocked int) {
	if fn != nil {
		fn(blocked)
	}
}
