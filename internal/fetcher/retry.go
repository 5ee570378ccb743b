// Package fetcher holds behaviour shared by the fetch backends.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Retrying wraps a Fetcher with a RetryPolicy. The caller sees one result
// for all attempts, so breaker accounting counts the whole sequence once.
type Retrying struct {
	next   ingest.Fetcher
	policy ingest.RetryPolicy
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

var _ ingest.Fetcher = (*Retrying)(nil)

// NewRetrying wraps next.
func NewRetrying(next ingest.Fetcher, policy ingest.RetryPolicy, logger *zap.Logger) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger, sleep: ingest.Sleep}
}

// Fetch calls the wrapped fetcher until it succeeds, the policy gives up or
// ctx is done.
func (r *Retrying) Fetch(ctx context.Context, url string) (ingest.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		page, err := r.next.Fetch(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil || !r.policy.ShouldRetry(err, attempt) {
			break
		}
		delay := r.policy.Backoff(attempt)
		r.logger.Debug("fetch retry",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return ingest.Page{}, fmt.Errorf("fetch retry canceled: %w", err)
		}
	}
	return ingest.Page{}, lastErr
}
