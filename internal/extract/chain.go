package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultQuotaStrikes is how many consecutive quota refusals take a
// provider out of rotation for the life of the process.
const DefaultQuotaStrikes = 3

// ErrNoProvider is returned when every provider is unavailable.
var ErrNoProvider = errors.New("all extraction providers exhausted")

// Chain tries providers in order and returns the first success.
type Chain struct {
	providers []Completer
	strikes   int
	logger    *zap.Logger

	mu     sync.Mutex
	quotas map[string]int
}

// NewChain builds a fallback chain.
func NewChain(logger *zap.Logger, providers ...Completer) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		providers: providers,
		strikes:   DefaultQuotaStrikes,
		logger:    logger,
		quotas:    make(map[string]int),
	}
}

// Providers returns the configured provider names in order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Complete returns the first provider's answer and its name. Every provider
// error moves on to the next one; the last error is returned if all fail.
func (c *Chain) Complete(ctx context.Context, prompt string, maxTokens int) (string, string, error) {
	var errs []error
	for _, p := range c.providers {
		if c.exhausted(p.Name()) {
			continue
		}
		text, err := p.Complete(ctx, prompt, maxTokens)
		if err == nil {
			c.record(p.Name(), false)
			return text, p.Name(), nil
		}
		var svcErr *ServiceError
		c.record(p.Name(), errors.As(err, &svcErr) && svcErr.Quota())
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("extraction provider failed, trying fallback",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
	}
	if len(errs) == 0 {
		return "", "", ErrNoProvider
	}
	return "", "", fmt.Errorf("%w: %w", ErrNoProvider, errors.Join(errs...))
}

func (c *Chain) exhausted(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotas[name] >= c.strikes
}

func (c *Chain) record(name string, quota bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if quota {
		c.quotas[name]++
		return
	}
	delete(c.quotas, name)
}
