// Package extract turns validated page content into structured entities
// using hosted language models.
package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Completer sends a single-turn prompt to a language model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ServiceError is a non-success response from a provider.
type ServiceError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Quota reports whether the provider refused for credit, quota or rate
// reasons.
func (e *ServiceError) Quota() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusPaymentRequired {
		return true
	}
	body := strings.ToLower(e.Body)
	return strings.Contains(body, "credit") || strings.Contains(body, "quota")
}
