// Package health probes candidate URLs before they are fetched.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 10 * time.Second

// Config controls the probe.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Checker issues HEAD requests without following redirects.
type Checker struct {
	cfg    Config
	client *http.Client
}

var _ ingest.HealthChecker = (*Checker)(nil)

// New builds a Checker. A nil client gets a pooled transport.
func New(cfg Config, client *http.Client) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	}
	probe := *client
	probe.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Checker{cfg: cfg, client: &probe}
}

// Check reports whether rawURL answers with 2xx, or 3xx carrying a Location.
// For redirects RedirectURL holds the absolute target.
func (c *Checker) Check(ctx context.Context, rawURL string) ingest.HealthResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ingest.HealthResult{Error: fmt.Sprintf("build request: %v", err)}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ingest.HealthResult{Error: describe(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ingest.HealthResult{Healthy: true, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if location == "" {
			return ingest.HealthResult{StatusCode: resp.StatusCode, Error: fmt.Sprintf("HTTP %d without Location", resp.StatusCode)}
		}
		target, err := req.URL.Parse(location)
		if err != nil {
			return ingest.HealthResult{StatusCode: resp.StatusCode, Error: fmt.Sprintf("bad redirect location %q", location)}
		}
		return ingest.HealthResult{Healthy: true, StatusCode: resp.StatusCode, RedirectURL: target.String()}
	default:
		return ingest.HealthResult{StatusCode: resp.StatusCode, Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
}

func describe(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
	}
}
