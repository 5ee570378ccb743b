// Package collyfetcher fetches pages directly with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/youth-justice-ingest/internal/fetcher/readable"
	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements ingest.Fetcher with a plain GET plus readability.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ ingest.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// rawResponse is what the collector callbacks capture.
type rawResponse struct {
	url        string
	statusCode int
	body       []byte
	err        error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch GETs url and reduces the HTML to title and main text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (ingest.Page, error) {
	start := time.Now()
	var raw rawResponse
	collector := f.buildCollector(&raw)

	if err := f.runCollector(ctx, collector, url); err != nil && raw.statusCode == 0 {
		return ingest.Page{}, err
	}
	if raw.err != nil || raw.statusCode < 200 || raw.statusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", raw.statusCode)
		if raw.statusCode == 0 {
			msg = "fetch failed"
		}
		return ingest.Page{}, ingest.NewFailure(ingest.FailureNetwork, msg, raw.err)
	}

	title, text, err := readable.Extract(string(raw.body), raw.url)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("extract main content: %w", err)
	}
	return ingest.Page{
		URL:        raw.url,
		Title:      title,
		Content:    text,
		StatusCode: raw.statusCode,
		Method:     "colly",
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) buildCollector(raw *rawResponse) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	configureCollectorHooks(collector, raw)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, raw *rawResponse) {
	hooks.OnResponse(func(r *colly.Response) {
		raw.url = r.Request.URL.String()
		raw.statusCode = r.StatusCode
		raw.body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		raw.err = err
		if r != nil && r.Request != nil && r.Request.URL != nil {
			raw.url = r.Request.URL.String()
			raw.statusCode = r.StatusCode
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return ingest.NewFailure(ingest.FailureDenied, "disallowed by robots.txt", err)
		}
		return ingest.NewFailure(ingest.FailureNetwork, "fetch failed", err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
