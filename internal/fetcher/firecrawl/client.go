// Package firecrawl fetches page content through a Firecrawl scrape API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// DefaultBaseURL is the hosted Firecrawl API.
const DefaultBaseURL = "https://api.firecrawl.dev"

// Config controls the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements ingest.Fetcher against POST /v1/scrape.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ ingest.Fetcher = (*Client)(nil)

// New builds a Client. A nil httpClient gets one with no overall timeout;
// the per-request context carries the deadline.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	Timeout         int64    `json:"timeout"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title      string `json:"title"`
			SourceURL  string `json:"sourceURL"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// Fetch scrapes url as markdown. Transport errors, non-2xx responses and
// success=false bodies are network failures.
func (c *Client) Fetch(ctx context.Context, url string) (ingest.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	start := time.Now()

	body, err := json.Marshal(scrapeRequest{
		URL:             url,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
		Timeout:         c.cfg.Timeout.Milliseconds(),
	})
	if err != nil {
		return ingest.Page{}, fmt.Errorf("marshal scrape request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return ingest.Page{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ingest.Page{}, ingest.NewFailure(ingest.FailureNetwork, "fetch timeout", err)
		}
		return ingest.Page{}, ingest.NewFailure(ingest.FailureNetwork, "fetch failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := fmt.Sprintf("Firecrawl HTTP %d", resp.StatusCode)
		if detail := strings.TrimSpace(string(payload)); detail != "" {
			msg += ": " + detail
		}
		return ingest.Page{}, ingest.NewFailure(ingest.FailureNetwork, msg, nil)
	}

	var decoded scrapeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&decoded); err != nil {
		return ingest.Page{}, ingest.NewFailure(ingest.FailureNetwork, "decode scrape response", err)
	}
	if !decoded.Success {
		msg := "Firecrawl scrape unsuccessful"
		if decoded.Error != "" {
			msg += ": " + decoded.Error
		}
		return ingest.Page{}, ingest.NewFailure(ingest.FailureNetwork, msg, nil)
	}

	page := ingest.Page{
		URL:        url,
		Title:      strings.TrimSpace(decoded.Data.Metadata.Title),
		Content:    decoded.Data.Markdown,
		StatusCode: decoded.Data.Metadata.StatusCode,
		Method:     "firecrawl",
		Duration:   time.Since(start),
	}
	if decoded.Data.Metadata.SourceURL != "" {
		page.URL = decoded.Data.Metadata.SourceURL
	}
	return page, nil
}
