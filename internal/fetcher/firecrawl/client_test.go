package firecrawl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

func TestFetchSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/scrape" {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fc-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req scrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.URL != "https://example.org/program" || !req.OnlyMainContent || len(req.Formats) != 1 || req.Formats[0] != "markdown" || req.Timeout != 30000 {
			http.Error(w, "unexpected body", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"# Program\n\nYouth support.","metadata":{"title":" Program ","statusCode":200}}}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "fc-key"}, srv.Client())
	page, err := c.Fetch(context.Background(), "https://example.org/program")
	require.NoError(t, err)
	require.Equal(t, "Program", page.Title)
	require.Equal(t, "# Program\n\nYouth support.", page.Content)
	require.Equal(t, "https://example.org/program", page.URL)
	require.Equal(t, "firecrawl", page.Method)
	require.Equal(t, 200, page.StatusCode)
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()
	cases := map[string]http.HandlerFunc{
		"http error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		},
		"unsuccessful": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"error":"blocked"}`))
		},
		"garbage": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
	}
	for name, handler := range cases {
		handler := handler
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(handler)
			t.Cleanup(srv.Close)
			_, err := New(Config{BaseURL: srv.URL}, srv.Client()).Fetch(context.Background(), "https://example.org")
			require.ErrorIs(t, err, ingest.ErrNetwork)
			require.True(t, ingest.AsFailure(err).CountsAgainstBreaker())
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	_, err := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, srv.Client()).Fetch(context.Background(), "https://example.org")
	require.ErrorIs(t, err, ingest.ErrNetwork)
	require.Contains(t, err.Error(), "fetch timeout")
}
