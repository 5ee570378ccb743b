package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if linksProcessedTotal == nil || entitiesPersistedTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveLink(t *testing.T) {
	before := testutil.ToFloat64(linksProcessedTotal.WithLabelValues("error", "network"))
	ObserveLink("error", "network", 3*time.Second)
	if got := testutil.ToFloat64(linksProcessedTotal.WithLabelValues("error", "network")); got != before+1 {
		t.Errorf("expected links processed to increase by 1, got %f -> %f", before, got)
	}
}

func TestObserveEntitiesIgnoresZero(t *testing.T) {
	ObserveEntities("evidence", 0)
	ObserveEntities("evidence", 2)
	if got := testutil.ToFloat64(entitiesPersistedTotal.WithLabelValues("evidence")); got != 2 {
		t.Errorf("expected 2 evidence entities, got %f", got)
	}
}

func TestGauges(t *testing.T) {
	SetBlockedDomains(3)
	if got := testutil.ToFloat64(breakerBlockedDomains); got != 3 {
		t.Errorf("expected 3 blocked domains, got %f", got)
	}
	SetQueueDepth("pending", 12)
	if got := testutil.ToFloat64(queueLinks.WithLabelValues("pending")); got != 12 {
		t.Errorf("expected pending depth 12, got %f", got)
	}
	ObserveExtraction("", "error")
	if got := testutil.ToFloat64(extractionsTotal.WithLabelValues("none", "error")); got != 1 {
		t.Errorf("expected unnamed provider to be labeled none, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
