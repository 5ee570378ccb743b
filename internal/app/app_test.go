package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/config"
	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/metrics"
	"github.com/JakeFAU/youth-justice-ingest/internal/scrape"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeout: time.Minute},
		Queue:   config.QueueConfig{DefaultBatchSize: 1, MaxBatchSize: 50},
		Worker:  config.WorkerConfig{Concurrency: 2, PerDomainDelay: 0},
		Breaker: config.BreakerConfig{Threshold: 5, ResetWindow: time.Hour, SweepInterval: time.Minute},
		Health:  config.HealthConfig{Timeout: time.Second},
		Fetch: config.FetchConfig{
			Backend:     config.FetchColly,
			Timeout:     time.Second,
			MaxAttempts: 1,
		},
		Content:  config.ValidateConfig{MinLength: 500, Keywords: []string{"youth"}},
		Extract: config.ExtractConfig{
			Providers:       []string{config.ProviderAnthropic, config.ProviderGroq},
			MaxContentChars: 1000,
			MaxTokens:       100,
			Timeout:         time.Second,
			Groq:            config.ProviderConfig{APIKey: "groq-key"},
		},
		Storage:   config.StorageConfig{Backend: config.StorageMemory},
		Archive:   config.ArchiveConfig{Backend: config.ArchiveMemory, Prefix: "raw"},
		Scheduler: config.SchedulerConfig{Mode: string(ingest.SelectPendingAndQueued)},
		Tracing:   config.TracingConfig{ServiceName: "ingestd-test"},
	}
}

func TestBuildInMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	require.NotNil(t, a.publisher, "memory publisher expected without a pubsub project")
	require.Nil(t, a.headless)
	require.NoError(t, a.Migrate(ctx))

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	link, err := a.Scrape().AddLink(ctx, scrape.NewLink{URL: "https://www.youthlaw.asn.au/programs"})
	require.NoError(t, err)
	require.Equal(t, ingest.LinkStatusPending, link.Status)

	status, err := a.Scrape().Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.Queue.Total)
	require.Empty(t, status.BlockedDomains)

	require.NotNil(t, a.Health())
}

func TestBuildSQLiteMigrates(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Backend: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "ingest.db")}
	cfg.Archive = config.ArchiveConfig{Backend: config.ArchiveLocal, BaseDir: t.TempDir(), Prefix: "raw"}

	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NoError(t, a.Migrate(ctx))
	require.NoError(t, a.ready(ctx))
}

func TestBuildFailsWithoutProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extract.Groq.APIKey = ""

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "no extraction provider")
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	a.Close(ctx)
	a.Close(ctx)
}

func TestBreakerGaugeCountsTrips(t *testing.T) {
	onChange := breakerGauge()
	onChange(1)
	onChange(2)
	onChange(0)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	var trips, blocked string
	for _, line := range strings.Split(string(body), "\n") {
		switch {
		case strings.HasPrefix(line, "ingest_breaker_trips_total "):
			trips = strings.TrimPrefix(line, "ingest_breaker_trips_total ")
		case strings.HasPrefix(line, "ingest_breaker_blocked_domains "):
			blocked = strings.TrimPrefix(line, "ingest_breaker_blocked_domains ")
		}
	}
	require.Equal(t, "2", trips)
	require.Equal(t, "0", blocked)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = freePort(t)
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Interval = 10 * time.Millisecond
	cfg.Scheduler.BatchSize = 1

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port) + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
