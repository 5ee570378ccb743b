package scrape

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/youth-justice-ingest/internal/breaker"
	"github.com/JakeFAU/youth-justice-ingest/internal/id/uuid"
	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/queue"
	"github.com/JakeFAU/youth-justice-ingest/internal/storage/memory"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// completingRunner finishes every link through the queue, failing the IDs in
// fail, so tests observe the same store writes a worker makes.
type completingRunner struct {
	mu    sync.Mutex
	q     *queue.LinkQueue
	fail  map[string]bool
	seen  [][]string
	ran   chan struct{}
	delay time.Duration
}

func (r *completingRunner) Run(ctx context.Context, links []ingest.Link) []ingest.Result {
	ids := make([]string, 0, len(links))
	results := make([]ingest.Result, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ID)
		c := queue.Completion{Status: ingest.LinkStatusScraped}
		if r.fail[l.ID] {
			c = queue.Completion{Status: ingest.LinkStatusError, Message: "boom", Kind: ingest.FailureNetwork}
		}
		_, _ = r.q.Complete(ctx, l, c)
		results = append(results, ingest.Result{LinkID: l.ID, URL: l.URL, Status: c.Status, Duration: r.delay})
	}
	r.mu.Lock()
	r.seen = append(r.seen, ids)
	r.mu.Unlock()
	if r.ran != nil {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}
	return results
}

func rel(v float64) *float64 { return &v }

type fixture struct {
	svc     *Service
	store   *memory.Store
	runner  *completingRunner
	breaker *breaker.Registry
}

func newFixture(t *testing.T, cfg Config, links ...ingest.Link) *fixture {
	t.Helper()
	store := memory.NewStore()
	for _, l := range links {
		require.NoError(t, store.InsertLink(context.Background(), l))
	}
	clock := fixedClock{now: testNow}
	q := queue.New(store, clock, nil)
	runner := &completingRunner{q: q, fail: map[string]bool{}, delay: 40 * time.Millisecond}
	reg := breaker.New(breaker.Config{Threshold: 2}, clock, nil)
	svc := New(cfg, Deps{
		Queue:   q,
		Runner:  runner,
		Breaker: reg,
		Links:   store,
		History: store,
		IDs:     uuid.NewUUIDGenerator(),
		Clock:   clock,
	})
	return &fixture{svc: svc, store: store, runner: runner, breaker: reg}
}

func TestProcessBatchDefaultsToOneLink(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{},
		ingest.Link{ID: "low", URL: "https://a.org", PredictedRelevance: rel(0.2), CreatedAt: testNow},
		ingest.Link{ID: "high", URL: "https://b.org", PredictedRelevance: rel(0.9), CreatedAt: testNow},
	)

	summary, err := fx.svc.ProcessBatch(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.Successful)
	require.Equal(t, "high", summary.Results[0].LinkID)
	require.Equal(t, int64(40), summary.AvgScrapeTimeMs)
	require.Equal(t, "Processed 1 links, 1 successful", summary.Message)

	low, err := fx.store.GetLink(context.Background(), "low")
	require.NoError(t, err)
	require.Equal(t, ingest.LinkStatusPending, low.Status)
}

func TestProcessBatchCountsFailures(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{},
		ingest.Link{ID: "l1", URL: "https://a.org", CreatedAt: testNow.Add(-3 * time.Minute)},
		ingest.Link{ID: "l2", URL: "https://b.org", CreatedAt: testNow.Add(-2 * time.Minute)},
		ingest.Link{ID: "l3", URL: "https://c.org", CreatedAt: testNow.Add(-time.Minute)},
	)
	fx.runner.fail["l2"] = true

	summary, err := fx.svc.ProcessBatch(context.Background(), Request{BatchSize: 3})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Processed)
	require.Equal(t, 2, summary.Successful)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, []string{"l1", "l2", "l3"}, fx.runner.seen[0])
}

func TestSummarizeExcludesSkippedLinks(t *testing.T) {
	t.Parallel()
	summary := summarize([]ingest.Result{
		{LinkID: "l1", Status: ingest.LinkStatusScraped, Duration: 30 * time.Millisecond},
		{LinkID: "l2", Status: ingest.LinkStatusError, Duration: 10 * time.Millisecond},
		{LinkID: "l3", Status: ingest.LinkStatusQueued, Skipped: true, Error: "not processed: context canceled"},
	})
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Successful)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, int64(20), summary.AvgScrapeTimeMs)
	require.Len(t, summary.Results, 3)
	require.Equal(t, "Processed 2 links, 1 successful, 1 left queued", summary.Message)
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{})
	summary, err := fx.svc.ProcessBatch(context.Background(), Request{BatchSize: 5})
	require.NoError(t, err)
	require.Equal(t, MsgQueueEmpty, summary.Message)
	require.Zero(t, summary.Processed)
	require.NotNil(t, summary.Results)
}

func TestProcessBatchRejectsBadSizes(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{MaxBatchSize: 10})
	_, err := fx.svc.ProcessBatch(context.Background(), Request{BatchSize: 11})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = fx.svc.ProcessBatch(context.Background(), Request{BatchSize: -1})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestProcessBatchSingleLink(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{},
		ingest.Link{ID: "done", URL: "https://a.org", Status: ingest.LinkStatusScraped},
		ingest.Link{ID: "next", URL: "https://b.org"},
	)

	summary, err := fx.svc.ProcessBatch(context.Background(), Request{LinkID: "next"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)

	_, err = fx.svc.ProcessBatch(context.Background(), Request{LinkID: "done"})
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)

	_, err = fx.svc.ProcessBatch(context.Background(), Request{LinkID: "missing"})
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{},
		ingest.Link{ID: "p", URL: "https://a.org"},
		ingest.Link{ID: "s", URL: "https://b.org", Status: ingest.LinkStatusScraped},
		ingest.Link{ID: "e", URL: "https://c.org", Status: ingest.LinkStatusError},
	)
	ctx := context.Background()
	for i, st := range []ingest.HistoryStatus{ingest.HistorySuccess, ingest.HistorySuccess, ingest.HistoryFailure} {
		require.NoError(t, fx.store.InsertHistory(ctx, ingest.ScrapeHistory{
			ID:          string(rune('a' + i)),
			Status:      st,
			CompletedAt: testNow.Add(time.Duration(i) * time.Minute),
		}))
	}
	fx.breaker.RecordFailure("bad.org")
	fx.breaker.RecordFailure("bad.org")

	status, err := fx.svc.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "ready", status.Status)
	require.Equal(t, 1, status.Queue.Pending)
	require.Equal(t, 3, status.Queue.Total)
	require.Equal(t, 3, status.RecentActivity.Scrapes)
	require.Equal(t, 67, status.RecentActivity.SuccessRate)
	require.NotNil(t, status.RecentActivity.LastScrape)
	require.Equal(t, testNow.Add(2*time.Minute), *status.RecentActivity.LastScrape)
	require.Len(t, status.BlockedDomains, 1)
	require.Equal(t, "bad.org", status.BlockedDomains[0].Domain)
	require.Len(t, status.History, 3)
}

func TestStatusWithoutHistory(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{})
	status, err := fx.svc.Status(context.Background())
	require.NoError(t, err)
	require.Zero(t, status.RecentActivity.SuccessRate)
	require.Nil(t, status.RecentActivity.LastScrape)
	require.NotNil(t, status.History)
	require.NotNil(t, status.BlockedDomains)
}

func TestRequeue(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{},
		ingest.Link{ID: "e", URL: "https://a.org", Status: ingest.LinkStatusError},
		ingest.Link{ID: "s", URL: "https://b.org", Status: ingest.LinkStatusScraped},
	)
	link, err := fx.svc.Requeue(context.Background(), "e")
	require.NoError(t, err)
	require.Equal(t, ingest.LinkStatusPending, link.Status)

	_, err = fx.svc.Requeue(context.Background(), "s")
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)

	_, err = fx.svc.Requeue(context.Background(), " ")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAddLink(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{})
	link, err := fx.svc.AddLink(context.Background(), NewLink{
		URL:                "HTTPS://Example.ORG:443/programs#top",
		PredictedType:      "intervention",
		PredictedRelevance: rel(0.8),
	})
	require.NoError(t, err)
	require.NotEmpty(t, link.ID)
	require.Equal(t, ingest.LinkStatusPending, link.Status)
	require.Equal(t, "intervention", link.PredictedTypeOr(""))

	stored, err := fx.store.GetLink(context.Background(), link.ID)
	require.NoError(t, err)
	require.Equal(t, link.URL, stored.URL)

	_, err = fx.svc.AddLink(context.Background(), NewLink{URL: "https://a.org", PredictedRelevance: rel(2)})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunScheduledDrainsQueue(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, Config{Scheduler: SchedulerConfig{Interval: 10 * time.Millisecond, BatchSize: 5}},
		ingest.Link{ID: "l1", URL: "https://a.org"},
		ingest.Link{ID: "l2", URL: "https://b.org"},
	)
	fx.runner.ran = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.svc.RunScheduled(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stats, err := fx.store.CountByStatus(context.Background())
		return err == nil && stats[ingest.LinkStatusScraped] == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
