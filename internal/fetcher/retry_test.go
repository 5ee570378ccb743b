package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (ingest.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return ingest.Page{}, err
		}
	}
	return ingest.Page{URL: url, Content: "ok"}, nil
}

func newTestRetrying(next ingest.Fetcher) (*Retrying, *[]time.Duration) {
	var waits []time.Duration
	r := NewRetrying(next, ingest.DefaultRetryPolicy(), nil)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return r, &waits
}

func TestRetryingSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	netErr := ingest.NewFailure(ingest.FailureNetwork, "HTTP 503", nil)
	inner := &scriptedFetcher{errs: []error{netErr, netErr}}
	r, waits := newTestRetrying(inner)

	page, err := r.Fetch(context.Background(), "https://example.org")
	require.NoError(t, err)
	require.Equal(t, "ok", page.Content)
	require.Equal(t, 3, inner.calls)
	require.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, *waits)
}

func TestRetryingGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	netErr := ingest.NewFailure(ingest.FailureNetwork, "HTTP 503", nil)
	inner := &scriptedFetcher{errs: []error{netErr, netErr, netErr, netErr}}
	r, waits := newTestRetrying(inner)

	_, err := r.Fetch(context.Background(), "https://example.org")
	require.ErrorIs(t, err, ingest.ErrNetwork)
	require.Equal(t, 3, inner.calls)
	require.Len(t, *waits, 2)
}

func TestRetryingStopsOnFinalErrors(t *testing.T) {
	t.Parallel()
	denied := ingest.NewFailure(ingest.FailureDenied, "disallowed by robots.txt", nil)
	inner := &scriptedFetcher{errs: []error{denied}}
	r, _ := newTestRetrying(inner)
	_, err := r.Fetch(context.Background(), "https://example.org")
	require.ErrorIs(t, err, ingest.ErrDenied)
	require.Equal(t, 1, inner.calls)
}

func TestRetryingStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &scriptedFetcher{errs: []error{errors.New("boom"), errors.New("boom")}}
	r, _ := newTestRetrying(inner)
	_, err := r.Fetch(ctx, "https://example.org")
	require.Error(t, err)
	require.Equal(t, 1, inner.calls)
}
