package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

var linkCols = []string{
	"id", "url", "status", "predicted_type", "predicted_relevance",
	"metadata", "error_message", "scraped_at", "created_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func strPtr(s string) *string { return &s }

// anyArgs matches n bound parameters of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS discovered_links")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Contains(t, Schema(), "content_hash TEXT NOT NULL UNIQUE")
}

func TestSelectCandidates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	rel := 0.9
	rows := mock.NewRows(linkCols).
		AddRow("l-1", "https://www.vic.gov.au/youth", "pending", strPtr("program"), &rel,
			[]byte(`{"source_name":"Vic Gov"}`), (*string)(nil), (*time.Time)(nil), created).
		AddRow("l-2", "https://example.org", "queued", (*string)(nil), (*float64)(nil),
			[]byte(`{}`), (*string)(nil), (*time.Time)(nil), created.Add(time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM discovered_links WHERE status IN ($1,$2) ORDER BY predicted_relevance DESC NULLS LAST, created_at ASC, id ASC LIMIT 2")).
		WithArgs("pending", "queued").
		WillReturnRows(rows)

	links, err := store.SelectCandidates(context.Background(), ingest.SelectPendingAndQueued.Statuses(), 2)
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.Equal(t, "l-1", links[0].ID)
	require.Equal(t, ingest.LinkStatusPending, links[0].Status)
	require.InDelta(t, 0.9, *links[0].PredictedRelevance, 1e-9)
	require.Equal(t, "Vic Gov", links[0].Metadata["source_name"])
	require.Nil(t, links[1].PredictedRelevance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLinkNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM discovered_links WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetLink(context.Background(), "missing")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLinkDuplicateIsConflict(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO discovered_links")).
		WithArgs(anyArgs(9)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.InsertLink(context.Background(), ingest.Link{ID: "dup", URL: "https://example.org"})
	require.ErrorIs(t, err, ingest.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLink(t *testing.T) {
	t.Parallel()

	update := ingest.LinkUpdate{ID: "l-1", Expect: ingest.LinkStatusPending, Status: ingest.LinkStatusQueued}
	updateSQL := regexp.QuoteMeta("UPDATE discovered_links SET status = $1, error_message = $2 WHERE id = $3 AND status = $4")
	statusSQL := regexp.QuoteMeta("SELECT status FROM discovered_links WHERE id = $1")

	t.Run("applied", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		mock.ExpectExec(updateSQL).
			WithArgs("queued", (*string)(nil), "l-1", "pending").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, store.UpdateLink(context.Background(), update))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		mock.ExpectExec(updateSQL).
			WithArgs("queued", (*string)(nil), "l-1", "pending").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(statusSQL).WithArgs("l-1").
			WillReturnRows(mock.NewRows([]string{"status"}).AddRow("queued"))
		err := store.UpdateLink(context.Background(), update)
		require.ErrorIs(t, err, ingest.ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		mock.ExpectExec(updateSQL).
			WithArgs("queued", (*string)(nil), "l-1", "pending").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(statusSQL).WithArgs("l-1").WillReturnError(pgx.ErrNoRows)
		err := store.UpdateLink(context.Background(), update)
		require.ErrorIs(t, err, ingest.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM discovered_links GROUP BY status")).
		WillReturnRows(mock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(4)).
			AddRow("error", int64(1)))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[ingest.LinkStatus]int{ingest.LinkStatusPending: 4, ingest.LinkStatusError: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntityWrapsErrors(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO evidence")).
		WithArgs(anyArgs(14)...).
		WillReturnError(errors.New("boom"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO community_contexts")).
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.InsertEvidence(context.Background(), ingest.Evidence{ID: "e-1", Title: "Evaluation"})
	require.ErrorContains(t, err, "insert evidence")
	require.NoError(t, store.InsertContext(context.Background(), ingest.CommunityContext{ID: "c-1", Name: "Mparntwe"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRawContentReturnsStoredID(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash RETURNING id")).
		WithArgs(anyArgs(9)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("existing-id"))

	id, err := store.SaveRawContent(context.Background(), ingest.RawContent{ID: "new-id", ContentHash: "abc"})
	require.NoError(t, err)
	require.Equal(t, "existing-id", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentHistory(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	done := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "link_id", "source_url", "status", "entities_found", "relevance_score",
		"novelty_score", "started_at", "completed_at", "content_length", "extracted_data", "metadata",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM scrape_history ORDER BY completed_at DESC, id DESC LIMIT 10")).
		WillReturnRows(mock.NewRows(cols).AddRow(
			"h-1", strPtr("l-1"), "https://example.org", "success", 3, (*float64)(nil),
			0.5, done.Add(-time.Second), done, 1200, []byte(`{"interventions":1}`), []byte(`{"provider":"anthropic"}`)))

	rows, err := store.RecentHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "l-1", rows[0].LinkID)
	require.Equal(t, ingest.HistorySuccess, rows[0].Status)
	require.Equal(t, 3, rows[0].EntitiesFound)
	require.Equal(t, "anthropic", rows[0].Metadata["provider"])
	require.NoError(t, mock.ExpectationsWereMet())
}
