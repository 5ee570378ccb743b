package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

func TestSelectCandidatesOrdering(t *testing.T) {
	t.Parallel()

	query, args, err := Postgres().SelectCandidates(ingest.SelectPendingAndQueued.Statuses(), 5)
	require.NoError(t, err)
	require.Contains(t, query, "FROM discovered_links WHERE status IN ($1,$2)")
	require.Contains(t, query, "ORDER BY predicted_relevance DESC NULLS LAST, created_at ASC, id ASC LIMIT 5")
	require.Equal(t, []any{"pending", "queued"}, args)

	query, _, err = SQLite().SelectCandidates([]ingest.LinkStatus{ingest.LinkStatusQueued}, 0)
	require.NoError(t, err)
	require.Contains(t, query, "WHERE status IN (?)")
	require.NotContains(t, query, "LIMIT")

	_, _, err = SQLite().SelectCandidates(nil, 1)
	require.Error(t, err)
}

func TestUpdateLinkIsConditional(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	msg := "Content quality check failed: too short"
	query, args, err := Postgres().UpdateLink(ingest.LinkUpdate{
		ID:           "link-1",
		Expect:       ingest.LinkStatusQueued,
		Status:       ingest.LinkStatusError,
		ErrorMessage: &msg,
		ScrapedAt:    &now,
		Metadata:     map[string]any{"failure_kind": "content_quality"},
	})
	require.NoError(t, err)
	require.Equal(t,
		"UPDATE discovered_links SET status = $1, error_message = $2, scraped_at = $3, metadata = $4 WHERE id = $5 AND status = $6",
		query)
	require.Equal(t, "error", args[0])
	require.Equal(t, &msg, args[1])
	require.Equal(t, now, args[2])
	require.JSONEq(t, `{"failure_kind":"content_quality"}`, string(args[3].([]byte)))
	require.Equal(t, []any{"link-1", "queued"}, args[4:])

	query, args, err = SQLite().UpdateLink(ingest.LinkUpdate{ID: "x", Expect: ingest.LinkStatusPending, Status: ingest.LinkStatusQueued})
	require.NoError(t, err)
	require.Equal(t, "UPDATE discovered_links SET status = ?, error_message = ? WHERE id = ? AND status = ?", query)
	require.Len(t, args, 4)
}

func TestInsertLinkDefaultsPending(t *testing.T) {
	t.Parallel()

	_, args, err := SQLite().InsertLink(ingest.Link{ID: "a", URL: "https://example.org"})
	require.NoError(t, err)
	require.Equal(t, "pending", args[2])
	require.Equal(t, []byte("{}"), args[5])

	_, _, err = SQLite().InsertLink(ingest.Link{})
	require.Error(t, err)
}

func TestInsertInterventionCarriesProvenance(t *testing.T) {
	t.Parallel()

	authority := "Elders Council"
	query, args, err := Postgres().InsertIntervention(ingest.Intervention{
		ID:        "i-1",
		Name:      "Bail Support",
		Type:      "Diversion",
		Geography: []string{"QLD"},
		Provenance: ingest.Provenance{
			ConsentLevel:      ingest.ConsentCommunityControlled,
			CulturalAuthority: &authority,
			SourceURL:         "https://example.org/bail",
		},
	})
	require.NoError(t, err)
	require.Contains(t, query, "INSERT INTO interventions (id,name,type,description,target_cohort,geography,operating_organization,consent_level,cultural_authority,source_url,source_link_id,metadata,created_at)")
	require.Equal(t, []byte("[]"), args[4])
	require.Equal(t, []byte(`["QLD"]`), args[5])
	require.Nil(t, args[6])
	require.Equal(t, "Community Controlled", args[7])
	require.Equal(t, &authority, args[8])
}

func TestSaveRawContentUpsertsOnHash(t *testing.T) {
	t.Parallel()

	query, _, err := Postgres().SaveRawContent(ingest.RawContent{ID: "r", ContentHash: "abc"})
	require.NoError(t, err)
	require.Contains(t, query, "ON CONFLICT (content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash RETURNING id")

	_, _, err = Postgres().SaveRawContent(ingest.RawContent{ID: "r"})
	require.Error(t, err)
}

type fakeRow struct{ values []any }

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case **string:
			if v, ok := r.values[i].(string); ok {
				*p = &v
			}
		case **float64:
			if v, ok := r.values[i].(float64); ok {
				*p = &v
			}
		case *[]byte:
			*p = r.values[i].([]byte)
		case **time.Time:
			if v, ok := r.values[i].(time.Time); ok {
				*p = &v
			}
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanLink(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	link, err := ScanLink(fakeRow{values: []any{
		"l-1", "https://example.org", "queued", "program", 0.8,
		[]byte(`{"source_name":"Example"}`), nil, nil, created,
	}})
	require.NoError(t, err)
	require.Equal(t, ingest.LinkStatusQueued, link.Status)
	require.Equal(t, "program", *link.PredictedType)
	require.InDelta(t, 0.8, *link.PredictedRelevance, 1e-9)
	require.Equal(t, "Example", link.Metadata["source_name"])
	require.Nil(t, link.ErrorMessage)
	require.Equal(t, created, link.CreatedAt)

	_, err = ScanLink(fakeRow{values: []any{
		"l-2", "u", "pending", nil, nil, []byte(`not json`), nil, nil, created,
	}})
	require.Error(t, err)
}
