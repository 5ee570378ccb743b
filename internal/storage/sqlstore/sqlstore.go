// Package sqlstore builds the SQL shared by the Postgres and SQLite stores.
// Both backends use the same tables and column layout; only the placeholder
// format differs.
package sqlstore

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Table names.
const (
	TableLinks         = "discovered_links"
	TableInterventions = "interventions"
	TableEvidence      = "evidence"
	TableOutcomes      = "outcomes"
	TableContexts      = "community_contexts"
	TableHistory       = "scrape_history"
	TableRawContent    = "raw_content"
)

var linkColumns = []string{
	"id", "url", "status", "predicted_type", "predicted_relevance",
	"metadata", "error_message", "scraped_at", "created_at",
}

var historyColumns = []string{
	"id", "link_id", "source_url", "status", "entities_found", "relevance_score",
	"novelty_score", "started_at", "completed_at", "content_length",
	"extracted_data", "metadata",
}

// Builder renders statements for one placeholder dialect.
type Builder struct {
	sb sq.StatementBuilderType
}

// Postgres renders $n placeholders.
func Postgres() Builder {
	return Builder{sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// SQLite renders ? placeholders.
func SQLite() Builder {
	return Builder{sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
}

// SelectCandidates selects links in statuses, relevance first (nulls last)
// then oldest first.
func (b Builder) SelectCandidates(statuses []ingest.LinkStatus, limit int) (string, []any, error) {
	if len(statuses) == 0 {
		return "", nil, fmt.Errorf("at least one status is required")
	}
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	q := b.sb.Select(linkColumns...).
		From(TableLinks).
		Where(sq.Eq{"status": values}).
		OrderBy("predicted_relevance DESC NULLS LAST", "created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q.ToSql()
}

// GetLink selects one link by ID.
func (b Builder) GetLink(id string) (string, []any, error) {
	return b.sb.Select(linkColumns...).From(TableLinks).Where(sq.Eq{"id": id}).ToSql()
}

// LinkStatus selects the stored status of one link.
func (b Builder) LinkStatus(id string) (string, []any, error) {
	return b.sb.Select("status").From(TableLinks).Where(sq.Eq{"id": id}).ToSql()
}

// InsertLink inserts a new link row. An empty status becomes pending.
func (b Builder) InsertLink(link ingest.Link) (string, []any, error) {
	if link.ID == "" {
		return "", nil, fmt.Errorf("link id is required")
	}
	if link.Status == "" {
		link.Status = ingest.LinkStatusPending
	}
	meta, err := EncodeJSON(link.Metadata)
	if err != nil {
		return "", nil, err
	}
	return b.sb.Insert(TableLinks).
		Columns(linkColumns...).
		Values(link.ID, link.URL, string(link.Status), link.PredictedType, link.PredictedRelevance,
			meta, link.ErrorMessage, link.ScrapedAt, link.CreatedAt).
		ToSql()
}

// UpdateLink renders the conditional status write. Zero rows affected means
// the link is missing or no longer in update.Expect.
func (b Builder) UpdateLink(update ingest.LinkUpdate) (string, []any, error) {
	q := b.sb.Update(TableLinks).
		Set("status", string(update.Status)).
		Set("error_message", update.ErrorMessage)
	if update.ScrapedAt != nil {
		q = q.Set("scraped_at", *update.ScrapedAt)
	}
	if update.Metadata != nil {
		meta, err := EncodeJSON(update.Metadata)
		if err != nil {
			return "", nil, err
		}
		q = q.Set("metadata", meta)
	}
	return q.Where(sq.Eq{"id": update.ID, "status": string(update.Expect)}).ToSql()
}

// CountByStatus groups links by status.
func (b Builder) CountByStatus() (string, []any, error) {
	return b.sb.Select("status", "COUNT(*)").From(TableLinks).GroupBy("status").ToSql()
}

func provenanceValues(p ingest.Provenance) ([]any, error) {
	meta, err := EncodeJSON(p.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{string(p.ConsentLevel), p.CulturalAuthority, p.SourceURL, nullable(p.SourceLinkID), meta, p.CreatedAt}, nil
}

var provenanceColumns = []string{
	"consent_level", "cultural_authority", "source_url", "source_link_id", "metadata", "created_at",
}

func (b Builder) insertEntity(table string, cols []string, vals []any, p ingest.Provenance) (string, []any, error) {
	pv, err := provenanceValues(p)
	if err != nil {
		return "", nil, err
	}
	return b.sb.Insert(table).
		Columns(append(cols, provenanceColumns...)...).
		Values(append(vals, pv...)...).
		ToSql()
}

// InsertIntervention inserts one intervention. List fields are stored as JSON.
func (b Builder) InsertIntervention(e ingest.Intervention) (string, []any, error) {
	cohort, err := EncodeList(e.TargetCohort)
	if err != nil {
		return "", nil, err
	}
	geo, err := EncodeList(e.Geography)
	if err != nil {
		return "", nil, err
	}
	return b.insertEntity(TableInterventions,
		[]string{"id", "name", "type", "description", "target_cohort", "geography", "operating_organization"},
		[]any{e.ID, e.Name, e.Type, e.Description, cohort, geo, nullable(e.OperatingOrganization)},
		e.Provenance)
}

// InsertEvidence inserts one evidence row.
func (b Builder) InsertEvidence(e ingest.Evidence) (string, []any, error) {
	return b.insertEntity(TableEvidence,
		[]string{"id", "title", "evidence_type", "methodology", "findings", "author", "organization", "publication_date"},
		[]any{e.ID, e.Title, e.EvidenceType, nullable(e.Methodology), e.Findings, nullable(e.Author),
			nullable(e.Organization), nullable(e.PublicationDate)},
		e.Provenance)
}

// InsertOutcome inserts one outcome row.
func (b Builder) InsertOutcome(e ingest.Outcome) (string, []any, error) {
	return b.insertEntity(TableOutcomes,
		[]string{"id", "name", "outcome_type", "description", "measurement_method", "indicators", "time_horizon", "beneficiary"},
		[]any{e.ID, e.Name, e.OutcomeType, nullable(e.Description), nullable(e.MeasurementMethod),
			nullable(e.Indicators), nullable(e.TimeHorizon), nullable(e.Beneficiary)},
		e.Provenance)
}

// InsertContext inserts one community context row.
func (b Builder) InsertContext(e ingest.CommunityContext) (string, []any, error) {
	return b.insertEntity(TableContexts,
		[]string{"id", "name", "context_type", "location", "state"},
		[]any{e.ID, e.Name, e.ContextType, nullable(e.Location), nullable(e.State)},
		e.Provenance)
}

// InsertHistory inserts one audit row.
func (b Builder) InsertHistory(h ingest.ScrapeHistory) (string, []any, error) {
	extracted, err := EncodeJSON(h.ExtractedData)
	if err != nil {
		return "", nil, err
	}
	meta, err := EncodeJSON(h.Metadata)
	if err != nil {
		return "", nil, err
	}
	return b.sb.Insert(TableHistory).
		Columns(historyColumns...).
		Values(h.ID, nullable(h.LinkID), h.SourceURL, string(h.Status), h.EntitiesFound, h.RelevanceScore,
			h.NoveltyScore, h.StartedAt, h.CompletedAt, h.ContentLength, extracted, meta).
		ToSql()
}

// RecentHistory selects the newest audit rows.
func (b Builder) RecentHistory(limit int) (string, []any, error) {
	q := b.sb.Select(historyColumns...).From(TableHistory).OrderBy("completed_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q.ToSql()
}

// SaveRawContent upserts on content_hash and returns the stored row's ID,
// which is the existing ID when the hash was already archived.
func (b Builder) SaveRawContent(c ingest.RawContent) (string, []any, error) {
	if c.ContentHash == "" {
		return "", nil, fmt.Errorf("content hash is required")
	}
	return b.sb.Insert(TableRawContent).
		Columns("id", "source_url", "source_type", "raw_content", "content_hash",
			"extraction_method", "word_count", "blob_uri", "created_at").
		Values(c.ID, c.SourceURL, c.SourceType, c.Content, c.ContentHash,
			c.ExtractionMethod, c.WordCount, nullable(c.BlobURI), c.CreatedAt).
		Suffix("ON CONFLICT (content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash RETURNING id").
		ToSql()
}

// Row is satisfied by pgx rows and database/sql rows.
type Row interface {
	Scan(dest ...any) error
}

// ScanLink reads a row selected with the link column list.
func ScanLink(row Row) (ingest.Link, error) {
	var (
		link   ingest.Link
		status string
		meta   []byte
	)
	if err := row.Scan(&link.ID, &link.URL, &status, &link.PredictedType, &link.PredictedRelevance,
		&meta, &link.ErrorMessage, &link.ScrapedAt, &link.CreatedAt); err != nil {
		return ingest.Link{}, err
	}
	link.Status = ingest.LinkStatus(status)
	m, err := DecodeJSON(meta)
	if err != nil {
		return ingest.Link{}, fmt.Errorf("decode metadata for link %s: %w", link.ID, err)
	}
	link.Metadata = m
	return link, nil
}

// ScanHistory reads a row selected with the history column list.
func ScanHistory(row Row) (ingest.ScrapeHistory, error) {
	var (
		h               ingest.ScrapeHistory
		linkID          *string
		status          string
		extracted, meta []byte
	)
	if err := row.Scan(&h.ID, &linkID, &h.SourceURL, &status, &h.EntitiesFound, &h.RelevanceScore,
		&h.NoveltyScore, &h.StartedAt, &h.CompletedAt, &h.ContentLength, &extracted, &meta); err != nil {
		return ingest.ScrapeHistory{}, err
	}
	if linkID != nil {
		h.LinkID = *linkID
	}
	h.Status = ingest.HistoryStatus(status)
	var err error
	if h.ExtractedData, err = DecodeJSON(extracted); err != nil {
		return ingest.ScrapeHistory{}, fmt.Errorf("decode extracted data for %s: %w", h.ID, err)
	}
	if h.Metadata, err = DecodeJSON(meta); err != nil {
		return ingest.ScrapeHistory{}, fmt.Errorf("decode metadata for %s: %w", h.ID, err)
	}
	return h, nil
}

// EncodeJSON marshals a JSON object column. Nil maps encode as {}.
func EncodeJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return data, nil
}

// EncodeList marshals a JSON array column. Nil slices encode as [].
func EncodeList(values []string) ([]byte, error) {
	if values == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal json list: %w", err)
	}
	return data, nil
}

// DecodeJSON unmarshals a JSON object column; empty input yields nil.
func DecodeJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
