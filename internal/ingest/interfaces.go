package ingest

import (
	"context"
	"time"
)

// LinkStore persists discovered links and their status.
type LinkStore interface {
	// SelectCandidates returns up to limit links in one of statuses, ordered
	// by predicted relevance (nulls last) then creation time.
	SelectCandidates(ctx context.Context, statuses []LinkStatus, limit int) ([]Link, error)
	GetLink(ctx context.Context, id string) (Link, error)
	InsertLink(ctx context.Context, link Link) error
	// UpdateLink applies update only if the stored status equals update.Expect,
	// returning ErrConflict otherwise and ErrNotFound for unknown IDs.
	UpdateLink(ctx context.Context, update LinkUpdate) error
	CountByStatus(ctx context.Context) (map[LinkStatus]int, error)
}

// EntityStore writes extracted entities.
type EntityStore interface {
	InsertIntervention(ctx context.Context, entity Intervention) error
	InsertEvidence(ctx context.Context, entity Evidence) error
	InsertOutcome(ctx context.Context, entity Outcome) error
	InsertContext(ctx context.Context, entity CommunityContext) error
}

// HistoryStore writes and reads the scrape audit log.
type HistoryStore interface {
	InsertHistory(ctx context.Context, record ScrapeHistory) error
	RecentHistory(ctx context.Context, limit int) ([]ScrapeHistory, error)
}

// RawContentStore archives validated content keyed by content hash.
type RawContentStore interface {
	// SaveRawContent stores content and returns its ID. Content whose hash is
	// already stored returns the existing ID.
	SaveRawContent(ctx context.Context, content RawContent) (string, error)
}

// Store bundles every persistence interface a backend provides.
type Store interface {
	LinkStore
	EntityStore
	HistoryStore
	RawContentStore
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes processing events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves the main content of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// HealthChecker probes a URL before it is fetched.
type HealthChecker interface {
	Check(ctx context.Context, url string) HealthResult
}

// Extractor turns page content into structured entities.
type Extractor interface {
	Extract(ctx context.Context, content string, hints Hints) (Extraction, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Page is fetched page content reduced to text or markdown.
type Page struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	StatusCode int           `json:"status_code"`
	Method     string        `json:"method"`
	Duration   time.Duration `json:"duration"`
}

// HealthResult is the outcome of a pre-fetch probe.
type HealthResult struct {
	Healthy     bool   `json:"healthy"`
	StatusCode  int    `json:"status_code,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Extraction is an entity batch plus the provider that produced it.
type Extraction struct {
	Batch    EntityBatch
	Provider string
}

// Result summarises one link's processing attempt. Skipped marks a link that
// was never attempted and so keeps its queued status.
type Result struct {
	LinkID        string         `json:"linkId"`
	URL           string         `json:"url"`
	Status        LinkStatus     `json:"status"`
	ExtractedData map[string]any `json:"extractedData,omitempty"`
	Error         string         `json:"error,omitempty"`
	FailureKind   FailureKind    `json:"failureKind,omitempty"`
	Skipped       bool           `json:"skipped,omitempty"`
	Duration      time.Duration  `json:"-"`
}

// Succeeded reports whether the attempt ended in scraped.
func (r Result) Succeeded() bool {
	return r.Status == LinkStatusScraped
}

// BlockedDomain is a domain currently refused by the circuit breaker.
type BlockedDomain struct {
	Domain       string    `json:"domain"`
	Failures     int       `json:"failures"`
	LastFailure  time.Time `json:"last_failure"`
	BlockedUntil time.Time `json:"blocked_until"`
}
