package ingest

import (
	"fmt"
	"strings"
	"time"
)

// LinkStatus is the lifecycle state of a discovered link.
type LinkStatus string

// Link status values persisted in the link store.
const (
	LinkStatusPending  LinkStatus = "pending"
	LinkStatusQueued   LinkStatus = "queued"
	LinkStatusScraped  LinkStatus = "scraped"
	LinkStatusRejected LinkStatus = "rejected"
	LinkStatusError    LinkStatus = "error"
)

// AllLinkStatuses lists every status in reporting order.
var AllLinkStatuses = []LinkStatus{
	LinkStatusPending,
	LinkStatusQueued,
	LinkStatusScraped,
	LinkStatusRejected,
	LinkStatusError,
}

var linkTransitions = map[LinkStatus][]LinkStatus{
	LinkStatusPending:  {LinkStatusQueued},
	LinkStatusQueued:   {LinkStatusQueued, LinkStatusScraped, LinkStatusRejected, LinkStatusError},
	LinkStatusRejected: {LinkStatusPending},
	LinkStatusError:    {LinkStatusPending},
}

// Valid reports whether s is one of the known statuses.
func (s LinkStatus) Valid() bool {
	for _, known := range AllLinkStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a processing attempt.
func (s LinkStatus) Terminal() bool {
	return s == LinkStatusScraped || s == LinkStatusRejected || s == LinkStatusError
}

// CanTransition reports whether a link may move from one status to another.
// Requeue edges (error/rejected -> pending) are only taken by an explicit
// requeue; scraped has no outgoing edges.
func CanTransition(from, to LinkStatus) bool {
	for _, next := range linkTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not allowed.
func ValidateTransition(from, to LinkStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: unknown status %q -> %q", ErrInvalidTransition, from, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// SourcesFor returns the statuses that may transition into to.
func SourcesFor(to LinkStatus) []LinkStatus {
	var out []LinkStatus
	for _, from := range AllLinkStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// SelectMode chooses which statuses a batch selection draws from.
type SelectMode string

// Selection modes.
const (
	SelectPendingAndQueued SelectMode = "pending_and_queued"
	SelectQueuedOnly       SelectMode = "queued_only"
)

// ParseSelectMode maps a user supplied mode onto a SelectMode. Empty input
// and the legacy "queue" alias select pending and queued links.
func ParseSelectMode(raw string) (SelectMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "queue", string(SelectPendingAndQueued):
		return SelectPendingAndQueued, nil
	case "queued", string(SelectQueuedOnly):
		return SelectQueuedOnly, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

// Statuses returns the statuses eligible for selection under m.
func (m SelectMode) Statuses() []LinkStatus {
	if m == SelectQueuedOnly {
		return []LinkStatus{LinkStatusQueued}
	}
	return []LinkStatus{LinkStatusPending, LinkStatusQueued}
}

// Link is a candidate URL produced by discovery.
type Link struct {
	ID                 string         `json:"id"`
	URL                string         `json:"url"`
	Status             LinkStatus     `json:"status"`
	PredictedType      *string        `json:"predicted_type"`
	PredictedRelevance *float64       `json:"predicted_relevance"`
	Metadata           map[string]any `json:"metadata"`
	ErrorMessage       *string        `json:"error_message"`
	ScrapedAt          *time.Time     `json:"scraped_at"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Link metadata keys written by discovery to declare provenance.
const (
	MetaSourceName        = "source_name"
	MetaSourceURL         = "source_url"
	MetaConsentLevel      = "consent_level"
	MetaCulturalAuthority = "cultural_authority"
	MetaJurisdiction      = "jurisdiction_hint"
)

// Source resolves the provenance discovery declared for the link. Links
// without a declared consent level default to Public Knowledge Commons.
func (l Link) Source() Source {
	src := Source{
		LinkID:       l.ID,
		Name:         metaString(l.Metadata, MetaSourceName),
		URL:          metaString(l.Metadata, MetaSourceURL),
		ConsentLevel: ConsentLevel(metaString(l.Metadata, MetaConsentLevel)),
		Jurisdiction: metaString(l.Metadata, MetaJurisdiction),
	}
	if src.URL == "" {
		src.URL = l.URL
	}
	if !src.ConsentLevel.Valid() {
		src.ConsentLevel = ConsentPublicKnowledgeCommons
	}
	switch authority := l.Metadata[MetaCulturalAuthority].(type) {
	case string:
		if authority = strings.TrimSpace(authority); authority != "" {
			src.CulturalAuthority = &authority
		}
	case bool:
		// A flagged community source speaks with its own authority.
		if authority && src.Name != "" {
			name := src.Name
			src.CulturalAuthority = &name
		}
	}
	if src.Jurisdiction == "" {
		src.Jurisdiction = DetectJurisdiction(l.URL)
	}
	return src
}

// PredictedTypeOr returns the predicted type or def when unset.
func (l Link) PredictedTypeOr(def string) string {
	if l.PredictedType == nil || *l.PredictedType == "" {
		return def
	}
	return *l.PredictedType
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// LinkUpdate is a conditional status write: it applies only while the stored
// status still equals Expect.
type LinkUpdate struct {
	ID           string
	Expect       LinkStatus
	Status       LinkStatus
	ErrorMessage *string
	ScrapedAt    *time.Time
	Metadata     map[string]any
}

// Source carries the provenance declared for the page a link points to.
// ConsentLevel and CulturalAuthority are copied onto every derived entity.
type Source struct {
	LinkID            string       `json:"link_id,omitempty"`
	Name              string       `json:"name,omitempty"`
	URL               string       `json:"url,omitempty"`
	ConsentLevel      ConsentLevel `json:"consent_level"`
	CulturalAuthority *string      `json:"cultural_authority,omitempty"`
	Jurisdiction      string       `json:"jurisdiction,omitempty"`
}

// QueueStats summarises link counts by status.
type QueueStats struct {
	Pending  int `json:"pending"`
	Queued   int `json:"queued"`
	Scraped  int `json:"scraped"`
	Rejected int `json:"rejected"`
	Error    int `json:"error"`
	Total    int `json:"total"`
}

// NewQueueStats folds per-status counts into QueueStats.
func NewQueueStats(counts map[LinkStatus]int) QueueStats {
	stats := QueueStats{
		Pending:  counts[LinkStatusPending],
		Queued:   counts[LinkStatusQueued],
		Scraped:  counts[LinkStatusScraped],
		Rejected: counts[LinkStatusRejected],
		Error:    counts[LinkStatusError],
	}
	stats.Total = stats.Pending + stats.Queued + stats.Scraped + stats.Rejected + stats.Error
	return stats
}

// CloneMetadata returns a shallow copy of m that is safe to mutate.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}
