package ingest

import "time"

// ConsentLevel is the provenance tag a source declares for its knowledge.
type ConsentLevel string

// Consent levels.
const (
	ConsentPublicKnowledgeCommons ConsentLevel = "Public Knowledge Commons"
	ConsentCommunityControlled    ConsentLevel = "Community Controlled"
	ConsentStrictlyPrivate        ConsentLevel = "Strictly Private"
)

// Valid reports whether c is a known consent level.
func (c ConsentLevel) Valid() bool {
	switch c {
	case ConsentPublicKnowledgeCommons, ConsentCommunityControlled, ConsentStrictlyPrivate:
		return true
	}
	return false
}

// InterventionTypes enumerates the intervention categories the extractor may assign.
var InterventionTypes = []string{
	"Prevention",
	"Early Intervention",
	"Diversion",
	"Therapeutic",
	"Wraparound Support",
	"Family Strengthening",
	"Cultural Connection",
	"Education/Employment",
	"Justice Reinvestment",
	"Community-Led",
}

// EvidenceTypes enumerates evidence methodologies.
var EvidenceTypes = []string{
	"RCT (Randomized Control Trial)",
	"Quasi-experimental",
	"Program evaluation",
	"Longitudinal study",
	"Case study",
	"Community-led research",
	"Lived experience",
	"Cultural knowledge",
	"Policy analysis",
}

// OutcomeTypes enumerates measured outcome categories.
var OutcomeTypes = []string{
	"Reduced detention/incarceration",
	"Reduced recidivism",
	"Diversion from justice system",
	"Educational engagement",
	"Employment/training",
	"Family connection",
	"Cultural connection",
	"Mental health/wellbeing",
	"Reduced substance use",
	"Community safety",
	"System cost reduction",
	"Healing/restoration",
}

// ContextTypes enumerates community context categories.
var ContextTypes = []string{
	"First Nations community",
	"Remote community",
	"Regional area",
	"Metro suburb",
	"Cultural community",
	"Care system",
	"Education setting",
}

// Provenance is shared by every extracted entity. It is stamped from the
// Source by the persistence layer, never from extractor output.
type Provenance struct {
	ConsentLevel      ConsentLevel   `json:"consent_level"`
	CulturalAuthority *string        `json:"cultural_authority,omitempty"`
	SourceURL         string         `json:"source_url"`
	SourceLinkID      string         `json:"source_link_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Intervention is a program or service.
type Intervention struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	Description           string   `json:"description"`
	TargetCohort          []string `json:"target_cohort"`
	Geography             []string `json:"geography"`
	OperatingOrganization string   `json:"operating_organization,omitempty"`
	Provenance
}

// Evidence is a study, evaluation or report.
type Evidence struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	EvidenceType    string `json:"evidence_type"`
	Methodology     string `json:"methodology,omitempty"`
	Findings        string `json:"findings"`
	Author          string `json:"author,omitempty"`
	Organization    string `json:"organization,omitempty"`
	PublicationDate string `json:"publication_date,omitempty"`
	Provenance
}

// Outcome is a measured result an intervention targets.
type Outcome struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	OutcomeType       string `json:"outcome_type"`
	Description       string `json:"description,omitempty"`
	MeasurementMethod string `json:"measurement_method,omitempty"`
	Indicators        string `json:"indicators,omitempty"`
	TimeHorizon       string `json:"time_horizon,omitempty"`
	Beneficiary       string `json:"beneficiary,omitempty"`
	Provenance
}

// CommunityContext describes a place or community setting.
type CommunityContext struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextType string `json:"context_type"`
	Location    string `json:"location,omitempty"`
	State       string `json:"state,omitempty"`
	Provenance
}

// EntityBatch is the decoded extractor output for one page.
type EntityBatch struct {
	Interventions []Intervention     `json:"interventions"`
	Evidence      []Evidence         `json:"evidence"`
	Outcomes      []Outcome          `json:"outcomes"`
	Contexts      []CommunityContext `json:"contexts"`
}

// Len returns the number of entities in the batch.
func (b EntityBatch) Len() int {
	return len(b.Interventions) + len(b.Evidence) + len(b.Outcomes) + len(b.Contexts)
}

// Title picks a human label for the batch, used as the link's extracted title.
func (b EntityBatch) Title() string {
	switch {
	case len(b.Interventions) > 0:
		return b.Interventions[0].Name
	case len(b.Evidence) > 0:
		return b.Evidence[0].Title
	case len(b.Outcomes) > 0:
		return b.Outcomes[0].Name
	case len(b.Contexts) > 0:
		return b.Contexts[0].Name
	}
	return ""
}

// Hints are the contextual labels sent alongside content to the extractor.
type Hints struct {
	PredictedType     string
	Jurisdiction      string
	ConsentLevel      ConsentLevel
	CulturalAuthority *string
	SourceName        string
	Title             string
}

// HistoryStatus is the outcome recorded in scrape history.
type HistoryStatus string

// History statuses.
const (
	HistorySuccess HistoryStatus = "success"
	HistoryFailure HistoryStatus = "failure"
)

// DefaultNoveltyScore is recorded until a novelty model exists.
const DefaultNoveltyScore = 0.5

// ScrapeHistory is the immutable audit row written once per attempt.
type ScrapeHistory struct {
	ID             string         `json:"id"`
	LinkID         string         `json:"link_id"`
	SourceURL      string         `json:"source_url"`
	Status         HistoryStatus  `json:"status"`
	EntitiesFound  int            `json:"entities_found"`
	RelevanceScore *float64       `json:"relevance_score"`
	NoveltyScore   float64        `json:"novelty_score"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	ContentLength  int            `json:"content_length"`
	ExtractedData  map[string]any `json:"extracted_data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RawContent is the archived copy of validated page content.
type RawContent struct {
	ID               string    `json:"id"`
	SourceURL        string    `json:"source_url"`
	SourceType       string    `json:"source_type"`
	Content          string    `json:"raw_content"`
	ContentHash      string    `json:"content_hash"`
	ExtractionMethod string    `json:"extraction_method"`
	WordCount        int       `json:"word_count"`
	BlobURI          string    `json:"blob_uri,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
