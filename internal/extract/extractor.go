package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Defaults for Config.
const (
	DefaultMaxContentChars = 35000
	DefaultMaxTokens       = 4000
	DefaultTimeout         = 120 * time.Second
)

// Config tunes the extractor.
type Config struct {
	MaxContentChars int
	MaxTokens       int
	Timeout         time.Duration
}

// completer is the subset of Chain the extractor needs.
type completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, string, error)
}

// Extractor implements ingest.Extractor on top of a provider chain.
type Extractor struct {
	cfg    Config
	llm    completer
	logger *zap.Logger
}

var _ ingest.Extractor = (*Extractor)(nil)

// New builds an Extractor.
func New(cfg Config, llm completer, logger *zap.Logger) *Extractor {
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, llm: llm, logger: logger}
}

// Extract sends content with hints to the model and decodes the reply.
// Service failures wrap ErrExtraction; unusable replies wrap ErrParse.
// Provenance fields on the returned entities are left empty.
func (e *Extractor) Extract(ctx context.Context, content string, hints ingest.Hints) (ingest.Extraction, error) {
	prompt := buildPrompt(truncate(content, e.cfg.MaxContentChars), hints)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	text, provider, err := e.llm.Complete(callCtx, prompt, e.cfg.MaxTokens)
	if err != nil {
		return ingest.Extraction{}, ingest.NewFailure(ingest.FailureExtraction, "Extraction failed: "+summarize(err), err)
	}

	batch, dropped, err := decode(text, hints)
	if len(dropped) > 0 {
		e.logger.Info("dropped entities with unknown types",
			zap.String("provider", provider),
			zap.Strings("entities", dropped),
		)
	}
	if err != nil {
		e.logger.Debug("unparseable extraction reply",
			zap.String("provider", provider),
			zap.String("reply_prefix", truncate(text, 200)),
		)
		return ingest.Extraction{Provider: provider}, ingest.NewFailure(ingest.FailureParse, "Extraction response could not be parsed", err)
	}
	return ingest.Extraction{Batch: batch, Provider: provider}, nil
}

func summarize(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return fmt.Sprintf("%s returned HTTP %d", svcErr.Provider, svcErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return truncate(err.Error(), 300)
}

type wireIntervention struct {
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	Description           string   `json:"description"`
	TargetCohort          []string `json:"target_cohort"`
	Geography             []string `json:"geography"`
	OperatingOrganization string   `json:"operating_organization"`
}

type wireEvidence struct {
	Title           string `json:"title"`
	EvidenceType    string `json:"evidence_type"`
	Methodology     string `json:"methodology"`
	Findings        string `json:"findings"`
	Author          string `json:"author"`
	Organization    string `json:"organization"`
	PublicationDate string `json:"publication_date"`
}

type wireOutcome struct {
	Name              string `json:"name"`
	OutcomeType       string `json:"outcome_type"`
	Description       string `json:"description"`
	MeasurementMethod string `json:"measurement_method"`
	Indicators        string `json:"indicators"`
	TimeHorizon       string `json:"time_horizon"`
	Beneficiary       string `json:"beneficiary"`
}

type wireContext struct {
	Name        string `json:"name"`
	ContextType string `json:"context_type"`
	Location    string `json:"location"`
	State       string `json:"state"`
}

// wireBatch deliberately has no consent or authority fields; anything the
// model says about provenance is dropped here.
type wireBatch struct {
	Interventions *[]wireIntervention `json:"interventions"`
	Evidence      *[]wireEvidence     `json:"evidence"`
	Outcomes      *[]wireOutcome      `json:"outcomes"`
	Contexts      *[]wireContext      `json:"contexts"`
}

// Decode parses a model reply into an EntityBatch. The reply must be a JSON
// object carrying at least one of the four entity arrays. Type fields are
// mapped onto the controlled vocabularies in ingest; entities whose type
// matches no entry are dropped.
func Decode(reply string, hints ingest.Hints) (ingest.EntityBatch, error) {
	batch, _, err := decode(reply, hints)
	return batch, err
}

// decode is Decode that also names the dropped entities.
func decode(reply string, hints ingest.Hints) (ingest.EntityBatch, []string, error) {
	text := stripFences(reply)
	var wire wireBatch
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
		if start < 0 || end <= start {
			return ingest.EntityBatch{}, nil, fmt.Errorf("decode extraction json: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &wire); err != nil {
			return ingest.EntityBatch{}, nil, fmt.Errorf("decode extraction json: %w", err)
		}
	}
	if wire.Interventions == nil && wire.Evidence == nil && wire.Outcomes == nil && wire.Contexts == nil {
		return ingest.EntityBatch{}, nil, errors.New("decode extraction json: no entity arrays")
	}
	batch, dropped := wire.toBatch(hints)
	return batch, dropped, nil
}

func (w wireBatch) toBatch(hints ingest.Hints) (ingest.EntityBatch, []string) {
	var (
		batch   ingest.EntityBatch
		dropped []string
	)
	drop := func(kind, name, label string) {
		dropped = append(dropped, fmt.Sprintf("%s %q (type %q)", kind, name, label))
	}
	if w.Interventions != nil {
		for _, in := range *w.Interventions {
			name := strings.TrimSpace(in.Name)
			if name == "" {
				continue
			}
			kind, ok := interventionTypes.canonical(in.Type)
			if !ok {
				drop("intervention", name, in.Type)
				continue
			}
			geography := cleanList(in.Geography)
			if len(geography) == 0 && hints.Jurisdiction != "" && hints.Jurisdiction != ingest.JurisdictionUnknown {
				geography = []string{hints.Jurisdiction}
			}
			batch.Interventions = append(batch.Interventions, ingest.Intervention{
				Name:                  name,
				Type:                  kind,
				Description:           strings.TrimSpace(in.Description),
				TargetCohort:          cleanList(in.TargetCohort),
				Geography:             geography,
				OperatingOrganization: strings.TrimSpace(in.OperatingOrganization),
			})
		}
	}
	if w.Evidence != nil {
		for _, ev := range *w.Evidence {
			title := strings.TrimSpace(ev.Title)
			if title == "" {
				continue
			}
			kind, ok := evidenceTypes.canonical(ev.EvidenceType)
			if !ok {
				drop("evidence", title, ev.EvidenceType)
				continue
			}
			batch.Evidence = append(batch.Evidence, ingest.Evidence{
				Title:           title,
				EvidenceType:    kind,
				Methodology:     strings.TrimSpace(ev.Methodology),
				Findings:        strings.TrimSpace(ev.Findings),
				Author:          strings.TrimSpace(ev.Author),
				Organization:    strings.TrimSpace(ev.Organization),
				PublicationDate: strings.TrimSpace(ev.PublicationDate),
			})
		}
	}
	if w.Outcomes != nil {
		for _, oc := range *w.Outcomes {
			name := strings.TrimSpace(oc.Name)
			if name == "" {
				continue
			}
			kind, ok := outcomeTypes.canonical(oc.OutcomeType)
			if !ok {
				drop("outcome", name, oc.OutcomeType)
				continue
			}
			batch.Outcomes = append(batch.Outcomes, ingest.Outcome{
				Name:              name,
				OutcomeType:       kind,
				Description:       strings.TrimSpace(oc.Description),
				MeasurementMethod: strings.TrimSpace(oc.MeasurementMethod),
				Indicators:        strings.TrimSpace(oc.Indicators),
				TimeHorizon:       strings.TrimSpace(oc.TimeHorizon),
				Beneficiary:       strings.TrimSpace(oc.Beneficiary),
			})
		}
	}
	if w.Contexts != nil {
		for _, cx := range *w.Contexts {
			name := strings.TrimSpace(cx.Name)
			if name == "" {
				continue
			}
			kind, ok := contextTypes.canonical(cx.ContextType)
			if !ok {
				drop("context", name, cx.ContextType)
				continue
			}
			batch.Contexts = append(batch.Contexts, ingest.CommunityContext{
				Name:        name,
				ContextType: kind,
				Location:    strings.TrimSpace(cx.Location),
				State:       strings.TrimSpace(cx.State),
			})
		}
	}
	return batch, dropped
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
