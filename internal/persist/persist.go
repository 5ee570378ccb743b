// Package persist writes extracted entities, raw content and scrape history.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Config tunes the persister.
type Config struct {
	// BlobPrefix is the object prefix for raw content copies.
	BlobPrefix string
}

// Persister writes pipeline output through the store interfaces.
type Persister struct {
	cfg      Config
	entities ingest.EntityStore
	history  ingest.HistoryStore
	raw      ingest.RawContentStore
	blobs    ingest.BlobStore
	ids      ingest.IDGenerator
	clock    ingest.Clock
	hasher   ingest.Hasher
	logger   *zap.Logger
}

// Deps groups the Persister collaborators. Blobs may be nil.
type Deps struct {
	Entities ingest.EntityStore
	History  ingest.HistoryStore
	Raw      ingest.RawContentStore
	Blobs    ingest.BlobStore
	IDs      ingest.IDGenerator
	Clock    ingest.Clock
	Hasher   ingest.Hasher
	Logger   *zap.Logger
}

// New builds a Persister.
func New(cfg Config, deps Deps) *Persister {
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "raw"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		cfg:      cfg,
		entities: deps.Entities,
		history:  deps.History,
		raw:      deps.Raw,
		blobs:    deps.Blobs,
		ids:      deps.IDs,
		clock:    deps.Clock,
		hasher:   deps.Hasher,
		logger:   logger,
	}
}

// Persist writes every entity in batch with provenance stamped from source.
// Entity writes are independent: a failed write is logged and skipped. It
// returns how many entities were stored and fails with ErrPersistence only
// when there was something to write and every write failed.
func (p *Persister) Persist(ctx context.Context, batch ingest.EntityBatch, source ingest.Source) (int, error) {
	now := p.clock.Now().UTC()
	var (
		inserted int
		errs     []error
	)
	write := func(kind, name string, fn func(prov ingest.Provenance, id string) error) {
		id, err := p.ids.NewID()
		if err == nil {
			err = fn(p.provenance(source, now), id)
		}
		if err != nil {
			p.logger.Warn("entity write failed",
				zap.String("kind", kind),
				zap.String("name", name),
				zap.String("link_id", source.LinkID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("insert %s %q: %w", kind, name, err))
			return
		}
		inserted++
	}

	for _, e := range batch.Interventions {
		write("intervention", e.Name, func(prov ingest.Provenance, id string) error {
			e.ID, e.Provenance = id, prov
			return p.entities.InsertIntervention(ctx, e)
		})
	}
	for _, e := range batch.Evidence {
		write("evidence", e.Title, func(prov ingest.Provenance, id string) error {
			e.ID, e.Provenance = id, prov
			return p.entities.InsertEvidence(ctx, e)
		})
	}
	for _, e := range batch.Outcomes {
		write("outcome", e.Name, func(prov ingest.Provenance, id string) error {
			e.ID, e.Provenance = id, prov
			return p.entities.InsertOutcome(ctx, e)
		})
	}
	for _, e := range batch.Contexts {
		write("context", e.Name, func(prov ingest.Provenance, id string) error {
			e.ID, e.Provenance = id, prov
			return p.entities.InsertContext(ctx, e)
		})
	}

	if inserted == 0 && len(errs) > 0 {
		msg := fmt.Sprintf("Persistence failed: all %d entity writes failed", len(errs))
		return 0, ingest.NewFailure(ingest.FailurePersistence, msg, errors.Join(errs...))
	}
	return inserted, nil
}

// provenance copies the source's declared values. The pointer is cloned so
// entities never share mutable state with the source.
func (p *Persister) provenance(source ingest.Source, now time.Time) ingest.Provenance {
	prov := ingest.Provenance{
		ConsentLevel: source.ConsentLevel,
		SourceURL:    source.URL,
		SourceLinkID: source.LinkID,
		CreatedAt:    now,
		Metadata:     map[string]any{},
	}
	if source.CulturalAuthority != nil {
		authority := *source.CulturalAuthority
		prov.CulturalAuthority = &authority
	}
	if source.Jurisdiction != "" {
		prov.Metadata["jurisdiction"] = source.Jurisdiction
	}
	if source.Name != "" {
		prov.Metadata["source_name"] = source.Name
	}
	return prov
}

// RecordAttempt writes the scrape history row for one attempt.
func (p *Persister) RecordAttempt(ctx context.Context, record ingest.ScrapeHistory) error {
	if record.ID == "" {
		id, err := p.ids.NewID()
		if err != nil {
			return fmt.Errorf("history id: %w", err)
		}
		record.ID = id
	}
	if record.NoveltyScore == 0 {
		record.NoveltyScore = ingest.DefaultNoveltyScore
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = p.clock.Now().UTC()
	}
	if err := p.history.InsertHistory(ctx, record); err != nil {
		return fmt.Errorf("insert scrape history: %w", err)
	}
	return nil
}

// Archive stores validated content keyed by its sha256 hash and, when a blob
// store is configured, a copy at <prefix>/<hash>.md. Archiving the same
// content twice returns the existing record ID.
func (p *Persister) Archive(ctx context.Context, sourceURL, content, method string) (ingest.RawContent, error) {
	hash, err := p.hasher.Hash([]byte(content))
	if err != nil {
		return ingest.RawContent{}, fmt.Errorf("hash content: %w", err)
	}
	id, err := p.ids.NewID()
	if err != nil {
		return ingest.RawContent{}, fmt.Errorf("raw content id: %w", err)
	}
	record := ingest.RawContent{
		ID:               id,
		SourceURL:        sourceURL,
		SourceType:       "web_page",
		Content:          content,
		ContentHash:      hash,
		ExtractionMethod: method,
		WordCount:        len(strings.Fields(content)),
		CreatedAt:        p.clock.Now().UTC(),
	}
	if p.blobs != nil {
		path := fmt.Sprintf("%s/%s.md", strings.Trim(p.cfg.BlobPrefix, "/"), hash)
		uri, err := p.blobs.PutObject(ctx, path, "text/markdown; charset=utf-8", []byte(content))
		if err != nil {
			p.logger.Warn("raw content blob write failed", zap.String("path", path), zap.Error(err))
		} else {
			record.BlobURI = uri
		}
	}
	storedID, err := p.raw.SaveRawContent(ctx, record)
	if err != nil {
		return ingest.RawContent{}, fmt.Errorf("save raw content: %w", err)
	}
	record.ID = storedID
	return record, nil
}
