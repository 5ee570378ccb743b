package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Store implements ingest.Store in memory.
type Store struct {
	mu            sync.RWMutex
	links         map[string]ingest.Link
	interventions []ingest.Intervention
	evidence      []ingest.Evidence
	outcomes      []ingest.Outcome
	contexts      []ingest.CommunityContext
	history       []ingest.ScrapeHistory
	raw           map[string]ingest.RawContent
}

var _ ingest.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		links: make(map[string]ingest.Link),
		raw:   make(map[string]ingest.RawContent),
	}
}

// Close implements ingest.Store.
func (s *Store) Close() error { return nil }

// InsertLink adds a new link.
func (s *Store) InsertLink(_ context.Context, link ingest.Link) error {
	if link.ID == "" {
		return fmt.Errorf("link id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[link.ID]; exists {
		return fmt.Errorf("insert link %s: %w", link.ID, ingest.ErrConflict)
	}
	if link.Status == "" {
		link.Status = ingest.LinkStatusPending
	}
	link.Metadata = ingest.CloneMetadata(link.Metadata)
	s.links[link.ID] = link
	return nil
}

// GetLink fetches a link by ID.
func (s *Store) GetLink(_ context.Context, id string) (ingest.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[id]
	if !ok {
		return ingest.Link{}, fmt.Errorf("link %s: %w", id, ingest.ErrNotFound)
	}
	link.Metadata = ingest.CloneMetadata(link.Metadata)
	return link, nil
}

// SelectCandidates returns links in statuses by relevance (nulls last) then age.
func (s *Store) SelectCandidates(_ context.Context, statuses []ingest.LinkStatus, limit int) ([]ingest.Link, error) {
	want := make(map[ingest.LinkStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.RLock()
	out := make([]ingest.Link, 0)
	for _, link := range s.links {
		if want[link.Status] {
			link.Metadata = ingest.CloneMetadata(link.Metadata)
			out = append(out, link)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PredictedRelevance, out[j].PredictedRelevance
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && *a != *b:
			return *a > *b
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateLink applies update while the stored status equals update.Expect.
func (s *Store) UpdateLink(_ context.Context, update ingest.LinkUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[update.ID]
	if !ok {
		return fmt.Errorf("link %s: %w", update.ID, ingest.ErrNotFound)
	}
	if link.Status != update.Expect {
		return fmt.Errorf("link %s is %s, expected %s: %w", update.ID, link.Status, update.Expect, ingest.ErrConflict)
	}
	link.Status = update.Status
	link.ErrorMessage = update.ErrorMessage
	if update.ScrapedAt != nil {
		ts := *update.ScrapedAt
		link.ScrapedAt = &ts
	}
	if update.Metadata != nil {
		link.Metadata = ingest.CloneMetadata(update.Metadata)
	}
	s.links[update.ID] = link
	return nil
}

// CountByStatus returns link counts per status.
func (s *Store) CountByStatus(_ context.Context) (map[ingest.LinkStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[ingest.LinkStatus]int)
	for _, link := range s.links {
		counts[link.Status]++
	}
	return counts, nil
}

// InsertIntervention implements ingest.EntityStore.
func (s *Store) InsertIntervention(_ context.Context, e ingest.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interventions = append(s.interventions, e)
	return nil
}

// InsertEvidence implements ingest.EntityStore.
func (s *Store) InsertEvidence(_ context.Context, e ingest.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidence = append(s.evidence, e)
	return nil
}

// InsertOutcome implements ingest.EntityStore.
func (s *Store) InsertOutcome(_ context.Context, e ingest.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, e)
	return nil
}

// InsertContext implements ingest.EntityStore.
func (s *Store) InsertContext(_ context.Context, e ingest.CommunityContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, e)
	return nil
}

// Entities returns copies of every stored entity.
func (s *Store) Entities() ingest.EntityBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ingest.EntityBatch{
		Interventions: append([]ingest.Intervention(nil), s.interventions...),
		Evidence:      append([]ingest.Evidence(nil), s.evidence...),
		Outcomes:      append([]ingest.Outcome(nil), s.outcomes...),
		Contexts:      append([]ingest.CommunityContext(nil), s.contexts...),
	}
}

// InsertHistory appends an audit row.
func (s *Store) InsertHistory(_ context.Context, record ingest.ScrapeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, record)
	return nil
}

// RecentHistory returns up to limit rows, newest first.
func (s *Store) RecentHistory(_ context.Context, limit int) ([]ingest.ScrapeHistory, error) {
	s.mu.RLock()
	rows := make([]ingest.ScrapeHistory, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		rows = append(rows, s.history[i])
	}
	s.mu.RUnlock()
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CompletedAt.After(rows[j].CompletedAt)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// SaveRawContent stores content once per hash.
func (s *Store) SaveRawContent(_ context.Context, content ingest.RawContent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.raw[content.ContentHash]; ok {
		return existing.ID, nil
	}
	s.raw[content.ContentHash] = content
	return content.ID, nil
}
