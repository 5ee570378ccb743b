// Package queue drives links through their status machine on top of a
// LinkStore: batch selection with claim, completion and explicit requeue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Completion metadata keys.
const (
	MetaFailedAt      = "failed_at"
	MetaFailureKind   = "failure_kind"
	MetaRejectReason  = "rejection_reason"
	MetaRequeuedAt    = "requeued_at"
	MetaPreviousError = "previous_error"
)

// Completion describes how a processing attempt ended.
type Completion struct {
	Status  ingest.LinkStatus
	Message string
	Kind    ingest.FailureKind
	// Metadata is merged over the link's existing metadata.
	Metadata map[string]any
}

// LinkQueue selects, claims and completes links.
type LinkQueue struct {
	store  ingest.LinkStore
	clock  ingest.Clock
	logger *zap.Logger
}

// New constructs a LinkQueue.
func New(store ingest.LinkStore, clock ingest.Clock, logger *zap.Logger) *LinkQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkQueue{store: store, clock: clock, logger: logger}
}

// SelectBatch returns up to n links eligible under mode and marks each one
// queued before returning it. Links claimed concurrently by another worker
// are skipped.
func (q *LinkQueue) SelectBatch(ctx context.Context, n int, mode ingest.SelectMode) ([]ingest.Link, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", n)
	}
	candidates, err := q.store.SelectCandidates(ctx, mode.Statuses(), n)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	claimed := make([]ingest.Link, 0, len(candidates))
	for _, link := range candidates {
		got, err := q.claim(ctx, link)
		if errors.Is(err, ingest.ErrConflict) || errors.Is(err, ingest.ErrNotFound) {
			q.logger.Debug("link claimed elsewhere", zap.String("link_id", link.ID), zap.Error(err))
			continue
		}
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, got)
	}
	return claimed, nil
}

// Claim marks one link queued by ID. Links in a status that cannot move to
// queued return ErrInvalidTransition.
func (q *LinkQueue) Claim(ctx context.Context, id string) (ingest.Link, error) {
	link, err := q.store.GetLink(ctx, id)
	if err != nil {
		return ingest.Link{}, err
	}
	return q.claim(ctx, link)
}

func (q *LinkQueue) claim(ctx context.Context, link ingest.Link) (ingest.Link, error) {
	if err := ingest.ValidateTransition(link.Status, ingest.LinkStatusQueued); err != nil {
		return ingest.Link{}, fmt.Errorf("claim link %s: %w", link.ID, err)
	}
	if err := q.store.UpdateLink(ctx, ingest.LinkUpdate{
		ID:           link.ID,
		Expect:       link.Status,
		Status:       ingest.LinkStatusQueued,
		ErrorMessage: link.ErrorMessage,
	}); err != nil {
		return ingest.Link{}, fmt.Errorf("claim link %s: %w", link.ID, err)
	}
	link.Status = ingest.LinkStatusQueued
	return link, nil
}

// Complete moves a queued link to its terminal status. error_message is only
// written for the error status.
func (q *LinkQueue) Complete(ctx context.Context, link ingest.Link, c Completion) (ingest.Link, error) {
	if !c.Status.Terminal() {
		return ingest.Link{}, fmt.Errorf("%w: %s is not a completion status", ingest.ErrInvalidTransition, c.Status)
	}
	if err := ingest.ValidateTransition(link.Status, c.Status); err != nil {
		return ingest.Link{}, fmt.Errorf("complete link %s: %w", link.ID, err)
	}

	now := q.clock.Now()
	meta := ingest.CloneMetadata(link.Metadata)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	update := ingest.LinkUpdate{
		ID:       link.ID,
		Expect:   link.Status,
		Status:   c.Status,
		Metadata: meta,
	}
	switch c.Status {
	case ingest.LinkStatusScraped:
		update.ScrapedAt = &now
		delete(meta, MetaFailureKind)
		delete(meta, MetaFailedAt)
	case ingest.LinkStatusError:
		msg := strings.TrimSpace(c.Message)
		if msg == "" {
			msg = "Unknown error"
		}
		update.ErrorMessage = &msg
		meta[MetaFailedAt] = now.Format(time.RFC3339)
		meta[MetaFailureKind] = string(c.Kind)
	case ingest.LinkStatusRejected:
		meta[MetaFailedAt] = now.Format(time.RFC3339)
		meta[MetaFailureKind] = string(c.Kind)
		if c.Message != "" {
			meta[MetaRejectReason] = c.Message
		}
	}

	if err := q.store.UpdateLink(ctx, update); err != nil {
		return ingest.Link{}, fmt.Errorf("complete link %s: %w", link.ID, err)
	}
	link.Status = c.Status
	link.ErrorMessage = update.ErrorMessage
	link.Metadata = meta
	if update.ScrapedAt != nil {
		link.ScrapedAt = update.ScrapedAt
	}
	return link, nil
}

// Requeue returns an error or rejected link to pending. Scraped links are
// never requeued.
func (q *LinkQueue) Requeue(ctx context.Context, id string) (ingest.Link, error) {
	link, err := q.store.GetLink(ctx, id)
	if err != nil {
		return ingest.Link{}, err
	}
	if err := ingest.ValidateTransition(link.Status, ingest.LinkStatusPending); err != nil {
		return ingest.Link{}, fmt.Errorf("requeue link %s: %w", id, err)
	}
	meta := ingest.CloneMetadata(link.Metadata)
	meta[MetaRequeuedAt] = q.clock.Now().Format(time.RFC3339)
	if link.ErrorMessage != nil {
		meta[MetaPreviousError] = *link.ErrorMessage
	}
	if err := q.store.UpdateLink(ctx, ingest.LinkUpdate{
		ID:       id,
		Expect:   link.Status,
		Status:   ingest.LinkStatusPending,
		Metadata: meta,
	}); err != nil {
		return ingest.Link{}, fmt.Errorf("requeue link %s: %w", id, err)
	}
	q.logger.Info("link requeued", zap.String("link_id", id), zap.String("from", string(link.Status)))
	link.Status = ingest.LinkStatusPending
	link.ErrorMessage = nil
	link.Metadata = meta
	return link, nil
}

// Stats returns link counts by status.
func (q *LinkQueue) Stats(ctx context.Context) (ingest.QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return ingest.QueueStats{}, fmt.Errorf("count links: %w", err)
	}
	return ingest.NewQueueStats(counts), nil
}
