// Package worker runs the per-link ingestion pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/metrics"
	"github.com/JakeFAU/youth-justice-ingest/internal/queue"
)

// Messages recorded on links that never reach the fetcher.
const (
	MsgCircuitOpen     = "Circuit breaker open"
	MsgHealthPrefix    = "Health check failed: "
	MsgInvalidURL      = "Invalid URL"
	MsgPanicPrefix     = "Internal error: "
	EventLinkProcessed = "link.processed"
	finalizeTimeout    = 15 * time.Second
	tracerName         = "github.com/JakeFAU/youth-justice-ingest/internal/worker"
)

// Breaker is the per-domain circuit breaker the worker consults.
type Breaker interface {
	Allow(domain string) bool
	RecordFailure(domain string) bool
	RecordSuccess(domain string)
}

// Validator gates URLs before any network call and content before extraction.
type Validator interface {
	CheckURL(rawURL string) error
	CheckContent(content string) error
}

// Persister writes entities, raw content and history rows.
type Persister interface {
	Persist(ctx context.Context, batch ingest.EntityBatch, source ingest.Source) (int, error)
	RecordAttempt(ctx context.Context, record ingest.ScrapeHistory) error
	Archive(ctx context.Context, sourceURL, content, method string) (ingest.RawContent, error)
}

// Completer records the terminal status of a claimed link.
type Completer interface {
	Complete(ctx context.Context, link ingest.Link, c queue.Completion) (ingest.Link, error)
}

// Config controls Worker behavior.
type Config struct {
	SkipHealthCheck bool
	Topic           string
}

// Deps groups the Worker collaborators. Health and Publisher may be nil.
type Deps struct {
	Queue     Completer
	Breaker   Breaker
	Health    ingest.HealthChecker
	Fetcher   ingest.Fetcher
	Validator Validator
	Extractor ingest.Extractor
	Persister Persister
	Publisher ingest.Publisher
	Clock     ingest.Clock
	Logger    *zap.Logger
}

// Worker processes one claimed link at a time. It is safe for concurrent use
// when its collaborators are.
type Worker struct {
	cfg       Config
	queue     Completer
	breaker   Breaker
	health    ingest.HealthChecker
	fetcher   ingest.Fetcher
	validator Validator
	extractor ingest.Extractor
	persister Persister
	publisher ingest.Publisher
	clock     ingest.Clock
	logger    *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps) *Worker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:       cfg,
		queue:     deps.Queue,
		breaker:   deps.Breaker,
		health:    deps.Health,
		fetcher:   deps.Fetcher,
		validator: deps.Validator,
		extractor: deps.Extractor,
		persister: deps.Persister,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    logger.Named("worker"),
	}
}

// attempt carries what the pipeline learned about one link.
type attempt struct {
	link     ingest.Link
	domain   string
	fetchURL string
	page     ingest.Page
	raw      ingest.RawContent
	provider string
	batch    ingest.EntityBatch
	inserted int
}

// Process runs the pipeline for a link already claimed as queued and records
// its terminal status. Failures are returned in the Result, never as panics
// or errors, so one bad link cannot stop a batch.
func (w *Worker) Process(ctx context.Context, link ingest.Link) ingest.Result {
	start := w.clock.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker.Process")
	defer span.End()
	span.SetAttributes(attribute.String("link.id", link.ID), attribute.String("link.url", link.URL))

	a := &attempt{link: link, fetchURL: link.URL}
	failure := w.runSafely(ctx, a)

	// The outcome must be recorded even when the batch context was cancelled
	// mid-attempt.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	result := ingest.Result{LinkID: link.ID, URL: link.URL}
	completion := w.completion(a, failure)
	result.Status = completion.Status
	if failure != nil {
		result.Error = failure.Message
		result.FailureKind = failure.Kind
		span.SetStatus(codes.Error, failure.Message)
		w.logger.Warn("link failed",
			zap.String("link_id", link.ID),
			zap.String("url", link.URL),
			zap.String("domain", a.domain),
			zap.String("failure_kind", string(failure.Kind)),
			zap.Error(failure),
		)
	} else {
		result.ExtractedData = map[string]any{
			"title":         a.title(),
			"type":          link.PredictedTypeOr(""),
			"entities":      a.inserted,
			"provider":      a.provider,
			"interventions": len(a.batch.Interventions),
			"evidence":      len(a.batch.Evidence),
			"outcomes":      len(a.batch.Outcomes),
			"contexts":      len(a.batch.Contexts),
		}
	}

	if _, err := w.queue.Complete(finalCtx, link, completion); err != nil {
		w.logger.Error("record link status failed",
			zap.String("link_id", link.ID),
			zap.String("status", string(completion.Status)),
			zap.Error(err),
		)
		if result.Error == "" {
			result.Error = fmt.Sprintf("record status: %v", err)
		}
	}

	w.recordHistory(finalCtx, a, failure, start)
	result.Duration = w.clock.Now().Sub(start)
	w.publish(finalCtx, a, result)
	w.observe(a, result)
	return result
}

// runSafely turns a panic in any collaborator into an internal failure so
// the link still reaches a terminal status.
func (w *Worker) runSafely(ctx context.Context, a *attempt) (failure *ingest.Failure) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("link pipeline panicked",
				zap.String("link_id", a.link.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			failure = ingest.NewFailure(ingest.FailureInternal, fmt.Sprintf("%s%v", MsgPanicPrefix, r), nil)
		}
	}()
	return w.run(ctx, a)
}

func (w *Worker) run(ctx context.Context, a *attempt) *ingest.Failure {
	if err := w.validator.CheckURL(a.link.URL); err != nil {
		return ingest.AsFailure(err)
	}
	domain, err := ingest.Hostname(a.link.URL)
	if err != nil {
		return ingest.NewFailure(ingest.FailureDenied, MsgInvalidURL, err)
	}
	a.domain = domain

	if !w.breaker.Allow(domain) {
		return ingest.NewFailure(ingest.FailureCircuitOpen, MsgCircuitOpen, nil)
	}

	if failure := w.checkHealth(ctx, a); failure != nil {
		return w.countFailure(a, failure)
	}

	page, err := w.fetcher.Fetch(ctx, a.fetchURL)
	if err != nil {
		failure := ingest.AsFailure(err)
		if failure.Kind == ingest.FailureInternal && !errors.Is(err, context.Canceled) {
			failure = ingest.NewFailure(ingest.FailureNetwork, err.Error(), err)
		}
		return w.countFailure(a, failure)
	}
	a.page = page

	if err := w.validator.CheckContent(page.Content); err != nil {
		return w.countFailure(a, ingest.AsFailure(err))
	}
	w.breaker.RecordSuccess(domain)

	raw, err := w.persister.Archive(ctx, a.fetchURL, page.Content, page.Method)
	if err != nil {
		w.logger.Error("archive raw content failed", zap.String("link_id", a.link.ID), zap.Error(err))
	} else {
		a.raw = raw
	}

	source := a.link.Source()
	extraction, err := w.extractor.Extract(ctx, page.Content, ingest.Hints{
		PredictedType:     a.link.PredictedTypeOr(""),
		Jurisdiction:      source.Jurisdiction,
		ConsentLevel:      source.ConsentLevel,
		CulturalAuthority: source.CulturalAuthority,
		SourceName:        source.Name,
		Title:             page.Title,
	})
	if err != nil {
		failure := ingest.AsFailure(err)
		if failure.Kind == ingest.FailureInternal {
			failure = ingest.NewFailure(ingest.FailureExtraction, err.Error(), err)
		}
		return failure
	}
	a.provider = extraction.Provider
	a.batch = extraction.Batch

	inserted, err := w.persister.Persist(ctx, extraction.Batch, source)
	a.inserted = inserted
	if err != nil {
		failure := ingest.AsFailure(err)
		if failure.Kind == ingest.FailureInternal {
			failure = ingest.NewFailure(ingest.FailurePersistence, err.Error(), err)
		}
		return failure
	}
	return nil
}

// checkHealth probes the link and switches the fetch URL to a redirect
// target when the probe reports one. Denied redirect targets reject the link.
func (w *Worker) checkHealth(ctx context.Context, a *attempt) *ingest.Failure {
	if w.cfg.SkipHealthCheck || w.health == nil {
		return nil
	}
	res := w.health.Check(ctx, a.link.URL)
	if !res.Healthy {
		return ingest.NewFailure(ingest.FailureNetwork, MsgHealthPrefix+res.Error, nil)
	}
	if res.RedirectURL != "" && res.RedirectURL != a.link.URL {
		if err := w.validator.CheckURL(res.RedirectURL); err != nil {
			return ingest.AsFailure(err)
		}
		a.fetchURL = res.RedirectURL
	}
	return nil
}

// countFailure charges failures that say something about the domain to its
// breaker. A retried fetch counts once.
func (w *Worker) countFailure(a *attempt, failure *ingest.Failure) *ingest.Failure {
	if failure.CountsAgainstBreaker() && a.domain != "" {
		if w.breaker.RecordFailure(a.domain) {
			w.logger.Warn("domain blocked", zap.String("domain", a.domain))
		}
	}
	return failure
}

func (w *Worker) completion(a *attempt, failure *ingest.Failure) queue.Completion {
	if failure != nil {
		return queue.Completion{
			Status:  failure.LinkStatus(),
			Message: failure.Message,
			Kind:    failure.Kind,
		}
	}
	meta := map[string]any{
		"extracted_title": a.title(),
		"entities_found":  a.inserted,
		"fetched_url":     a.fetchURL,
	}
	if a.raw.ID != "" {
		meta["raw_content_id"] = a.raw.ID
	}
	return queue.Completion{Status: ingest.LinkStatusScraped, Metadata: meta}
}

func (w *Worker) recordHistory(ctx context.Context, a *attempt, failure *ingest.Failure, start time.Time) {
	record := ingest.ScrapeHistory{
		LinkID:         a.link.ID,
		SourceURL:      a.fetchURL,
		Status:         ingest.HistorySuccess,
		EntitiesFound:  a.inserted,
		RelevanceScore: a.link.PredictedRelevance,
		StartedAt:      start.UTC(),
		ContentLength:  len(a.page.Content),
		ExtractedData: map[string]any{
			"interventions": len(a.batch.Interventions),
			"evidence":      len(a.batch.Evidence),
			"outcomes":      len(a.batch.Outcomes),
			"contexts":      len(a.batch.Contexts),
		},
		Metadata: map[string]any{
			"type":         a.link.PredictedTypeOr(""),
			"jurisdiction": a.link.Source().Jurisdiction,
		},
	}
	if a.provider != "" {
		record.Metadata["provider"] = a.provider
	}
	if a.page.Method != "" {
		record.Metadata["method"] = a.page.Method
	}
	if failure != nil {
		record.Status = ingest.HistoryFailure
		record.Metadata["failure_kind"] = string(failure.Kind)
		record.Metadata["error"] = failure.Message
	}
	if err := w.persister.RecordAttempt(ctx, record); err != nil {
		w.logger.Error("record scrape history failed", zap.String("link_id", a.link.ID), zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, a *attempt, result ingest.Result) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"event":          EventLinkProcessed,
		"link_id":        result.LinkID,
		"url":            result.URL,
		"fetched_url":    a.fetchURL,
		"status":         result.Status,
		"failure_kind":   result.FailureKind,
		"entities_found": a.inserted,
		"provider":       a.provider,
		"raw_content_id": a.raw.ID,
		"content_hash":   a.raw.ContentHash,
		"duration_ms":    result.Duration.Milliseconds(),
		"timestamp":      w.clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("publish link event failed", zap.String("link_id", result.LinkID), zap.Error(err))
	}
}

func (w *Worker) observe(a *attempt, result ingest.Result) {
	metrics.ObserveLink(string(result.Status), string(result.FailureKind), result.Duration)
	switch {
	case a.provider != "":
		metrics.ObserveExtraction(a.provider, "success")
	case result.FailureKind == ingest.FailureExtraction || result.FailureKind == ingest.FailureParse:
		metrics.ObserveExtraction("chain", string(result.FailureKind))
	}
	metrics.ObserveEntities("intervention", countIf(a, len(a.batch.Interventions)))
	metrics.ObserveEntities("evidence", countIf(a, len(a.batch.Evidence)))
	metrics.ObserveEntities("outcome", countIf(a, len(a.batch.Outcomes)))
	metrics.ObserveEntities("context", countIf(a, len(a.batch.Contexts)))
}

// countIf reports n only when the whole batch was stored.
func countIf(a *attempt, n int) int {
	if a.inserted != a.batch.Len() {
		return 0
	}
	return n
}

func (a *attempt) title() string {
	if t := a.batch.Title(); t != "" {
		return t
	}
	return a.page.Title
}
