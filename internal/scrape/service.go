// Package scrape exposes batch processing, status reporting and queue
// maintenance as one service shared by the HTTP API, the CLI and the
// scheduler.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/metrics"
)

// ErrInvalidRequest marks caller mistakes such as an oversized batch.
var ErrInvalidRequest = errors.New("invalid request")

// Defaults applied when Config fields are zero.
const (
	DefaultBatchSize    = 1
	DefaultMaxBatchSize = 50
	DefaultRecentWindow = 20
	MsgQueueEmpty       = "Queue is empty"
)

// LinkQueue is the subset of the link queue the service drives.
type LinkQueue interface {
	SelectBatch(ctx context.Context, n int, mode ingest.SelectMode) ([]ingest.Link, error)
	Claim(ctx context.Context, id string) (ingest.Link, error)
	Requeue(ctx context.Context, id string) (ingest.Link, error)
	Stats(ctx context.Context) (ingest.QueueStats, error)
}

// Runner processes claimed links and returns results in input order.
type Runner interface {
	Run(ctx context.Context, links []ingest.Link) []ingest.Result
}

// BlockList reports domains refused by the circuit breaker.
type BlockList interface {
	Blocked() []ingest.BlockedDomain
}

// Config tunes batch limits and the scheduler.
type Config struct {
	DefaultBatchSize int
	MaxBatchSize     int
	RecentWindow     int
	Scheduler        SchedulerConfig
}

// SchedulerConfig drives RunScheduled.
type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	Mode      ingest.SelectMode
}

// Deps groups the Service collaborators.
type Deps struct {
	Queue   LinkQueue
	Runner  Runner
	Breaker BlockList
	Links   ingest.LinkStore
	History ingest.HistoryStore
	IDs     ingest.IDGenerator
	Clock   ingest.Clock
	Logger  *zap.Logger
}

// Service coordinates batch runs over the link queue.
type Service struct {
	cfg     Config
	queue   LinkQueue
	runner  Runner
	breaker BlockList
	links   ingest.LinkStore
	history ingest.HistoryStore
	ids     ingest.IDGenerator
	clock   ingest.Clock
	logger  *zap.Logger
}

// New builds a Service.
func New(cfg Config, deps Deps) *Service {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = DefaultBatchSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.Scheduler.Mode == "" {
		cfg.Scheduler.Mode = ingest.SelectPendingAndQueued
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		queue:   deps.Queue,
		runner:  deps.Runner,
		breaker: deps.Breaker,
		links:   deps.Links,
		history: deps.History,
		ids:     deps.IDs,
		clock:   deps.Clock,
		logger:  logger.Named("scrape"),
	}
}

// Request selects what a batch run processes. A LinkID processes that one
// link; otherwise up to BatchSize links are drawn from the queue.
type Request struct {
	LinkID    string            `json:"linkId,omitempty"`
	BatchSize int               `json:"batchSize,omitempty"`
	Mode      ingest.SelectMode `json:"mode,omitempty"`
}

// Summary reports a finished batch run.
type Summary struct {
	Message         string          `json:"message"`
	Processed       int             `json:"processed"`
	Successful      int             `json:"successful"`
	Failed          int             `json:"failed"`
	Skipped         int             `json:"skipped"`
	AvgScrapeTimeMs int64           `json:"avgScrapeTimeMs"`
	Results         []ingest.Result `json:"results"`
}

// ProcessBatch claims the requested links, runs them through the worker pool
// and summarises the outcome. Per-link failures are reported in the results;
// only selection and claim errors are returned.
func (s *Service) ProcessBatch(ctx context.Context, req Request) (Summary, error) {
	links, err := s.selectLinks(ctx, req)
	if err != nil {
		return Summary{}, err
	}
	if len(links) == 0 {
		return Summary{Message: MsgQueueEmpty, Results: []ingest.Result{}}, nil
	}

	s.logger.Info("batch started", zap.Int("links", len(links)))
	results := s.runner.Run(ctx, links)
	summary := summarize(results)
	s.logger.Info("batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int64("avg_ms", summary.AvgScrapeTimeMs),
	)
	s.refreshQueueGauges(ctx)
	return summary, nil
}

func (s *Service) selectLinks(ctx context.Context, req Request) ([]ingest.Link, error) {
	if id := strings.TrimSpace(req.LinkID); id != "" {
		link, err := s.queue.Claim(ctx, id)
		if err != nil {
			return nil, err
		}
		return []ingest.Link{link}, nil
	}
	n := req.BatchSize
	switch {
	case n == 0:
		n = s.cfg.DefaultBatchSize
	case n < 0:
		return nil, fmt.Errorf("%w: batchSize must be positive", ErrInvalidRequest)
	case n > s.cfg.MaxBatchSize:
		return nil, fmt.Errorf("%w: batchSize %d exceeds maximum %d", ErrInvalidRequest, n, s.cfg.MaxBatchSize)
	}
	mode := req.Mode
	if mode == "" {
		mode = ingest.SelectPendingAndQueued
	}
	links, err := s.queue.SelectBatch(ctx, n, mode)
	if err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}
	return links, nil
}

func summarize(results []ingest.Result) Summary {
	summary := Summary{Results: results}
	var total time.Duration
	for _, r := range results {
		if r.Skipped {
			summary.Skipped++
			continue
		}
		summary.Processed++
		if r.Succeeded() {
			summary.Successful++
		}
		total += r.Duration
	}
	summary.Failed = summary.Processed - summary.Successful
	if summary.Processed > 0 {
		summary.AvgScrapeTimeMs = (total / time.Duration(summary.Processed)).Milliseconds()
	}
	summary.Message = fmt.Sprintf("Processed %d links, %d successful", summary.Processed, summary.Successful)
	if summary.Skipped > 0 {
		summary.Message += fmt.Sprintf(", %d left queued", summary.Skipped)
	}
	return summary
}

// Status is the scraper status probe.
type Status struct {
	Status         string                 `json:"status"`
	Queue          ingest.QueueStats      `json:"queue"`
	RecentActivity RecentActivity         `json:"recentActivity"`
	BlockedDomains []ingest.BlockedDomain `json:"blockedDomains"`
	History        []ingest.ScrapeHistory `json:"history"`
}

// RecentActivity summarises the most recent history rows.
type RecentActivity struct {
	Scrapes     int        `json:"scrapes"`
	SuccessRate int        `json:"successRate"`
	LastScrape  *time.Time `json:"lastScrape"`
}

// Status reports queue depth, recent success rate and blocked domains.
func (s *Service) Status(ctx context.Context) (Status, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	recent, err := s.history.RecentHistory(ctx, s.cfg.RecentWindow)
	if err != nil {
		return Status{}, fmt.Errorf("recent history: %w", err)
	}
	if recent == nil {
		recent = []ingest.ScrapeHistory{}
	}
	blocked := []ingest.BlockedDomain{}
	if s.breaker != nil {
		blocked = append(blocked, s.breaker.Blocked()...)
	}
	setQueueGauges(stats)
	return Status{
		Status:         "ready",
		Queue:          stats,
		RecentActivity: activity(recent),
		BlockedDomains: blocked,
		History:        recent,
	}, nil
}

func activity(recent []ingest.ScrapeHistory) RecentActivity {
	a := RecentActivity{Scrapes: len(recent)}
	if len(recent) == 0 {
		return a
	}
	ok := 0
	for _, h := range recent {
		if h.Status == ingest.HistorySuccess {
			ok++
		}
	}
	a.SuccessRate = int(math.Round(float64(ok) / float64(len(recent)) * 100))
	last := recent[0].CompletedAt
	a.LastScrape = &last
	return a
}

// Requeue returns an error or rejected link to pending.
func (s *Service) Requeue(ctx context.Context, id string) (ingest.Link, error) {
	if strings.TrimSpace(id) == "" {
		return ingest.Link{}, fmt.Errorf("%w: link id is required", ErrInvalidRequest)
	}
	link, err := s.queue.Requeue(ctx, id)
	if err != nil {
		return ingest.Link{}, err
	}
	s.refreshQueueGauges(ctx)
	return link, nil
}

// NewLink is a candidate URL submitted outside discovery.
type NewLink struct {
	URL                string         `json:"url"`
	PredictedType      string         `json:"predicted_type,omitempty"`
	PredictedRelevance *float64       `json:"predicted_relevance,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// AddLink normalizes and stores a pending link.
func (s *Service) AddLink(ctx context.Context, in NewLink) (ingest.Link, error) {
	if _, err := ingest.Hostname(in.URL); err != nil {
		return ingest.Link{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	normalized, err := ingest.NormalizeURL(in.URL)
	if err != nil {
		return ingest.Link{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r := in.PredictedRelevance; r != nil && (*r < 0 || *r > 1) {
		return ingest.Link{}, fmt.Errorf("%w: predicted_relevance must be within [0,1]", ErrInvalidRequest)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return ingest.Link{}, fmt.Errorf("link id: %w", err)
	}
	link := ingest.Link{
		ID:                 id,
		URL:                normalized,
		Status:             ingest.LinkStatusPending,
		PredictedRelevance: in.PredictedRelevance,
		Metadata:           ingest.CloneMetadata(in.Metadata),
		CreatedAt:          s.clock.Now().UTC(),
	}
	if t := strings.TrimSpace(in.PredictedType); t != "" {
		link.PredictedType = &t
	}
	if err := s.links.InsertLink(ctx, link); err != nil {
		return ingest.Link{}, fmt.Errorf("insert link: %w", err)
	}
	s.logger.Info("link added", zap.String("link_id", id), zap.String("url", normalized))
	return link, nil
}

// RunScheduled drains the queue every interval until ctx ends. Each tick
// runs at most one batch; a failed tick is logged and the loop continues.
func (s *Service) RunScheduled(ctx context.Context) {
	interval := s.cfg.Scheduler.Interval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := s.ProcessBatch(ctx, Request{
				BatchSize: s.cfg.Scheduler.BatchSize,
				Mode:      s.cfg.Scheduler.Mode,
			})
			if err != nil {
				s.logger.Error("scheduled batch failed", zap.Error(err))
				continue
			}
			s.logger.Debug("scheduled batch done", zap.String("summary", summary.Message))
		}
	}
}

func (s *Service) refreshQueueGauges(ctx context.Context) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		s.logger.Warn("queue stats unavailable", zap.Error(err))
		return
	}
	setQueueGauges(stats)
}

func setQueueGauges(stats ingest.QueueStats) {
	metrics.SetQueueDepth(string(ingest.LinkStatusPending), stats.Pending)
	metrics.SetQueueDepth(string(ingest.LinkStatusQueued), stats.Queued)
	metrics.SetQueueDepth(string(ingest.LinkStatusScraped), stats.Scraped)
	metrics.SetQueueDepth(string(ingest.LinkStatusRejected), stats.Rejected)
	metrics.SetQueueDepth(string(ingest.LinkStatusError), stats.Error)
}
