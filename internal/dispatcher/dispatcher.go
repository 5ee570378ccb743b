// Package dispatcher fans a selected batch of links out to a bounded pool of
// workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/metrics"
	"github.com/JakeFAU/youth-justice-ingest/internal/queue/memory"
)

// Processor runs the pipeline for one claimed link.
type Processor interface {
	Process(ctx context.Context, link ingest.Link) ingest.Result
}

// Spacer delays requests to a domain that was contacted recently.
type Spacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the pool size.
type Config struct {
	Concurrency int
}

// Dispatcher runs batches through a worker pool.
type Dispatcher struct {
	concurrency int
	processor   Processor
	spacer      Spacer
	logger      *zap.Logger
}

// New creates a Dispatcher. A nil spacer disables per-domain delays.
func New(cfg Config, processor Processor, spacer Spacer, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		concurrency: cfg.Concurrency,
		processor:   processor,
		spacer:      spacer,
		logger:      logger.Named("dispatcher"),
	}
}

// Run processes links and returns one result per link in the order given.
// Links still waiting when ctx ends are left queued for a later sweep.
func (d *Dispatcher) Run(ctx context.Context, links []ingest.Link) []ingest.Result {
	results := make([]ingest.Result, len(links))
	if len(links) == 0 {
		return results
	}

	tasks := memory.NewQueue(len(links))
	for i, link := range links {
		// Capacity equals the batch size so this never blocks.
		if err := tasks.Enqueue(context.Background(), memory.Task{Index: i, Link: link}); err != nil {
			results[i] = unprocessed(link, err)
		}
	}
	tasks.Close()

	workers := min(d.concurrency, len(links))
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for {
				task, err := tasks.Dequeue(context.Background())
				if errors.Is(err, memory.ErrClosed) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("dequeue task: %w", err)
				}
				results[task.Index] = d.handle(ctx, task.Link)
			}
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Error("worker pool stopped", zap.Error(err))
	}
	return results
}

func (d *Dispatcher) handle(ctx context.Context, link ingest.Link) (res ingest.Result) {
	// The worker recovers pipeline panics itself; this catches the ones
	// raised while it records the outcome.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("processor panicked",
				zap.String("link_id", link.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = ingest.Result{
				LinkID:      link.ID,
				URL:         link.URL,
				Status:      link.Status,
				Error:       fmt.Sprintf("processor panic: %v", r),
				FailureKind: ingest.FailureInternal,
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return unprocessed(link, err)
	}
	if d.spacer != nil {
		if err := d.spacer.Wait(ctx, link.URL); err != nil {
			return unprocessed(link, err)
		}
	}
	return d.processor.Process(ctx, link)
}

func unprocessed(link ingest.Link, err error) ingest.Result {
	return ingest.Result{
		LinkID: link.ID,
		URL:    link.URL,
		Status:  link.Status,
		Error:   fmt.Sprintf("not processed: %v", err),
		Skipped: true,
	}
}
