// Package main is the ingestd command line: the HTTP service plus one-shot
// operator commands over the same pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/app"
	"github.com/JakeFAU/youth-justice-ingest/internal/config"
	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/logging"
	"github.com/JakeFAU/youth-justice-ingest/internal/scrape"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ingestd: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "ingestd",
		Usage: "fetch, validate and extract youth justice sources into the research database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"INGEST_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, breaker sweeper and optional scheduler",
				Action: serveAction,
			},
			{
				Name:  "run",
				Usage: "process one batch from the queue and print the summary",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "batch-size", Aliases: []string{"n"}, Usage: "links to process (0 uses the configured default)"},
					&cli.StringFlag{Name: "mode", Value: string(ingest.SelectPendingAndQueued), Usage: "pending_and_queued or queued_only"},
				},
				Action: runAction,
			},
			{
				Name:      "process",
				Usage:     "process a single link by ID",
				ArgsUsage: "<link-id>",
				Action:    processAction,
			},
			{
				Name:      "health",
				Usage:     "probe a URL the way the pipeline does before fetching",
				ArgsUsage: "<url>",
				Action:    healthAction,
			},
			{
				Name:      "requeue",
				Usage:     "move an error or rejected link back to pending",
				ArgsUsage: "<link-id>",
				Action:    requeueAction,
			},
			{
				Name:      "add-link",
				Usage:     "insert a pending link",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "predicted document type"},
					&cli.Float64Flag{Name: "relevance", Value: -1, Usage: "predicted relevance in [0,1]"},
				},
				Action: addLinkAction,
			},
			{
				Name:   "migrate",
				Usage:  "create the storage schema",
				Action: migrateAction,
			},
		},
	}
}

// withApp loads configuration, builds the application and hands it to fn.
// The app is closed and the logger flushed when fn returns.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func serveAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return a.Run(ctx)
	})
}

func runAction(c *cli.Context) error {
	mode, err := ingest.ParseSelectMode(c.String("mode"))
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		summary, err := a.Scrape().ProcessBatch(ctx, scrape.Request{
			BatchSize: c.Int("batch-size"),
			Mode:      mode,
		})
		if err != nil {
			return fmt.Errorf("process batch: %w", err)
		}
		return printJSON(c.App.Writer, summary)
	})
}

func processAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("process requires a link ID", 2)
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		summary, err := a.Scrape().ProcessBatch(ctx, scrape.Request{LinkID: id})
		if err != nil {
			return fmt.Errorf("process link: %w", err)
		}
		return printJSON(c.App.Writer, summary)
	})
}

func healthAction(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		return cli.Exit("health requires a URL", 2)
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		result := a.Health().Check(ctx, target)
		if err := printJSON(c.App.Writer, result); err != nil {
			return err
		}
		if !result.Healthy {
			return cli.Exit("", 1)
		}
		return nil
	})
}

func requeueAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("requeue requires a link ID", 2)
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		link, err := a.Scrape().Requeue(ctx, id)
		if err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
		return printJSON(c.App.Writer, link)
	})
}

func addLinkAction(c *cli.Context) error {
	raw := c.Args().First()
	if raw == "" {
		return cli.Exit("add-link requires a URL", 2)
	}
	in := scrape.NewLink{URL: raw, PredictedType: c.String("type")}
	if r := c.Float64("relevance"); r >= 0 {
		in.PredictedRelevance = &r
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		link, err := a.Scrape().AddLink(ctx, in)
		if err != nil {
			return fmt.Errorf("add link: %w", err)
		}
		return printJSON(c.App.Writer, link)
	})
}

func migrateAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return a.Migrate(ctx)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
