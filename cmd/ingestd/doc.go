// Architecture overview:
//   - HTTP API: internal/api exposes /v1/scrape (batch run and status), link requeue and insertion, breaker
//     inspection and reset, plus /healthz, /readyz and /metrics. Requests are authorized by API key when enabled.
//   - Queue & dispatch: internal/scrape selects a batch from the link store ordered by predicted relevance, marks it
//     queued, and hands it to internal/dispatcher, which fans out over a bounded worker pool with per-domain spacing.
//   - Pipeline: each link passes the URL gates, the per-domain circuit breaker, a HEAD health probe, the configured
//     fetcher (Firecrawl, Colly or headless Chromedp, wrapped in retry with backoff), the content gates, then LLM
//     extraction with provider fallback. Entities, raw content and a history row are written through the store.
//   - Persistence & fanout: Postgres, SQLite or memory back the link, entity and history tables; validated content is
//     optionally archived to GCS or local disk, and a link.processed event goes to Pub/Sub when a topic is set.
//
// Quick checklist:
//   - Credentials: FIRECRAWL_API_KEY, one of ANTHROPIC_API_KEY / GROQ_API_KEY / OPENAI_API_KEY, DATABASE_URL for
//     postgres. Everything else is INGEST_<SECTION>_<KEY>, e.g. INGEST_WORKER_CONCURRENCY.
//   - First run: ingestd -c config.yaml migrate, then ingestd -c config.yaml serve.
//   - One-offs: ingestd run -n 10, ingestd process <link-id>, ingestd health <url>, ingestd requeue <link-id>.
package main
