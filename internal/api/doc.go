// Package api hosts the HTTP server and REST handlers for operator access.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape to process a link or a batch, GET /v1/scrape for status.
//   - POST /v1/links/{link_id}/requeue to retry an error or rejected link.
//   - GET /v1/breaker and POST /v1/breaker/reset for circuit breaker admin.
package api
