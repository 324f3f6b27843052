// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discover and /v1/scrape for job submission.
//   - GET /v1/jobs/{job_id} for job status and results.
//   - GET/DELETE /v1/failed for the failed-URL record.
package api
