// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and GET /v1/jobs/{job_id} for job submission and status.
//   - GET /v1/credits/{requester} and GET /v1/pool for balances and occupancy.
//   - PUT /v1/credits/{requester} for operator top-ups.
//   - POST /v1/reports/{report_id}/navigate to page through a delivered report.
//   - POST /telegram/webhook when the Telegram front end is enabled.
package api
