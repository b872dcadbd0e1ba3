// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the job store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to enqueue domains, GET /v1/jobs/{job_id} for status.
//   - GET /v1/learning and POST /v1/learning/manual for the learning store.
package api
