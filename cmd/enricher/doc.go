// Package main hosts the enricher entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts job submissions, reports job progress and exposes the learning
//     store. Submitted jobs are written to the durable JobStore and nothing else; the scheduler decides when they run.
//   - Scheduler: internal/scheduler.Coordinator polls queued jobs every tick and admits them through a permit pool
//     capped at five. Reconciliation runs on start and then periodically, requeueing stale running jobs and
//     failed ones that still have attempts left.
//   - Worker: internal/worker.Worker walks the remaining domains of a claimed job, skips domains the supplier
//     registry already resolved, runs the extraction engine and saves the job after every domain.
//   - Extraction: internal/engine escalates from plain HTTP (Colly) to embedded page data to a rendered Chromedp
//     session, waiting for an operator when a CAPTCHA appears. Winning URLs feed internal/learning.
//   - Callbacks: results become supplier upserts or moderation flags published via Pub/Sub (or memory).
//
// Operational notes:
//   - Persistence: SQLite by default (store.driver=sqlite), Postgres for shared deployments. A killed process
//     leaves its jobs "running"; the next start requeues them once they go stale and they continue where they
//     stopped.
//   - CAPTCHA: run with headless.show_browser=true so an operator can solve challenges; the tab is raised and
//     polled until headless.captcha_wait elapses.
//   - Observability: zap logs carry job ids and domains; Prometheus metrics are served on /metrics; progress events
//     feed both.
//
// Quick checklist:
//   - Configure env vars with the ENRICHER_ prefix, e.g. ENRICHER_STORE_DRIVER, ENRICHER_STORE_DSN,
//     ENRICHER_SCHEDULER_MAX_CONCURRENT_JOBS, ENRICHER_SUPPLIER_PUBLISHER, ENRICHER_HEADLESS_ENABLED.
//   - Run locally: go run ./cmd/enricher serve --config config.yaml
//   - One domain: go run ./cmd/enricher extract example.ru
package main
