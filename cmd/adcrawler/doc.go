// Package main hosts the adcrawler command.
//
// Architecture overview:
//   - Frontier: a deduplicating priority queue of LISTING and DETAIL work items. Listings always run ahead of
//     details; the detail cap (run.max_urls) stops new details and discards further listings.
//   - Worker pool: internal/dispatcher runs up to crawler.max_concurrency goroutines over a shared worker.Worker.
//     Admission is gated by a weighted semaphore the autoscaler resizes from heap usage, frontier queue latency,
//     and the governor mode. Local mode pins the pool to one worker with a wider jitter window.
//   - Fetch pipeline: every request waits on the backoff governor, sleeps a jittered delay, and presents a pooled
//     identity (cookie header, user agent, proxy) through the Colly fetcher. Detail pages that look like a
//     client-rendered shell are promoted to chromedp when headless.enabled is set.
//   - Outcomes: 429 puts the governor into BACKOFF and requeues the item; hard blocks retire the identity and
//     requeue up to crawler.max_item_attempts; not-found and transport failures drop the item.
//   - Extraction: the classifier picks the creative type, the extraction engine fills the shared fields and the
//     type-specific payload, and records fan out to the blob store, Postgres, Pub/Sub, and Kafka as configured.
//   - Progress: the tracker writes checkpoints on first discovery, on page and record intervals, and at run end;
//     lifecycle events flow through the progress hub to log, Prometheus, and run-store sinks.
//
// Quick checklist:
//   - Target: --account-owner and/or --keyword (or ADCRAWLER_RUN_ACCOUNT_OWNER / ADCRAWLER_RUN_KEYWORD).
//   - Identities: identity.seeds in the config file; identity.store.kind=file|redis keeps retirements across runs.
//   - Output: storage.backend=local|gcs|none, db.dsn for Postgres, pubsub.topic and kafka.brokers for fanout.
//   - Ops: server.port > 0 exposes /healthz, /readyz, /metrics, and /v1/progress while the run is active.
//   - Run locally: go run ./cmd/adcrawler crawl --keyword cloud --local --debug
package main
