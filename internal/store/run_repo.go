package store

import (
	"context"
	"time"
)

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// FetchStats is an additive delta for one (run, kind, outcome) bucket.
type FetchStats struct {
	RunID   string
	Kind    string
	Outcome string
	Count   int64
	Bytes   int64
	At      time.Time
}

// RunRepository persists run lifecycle rows and per-outcome fetch counters.
type RunRepository interface {
	// UpsertRunStart records the run as running.
	UpsertRunStart(ctx context.Context, runID string, startedAt time.Time) error
	// CompleteRun stamps the final status and optional error text.
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddFetchStats applies an additive delta to the bucket.
	AddFetchStats(ctx context.Context, delta FetchStats) error
}
