package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/adlibrary-crawler/internal/store"
)

// RunStore implements store.RunRepository.
type RunStore struct {
	pool execCloser
}

// NewRunStore constructs a RunStore over pool. The caller owns the pool.
func NewRunStore(pool execCloser) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// UpsertRunStart inserts the run as running or leaves an existing row alone.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID string, startedAt time.Time) error {
	const query = `
		INSERT INTO crawl_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun stamps the final status.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	const query = `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE run_id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: no such run", runID)
	}
	return nil
}

// AddFetchStats adds delta to the (run, kind, outcome) row.
func (s *RunStore) AddFetchStats(ctx context.Context, delta store.FetchStats) error {
	const query = `
		INSERT INTO crawl_fetch_stats (run_id, kind, outcome, requests, bytes_total, last_update)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, kind, outcome) DO UPDATE SET
			requests = crawl_fetch_stats.requests + EXCLUDED.requests,
			bytes_total = crawl_fetch_stats.bytes_total + EXCLUDED.bytes_total,
			last_update = GREATEST(crawl_fetch_stats.last_update, EXCLUDED.last_update);
	`
	if _, err := s.pool.Exec(ctx, query,
		delta.RunID, delta.Kind, delta.Outcome, delta.Count, delta.Bytes, delta.At,
	); err != nil {
		return fmt.Errorf("add fetch stats: %w", err)
	}
	return nil
}
