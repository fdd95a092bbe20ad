package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// AdStoreConfig names the tables written by AdStore.
type AdStoreConfig struct {
	RunID            string
	AdsTable         string
	CheckpointsTable string
}

// AdStore upserts ad records keyed by ad_id and appends checkpoints. It
// satisfies crawler.Sink.
type AdStore struct {
	pool        execCloser
	runID       string
	ads         string
	checkpoints string
}

// NewAdStore constructs an AdStore over pool. The pool is closed by Close.
func NewAdStore(pool execCloser, cfg AdStoreConfig) (*AdStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	ads, err := tableOr(cfg.AdsTable, "ad_records")
	if err != nil {
		return nil, err
	}
	checkpoints, err := tableOr(cfg.CheckpointsTable, "crawl_checkpoints")
	if err != nil {
		return nil, err
	}
	return &AdStore{pool: pool, runID: cfg.RunID, ads: ads, checkpoints: checkpoints}, nil
}

// EmitRecord inserts the record, replacing any earlier capture of the same ad.
func (s *AdStore) EmitRecord(ctx context.Context, rec crawler.AdRecord) error {
	if rec.AdID == "" {
		return fmt.Errorf("record ad_id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.AdID, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	ad_id,
	run_id,
	detail_url,
	captured_at,
	creative_type,
	advertiser_name,
	fingerprint,
	extraction_error,
	record
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (ad_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	detail_url = EXCLUDED.detail_url,
	captured_at = EXCLUDED.captured_at,
	creative_type = EXCLUDED.creative_type,
	advertiser_name = EXCLUDED.advertiser_name,
	fingerprint = EXCLUDED.fingerprint,
	extraction_error = EXCLUDED.extraction_error,
	record = EXCLUDED.record`, s.ads)

	args := []any{
		rec.AdID,
		s.runID,
		rec.DetailURL,
		rec.CapturedAt,
		string(rec.CreativeType),
		rec.Advertiser.Name,
		rec.Fingerprint,
		rec.ExtractionError,
		payload,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert ad %s: %w", rec.AdID, err)
	}
	return nil
}

// EmitCheckpoint appends a checkpoint row.
func (s *AdStore) EmitCheckpoint(ctx context.Context, cp crawler.Checkpoint) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	reason,
	total_ads_available,
	ads_collected,
	details_collected,
	details_failed,
	pages_processed,
	account_owner,
	keyword,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.checkpoints)

	if _, err := s.pool.Exec(ctx, query,
		cp.RunID,
		cp.Reason,
		cp.TotalAdsAvailable,
		cp.AdsCollected,
		cp.DetailsCollected,
		cp.DetailsFailed,
		cp.PagesProcessed,
		cp.AccountOwner,
		cp.Keyword,
		cp.Timestamp,
	); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *AdStore) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
