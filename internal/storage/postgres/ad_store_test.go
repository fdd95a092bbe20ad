package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

func TestAdStoreUpsertsRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAdStore(mock, AdStoreConfig{RunID: "run-1"})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := crawler.AdRecord{
		AdID:         "123",
		DetailURL:    "https://example.com/ad-library/detail/123",
		CapturedAt:   now,
		Fingerprint:  "abcdef0123456789",
		CreativeType: crawler.CreativeVideo,
		Advertiser:   crawler.Advertiser{Name: "Acme"},
	}

	mock.ExpectExec(`(?s)INSERT INTO ad_records .* ON CONFLICT \(ad_id\) DO UPDATE`).
		WithArgs(
			"123",
			"run-1",
			rec.DetailURL,
			now,
			"VIDEO",
			"Acme",
			rec.Fingerprint,
			"",
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.EmitRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdStoreRejectsMissingID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAdStore(mock, AdStoreConfig{})
	require.NoError(t, err)
	require.Error(t, store.EmitRecord(context.Background(), crawler.AdRecord{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdStoreInsertsCheckpoint(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAdStore(mock, AdStoreConfig{CheckpointsTable: "cps"})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	cp := crawler.Checkpoint{
		RunID:             "run-1",
		Reason:            "run_complete",
		TotalAdsAvailable: 10,
		AdsCollected:      9,
		DetailsCollected:  8,
		DetailsFailed:     1,
		PagesProcessed:    2,
		Keyword:           "cloud",
		Timestamp:         now,
	}
	mock.ExpectExec("INSERT INTO cps").
		WithArgs("run-1", "run_complete", 10, 9, 8, 1, 2, "", "cloud", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.EmitCheckpoint(context.Background(), cp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdStoreWrapsExecErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAdStore(mock, AdStoreConfig{})
	require.NoError(t, err)
	mock.ExpectExec("INSERT INTO ad_records").
		WithArgs("9", "", "", time.Time{}, "", "", "", "", pgxmock.AnyArg()).
		WillReturnError(errors.New("conn reset"))

	err = store.EmitRecord(context.Background(), crawler.AdRecord{AdID: "9"})
	require.ErrorContains(t, err, "upsert ad 9")
	require.ErrorContains(t, err, "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAdStoreValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewAdStore(mock, AdStoreConfig{AdsTable: "ads; DROP TABLE x"})
	require.Error(t, err)
	_, err = NewAdStore(nil, AdStoreConfig{})
	require.Error(t, err)
}
