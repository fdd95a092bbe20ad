package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adlibrary-crawler/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	msg := "cancelled"

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", now, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(now, store.RunError, &msg, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runs.UpsertRunStart(context.Background(), "run-1", now))
	require.NoError(t, runs.CompleteRun(context.Background(), "run-1", now, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreCompleteMissingRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(now, store.RunSuccess, pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = runs.CompleteRun(context.Background(), "ghost", now, store.RunSuccess, nil)
	require.ErrorContains(t, err, "no such run")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreAddFetchStats(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec(`(?s)INSERT INTO crawl_fetch_stats .* ON CONFLICT \(run_id, kind, outcome\)`).
		WithArgs("run-1", "detail", "ok", int64(3), int64(900), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runs.AddFetchStats(context.Background(), store.FetchStats{
		RunID: "run-1", Kind: "detail", Outcome: "ok", Count: 3, Bytes: 900, At: now,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
