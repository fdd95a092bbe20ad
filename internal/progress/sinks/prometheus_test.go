package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart},
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart},
		{
			RunID:   "run-1",
			TS:      now,
			Stage:   progress.StageFetchDone,
			Kind:    "detail",
			Outcome: "ok",
			Status:  200,
			Bytes:   2048,
			Dur:     300 * time.Millisecond,
		},
		{RunID: "run-1", TS: now, Stage: progress.StageFetchDone, Kind: "detail", Outcome: "rate_limited", Status: 429},
		{RunID: "run-1", TS: now, Stage: progress.StageRecord, CreativeType: "VIDEO"},
		{RunID: "run-1", TS: now, Stage: progress.StageRecord, CreativeType: "UNKNOWN", Failed: true},
		{
			RunID:      "run-1",
			TS:         now,
			Stage:      progress.StageCheckpoint,
			Checkpoint: &crawler.Checkpoint{TotalAdsAvailable: 120, AdsCollected: 40},
		},
		{RunID: "run-1", TS: now, Stage: progress.StageRunDone, Dur: time.Minute},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("detail", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("detail", "rate_limited")))
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("detail")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "adcrawler_request_duration_seconds"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues("VIDEO")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.extractionErrors))
	require.Equal(t, 120.0, testutil.ToFloat64(sink.adsAvailable))
	require.Equal(t, 40.0, testutil.ToFloat64(sink.adsCollected))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
