package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
)

// PrometheusSink derives run, fetch, and record collectors from progress
// events.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	fetches       *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	records          *prometheus.CounterVec
	extractionErrors prometheus.Counter
	adsAvailable     prometheus.Gauge
	adsCollected     prometheus.Gauge

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adcrawler_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcrawler_runs_completed_total",
			Help: "Crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adcrawler_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcrawler_requests_total",
			Help: "Fetch attempts partitioned by work item kind and outcome.",
		}, []string{"kind", "outcome"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcrawler_response_bytes_total",
			Help: "Response bytes downloaded per work item kind.",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adcrawler_request_duration_seconds",
			Help:    "Fetch latency partitioned by kind and outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcrawler_records_total",
			Help: "Ad records emitted partitioned by creative type.",
		}, []string{"creative_type"}),
		extractionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adcrawler_extraction_errors_total",
			Help: "Ad records emitted with an extraction error.",
		}),
		adsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_ads_available",
			Help: "Declared result count at the last checkpoint.",
		}),
		adsCollected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_ads_collected",
			Help: "Ads collected at the last checkpoint.",
		}),
		active: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runRuntime,
		s.fetches, s.fetchBytes, s.fetchDuration,
		s.records, s.extractionErrors, s.adsAvailable, s.adsCollected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.markActive(evt.RunID, true) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.markActive(evt.RunID, false) {
				s.runsActive.Dec()
			}
		case progress.StageFetchDone:
			s.fetches.WithLabelValues(evt.Kind, evt.Outcome).Inc()
			if evt.Bytes > 0 {
				s.fetchBytes.WithLabelValues(evt.Kind).Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(evt.Kind, evt.Outcome).Observe(evt.Dur.Seconds())
			}
		case progress.StageRecord:
			s.records.WithLabelValues(evt.CreativeType).Inc()
			if evt.Failed {
				s.extractionErrors.Inc()
			}
		case progress.StageCheckpoint:
			if evt.Checkpoint != nil {
				s.adsAvailable.Set(float64(evt.Checkpoint.TotalAdsAvailable))
				s.adsCollected.Set(float64(evt.Checkpoint.AdsCollected))
			}
		}
	}
	return nil
}

// markActive adds or removes runID and reports whether the set changed.
func (s *PrometheusSink) markActive(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	if start {
		if ok {
			return false
		}
		s.active[runID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.active, runID)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
