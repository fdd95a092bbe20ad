// Package metrics exposes Prometheus collectors for the crawl runtime: the
// backoff governor, identity pool, frontier, worker pool, and ops HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/adlibrary-crawler/internal/governor"
)

var (
	backoffDelaySeconds   prometheus.Histogram
	governorMode          prometheus.Gauge
	identities            *prometheus.GaugeVec
	frontierPending       prometheus.Gauge
	frontierInFlight      prometheus.Gauge
	frontierWaitSeconds   prometheus.Gauge
	activeWorkers         prometheus.Gauge
	concurrencyLimit      prometheus.Gauge
	rateLimitWaitSeconds  prometheus.Histogram
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	once.Do(func() {
		backoffDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "adcrawler_backoff_delay_seconds",
			Help:    "Backoff delays imposed by the rate governor.",
			Buckets: []float64{10, 15, 22.5, 33.75, 50.625, 60},
		})
		governorMode = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_governor_backoff",
			Help: "1 while the rate governor is in BACKOFF mode, 0 otherwise.",
		})
		identities = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "adcrawler_identities",
			Help: "Identities in the pool partitioned by status.",
		}, []string{"status"})
		frontierPending = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_frontier_pending",
			Help: "Work items waiting in the frontier.",
		})
		frontierInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_frontier_in_flight",
			Help: "Work items dequeued and not yet finished.",
		})
		frontierWaitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_frontier_wait_seconds",
			Help: "Moving average of time items spend queued.",
		})
		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_active_workers",
			Help: "Workers currently processing an item.",
		})
		concurrencyLimit = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_concurrency_limit",
			Help: "Current admission limit chosen by the autoscaler.",
		})
		rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "adcrawler_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the global request-rate ceiling.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Ops HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpRequestDurSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Ops HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"})
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observer feeds governor and identity pool state changes into the
// collectors. It satisfies governor.Observer and identity.Observer.
type Observer struct{}

// NewObserver initializes the collectors and returns an Observer.
func NewObserver() Observer {
	Init()
	return Observer{}
}

// ObserveBackoff records a governor transition.
func (Observer) ObserveBackoff(mode governor.Mode, delay time.Duration) {
	if mode == governor.ModeBackoff {
		governorMode.Set(1)
		backoffDelaySeconds.Observe(delay.Seconds())
		return
	}
	governorMode.Set(0)
}

// ObserveIdentities records the pool composition.
func (Observer) ObserveIdentities(active, retired int) {
	identities.WithLabelValues("active").Set(float64(active))
	identities.WithLabelValues("retired").Set(float64(retired))
}

// ObserveFrontier records queue depth and average wait.
func ObserveFrontier(pending, inFlight int, avgWait time.Duration) {
	frontierPending.Set(float64(pending))
	frontierInFlight.Set(float64(inFlight))
	frontierWaitSeconds.Set(avgWait.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// SetConcurrencyLimit records the autoscaler's current limit.
func SetConcurrencyLimit(n int) {
	concurrencyLimit.Set(float64(n))
}

// ObserveRateLimitWait records time spent on the request-rate ceiling.
func ObserveRateLimitWait(d time.Duration) {
	rateLimitWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest records one ops HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
