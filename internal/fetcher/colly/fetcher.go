// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/governor"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultRetryBase  = 500 * time.Millisecond
	defaultRetryMax   = 8 * time.Second
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
	// MaxRetries bounds transport attempts per Fetch call. HTTP statuses are
	// never retried here; they are reported to the caller.
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector.
//
// Every identity carries its own cookie header and optional proxy. Colly
// clones share their backend, so the fetcher keeps one base collector per
// egress path and clones it for each request.
type Fetcher struct {
	cfg    Config
	retry  *governor.ExponentialRetryPolicy
	logger *zap.Logger

	mu    sync.Mutex
	bases map[string]*colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg,
		retry:  governor.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.RetryBase, cfg.RetryMax),
		logger: logger.Named("colly"),
		bases:  make(map[string]*colly.Collector),
	}
}

// Fetch executes a GET under the request's identity headers and proxy.
// Transport failures are retried with jittered exponential backoff; any HTTP
// status, including 429 and 999, is returned as a response.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	base, err := f.baseFor(request.Proxy)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	for attempt := 0; ; attempt++ {
		resp, err := f.fetchOnce(ctx, base, request)
		if err == nil {
			return resp, nil
		}
		if !f.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, err
		}
		delay := f.retry.Backoff(attempt)
		f.logger.Debug("transport retry",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
}

func (f *Fetcher) fetchOnce(
	ctx context.Context,
	base *colly.Collector,
	request crawler.FetchRequest,
) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, base, request, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

// baseFor returns the shared collector for an egress path, creating it on
// first use.
func (f *Fetcher) baseFor(proxy string) (*colly.Collector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.bases[proxy]; ok {
		return c, nil
	}
	transport := newHTTPTransport()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.DisableCookies()
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	f.bases[proxy] = c
	return c, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	base *colly.Collector,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := base.Clone()
	// Requests inherit ctx so cancellation aborts the in-flight exchange.
	collector.Context = ctx
	if ua := request.Headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	}
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders replaces rather than appends so identity headers win over
// collector defaults.
func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
