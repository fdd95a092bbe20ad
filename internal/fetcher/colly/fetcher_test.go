package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

func newTestFetcher() *Fetcher {
	return New(Config{
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		RetryBase:  time.Millisecond,
		RetryMax:   5 * time.Millisecond,
	}, zap.NewNop())
}

func TestFetchPropagatesIdentityHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Cookie", r.Header.Get("Cookie"))
		w.Header().Set("X-Seen-Agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher()
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL: srv.URL + "/ad-library/detail/1",
		Headers: http.Header{
			"Cookie":     {"li_at=abc"},
			"User-Agent": {"identity-agent"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(resp.Body))
	assert.Equal(t, "li_at=abc", resp.Headers.Get("X-Seen-Cookie"))
	assert.Equal(t, "identity-agent", resp.Headers.Get("X-Seen-Agent"))
	assert.False(t, resp.UsedHeadless)
}

func TestFetchReturnsErrorStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "blocked", status: crawler.StatusBlocked},
		{name: "not found", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			resp, err := newTestFetcher().Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, int32(1), hits.Load(), "statuses are never retried by the fetcher")
		})
	}
}

func TestFetchRetriesTransportFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	t.Cleanup(srv.Close)

	resp, err := newTestFetcher().Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(resp.Body))
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	t.Cleanup(srv.Close)

	_, err := newTestFetcher().Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
}

func TestFetchRoutesThroughIdentityProxy(t *testing.T) {
	t.Parallel()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("via-proxy " + r.URL.Host))
	}))
	t.Cleanup(proxy.Close)

	f := newTestFetcher()
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:   "http://library.invalid/ad-library/detail/9",
		Proxy: proxy.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "via-proxy library.invalid", string(resp.Body))

	direct, err := f.baseFor("")
	require.NoError(t, err)
	proxied, err := f.baseFor(proxy.URL)
	require.NoError(t, err)
	assert.NotSame(t, direct, proxied)
}

func TestFetchRejectsBadProxy(t *testing.T) {
	t.Parallel()

	_, err := newTestFetcher().Fetch(context.Background(), crawler.FetchRequest{
		URL:   "http://example.com",
		Proxy: "://nope",
	})
	require.Error(t, err)
}

func TestFetchHonoursCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestFetcher().Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchAbortsInFlightRequestOnCancel(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := newTestFetcher().Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the request abort")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher()
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"Cookie": {"li_at=xyz"}},
	}
	start := time.Unix(0, 0)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"Cookie": {"stale=1"}}}
	hooks.onRequest(collyReq)
	assert.Equal(t, []string{"li_at=xyz"}, collyReq.Headers.Values("Cookie"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte("slow down"),
		Headers:    &http.Header{"Retry-After": {"10"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	assert.Equal(t, "slow down", string(result.Body))
	assert.Equal(t, "10", result.Headers.Get("Retry-After"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	collyReq := &colly.Request{Headers: &http.Header{}}
	copyHeaders(crawler.FetchRequest{}, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
