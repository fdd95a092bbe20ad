package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/config"
	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/identity"
	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
)

const searchPage = `<html><body>
<div class="search-results__total">4 ads</div>
<a href="/ad-library/detail/111">Ad</a>
<a href="/ad-library/detail/222">Ad</a>
<a href="/ad-library/detail/333">Ad</a>
<code id="paginationMetadata"><!--{"paginationToken":"tok-2","isLastPage":false}--></code>
</body></html>`

const fragmentPage = `<html><body>
<a href="/ad-library/detail/333">Ad</a>
<a href="/ad-library/detail/444">Ad</a>
<code id="paginationMetadata"><!--{"paginationToken":"0","isLastPage":false}--></code>
</body></html>`

const adPage = `<html><body>
<div class="ad-preview" data-creative-type="SINGLE_IMAGE">
  <span class="ad-preview__advertiser-name">Acme</span>
  <p class="ad-preview__commentary">Hello there</p>
</div>
</body></html>`

type library struct {
	mu      sync.Mutex
	cookies []string
}

func (l *library) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.cookies = append(l.cookies, r.Header.Get("Cookie"))
	}
	mux.HandleFunc("/ad-library/search", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(searchPage))
	})
	mux.HandleFunc("/ad-library/searchPaginationFragment", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(fragmentPage))
	})
	mux.HandleFunc("/ad-library/detail/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(adPage))
	})
	return mux
}

type memorySink struct {
	mu          sync.Mutex
	records     []crawler.AdRecord
	checkpoints []crawler.Checkpoint
	closed      bool
}

func (s *memorySink) EmitRecord(_ context.Context, rec crawler.AdRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) EmitCheckpoint(_ context.Context, cp crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

func (s *memorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		Run: config.RunConfig{
			AccountOwner:     "acme",
			MaxURLs:          500,
			ScrapeDetails:    true,
			MinDetailDelayMS: 1,
			MaxDetailDelayMS: 2,
			BaseURL:          baseURL,
			RunID:            "run-test",
		},
		Crawler:   config.CrawlerConfig{MaxConcurrency: 2, MinConcurrency: 2, MaxItemAttempts: 3, Fetcher: "colly"},
		HTTP:      config.HTTPConfig{TimeoutSeconds: 5, MaxRetries: 1, BackoffInitialMs: 1, BackoffMaxMs: 2},
		Backoff:   config.BackoffConfig{FloorMS: 1, CeilingMS: 4, Factor: 1.5},
		Output:    config.OutputConfig{CheckpointEveryPages: 5, CheckpointEveryRecords: 50, SaveRawHTML: true},
		Storage:   config.StorageConfig{Backend: "local", Dir: t.TempDir()},
		Autoscale: config.AutoscaleConfig{IntervalSeconds: 1},
	}
}

func TestRunHarvestsLibrary(t *testing.T) {
	t.Parallel()

	lib := &library{}
	srv := httptest.NewServer(lib.handler())
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Identity.Store.Kind = "file"
	cfg.Identity.Store.Path = filepath.Join(t.TempDir(), "identities.json")
	mem := &memorySink{}

	app, err := Build(context.Background(), cfg, zap.NewNop(),
		WithSink(mem), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.Equal(t, "run-test", app.RunID())

	require.NoError(t, app.Run(context.Background()))
	require.NoError(t, app.Close(context.Background()))

	ids := make([]string, 0, len(mem.records))
	for _, rec := range mem.records {
		ids = append(ids, rec.AdID)
		assert.Equal(t, crawler.CreativeSingleImage, rec.CreativeType)
	}
	assert.ElementsMatch(t, []string{"111", "222", "333", "444"}, ids)
	assert.True(t, mem.closed)

	counters := app.Tracker().Snapshot()
	assert.Equal(t, 4, counters.TotalAdsAvailable)
	assert.Equal(t, 4, counters.AdsCollected)
	assert.Equal(t, 4, counters.DetailsCollected)
	assert.Equal(t, 2, counters.PagesProcessed)

	require.NotEmpty(t, mem.checkpoints)
	assert.Equal(t, progress.ReasonFirstDiscovery, mem.checkpoints[0].Reason)
	last := mem.checkpoints[len(mem.checkpoints)-1]
	assert.Equal(t, progress.ReasonRunComplete, last.Reason)
	assert.Equal(t, "acme", last.AccountOwner)

	for _, id := range []string{"111", "222", "333", "444"} {
		assert.FileExists(t, filepath.Join(cfg.Storage.Dir, "ads", id+".json"))
		assert.FileExists(t, filepath.Join(cfg.Storage.Dir, "raw", id+".html"))
	}
	data, err := os.ReadFile(filepath.Join(cfg.Storage.Dir, "checkpoints", "run-test", "latest.json"))
	require.NoError(t, err)
	var cp crawler.Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, progress.ReasonRunComplete, cp.Reason)

	assert.FileExists(t, cfg.Identity.Store.Path)
}

func TestRunURLOnlyMode(t *testing.T) {
	t.Parallel()

	lib := &library{}
	srv := httptest.NewServer(lib.handler())
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Run.ScrapeDetails = false
	cfg.Run.Local = true
	cfg.Storage.Backend = "none"
	mem := &memorySink{}

	app, err := Build(context.Background(), cfg, nil, WithSink(mem), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, app.Run(context.Background()))
	require.NoError(t, app.Close(context.Background()))

	require.Len(t, mem.records, 4)
	for _, rec := range mem.records {
		assert.NotEmpty(t, rec.DetailURL)
		assert.Empty(t, rec.Advertiser.Name)
	}
	// Only the two listing pages were fetched.
	lib.mu.Lock()
	defer lib.mu.Unlock()
	assert.Len(t, lib.cookies, 2)
}

func TestRunPresentsSeedCookies(t *testing.T) {
	t.Parallel()

	lib := &library{}
	srv := httptest.NewServer(lib.handler())
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Run.Local = true
	cfg.Run.MaxURLs = 1
	cfg.Storage.Backend = "none"
	cfg.Identity.Seeds = []identity.Seed{{Cookie: "li_at=abc"}}

	app, err := Build(context.Background(), cfg, nil, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, app.Run(context.Background()))
	require.NoError(t, app.Close(context.Background()))

	lib.mu.Lock()
	defer lib.mu.Unlock()
	require.NotEmpty(t, lib.cookies)
	for _, c := range lib.cookies {
		assert.Equal(t, "li_at=abc", c)
	}
	assert.Equal(t, 1, app.Tracker().Snapshot().DetailsCollected)
}

func TestBuildFailsOnCorruptIdentityFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identities.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Identity.Store.Kind = "file"
	cfg.Identity.Store.Path = path

	app, err := Build(context.Background(), cfg, nil, WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "load identities")
}

func TestBuildRejectsDuplicateMetricsRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Storage.Backend = "none"

	first, err := Build(context.Background(), cfg, nil, WithRegisterer(reg))
	require.NoError(t, err)
	defer func() { require.NoError(t, first.Close(context.Background())) }()

	_, err = Build(context.Background(), cfg, nil, WithRegisterer(reg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress metrics")
}
