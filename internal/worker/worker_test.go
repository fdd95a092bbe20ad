package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/extract"
	"github.com/JakeFAU/adlibrary-crawler/internal/frontier"
	"github.com/JakeFAU/adlibrary-crawler/internal/governor"
	"github.com/JakeFAU/adlibrary-crawler/internal/hash/sha256"
	"github.com/JakeFAU/adlibrary-crawler/internal/id/uuid"
	"github.com/JakeFAU/adlibrary-crawler/internal/identity"
	"github.com/JakeFAU/adlibrary-crawler/internal/listing"
	"github.com/JakeFAU/adlibrary-crawler/internal/policy/simple"
	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
)

const baseURL = "https://www.example.com"

const firstPage = `<html><body>
<div class="search-results__total">3 ads</div>
<a href="/ad-library/detail/111">Ad</a>
<a href="/ad-library/detail/222">Ad</a>
<a href="/ad-library/detail/333?trk=x">Ad</a>
<code id="paginationMetadata"><!--{"paginationToken":"tok-2","isLastPage":false}--></code>
</body></html>`

const secondPage = `<html><body>
<a href="/ad-library/detail/333">Ad</a>
<a href="/ad-library/detail/444">Ad</a>
<code id="paginationMetadata"><!--{"paginationToken":"tok-3","isLastPage":true}--></code>
</body></html>`

const detailPage = `<html><body>
<div class="ad-preview" data-creative-type="SINGLE_IMAGE">
  <span class="ad-preview__advertiser-name">Acme</span>
  <p class="ad-preview__commentary">Hello</p>
</div>
</body></html>`

const videoPage = `<html><body>
<div class="ad-preview" data-creative-type="VIDEO">
  <video src="https://media.example.com/v.mp4"></video>
</div>
</body></html>`

var (
	startURL  = listing.SearchURL(baseURL, "acme", "")
	secondURL = listing.PaginationURL(baseURL, "tok-2", "acme", "")
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type scriptedFetcher struct {
	mu       sync.Mutex
	scripts  map[string][]int
	bodies   map[string]string
	fallback string
	calls    map[string]int
	cookies  []string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts:  map[string][]int{},
		bodies:   map[string]string{startURL: firstPage, secondURL: secondPage},
		fallback: detailPage,
		calls:    map[string]int{},
	}
}

// Fetch replays the scripted statuses for a URL, then answers 200.
func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[req.URL]
	f.calls[req.URL] = n + 1
	f.cookies = append(f.cookies, req.Headers.Get("Cookie"))

	status := http.StatusOK
	if script := f.scripts[req.URL]; n < len(script) {
		status = script[n]
	}
	if status < 0 {
		return crawler.FetchResponse{}, errors.New("connection reset")
	}
	body, ok := f.bodies[req.URL]
	if !ok {
		body = f.fallback
	}
	if status != http.StatusOK {
		body = ""
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: status, Body: []byte(body), Duration: time.Millisecond}, nil
}

func (f *scriptedFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type recordingSink struct {
	mu          sync.Mutex
	records     []crawler.AdRecord
	checkpoints []crawler.Checkpoint
	raw         map[string][]byte
}

func (s *recordingSink) EmitRecord(_ context.Context, rec crawler.AdRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) EmitCheckpoint(_ context.Context, cp crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func (s *recordingSink) ArchiveRaw(_ context.Context, adID string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		s.raw = map[string][]byte{}
	}
	s.raw[adID] = body
	return nil
}

func (s *recordingSink) AdIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		ids = append(ids, rec.AdID)
	}
	return ids
}

type stubDetector struct{ promote bool }

func (d stubDetector) ShouldPromote(crawler.FetchResponse) bool { return d.promote }

type harness struct {
	worker   *Worker
	frontier *frontier.Frontier
	governor *governor.Governor
	pool     *identity.Pool
	tracker  *progress.Tracker
	sink     *recordingSink
	fetcher  *scriptedFetcher
}

type option func(*Config, *Deps)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	clock := fixedClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := &recordingSink{}
	fetcher := newScriptedFetcher()
	cfg := Config{BaseURL: baseURL, AccountOwner: "acme", ScrapeDetails: true}
	deps := Deps{
		Frontier:   frontier.New(frontier.Config{MaxDetails: 500}, clock),
		Governor:   governor.New(governor.Config{Floor: time.Millisecond, Ceiling: 4 * time.Millisecond}),
		Jitter:     governor.NewJitter(0, 0),
		Identities: identity.NewPool(identity.Config{MaxIdentities: 1}, uuid.New(), nil, nil),
		Fetcher:    fetcher,
		Policy:     simple.New(3),
		Extractor:  extract.New(extract.Config{}, nil, sha256.New(), clock, nil),
		Tracker: progress.NewTracker(progress.TrackerConfig{RunID: "run-1", AccountOwner: "acme"},
			s, nil, clock, nil),
		Sink:  s,
		Clock: clock,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	w, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return &harness{
		worker:   w,
		frontier: deps.Frontier,
		governor: deps.Governor,
		pool:     deps.Identities,
		tracker:  deps.Tracker,
		sink:     s,
		fetcher:  fetcher,
	}
}

// drain runs a single worker until the frontier is exhausted.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, h.worker.Seed())
	for {
		item, err := h.frontier.Next(ctx)
		if errors.Is(err, frontier.ErrDrained) {
			return
		}
		require.NoError(t, err)
		require.NoError(t, h.worker.Process(ctx, item))
	}
}

func TestListingEnqueuesDetailsAndNextPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.worker.Seed())

	item, err := h.frontier.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.KindListing, item.Kind)
	require.NoError(t, h.worker.Process(ctx, item))

	assert.Equal(t, 4, h.frontier.Len())
	assert.Equal(t, 3, h.tracker.Snapshot().AdsCollected)
	assert.Equal(t, 3, h.tracker.Snapshot().TotalAdsAvailable)

	next, err := h.frontier.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.KindListing, next.Kind)
	assert.Equal(t, "tok-2", next.Key)
	assert.Equal(t, secondURL, next.URL)
	assert.Greater(t, next.Priority, crawler.KindDetail.Priority())

	var details []string
	for range 3 {
		d, err := h.frontier.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, crawler.KindDetail, d.Kind)
		details = append(details, d.Key)
	}
	assert.Equal(t, []string{"111", "222", "333"}, details)

	cps := h.sink.checkpoints
	require.Len(t, cps, 1)
	assert.Equal(t, progress.ReasonFirstDiscovery, cps[0].Reason)
}

func TestDrainCollapsesDuplicateAds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.drain(t)

	assert.ElementsMatch(t, []string{"111", "222", "333", "444"}, h.sink.AdIDs())
	snap := h.tracker.Snapshot()
	assert.Equal(t, 4, snap.AdsCollected)
	assert.Equal(t, 4, snap.DetailsCollected)
	assert.Equal(t, 2, snap.PagesProcessed)
	assert.Equal(t, 0, h.fetcher.Calls(listing.PaginationURL(baseURL, "tok-3", "acme", "")))
	for _, rec := range h.sink.records {
		assert.Equal(t, crawler.CreativeSingleImage, rec.CreativeType)
	}
}

func TestLocalModeDrainsListingsBeforeDetails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var order []crawler.Kind
	ctx := context.Background()
	require.True(t, h.worker.Seed())
	for {
		item, err := h.frontier.Next(ctx)
		if errors.Is(err, frontier.ErrDrained) {
			break
		}
		require.NoError(t, err)
		order = append(order, item.Kind)
		require.NoError(t, h.worker.Process(ctx, item))
	}
	require.Len(t, order, 6)
	assert.Equal(t, []crawler.Kind{crawler.KindListing, crawler.KindListing}, order[:2])
}

func TestRateLimitBacksOffAndRequeues(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.scripts[startURL] = []int{http.StatusTooManyRequests, http.StatusTooManyRequests}
	h.drain(t)

	assert.Equal(t, 3, h.fetcher.Calls(startURL))
	assert.Equal(t, 2, h.tracker.Snapshot().RateLimits)
	assert.Equal(t, governor.ModeNormal, h.governor.Snapshot().Mode)
	assert.Len(t, h.sink.records, 4)
}

func TestBlockedRetiresIdentityAndRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Identities = identity.NewPool(identity.Config{
			MaxIdentities: 2,
			Seeds:         []identity.Seed{{Cookie: "li_at=one"}, {Cookie: "li_at=two"}},
		}, uuid.New(), nil, nil)
	})
	h.fetcher.scripts[startURL] = []int{crawler.StatusBlocked}
	h.drain(t)

	assert.Equal(t, 2, h.fetcher.Calls(startURL))
	assert.Equal(t, "li_at=one", h.fetcher.cookies[0])
	assert.Equal(t, "li_at=two", h.fetcher.cookies[1])
	active, retired := h.pool.Counts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, retired)
	assert.Equal(t, 1, h.tracker.Snapshot().Blocks)
	assert.Len(t, h.sink.records, 4)
}

func TestBlockedDetailGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Identities = identity.NewPool(identity.Config{MaxIdentities: 8}, uuid.New(), nil, nil)
	})
	blockedURL := baseURL + "/ad-library/detail/222"
	h.fetcher.scripts[blockedURL] = []int{999, 999, 999, 999}
	h.drain(t)

	assert.Equal(t, 3, h.fetcher.Calls(blockedURL))
	assert.NotContains(t, h.sink.AdIDs(), "222")
	assert.Equal(t, 1, h.tracker.Snapshot().DetailsFailed)
}

func TestExhaustedPoolDropsItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.scripts[startURL] = []int{crawler.StatusBlocked}
	h.drain(t)

	_, retired := h.pool.Counts()
	assert.Equal(t, 1, retired)
	assert.Equal(t, 1, h.fetcher.Calls(startURL))
	assert.Empty(t, h.sink.records)
}

func TestNotFoundAndTransportFailuresDrop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.scripts[baseURL+"/ad-library/detail/111"] = []int{http.StatusNotFound}
	h.fetcher.scripts[baseURL+"/ad-library/detail/222"] = []int{-1}
	h.drain(t)

	assert.ElementsMatch(t, []string{"333", "444"}, h.sink.AdIDs())
	assert.Equal(t, 2, h.tracker.Snapshot().DetailsFailed)
	assert.Equal(t, 1, h.fetcher.Calls(baseURL+"/ad-library/detail/222"))
}

func TestListingTransportFailureHaltsChain(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.scripts[secondURL] = []int{-1}
	h.drain(t)

	assert.ElementsMatch(t, []string{"111", "222", "333"}, h.sink.AdIDs())
	assert.Equal(t, 1, h.tracker.Snapshot().PagesProcessed)
}

func TestDetailCapStopsPagination(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Frontier = frontier.New(frontier.Config{MaxDetails: 2}, nil)
	})
	h.drain(t)

	assert.ElementsMatch(t, []string{"111", "222"}, h.sink.AdIDs())
	assert.Equal(t, 0, h.fetcher.Calls(secondURL))
}

func TestURLOnlyModeSkipsDetailFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config, _ *Deps) {
		c.ScrapeDetails = false
	})
	h.drain(t)

	assert.ElementsMatch(t, []string{"111", "222", "333", "444"}, h.sink.AdIDs())
	assert.Equal(t, 0, h.fetcher.Calls(baseURL+"/ad-library/detail/111"))
	for _, rec := range h.sink.records {
		assert.Equal(t, crawler.CreativeUnknown, rec.CreativeType)
		assert.NotEmpty(t, rec.DetailURL)
	}
}

func TestHeadlessPromotionReplacesBody(t *testing.T) {
	t.Parallel()

	headless := newScriptedFetcher()
	headless.fallback = videoPage
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Headless = headless
		d.Detector = stubDetector{promote: true}
	})
	h.drain(t)

	require.Len(t, h.sink.records, 4)
	for _, rec := range h.sink.records {
		assert.Equal(t, crawler.CreativeVideo, rec.CreativeType)
	}
	assert.Equal(t, 0, headless.Calls(startURL), "listings are never promoted")
	assert.Equal(t, 1, headless.Calls(baseURL+"/ad-library/detail/111"))
}

func TestSaveRawHTMLArchivesDetailBodies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config, _ *Deps) {
		c.SaveRawHTML = true
	})
	h.drain(t)

	require.Len(t, h.sink.raw, 4)
	assert.Equal(t, detailPage, string(h.sink.raw["111"]))
}

func TestProcessReturnsContextError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.True(t, h.worker.Seed())
	item, err := h.frontier.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.worker.Process(ctx, item), context.Canceled)
	assert.Equal(t, 0, h.frontier.InFlight())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)
	_, err = New(Config{Keyword: "cloud"}, Deps{}, nil)
	require.Error(t, err)
}
